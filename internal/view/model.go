package view

import (
	"bytes"
	"encoding/json"
	"strings"

	"go-rdm-bridge-ui/internal/config"
	"go-rdm-bridge-ui/internal/connectors/backend"
)

// Glyphs of the metadata disclosure button.
const (
	GlyphCollapsed = "+"
	GlyphExpanded  = "−"
)

// Selection is the current value of every select control on the page.
type Selection struct {
	FilterType       string `json:"filter_type"`
	Platform         string `json:"platform"`
	PlatformType     string `json:"platform_type"`
	Crate            string `json:"crate"`
	ExportSample     string `json:"export_sample"`
	SimulationSample string `json:"simulation_sample"`
}

// State is everything one page session shows.
type State struct {
	Records    []backend.Record
	TypeValues []string
	Samples    []backend.Record
	Expanded   string

	Platforms          []backend.Platform
	PlatformTypes      []string
	TypeSectionVisible bool
	PlatformData       []backend.Record

	Crates           []string
	CrateView        string
	CrateViewVisible bool

	SimulationResult json.RawMessage
	UploadResult     string

	Banner string
	Alerts []string

	Selection Selection
	Revision  uint64
}

func (s *State) clone() State {
	out := *s
	out.Records = append([]backend.Record(nil), s.Records...)
	out.TypeValues = append([]string(nil), s.TypeValues...)
	out.Samples = append([]backend.Record(nil), s.Samples...)
	out.Platforms = append([]backend.Platform(nil), s.Platforms...)
	out.PlatformTypes = append([]string(nil), s.PlatformTypes...)
	out.PlatformData = append([]backend.Record(nil), s.PlatformData...)
	out.Crates = append([]string(nil), s.Crates...)
	out.SimulationResult = append(json.RawMessage(nil), s.SimulationResult...)
	out.Alerts = append([]string(nil), s.Alerts...)
	return out
}

func (s *State) alert(msg string) {
	s.Alerts = append(s.Alerts, msg)
}

func (s *State) findRecord(id string) (backend.Record, bool) {
	for _, r := range s.Records {
		if r.ID == id {
			return r, true
		}
	}
	return backend.Record{}, false
}

// Option is one entry of a select control.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected,omitempty"`
}

// Row is one table row with its disclosure glyph.
type Row struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Ontology string `json:"ontology"`
	Glyph    string `json:"glyph"`
	Expanded bool   `json:"expanded"`
}

// PlatformItem is one entry of the platform result list.
type PlatformItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Ontology string `json:"ontology"`
}

// MetadataPanel is the side panel of the expanded row.
type MetadataPanel struct {
	RecordID string `json:"record_id"`
	Metadata string `json:"metadata"`
	Context  string `json:"context"`
}

// Controls holds the derived enabled flag of every dependent action control.
type Controls struct {
	ConnectPlatform   bool `json:"connect_platform"`
	FetchPlatformData bool `json:"fetch_platform_data"`
	ShowCrate         bool `json:"show_crate"`
	Export            bool `json:"export"`
	RunSimulation     bool `json:"run_simulation"`
	ExportSimulation  bool `json:"export_simulation"`
}

// Features mirrors the optional page sections of the active variant.
type Features struct {
	Simulation bool `json:"simulation"`
	Crates     bool `json:"crates"`
	Export     bool `json:"export"`
	Upload     bool `json:"upload"`
}

// ViewModel is the render-ready projection of State.
type ViewModel struct {
	Revision uint64 `json:"revision"`

	Rows          []Row          `json:"rows"`
	TypeOptions   []Option       `json:"type_options"`
	GroupField    string         `json:"group_field"`
	Metadata      *MetadataPanel `json:"metadata,omitempty"`
	ExportOptions []Option       `json:"export_options"`
	SampleOptions []Option       `json:"sample_options"`

	PlatformOptions     []Option       `json:"platform_options"`
	PlatformTypeOptions []Option       `json:"platform_type_options"`
	TypeSectionVisible  bool           `json:"type_section_visible"`
	PlatformItems       []PlatformItem `json:"platform_items"`

	CrateOptions []Option `json:"crate_options"`
	CrateView    string   `json:"crate_view,omitempty"`

	SimulationResult string `json:"simulation_result,omitempty"`
	UploadResult     string `json:"upload_result,omitempty"`

	Banner string   `json:"banner,omitempty"`
	Alerts []string `json:"alerts,omitempty"`

	Selection Selection `json:"selection"`
	Controls  Controls  `json:"controls"`
	Features  Features  `json:"features"`
}

func buildModel(s State, v config.Variant) ViewModel {
	vm := ViewModel{
		Revision:           s.Revision,
		GroupField:         v.GroupField,
		TypeSectionVisible: s.TypeSectionVisible,
		UploadResult:       s.UploadResult,
		Banner:             s.Banner,
		Alerts:             s.Alerts,
		Selection:          s.Selection,
		Features: Features{
			Simulation: v.Simulation,
			Crates:     v.Crates,
			Export:     v.Export,
			Upload:     v.Upload,
		},
	}

	vm.Rows = make([]Row, 0, len(s.Records))
	for _, r := range s.Records {
		expanded := s.Expanded != "" && r.ID == s.Expanded
		glyph := GlyphCollapsed
		if expanded {
			glyph = GlyphExpanded
		}
		vm.Rows = append(vm.Rows, Row{ID: r.ID, Type: r.Type, Title: r.Title, Ontology: r.Ontology, Glyph: glyph, Expanded: expanded})
	}
	if rec, ok := s.findRecord(s.Expanded); ok && s.Expanded != "" {
		ctx := "{}"
		if len(bytes.TrimSpace(rec.Context)) > 0 {
			ctx = prettyJSON(rec.Context)
		}
		vm.Metadata = &MetadataPanel{RecordID: rec.ID, Metadata: prettyJSON(rec.Metadata), Context: ctx}
	}

	vm.TypeOptions = append([]Option{{Value: v.AllSentinel, Label: "All"}}, valueOptions(s.TypeValues)...)
	markSelected(vm.TypeOptions, s.Selection.FilterType)

	vm.ExportOptions = sampleOptions(s.Samples, s.Selection.ExportSample)
	vm.SampleOptions = sampleOptions(s.Samples, s.Selection.SimulationSample)

	vm.PlatformOptions = []Option{{Value: "", Label: "Select a platform"}}
	for _, p := range s.Platforms {
		vm.PlatformOptions = append(vm.PlatformOptions, Option{Value: p.Ref, Label: p.Name})
	}
	markSelected(vm.PlatformOptions, s.Selection.Platform)

	vm.PlatformTypeOptions = append([]Option{{Value: "", Label: "Select an ontological type"}}, valueOptions(s.PlatformTypes)...)
	markSelected(vm.PlatformTypeOptions, s.Selection.PlatformType)

	vm.PlatformItems = make([]PlatformItem, 0, len(s.PlatformData))
	for _, r := range s.PlatformData {
		vm.PlatformItems = append(vm.PlatformItems, PlatformItem{ID: r.ID, Title: r.Title, Ontology: r.Ontology})
	}

	vm.CrateOptions = append([]Option{{Value: "", Label: "Select a crate"}}, valueOptions(s.Crates)...)
	markSelected(vm.CrateOptions, s.Selection.Crate)
	if s.CrateViewVisible {
		vm.CrateView = s.CrateView
	}

	if len(s.SimulationResult) > 0 {
		vm.SimulationResult = prettyJSON(s.SimulationResult)
	}

	vm.Controls = Controls{
		ConnectPlatform:   s.Selection.Platform != "",
		FetchPlatformData: s.Selection.Platform != "" && s.Selection.PlatformType != "",
		ShowCrate:         s.Selection.Crate != "",
		Export:            s.Selection.ExportSample != "" && s.Selection.Platform != "",
		RunSimulation:     s.Selection.SimulationSample != "",
		ExportSimulation:  len(s.SimulationResult) > 0,
	}
	return vm
}

// distinctValues returns the distinct values of field across records in
// first-seen order. Empty values and the "All" sentinel are skipped so the
// sentinel option stays unique.
func distinctValues(records []backend.Record, field, sentinel string) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		v := r.Field(field)
		if v == "" || v == sentinel {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func distinctStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// samplesOf keeps the records whose type mentions "Sample".
func samplesOf(records []backend.Record) []backend.Record {
	out := make([]backend.Record, 0)
	for _, r := range records {
		if strings.Contains(r.Type, "Sample") {
			out = append(out, r)
		}
	}
	return out
}

func valueOptions(values []string) []Option {
	out := make([]Option, 0, len(values))
	for _, v := range values {
		out = append(out, Option{Value: v, Label: v})
	}
	return out
}

func sampleOptions(samples []backend.Record, selected string) []Option {
	out := make([]Option, 0, len(samples)+1)
	out = append(out, Option{Value: "", Label: "Select a sample"})
	for _, r := range samples {
		out = append(out, Option{Value: r.ID, Label: r.ID + " - " + r.Title})
	}
	markSelected(out, selected)
	return out
}

func markSelected(opts []Option, value string) {
	for i := range opts {
		if opts[i].Value == value {
			opts[i].Selected = true
			return
		}
	}
}

func prettyJSON(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
