package view

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-rdm-bridge-ui/internal/config"
	"go-rdm-bridge-ui/internal/connectors/backend"
)

var (
	ErrNoSelection      = errors.New("no selection")
	ErrNoData           = errors.New("no data found")
	ErrUnknownRecord    = errors.New("unknown record")
	ErrUnknownControl   = errors.New("unknown control")
	ErrInvalidSelection = errors.New("value is not one of the offered options")
	ErrSuperseded       = errors.New("superseded by a newer request")
	ErrFeatureDisabled  = errors.New("feature disabled for this profile")
)

// User-facing messages.
const (
	msgFetchFailed      = "Failed to fetch data."
	msgFilterFailed     = "Failed to fetch filtered data."
	msgNoData           = "No data found for the selected type."
	msgProcessFailed    = "Failed to fetch or process data."
	msgSelectPlatform   = "Please select a platform!"
	msgSelectType       = "Please select a type to filter by!"
	msgSelectSample     = "Please select a sample to export!"
	msgSelectSimulation = "Please select an object to link with the simulation."
	msgSelectCrate      = "Please select a crate!"
	msgNoSimulation     = "Run a simulation before exporting its result."
	msgImportFailed     = "An error occurred while importing data."
	msgExportFailed     = "An error occurred during data export."
	msgExported         = "Successfully exported data."
	msgSimulationFailed = "Failed to start simulation."
	msgResetFailed      = "Failed to reset data."
	msgCratesFailed     = "Failed to fetch crates."
	msgCrateFailed      = "Failed to fetch crate."
	msgPlatformsFailed  = "Failed to fetch RDM platforms."
	msgSelectUpload     = "Please select a file to upload."
	msgUploadFailed     = "Failed to upload and process the file."
)

// Select control names.
const (
	ControlType         = "type"
	ControlPlatform     = "platform"
	ControlPlatformType = "platformType"
	ControlCrate        = "crate"
	ControlExport       = "export"
	ControlSimulation   = "simulation"
)

// Backend is the local backend part of the gateway.
type Backend interface {
	ListRecords(ctx context.Context) ([]backend.Record, error)
	FilterRecords(ctx context.Context, typ string) ([]backend.Record, error)
	Reset(ctx context.Context) error
	Import(ctx context.Context, port string, rec backend.Record) error
	Export(ctx context.Context, path, port, id string) (json.RawMessage, error)
	ExportObject(ctx context.Context, path string, obj json.RawMessage) (json.RawMessage, error)
	RunSimulation(ctx context.Context, path, id string) (json.RawMessage, error)
	ListPlatforms(ctx context.Context) ([]backend.Platform, error)
	ListCrates(ctx context.Context) ([]string, error)
	ShowCrate(ctx context.Context, name string) (json.RawMessage, error)
	UploadCrate(ctx context.Context, filename string, archive io.Reader) (json.RawMessage, error)
}

// Platforms is the external platform part of the gateway.
type Platforms interface {
	Types(ctx context.Context, ref string) ([]string, error)
	RecordsByType(ctx context.Context, ref, typ string) ([]backend.Record, error)
}

// Controller owns the view state of one page session.
type Controller struct {
	backend   Backend
	platforms Platforms
	variant   config.Variant
	logger    *zap.Logger

	mu      sync.Mutex
	state   State
	regions [regionCount]regionSlot
	closed  bool
	subs    map[int]chan uint64
	nextSub int
}

func New(b Backend, p Platforms, variant config.Variant, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		backend:   b,
		platforms: p,
		variant:   variant,
		logger:    logger,
		subs:      make(map[int]chan uint64),
	}
	c.state.Selection.FilterType = variant.AllSentinel
	return c
}

// Variant returns the profile settings the controller was built with.
func (c *Controller) Variant() config.Variant {
	return c.variant
}

// Load runs the initial page fetches concurrently. Each failure is surfaced
// on its own; the first one is returned.
func (c *Controller) Load(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return c.Refresh(ctx) })
	if c.variant.Crates {
		g.Go(func() error { return c.FetchCrates(ctx) })
	}
	g.Go(func() error { return c.FetchPlatforms(ctx) })
	return g.Wait()
}

// Refresh replaces the table with the backend's full record set.
func (c *Controller) Refresh(ctx context.Context) error {
	rctx, tok, release := c.begin(ctx, RegionTable)
	defer release()

	records, err := c.backend.ListRecords(rctx)
	if err != nil {
		return c.surface(tok, "Refresh", err, func(s *State) { s.Banner = msgFetchFailed })
	}
	if !c.commit(tok, func(s *State) { c.applyRecords(s, records) }) {
		return ErrSuperseded
	}
	return nil
}

func (c *Controller) applyRecords(s *State, records []backend.Record) {
	s.Records = records
	s.TypeValues = distinctValues(records, c.variant.GroupField, c.variant.AllSentinel)
	s.Samples = samplesOf(records)
	s.Selection.FilterType = c.variant.AllSentinel
	s.Selection.ExportSample = ""
	s.Selection.SimulationSample = ""
	s.Expanded = ""
	s.Banner = ""
}

// FilterByType narrows the table to one type. Empty or the "All" sentinel
// falls back to Refresh.
func (c *Controller) FilterByType(ctx context.Context, typ string) error {
	if typ == "" || typ == c.variant.AllSentinel {
		return c.Refresh(ctx)
	}
	rctx, tok, release := c.begin(ctx, RegionTable)
	defer release()

	records, err := c.backend.FilterRecords(rctx, typ)
	if err != nil {
		return c.surface(tok, "FilterByType", err, func(s *State) { s.Banner = msgFilterFailed })
	}
	if len(records) == 0 {
		if !c.commit(tok, func(s *State) {
			s.Selection.FilterType = typ
			s.Banner = msgNoData
		}) {
			return ErrSuperseded
		}
		return ErrNoData
	}
	if !c.commit(tok, func(s *State) {
		s.Records = records
		s.Selection.FilterType = typ
		s.Expanded = ""
		s.Banner = ""
	}) {
		return ErrSuperseded
	}
	return nil
}

// ToggleMetadata expands the metadata of record id, collapsing any other
// row. Toggling the expanded row collapses it.
func (c *Controller) ToggleMetadata(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.state.findRecord(id); !ok || id == "" {
		return errors.Wrapf(ErrUnknownRecord, "id %q", id)
	}
	if c.state.Expanded == id {
		c.state.Expanded = ""
	} else {
		c.state.Expanded = id
	}
	c.bumpLocked()
	return nil
}

// Select sets one select control and re-derives its dependents.
func (c *Controller) Select(control, value string) error {
	value = strings.TrimSpace(value)

	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.state

	switch control {
	case ControlType:
		if value != "" && value != c.variant.AllSentinel && !contains(s.TypeValues, value) {
			return errors.Wrapf(ErrInvalidSelection, "%s=%q", control, value)
		}
		if value == "" {
			value = c.variant.AllSentinel
		}
		s.Selection.FilterType = value
	case ControlPlatform:
		if value != "" && !hasPlatform(s.Platforms, value) {
			return errors.Wrapf(ErrInvalidSelection, "%s=%q", control, value)
		}
		if value != s.Selection.Platform {
			c.clearPlatformLocked()
		}
		s.Selection.Platform = value
	case ControlPlatformType:
		if value != "" && !contains(s.PlatformTypes, value) {
			return errors.Wrapf(ErrInvalidSelection, "%s=%q", control, value)
		}
		if value != s.Selection.PlatformType {
			c.invalidateLocked(RegionPlatformData)
		}
		if value == "" {
			s.PlatformData = nil
		}
		s.Selection.PlatformType = value
	case ControlCrate:
		if value != "" && !contains(s.Crates, value) {
			return errors.Wrapf(ErrInvalidSelection, "%s=%q", control, value)
		}
		if value != s.Selection.Crate {
			c.invalidateLocked(RegionCrateView)
		}
		if value == "" {
			s.CrateView = ""
			s.CrateViewVisible = false
		}
		s.Selection.Crate = value
	case ControlExport, ControlSimulation:
		if value != "" && !hasRecord(s.Samples, value) {
			return errors.Wrapf(ErrInvalidSelection, "%s=%q", control, value)
		}
		if control == ControlExport {
			s.Selection.ExportSample = value
		} else {
			s.Selection.SimulationSample = value
		}
	default:
		return errors.Wrapf(ErrUnknownControl, "%q", control)
	}
	c.bumpLocked()
	return nil
}

// clearPlatformLocked drops everything derived from the selected platform.
func (c *Controller) clearPlatformLocked() {
	c.invalidateLocked(RegionPlatformTypes)
	c.invalidateLocked(RegionPlatformData)
	c.invalidateLocked(RegionImport)
	c.state.PlatformTypes = nil
	c.state.PlatformData = nil
	c.state.TypeSectionVisible = false
	c.state.Selection.PlatformType = ""
}

// ConnectToPlatform fetches the ontological types of the selected platform.
func (c *Controller) ConnectToPlatform(ctx context.Context) error {
	ref := c.selection().Platform
	if ref == "" {
		c.update(func(s *State) { s.alert(msgSelectPlatform) })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionPlatformTypes)
	types, err := c.platforms.Types(rctx, c.platformAddr(ref))
	release()
	if err != nil {
		return c.surface(tok, "ConnectToPlatform", err, func(s *State) { s.Banner = msgProcessFailed })
	}
	if !c.commit(tok, func(s *State) {
		s.PlatformTypes = distinctStrings(types)
		s.TypeSectionVisible = true
		if !contains(s.PlatformTypes, s.Selection.PlatformType) {
			s.Selection.PlatformType = ""
		}
	}) {
		return ErrSuperseded
	}
	return c.FetchCrates(detach(ctx))
}

// FetchPlatformData lists the selected platform's records of the selected
// ontological type.
func (c *Controller) FetchPlatformData(ctx context.Context) error {
	sel := c.selection()
	if sel.PlatformType == "" {
		c.update(func(s *State) { s.alert(msgSelectType) })
		return ErrNoSelection
	}
	if sel.Platform == "" {
		c.update(func(s *State) { s.alert(msgSelectPlatform) })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionPlatformData)
	records, err := c.platforms.RecordsByType(rctx, c.platformAddr(sel.Platform), sel.PlatformType)
	release()
	if err != nil {
		return c.surface(tok, "FetchPlatformData", err, func(s *State) { s.Banner = msgFilterFailed })
	}
	if !c.commit(tok, func(s *State) { s.PlatformData = records }) {
		return ErrSuperseded
	}
	return c.FetchCrates(detach(ctx))
}

// Import posts the listed platform record id to the backend and refreshes
// the table on success.
func (c *Controller) Import(ctx context.Context, id string) error {
	c.mu.Lock()
	rec, ok := findIn(c.state.PlatformData, id)
	port := c.state.Selection.Platform
	c.mu.Unlock()
	if !ok || id == "" {
		return errors.Wrapf(ErrUnknownRecord, "platform record %q", id)
	}

	rctx, tok, release := c.begin(ctx, RegionImport)
	err := c.backend.Import(rctx, c.platformAddr(port), rec)
	release()
	if err != nil {
		msg := msgImportFailed
		var serr *backend.StatusError
		if errors.As(err, &serr) && serr.Message != "" {
			msg = serr.Message
		}
		return c.surface(tok, "Import", err, func(s *State) { s.alert(msg) })
	}
	return c.Refresh(detach(ctx))
}

// Export sends the selected sample to the selected platform.
func (c *Controller) Export(ctx context.Context) error {
	if !c.variant.Export {
		return ErrFeatureDisabled
	}
	sel := c.selection()
	if sel.ExportSample == "" {
		c.update(func(s *State) { s.alert(msgSelectSample) })
		return ErrNoSelection
	}
	if sel.Platform == "" {
		c.update(func(s *State) { s.alert(msgSelectPlatform) })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionExport)
	_, err := c.backend.Export(rctx, c.variant.ExportPath, c.platformAddr(sel.Platform), sel.ExportSample)
	release()
	if err != nil {
		return c.surface(tok, "Export", err, func(s *State) { s.alert(msgExportFailed) })
	}
	if err := c.FetchCrates(detach(ctx)); err != nil {
		c.logger.Debug("crate list refresh after export failed", zap.Error(err))
	}
	c.commit(tok, func(s *State) { s.alert(msgExported) })
	return nil
}

// RunRemoteSimulation starts a simulation linked to the selected sample.
// Without a selection no request is made.
func (c *Controller) RunRemoteSimulation(ctx context.Context) error {
	if !c.variant.Simulation {
		return ErrFeatureDisabled
	}
	id := c.selection().SimulationSample
	if id == "" {
		c.update(func(s *State) { s.alert(msgSelectSimulation) })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionSimulation)
	out, err := c.backend.RunSimulation(rctx, c.variant.SimulationPath, id)
	release()
	if err != nil {
		msg := msgProcessFailed
		var serr *backend.StatusError
		if errors.As(err, &serr) {
			msg = msgSimulationFailed
		}
		return c.surface(tok, "RunRemoteSimulation", err, func(s *State) { s.Banner = msg })
	}
	if !c.commit(tok, func(s *State) { s.SimulationResult = out }) {
		return ErrSuperseded
	}
	return c.Refresh(detach(ctx))
}

// ExportSimulationResult posts the stored simulation payload unchanged.
func (c *Controller) ExportSimulationResult(ctx context.Context) error {
	if !c.variant.Simulation {
		return ErrFeatureDisabled
	}
	c.mu.Lock()
	payload := append(json.RawMessage(nil), c.state.SimulationResult...)
	c.mu.Unlock()
	if len(payload) == 0 {
		c.update(func(s *State) { s.alert(msgNoSimulation) })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionExport)
	out, err := c.backend.ExportObject(rctx, c.variant.ObjectExportPath, payload)
	release()
	if err != nil {
		return c.surface(tok, "ExportSimulationResult", err, func(s *State) { s.alert(msgExportFailed) })
	}
	msg := msgExported
	var reply struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(out, &reply) == nil && reply.Message != "" {
		msg = reply.Message
	}
	c.commit(tok, func(s *State) { s.alert(msg) })
	return nil
}

// Reset restores the backend dataset and reloads the table and crates.
func (c *Controller) Reset(ctx context.Context) error {
	rctx, tok, release := c.begin(ctx, RegionTable)
	err := c.backend.Reset(rctx)
	release()
	if err != nil {
		return c.surface(tok, "Reset", err, func(s *State) { s.Banner = msgResetFailed })
	}
	if !c.commit(tok, func(s *State) {
		s.Expanded = ""
		s.CrateView = ""
		s.CrateViewVisible = false
		s.Banner = ""
	}) {
		return ErrSuperseded
	}

	fctx := detach(ctx)
	var g errgroup.Group
	g.Go(func() error { return c.Refresh(fctx) })
	if c.variant.Crates {
		g.Go(func() error { return c.FetchCrates(fctx) })
	}
	return g.Wait()
}

// FetchCrates reloads the crate label list.
func (c *Controller) FetchCrates(ctx context.Context) error {
	if !c.variant.Crates {
		return nil
	}
	rctx, tok, release := c.begin(ctx, RegionCrates)
	defer release()

	crates, err := c.backend.ListCrates(rctx)
	if err != nil {
		return c.surface(tok, "FetchCrates", err, func(s *State) { s.alert(msgCratesFailed) })
	}
	if !c.commit(tok, func(s *State) {
		s.Crates = distinctStrings(crates)
		if !contains(s.Crates, s.Selection.Crate) {
			s.Selection.Crate = ""
			s.CrateView = ""
			s.CrateViewVisible = false
		}
	}) {
		return ErrSuperseded
	}
	return nil
}

// ShowCrate loads the selected crate into the crate view.
func (c *Controller) ShowCrate(ctx context.Context) error {
	if !c.variant.Crates {
		return ErrFeatureDisabled
	}
	name := c.selection().Crate
	if name == "" {
		c.update(func(s *State) { s.alert(msgSelectCrate) })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionCrateView)
	defer release()

	crate, err := c.backend.ShowCrate(rctx, name)
	if err != nil {
		return c.surface(tok, "ShowCrate", err, func(s *State) { s.alert(msgCrateFailed) })
	}
	if !c.commit(tok, func(s *State) {
		s.CrateView = prettyJSON(crate)
		s.CrateViewVisible = true
	}) {
		return ErrSuperseded
	}
	return nil
}

// FetchPlatforms reloads the list of reachable RDM platforms. On failure the
// list is left empty.
func (c *Controller) FetchPlatforms(ctx context.Context) error {
	rctx, tok, release := c.begin(ctx, RegionPlatforms)
	defer release()

	platforms, err := c.backend.ListPlatforms(rctx)
	if err != nil {
		return c.surface(tok, "FetchPlatforms", err, func(s *State) {
			s.Platforms = nil
			if s.Selection.Platform != "" {
				c.clearPlatformLocked()
				s.Selection.Platform = ""
			}
			s.alert(msgPlatformsFailed)
		})
	}
	if !c.commit(tok, func(s *State) {
		s.Platforms = platforms
		if s.Selection.Platform != "" && !hasPlatform(platforms, s.Selection.Platform) {
			c.clearPlatformLocked()
			s.Selection.Platform = ""
		}
	}) {
		return ErrSuperseded
	}
	return nil
}

// Upload forwards an RO-Crate archive to the backend. The outcome is shown in
// the upload result text; only a missing file is reported as an error.
func (c *Controller) Upload(ctx context.Context, filename string, archive io.Reader) error {
	if !c.variant.Upload {
		return ErrFeatureDisabled
	}
	if archive == nil || strings.TrimSpace(filename) == "" {
		c.update(func(s *State) { s.UploadResult = msgSelectUpload })
		return ErrNoSelection
	}

	rctx, tok, release := c.begin(ctx, RegionUpload)
	defer release()

	out, err := c.backend.UploadCrate(rctx, filename, archive)
	if err != nil {
		_ = c.surface(tok, "Upload", err, func(s *State) { s.UploadResult = msgUploadFailed })
		return nil
	}
	c.commit(tok, func(s *State) { s.UploadResult = prettyJSON(out) })
	return nil
}

// surface logs a failed gateway call and records its message in the state,
// unless the request was cancelled or superseded.
func (c *Controller) surface(tok token, op string, err error, fn func(*State)) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Warn("gateway call failed",
		zap.String("operation", op),
		zap.String("region", tok.region.String()),
		zap.Error(err),
	)
	if !c.commit(tok, fn) {
		return ErrSuperseded
	}
	return err
}

// detach keeps the steps that follow a committed result running after the
// originating request ends. Region supersession and Close still cancel them.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// platformAddr maps a platform reference to the port or URL its calls are
// sent to. Platforms listed by name only resolve to the variant's platform
// port.
func (c *Controller) platformAddr(ref string) string {
	if ref == "" || c.variant.PlatformPort == "" || strings.Contains(ref, "://") {
		return ref
	}
	if _, err := strconv.Atoi(ref); err == nil {
		return ref
	}
	return c.variant.PlatformPort
}

func (c *Controller) selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Selection
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Model derives the view model without consuming pending alerts.
func (c *Controller) Model() ViewModel {
	return buildModel(c.Snapshot(), c.variant)
}

// TakeAlerts returns and clears the pending one-shot alerts.
func (c *Controller) TakeAlerts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	alerts := c.state.Alerts
	c.state.Alerts = nil
	return alerts
}

// Render derives the view model and consumes pending alerts, so each alert
// is shown by exactly one render.
func (c *Controller) Render() ViewModel {
	c.mu.Lock()
	s := c.state.clone()
	c.state.Alerts = nil
	c.mu.Unlock()
	return buildModel(s, c.variant)
}

// Revision returns the state revision. It grows by one on every change.
func (c *Controller) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Revision
}

// Subscribe returns a channel that receives the latest revision after each
// change. Slow readers only see the newest value. The returned func
// unsubscribes.
func (c *Controller) Subscribe() (<-chan uint64, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan uint64, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

// Close cancels every in-flight request and ends all subscriptions. Later
// results are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for r := range c.regions {
		if c.regions[r].cancel != nil {
			c.regions[r].cancel()
			c.regions[r].cancel = nil
		}
	}
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Controller) bumpLocked() {
	c.state.Revision++
	rev := c.state.Revision
	for _, ch := range c.subs {
		select {
		case ch <- rev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- rev:
			default:
			}
		}
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func hasPlatform(platforms []backend.Platform, ref string) bool {
	for _, p := range platforms {
		if p.Ref == ref {
			return true
		}
	}
	return false
}

func hasRecord(records []backend.Record, id string) bool {
	_, ok := findIn(records, id)
	return ok
}

func findIn(records []backend.Record, id string) (backend.Record, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return backend.Record{}, false
}
