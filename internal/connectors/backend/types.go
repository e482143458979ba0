package backend

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Record is one row of the backend dataset. Raw keeps the exact JSON the
// record was decoded from so it can be forwarded unchanged.
type Record struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Title    string          `json:"title"`
	Ontology string          `json:"ontology"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Context  json.RawMessage `json:"@context,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Payload returns the JSON to send when the record is forwarded.
func (r Record) Payload() (json.RawMessage, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}
	type plain Record
	return json.Marshal(plain(r))
}

// Field returns the value of a named grouping field ("type" or "ontology").
func (r Record) Field(name string) string {
	if name == "ontology" {
		return r.Ontology
	}
	return r.Type
}

// Platform is a reachable external RDM service. Ref is a port or a base URL.
type Platform struct {
	Name string `json:"name"`
	Ref  string `json:"ref"`
}

// ParsePlatforms accepts both answers seen from /platforms: an object mapping
// name to port or URL, and a plain array of names.
func ParsePlatforms(data []byte) ([]Platform, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var names []string
		if err := json.Unmarshal(data, &names); err != nil {
			return nil, errors.Wrap(err, "decode platform list")
		}
		out := make([]Platform, 0, len(names))
		for _, n := range names {
			out = append(out, Platform{Name: n, Ref: n})
		}
		return out, nil
	}

	var raw map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode platform map")
	}
	out := make([]Platform, 0, len(raw))
	for name, v := range raw {
		ref, err := platformRef(v)
		if err != nil {
			return nil, errors.Wrapf(err, "platform %s", name)
		}
		out = append(out, Platform{Name: name, Ref: ref})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func platformRef(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", errors.Errorf("unsupported platform reference %s", string(v))
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}
