// Package rocrate reads and writes the small RO-Crate zip archives exchanged
// with RDM platforms. A crate carries a JSON-LD manifest
// (ro-crate-metadata.json) whose @graph names the payload file of a response
// with the type "RESPONSE".
package rocrate

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ManifestName is the entry every crate carries at its root.
const ManifestName = "ro-crate-metadata.json"

// ResponseType marks the graph node that references the response payload.
const ResponseType = "RESPONSE"

const contextURL = "https://w3id.org/ro/crate/1.1/context"

var (
	ErrMissingManifest = errors.New("missing manifest")
	ErrMissingResponse = errors.New("missing types file")
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Node is one entity of the manifest graph.
type Node map[string]any

// ID returns the node's @id.
func (n Node) ID() string {
	s, _ := n["@id"].(string)
	return s
}

// HasType reports whether the node's @type is t, or lists t.
func (n Node) HasType(t string) bool {
	switch v := n["@type"].(type) {
	case string:
		return v == t
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == t {
				return true
			}
		}
	}
	return false
}

// Manifest is the decoded ro-crate-metadata.json document.
type Manifest struct {
	Context any    `json:"@context"`
	Graph   []Node `json:"@graph"`
}

// ResponseID returns the @id of the RESPONSE node. When several nodes carry
// the type the last one wins.
func (m Manifest) ResponseID() (string, bool) {
	id, found := "", false
	for _, node := range m.Graph {
		if node.HasType(ResponseType) {
			id, found = node.ID(), true
		}
	}
	return id, found && id != ""
}

// Unwrap returns the RESPONSE payload of a zipped crate.
func Unwrap(data []byte) ([]byte, error) {
	return UnwrapReader(bytes.NewReader(data), int64(len(data)))
}

// UnwrapReader is Unwrap for an io.ReaderAt of the given size.
func UnwrapReader(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "open crate archive")
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[entryName(f.Name)] = f
	}

	manifestFile, ok := files[ManifestName]
	if !ok {
		return nil, ErrMissingManifest
	}
	raw, err := readEntry(manifestFile)
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, errors.Wrapf(ErrInvalidManifest, "%v", err)
	}

	id, ok := manifest.ResponseID()
	if !ok {
		return nil, ErrMissingResponse
	}
	payload, ok := files[entryName(id)]
	if !ok {
		return nil, errors.Wrapf(ErrMissingResponse, "entry %q not in archive", id)
	}
	out, err := readEntry(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", id)
	}
	return out, nil
}

// File is one payload entry for Pack.
type File struct {
	Name string
	Type string
	Data []byte
}

// Pack builds a crate zip holding files and an RO-Crate 1.1 manifest that
// describes each of them with its Type.
func Pack(files []File) ([]byte, error) {
	if len(files) == 0 {
		return nil, errors.New("crate needs at least one file")
	}

	parts := make([]map[string]string, 0, len(files))
	graph := []any{
		map[string]any{
			"@id":        ManifestName,
			"@type":      "CreativeWork",
			"conformsTo": map[string]string{"@id": "https://w3id.org/ro/crate/1.1"},
			"about":      map[string]string{"@id": "./"},
		},
	}
	nodes := make([]any, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		name := entryName(f.Name)
		if name == "" || name == ManifestName {
			return nil, errors.Errorf("invalid crate entry name %q", f.Name)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Errorf("duplicate crate entry %q", name)
		}
		seen[name] = struct{}{}
		typ := f.Type
		if typ == "" {
			typ = "File"
		}
		parts = append(parts, map[string]string{"@id": name})
		nodes = append(nodes, map[string]any{
			"@id":            name,
			"@type":          typ,
			"contentSize":    len(f.Data),
			"encodingFormat": encodingFormat(name),
		})
	}
	graph = append(graph, map[string]any{
		"@id":           "./",
		"@type":         "Dataset",
		"datePublished": time.Now().UTC().Format(time.RFC3339),
		"hasPart":       parts,
	})
	graph = append(graph, nodes...)

	manifest, err := json.MarshalIndent(map[string]any{
		"@context": contextURL,
		"@graph":   graph,
	}, "", "    ")
	if err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeEntry(zw, ManifestName, manifest); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := writeEntry(zw, entryName(f.Name), f.Data); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finish crate archive")
	}
	return buf.Bytes(), nil
}

func entryName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "./")
	if name == "" {
		return ""
	}
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func encodingFormat(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "application/json"
	case ".zip":
		return "application/zip"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errors.Wrapf(err, "create %s", name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}
