package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Recorder observes every outbound call. Implementations must be safe for
// concurrent use.
type Recorder interface {
	ObserveRequest(target, operation string, err error, duration time.Duration)
}

// StatusError is returned for non-2xx responses. Message carries the
// server-supplied "message" (or "error") field when the body had one.
type StatusError struct {
	Status  int
	Message string
	Body    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend status=%d message=%s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend status=%d body=%s", e.Status, e.Body)
}

// Client talks to the local demo backend.
type Client struct {
	endpoint string
	http     *http.Client
	recorder Recorder
}

// NewClient returns a backend client rooted at endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// WithRecorder attaches a call recorder and returns the client.
func (c *Client) WithRecorder(r Recorder) *Client {
	c.recorder = r
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ListRecords fetches the full record set (GET /data).
func (c *Client) ListRecords(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.do(ctx, "ListRecords", http.MethodGet, "/data", nil, "", &out)
	return out, err
}

// FilterRecords fetches the subset of records of the given type (GET /data/filter).
func (c *Client) FilterRecords(ctx context.Context, typ string) ([]Record, error) {
	var out []Record
	q := url.Values{"type": {typ}}
	err := c.do(ctx, "FilterRecords", http.MethodGet, "/data/filter?"+q.Encode(), nil, "", &out)
	return out, err
}

// Reset restores the backend dataset (GET /data/reset).
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, "Reset", http.MethodGet, "/data/reset", nil, "", nil)
}

// Import posts a platform record to the backend (POST /data/import[?port=P]).
func (c *Client) Import(ctx context.Context, port string, rec Record) error {
	body, err := rec.Payload()
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	return c.do(ctx, "Import", http.MethodPost, withPort("/data/import", port), bytes.NewReader(body), "application/json", nil)
}

// Export asks the backend to export the record id to the platform on port
// (POST <path>[?port=P] with the id as a JSON string).
func (c *Client) Export(ctx context.Context, path, port, id string) (json.RawMessage, error) {
	body, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = c.do(ctx, "Export", http.MethodPost, withPort(path, port), bytes.NewReader(body), "application/json", &out)
	return out, err
}

// ExportObject posts an arbitrary JSON object for export (POST /api/export).
func (c *Client) ExportObject(ctx context.Context, path string, obj json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, "ExportObject", http.MethodPost, path, bytes.NewReader(obj), "application/json", &out)
	return out, err
}

// RunSimulation triggers a simulation linked to the record id
// (GET <path>?id=ID) and returns the updated or created object.
func (c *Client) RunSimulation(ctx context.Context, path, id string) (json.RawMessage, error) {
	q := url.Values{"id": {id}}
	var out json.RawMessage
	err := c.do(ctx, "RunSimulation", http.MethodGet, path+"?"+q.Encode(), nil, "", &out)
	return out, err
}

// ListPlatforms fetches the reachable RDM platforms (GET /platforms).
func (c *Client) ListPlatforms(ctx context.Context) ([]Platform, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "ListPlatforms", http.MethodGet, "/platforms", nil, "", &raw); err != nil {
		return nil, err
	}
	return ParsePlatforms(raw)
}

// ListCrates fetches the stored crate labels (GET /crates).
func (c *Client) ListCrates(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, "ListCrates", http.MethodGet, "/crates", nil, "", &out)
	return out, err
}

// ShowCrate fetches one crate by label (GET /crate?name=N).
func (c *Client) ShowCrate(ctx context.Context, name string) (json.RawMessage, error) {
	q := url.Values{"name": {name}}
	var out json.RawMessage
	err := c.do(ctx, "ShowCrate", http.MethodGet, "/crate?"+q.Encode(), nil, "", &out)
	return out, err
}

// UploadCrate forwards an RO-Crate archive as multipart field "file"
// (POST /upload_rocrate).
func (c *Client) UploadCrate(ctx context.Context, filename string, archive io.Reader) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, archive); err != nil {
		return nil, errors.Wrap(err, "read upload")
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var out json.RawMessage
	err = c.do(ctx, "UploadCrate", http.MethodPost, "/upload_rocrate", &buf, mw.FormDataContentType(), &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) (err error) {
	if !c.Enabled() {
		return errors.New("backend endpoint not configured")
	}
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveRequest("backend", op, err, time.Since(start))
		}
	}()

	u, err := url.Parse(c.endpoint + path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", op)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	blob, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	serr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(blob))}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(blob, &payload) == nil {
		serr.Message = payload.Message
		if serr.Message == "" {
			serr.Message = payload.Error
		}
	}
	return serr
}

func withPort(path, port string) string {
	if port == "" {
		return path
	}
	return path + "?" + url.Values{"port": {port}}.Encode()
}
