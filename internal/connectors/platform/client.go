package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"go-rdm-bridge-ui/internal/connectors/backend"
	"go-rdm-bridge-ui/internal/rocrate"
)

// Client queries external RDM platforms, which answer with RO-Crate archives.
type Client struct {
	urlTemplate string
	maxBytes    int64
	http        *http.Client
	recorder    backend.Recorder
}

// NewClient returns a platform client. urlTemplate turns a bare port into a
// base URL, e.g. "http://localhost:%s".
func NewClient(urlTemplate string, timeout time.Duration, maxArchiveBytes int64) *Client {
	if maxArchiveBytes <= 0 {
		maxArchiveBytes = 32 << 20
	}
	return &Client{
		urlTemplate: strings.TrimSpace(urlTemplate),
		maxBytes:    maxArchiveBytes,
		http:        &http.Client{Timeout: timeout},
	}
}

// WithRecorder attaches a call recorder and returns the client.
func (c *Client) WithRecorder(r backend.Recorder) *Client {
	c.recorder = r
	return c
}

// BaseURL resolves a platform reference. References with a scheme are used
// as is; anything else is formatted into the URL template.
func (c *Client) BaseURL(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("empty platform reference")
	}
	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil || u.Host == "" {
			return "", errors.Errorf("invalid platform url %q", ref)
		}
		return strings.TrimRight(ref, "/"), nil
	}
	tmpl := c.urlTemplate
	if tmpl == "" {
		tmpl = "http://localhost:%s"
	}
	return strings.TrimRight(fmt.Sprintf(tmpl, ref), "/"), nil
}

// Types lists the ontological types the platform offers (GET /data/types).
func (c *Client) Types(ctx context.Context, ref string) ([]string, error) {
	var out []string
	err := c.fetchCrate(ctx, "Types", ref, "/data/types", &out)
	return out, err
}

// RecordsByType lists the platform's records of one ontological type
// (GET /data/ontology?type=T&format=ROC).
func (c *Client) RecordsByType(ctx context.Context, ref, typ string) ([]backend.Record, error) {
	q := url.Values{"type": {typ}, "format": {"ROC"}}
	var out []backend.Record
	err := c.fetchCrate(ctx, "RecordsByType", ref, "/data/ontology?"+q.Encode(), &out)
	return out, err
}

func (c *Client) fetchCrate(ctx context.Context, op, ref, path string, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.ObserveRequest("platform", op, err, time.Since(start))
		}
	}()

	base, err := c.BaseURL(ref)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/zip")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s%s", base, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		blob, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &backend.StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(blob))}
	}

	archive, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return errors.Wrap(err, "read crate archive")
	}
	if int64(len(archive)) > c.maxBytes {
		return errors.Errorf("crate archive exceeds %d bytes", c.maxBytes)
	}

	payload, err := rocrate.Unwrap(archive)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrapf(err, "decode %s payload", op)
	}
	return nil
}
