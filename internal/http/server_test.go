package http

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/config"
	"go-rdm-bridge-ui/internal/rocrate"
)

type fakeBackend struct {
	simulations atomic.Int32
	uploads     atomic.Int32
	imports     atomic.Int32

	// platforms overrides the /platforms answer.
	platforms string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/data", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":"SAMPLE-1","type":"@aiida.Sample","title":"Tropomyosin","ontology":"https://schema.org/Protein","metadata":{"mass":1}},
			{"id":"MEAS-1","type":"@aiida.Measurement","title":"Spectrum","ontology":"https://schema.org/Observation","metadata":{}}
		]`)
	})
	mux.HandleFunc("/data/filter", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	mux.HandleFunc("/platforms", func(w http.ResponseWriter, _ *http.Request) {
		if f.platforms != "" {
			_, _ = io.WriteString(w, f.platforms)
			return
		}
		_, _ = io.WriteString(w, `{"openBIS":5001}`)
	})
	mux.HandleFunc("/data/import", func(w http.ResponseWriter, r *http.Request) {
		f.imports.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = io.WriteString(w, `{"message":"imported"}`)
	})
	mux.HandleFunc("/crates", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `["crate-a"]`)
	})
	mux.HandleFunc("/data/run_simulation", func(w http.ResponseWriter, _ *http.Request) {
		f.simulations.Add(1)
		_, _ = io.WriteString(w, `{"id":"SAMPLE-1","metadata":{}}`)
	})
	mux.HandleFunc("/upload_rocrate", func(w http.ResponseWriter, r *http.Request) {
		f.uploads.Add(1)
		_, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, "crate.zip", header.Filename)
		_, _ = io.WriteString(w, `{"message":"stored"}`)
	})
	return mux
}

type testEnv struct {
	backend *fakeBackend
	server  *httptest.Server
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newProfileEnv(t, &fakeBackend{}, config.ProfileShared, nil)
}

func newProfileEnv(t *testing.T, fb *fakeBackend, profile config.Profile, adjust func(*config.Config)) *testEnv {
	t.Helper()
	backendSrv := httptest.NewServer(fb.handler(t))
	t.Cleanup(backendSrv.Close)

	variant, err := config.VariantFor(profile)
	require.NoError(t, err)
	cfg := config.Config{
		Profile:         profile,
		Variant:         variant,
		BackendURL:      backendSrv.URL,
		BackendTimeout:  2 * time.Second,
		PlatformTimeout: 2 * time.Second,
		SessionLimit:    8,
		SessionTTL:      time.Minute,
		MaxUploadBytes:  1 << 20,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	srv, err := NewServer(cfg, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.sessions.Close() })

	return &testEnv{
		backend: fb,
		server:  ts,
		client: &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}},
	}
}

type envelope struct {
	Meta map[string]any `json:"meta"`
	Data struct {
		Revision uint64 `json:"revision"`
		Rows     []struct {
			ID    string `json:"id"`
			Glyph string `json:"glyph"`
		} `json:"rows"`
		Banner   string   `json:"banner"`
		Alerts   []string `json:"alerts"`
		Controls struct {
			RunSimulation bool `json:"run_simulation"`
		} `json:"controls"`
		UploadResult string `json:"upload_result"`
	} `json:"data"`
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	id, _ := body.Meta["session"].(string)
	require.NotEmpty(t, id)
	return id
}

func (e *testEnv) post(t *testing.T, id, action string, form url.Values) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/s/"+id+"/"+action, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body envelope
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestIndexRedirectsToSessionPage(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.client.Get(env.server.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/s/"))

	page, err := env.client.Get(env.server.URL + loc)
	require.NoError(t, err)
	defer page.Body.Close()
	assert.Equal(t, http.StatusOK, page.StatusCode)
	html, _ := io.ReadAll(page.Body)
	assert.Contains(t, string(html), "Tropomyosin")
	assert.Contains(t, string(html), "crate-a")
	assert.Contains(t, string(html), `value="5001"`)
}

func TestSelectAndSimulationFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t)

	resp, body := env.post(t, id, "simulation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Please select an object to link with the simulation."}, body.Data.Alerts)
	assert.Equal(t, int32(0), env.backend.simulations.Load())

	resp, body = env.post(t, id, "select", url.Values{"control": {"simulation"}, "value": {"SAMPLE-1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Data.Controls.RunSimulation)

	resp, _ = env.post(t, id, "simulation", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), env.backend.simulations.Load())
}

func TestFilterWithoutMatchesReportsBanner(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t)

	resp, body := env.post(t, id, "filter", url.Values{"type": {"@aiida.Measurement"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "No data found for the selected type.", body.Data.Banner)
	assert.Len(t, body.Data.Rows, 2)
	assert.Equal(t, "no data found", body.Meta["error"])
}

func TestMetadataToggleGlyphs(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t)

	_, body := env.post(t, id, "metadata", url.Values{"id": {"SAMPLE-1"}})
	require.Len(t, body.Data.Rows, 2)
	assert.Equal(t, "−", body.Data.Rows[0].Glyph)
	assert.Equal(t, "+", body.Data.Rows[1].Glyph)
}

func TestMalformedRequestsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t)

	resp, _ := env.post(t, id, "select", url.Values{"control": {"bogus"}, "value": {"x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, id, "import", url.Values{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, id, "import", url.Values{"id": {"not-listed"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, id, "metadata", url.Values{"id": {"missing"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.post(t, id, "nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	get, err := env.client.Get(env.server.URL + "/s/" + id + "/refresh")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, get.StatusCode)
}

func TestOpenBISPlatformListedByNameIsReachable(t *testing.T) {
	typesCrate, err := rocrate.Pack([]rocrate.File{
		{Name: "response.json", Type: rocrate.ResponseType, Data: []byte(`["https://schema.org/Protein"]`)},
	})
	require.NoError(t, err)
	recordsCrate, err := rocrate.Pack([]rocrate.File{
		{Name: "response.json", Type: rocrate.ResponseType, Data: []byte(`[{"id":"P-1","type":"SAMPLE","title":"Protein","ontology":"https://schema.org/Protein"}]`)},
	})
	require.NoError(t, err)

	var typeCalls atomic.Int32
	platformMux := http.NewServeMux()
	platformMux.HandleFunc("/data/types", func(w http.ResponseWriter, _ *http.Request) {
		typeCalls.Add(1)
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(typesCrate)
	})
	platformMux.HandleFunc("/data/ontology", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://schema.org/Protein", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(recordsCrate)
	})
	platformSrv := httptest.NewServer(platformMux)
	t.Cleanup(platformSrv.Close)
	platformURL, err := url.Parse(platformSrv.URL)
	require.NoError(t, err)

	fb := &fakeBackend{platforms: `["openBIS"]`}
	env := newProfileEnv(t, fb, config.ProfileOpenBIS, func(cfg *config.Config) {
		cfg.PlatformURLTemplate = "http://" + platformURL.Hostname() + ":%s"
		cfg.Variant.PlatformPort = platformURL.Port()
	})
	id := env.newSession(t)

	resp, body := env.post(t, id, "platform/types", url.Values{"platform": {"openBIS"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body.Data.Banner)
	assert.Nil(t, body.Meta["error"])
	assert.Equal(t, int32(1), typeCalls.Load())

	resp, body = env.post(t, id, "platform/data", url.Values{"type": {"https://schema.org/Protein"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body.Data.Banner)

	resp, _ = env.post(t, id, "import", url.Values{"id": {"P-1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), fb.imports.Load())
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "00000000-0000-0000-0000-000000000000", "refresh", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	page, err := env.client.Get(env.server.URL + "/s/not-a-session/")
	require.NoError(t, err)
	page.Body.Close()
	assert.Equal(t, http.StatusSeeOther, page.StatusCode)
	assert.Equal(t, "/", page.Header.Get("Location"))
}

func TestUploadForwardsArchive(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "crate.zip")
	require.NoError(t, err)
	_, _ = part.Write([]byte("PK"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/s/"+id+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Data.UploadResult, "stored")
	assert.Equal(t, int32(1), env.backend.uploads.Load())

	resp2, body2 := env.post(t, id, "upload", nil)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "Please select a file to upload.", body2.Data.UploadResult)
}

func TestEventsStreamRevisions(t *testing.T) {
	env := newTestEnv(t)
	id := env.newSession(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/s/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first revisionEvent
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))

	resp, _ := env.post(t, id, "metadata", url.Values{"id": {"SAMPLE-1"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var next revisionEvent
	require.NoError(t, conn.ReadJSON(&next))
	assert.Greater(t, next.Revision, first.Revision)
}

func TestMetricsExposeGatewayCalls(t *testing.T) {
	env := newTestEnv(t)
	env.newSession(t)

	resp, err := env.client.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	text := string(blob)
	assert.Contains(t, text, `rdm_ui_gateway_requests_total{operation="ListRecords",outcome="ok",target="backend"} 1`)
	assert.Contains(t, text, "rdm_ui_sessions_active 1")

	summary, err := env.client.Get(env.server.URL + "/api/v1/metrics/app")
	require.NoError(t, err)
	defer summary.Body.Close()
	var payload map[string]map[string]any
	require.NoError(t, json.NewDecoder(summary.Body).Decode(&payload))
	assert.EqualValues(t, 1, payload["data"]["sessions_active"])
}

func TestNormalizeMetricPath(t *testing.T) {
	cases := map[string]string{
		"/":                        "/",
		"/metrics":                 "/metrics",
		"/s/abc/":                  "/s/{session}/",
		"/s/abc":                   "/s/{session}/",
		"/s/abc/platform/types":    "/s/{session}/platform/types",
		"/s/abc/simulation/export": "/s/{session}/simulation/export",
		"/s/abc/events":            "/s/{session}/events",
		"/s/abc/whatever":          "/s/{session}/{unknown}",
		"/wp-login.php":            "other",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeMetricPath(in), in)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := env.client.Get(env.server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestNewServerRequiresBackend(t *testing.T) {
	_, err := NewServer(config.Config{}, nil)
	require.Error(t, err)
}
