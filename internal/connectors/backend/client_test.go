package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) ObserveRequest(target, operation string, err error, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	l.calls = append(l.calls, target+"/"+operation+"/"+outcome)
}

func TestListAndFilterRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data":
			_, _ = io.WriteString(w, `[{"id":"SAMPLE-1","type":"@aiida.Sample","title":"Tropomyosin","ontology":"https://schema.org/Protein","metadata":{"k":"v"},"extra":true}]`)
		case "/data/filter":
			assert.Equal(t, "@aiida.Sample", r.URL.Query().Get("type"))
			_, _ = io.WriteString(w, `[]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	log := &callLog{}
	c := NewClient(srv.URL+"/", time.Second).WithRecorder(log)

	records, err := c.ListRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "SAMPLE-1", records[0].ID)
	assert.Equal(t, "https://schema.org/Protein", records[0].Field("ontology"))
	assert.Equal(t, "@aiida.Sample", records[0].Field("type"))
	assert.JSONEq(t, `{"k":"v"}`, string(records[0].Metadata))
	assert.Contains(t, string(records[0].Raw), `"extra":true`)

	filtered, err := c.FilterRecords(context.Background(), "@aiida.Sample")
	require.NoError(t, err)
	assert.Empty(t, filtered)

	assert.Equal(t, []string{"backend/ListRecords/ok", "backend/FilterRecords/ok"}, log.calls)
}

func TestImportForwardsRawRecordAndSurfacesMessage(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/import", r.URL.Path)
		assert.Equal(t, "5002", r.URL.Query().Get("port"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		blob, _ := io.ReadAll(r.Body)
		got = string(blob)
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"message":"The item already exists."}`)
	}))
	defer srv.Close()

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"id":"X","type":"t","title":"T","ontology":"o","remote":1}`), &rec))

	err := NewClient(srv.URL, time.Second).Import(context.Background(), "5002", rec)
	require.Error(t, err)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusConflict, serr.Status)
	assert.Equal(t, "The item already exists.", serr.Message)
	assert.JSONEq(t, `{"id":"X","type":"t","title":"T","ontology":"o","remote":1}`, got)
}

func TestExportAndSimulation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/export":
			blob, _ := io.ReadAll(r.Body)
			assert.Equal(t, `"SAMPLE-2"`, string(blob))
			assert.Equal(t, "5001", r.URL.Query().Get("port"))
			_, _ = io.WriteString(w, `{"message":"ok"}`)
		case "/data/start_simulation":
			assert.Equal(t, "SAMPLE-2", r.URL.Query().Get("id"))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":"SAMPLE-2","metadata":{"has_child":[{"id":"SIM-1"}]}}`)
		case "/api/export":
			blob, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"id":"SAMPLE-2"}`, string(blob))
			_, _ = io.WriteString(w, `{"message":"Data sent to openBIS successfully"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	out, err := c.Export(ctx, "/data/export", "5001", "SAMPLE-2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"ok"}`, string(out))

	sim, err := c.RunSimulation(ctx, "/data/start_simulation", "SAMPLE-2")
	require.NoError(t, err)
	assert.Contains(t, string(sim), "SIM-1")

	out, err = c.ExportObject(ctx, "/api/export", json.RawMessage(`{"id":"SAMPLE-2"}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), "successfully")
}

func TestPlatformsCratesAndUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/platforms":
			_, _ = io.WriteString(w, `{"openBIS":5001,"AiiDA":"http://aiida.local:5002"}`)
		case "/crates":
			_, _ = io.WriteString(w, `["crate-a","crate-b"]`)
		case "/crate":
			assert.Equal(t, "crate a", r.URL.Query().Get("name"))
			_, _ = io.WriteString(w, `{"@graph":[]}`)
		case "/upload_rocrate":
			file, header, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			defer file.Close()
			body, _ := io.ReadAll(file)
			assert.Equal(t, "crate.zip", header.Filename)
			assert.Equal(t, "PK", string(body))
			_, _ = io.WriteString(w, `{"message":"No RESPONSE type file found in the RO-Crate or failed to read."}`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()

	platforms, err := c.ListPlatforms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Platform{{Name: "AiiDA", Ref: "http://aiida.local:5002"}, {Name: "openBIS", Ref: "5001"}}, platforms)

	crates, err := c.ListCrates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"crate-a", "crate-b"}, crates)

	crate, err := c.ShowCrate(ctx, "crate a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"@graph":[]}`, string(crate))

	res, err := c.UploadCrate(ctx, "crate.zip", strings.NewReader("PK"))
	require.NoError(t, err)
	assert.Contains(t, string(res), "No RESPONSE")
}

func TestParsePlatformsArrayForm(t *testing.T) {
	platforms, err := ParsePlatforms([]byte(` ["openBIS","AiiDA"]`))
	require.NoError(t, err)
	assert.Equal(t, []Platform{{Name: "openBIS", Ref: "openBIS"}, {Name: "AiiDA", Ref: "AiiDA"}}, platforms)

	_, err = ParsePlatforms([]byte(`{"x":true}`))
	require.Error(t, err)
}

func TestTransportErrorIsNotStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	log := &callLog{}
	err := NewClient(url, 200*time.Millisecond).WithRecorder(log).Reset(context.Background())
	require.Error(t, err)
	var serr *StatusError
	assert.False(t, errors.As(err, &serr))
	assert.Equal(t, []string{"backend/Reset/error"}, log.calls)
}

func TestRecordPayloadWithoutRaw(t *testing.T) {
	rec := Record{ID: "A", Type: "t", Title: "x", Ontology: "o"}
	payload, err := rec.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"A","type":"t","title":"x","ontology":"o"}`, string(payload))
}
