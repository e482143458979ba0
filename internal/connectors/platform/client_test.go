package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-rdm-bridge-ui/internal/connectors/backend"
	"go-rdm-bridge-ui/internal/rocrate"
)

func crateOf(t *testing.T, payload string) []byte {
	t.Helper()
	data, err := rocrate.Pack([]rocrate.File{{Name: "response.json", Type: rocrate.ResponseType, Data: []byte(payload)}})
	require.NoError(t, err)
	return data
}

func TestTypesAndRecordsByType(t *testing.T) {
	types := crateOf(t, `["https://schema.org/Protein","https://schema.org/MolecularEntity"]`)
	objects := crateOf(t, `[{"id":"SAMPLE-1","type":"@aiida.Sample","title":"Tropomyosin","ontology":"https://schema.org/Protein","metadata":{}}]`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/zip", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/zip")
		switch r.URL.Path {
		case "/data/types":
			_, _ = w.Write(types)
		case "/data/ontology":
			assert.Equal(t, "https://schema.org/Protein", r.URL.Query().Get("type"))
			assert.Equal(t, "ROC", r.URL.Query().Get("format"))
			_, _ = w.Write(objects)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient("", time.Second, 0)

	got, err := c.Types(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://schema.org/Protein", "https://schema.org/MolecularEntity"}, got)

	records, err := c.RecordsByType(context.Background(), srv.URL, "https://schema.org/Protein")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Tropomyosin", records[0].Title)
}

func TestBaseURL(t *testing.T) {
	c := NewClient("http://localhost:%s", time.Second, 0)

	u, err := c.BaseURL("5002")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5002", u)

	u, err = c.BaseURL("https://rdm.example.org/api/")
	require.NoError(t, err)
	assert.Equal(t, "https://rdm.example.org/api", u)

	_, err = c.BaseURL(" ")
	require.Error(t, err)

	_, err = c.BaseURL("http://")
	require.Error(t, err)
}

func TestFetchCrateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/types":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		case "/data/ontology":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		}
	}))
	defer srv.Close()

	c := NewClient("", time.Second, 32)

	_, err := c.Types(context.Background(), srv.URL)
	var serr *backend.StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusBadGateway, serr.Status)

	_, err = c.RecordsByType(context.Background(), srv.URL, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestMissingResponseEntrySurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		data, _ := rocrate.Pack([]rocrate.File{{Name: "other.json", Data: []byte(`[]`)}})
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	_, err := NewClient("", time.Second, 0).Types(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, rocrate.ErrMissingResponse))
}
