package hdx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
)

const pcodesCSV = "Location,Admin Level,P-Code,Name\n#country+code,#adm+level,#adm+code,#adm+name\nAA,1,A1,Region1\n"

// catalog serves a package_search response whose resources point back at the
// same server.
func catalog(t *testing.T, success bool, resources func(base string) []Resource) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/api/3/action/package_search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "global_pcodes.csv", r.URL.Query().Get("q"))
		assert.Equal(t, "Kobo_pcodes", r.Header.Get("User-Agent"))

		resp := map[string]any{"success": success}
		if success {
			resp["result"] = map[string]any{
				"count": 1,
				"results": []map[string]any{
					{"name": "global-pcodes", "resources": resources(srv.URL)},
				},
			}
		} else {
			resp["error"] = map[string]any{"message": "Search error"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/files/new.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pcodesCSV))
	})
	mux.HandleFunc("/files/old.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("stale"))
	})
	mux.HandleFunc("/files/gone.csv", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.DatasetConfig{URL: srv.URL + "/", UserAgent: "Kobo_pcodes"}, srv.Client())
}

func TestClient_FindResource_LastMatchWins(t *testing.T) {
	srv := catalog(t, true, func(base string) []Resource {
		return []Resource{
			{Name: "global_pcodes.csv (old)", URL: base + "/files/old.csv"},
			{Name: "global_pcodes_adm_1_2.csv", URL: base + "/files/other.csv"},
			{Name: "global_pcodes.csv", URL: base + "/files/new.csv"},
		}
	})

	res, err := newTestClient(srv).FindResource(context.Background(), "global_pcodes.csv", "global_pcodes.csv")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/files/new.csv", res.URL)
	assert.Equal(t, "global-pcodes", res.Package)
}

func TestClient_Download(t *testing.T) {
	srv := catalog(t, true, func(base string) []Resource {
		return []Resource{{Name: "global_pcodes.csv", URL: base + "/files/new.csv"}}
	})
	dest := filepath.Join(t.TempDir(), "data", "global_pcodes.csv")

	dl, err := newTestClient(srv).Download(context.Background(), "global_pcodes.csv", "global_pcodes.csv", dest)
	require.NoError(t, err)

	assert.Equal(t, int64(len(pcodesCSV)), dl.Bytes)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, pcodesCSV, string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")

	table, err := core.LoadPcodeTable(dest)
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}

func TestClient_Download_NotFound(t *testing.T) {
	tests := []struct {
		name      string
		success   bool
		resources func(string) []Resource
	}{
		{name: "no matching resource", success: true, resources: func(base string) []Resource {
			return []Resource{{Name: "readme.txt", URL: base + "/files/old.csv"}}
		}},
		{name: "search unsuccessful", success: false, resources: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := catalog(t, tt.success, tt.resources)
			dest := filepath.Join(t.TempDir(), "global_pcodes.csv")

			_, err := newTestClient(srv).Download(context.Background(), "global_pcodes.csv", "global_pcodes.csv", dest)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrDatasetNotFound), "got %v", err)
			assert.Equal(t, "DATA005", core.ErrorCode(err))
			assert.NoFileExists(t, dest)
		})
	}
}

func TestClient_Download_ResourceStatus(t *testing.T) {
	srv := catalog(t, true, func(base string) []Resource {
		return []Resource{{Name: "global_pcodes.csv", URL: base + "/files/gone.csv"}}
	})
	dest := filepath.Join(t.TempDir(), "global_pcodes.csv")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	_, err := newTestClient(srv).Download(context.Background(), "global_pcodes.csv", "global_pcodes.csv", dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprint(http.StatusGone))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data), "failed download must not replace the previous file")
}

func TestClient_FindResource_SearchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestClient(srv).FindResource(context.Background(), "q", "r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.False(t, errors.Is(err, core.ErrDatasetNotFound))
}
