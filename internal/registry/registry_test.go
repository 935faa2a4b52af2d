package registry

import (
	"context"
	"errors"
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

const extract = "Countries and Territories,ISO2,ISO3\nAfghanistan,AF,AFG\nTestland,,AA\n"

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Resolve(t *testing.T) {
	var gotAuth string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("\xEF\xBB\xBF" + extract))
	})

	c := NewClient(config.RegistryConfig{URL: srv.URL, Token: "ndx-token"}, srv.Client())
	codes, err := c.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ndx-token", gotAuth, "token is sent verbatim")
	assert.Equal(t, []string{"AA", "AFG"}, codes.Codes())
	name, ok := codes.Name("AFG")
	assert.True(t, ok)
	assert.Equal(t, "Afghanistan", name)
}

func TestClient_Resolve_CustomColumns(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("country,code\nTestland,AA\n"))
	})

	c := NewClient(config.RegistryConfig{URL: srv.URL, NameColumn: "country", CodeColumn: "code"}, srv.Client())
	codes, err := c.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, codes.Has("AA"))
}

func TestClient_Resolve_Errors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantOp     string
		wantStatus int
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: "invalid token", wantOp: "fetch", wantStatus: 401},
		{name: "server error", status: http.StatusBadGateway, body: "", wantOp: "fetch", wantStatus: 502},
		{name: "missing code column", status: http.StatusOK, body: "Countries and Territories,ISO2\nAfghanistan,AF\n", wantOp: "parse"},
		{name: "duplicate code", status: http.StatusOK, body: "Countries and Territories,ISO3\nA,XX\nB,XX\n", wantOp: "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewClient(config.RegistryConfig{URL: srv.URL}, srv.Client()).Resolve(context.Background())

			var resErr *core.ResolutionError
			require.ErrorAs(t, err, &resErr)
			assert.Equal(t, tt.wantOp, resErr.Op)
			assert.Equal(t, tt.wantStatus, resErr.Status)
			assert.Equal(t, "REG001", core.ErrorCode(err))
		})
	}
}

func TestClient_Resolve_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(config.RegistryConfig{URL: url}, nil).Resolve(context.Background())

	var resErr *core.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "fetch", resErr.Op)
	assert.Zero(t, resErr.Status)
}

func TestClient_Resolve_Cancelled(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(extract))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(config.RegistryConfig{URL: srv.URL}, srv.Client()).Resolve(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFileSource_Resolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "countries.csv")
	require.NoError(t, os.WriteFile(path, []byte(extract), 0o644))

	codes, err := NewFileSource(path, "", "").Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, codes.Len())

	_, err = NewFileSource(filepath.Join(t.TempDir(), "missing.csv"), "", "").Resolve(context.Background())
	var resErr *core.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "open", resErr.Op)
}

func TestNew_SelectsSource(t *testing.T) {
	assert.IsType(t, &FileSource{}, New(config.RegistryConfig{File: "countries.csv"}, nil))
	assert.IsType(t, &Client{}, New(config.RegistryConfig{URL: "https://example.org/c.csv"}, nil))
}
