package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/history"
)

type fakeRuns struct {
	mu       sync.Mutex
	store    *history.MemoryStore
	running  bool
	startErr error
	ctxs     []context.Context
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{store: history.NewMemoryStore(0)}
}

func (f *fakeRuns) Start(ctx context.Context, trigger string) (*history.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.ctxs = append(f.ctxs, ctx)
	run := &history.Run{ID: "run-new", Trigger: trigger, Status: history.StatusRunning, StartedAt: time.Now().UTC()}
	if err := f.store.Save(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (f *fakeRuns) Running() bool         { return f.running }
func (f *fakeRuns) Store() history.Store { return f.store }

var base = time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T, f *fakeRuns) {
	t.Helper()
	ctx := context.Background()
	for i, id := range []string{"r1", "r2", "r3"} {
		run := &history.Run{ID: id, Trigger: history.TriggerSchedule, Status: history.StatusRunning, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		run.Targets = []history.TargetResult{{Name: "nrc", Moved: 2}}
		run.Finish(run.StartedAt.Add(time.Minute), nil)
		require.NoError(t, f.store.Save(ctx, run))
	}
}

func newTestServer(t *testing.T, f *fakeRuns, mutate func(*config.Config)) (*Server, context.CancelFunc) {
	t.Helper()
	cfg := &config.Config{
		Server:  config.ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
		Targets: []config.Target{{Name: "nrc"}, {Name: "<partner>"}},
	}
	if mutate != nil {
		mutate(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(ctx, cfg, f), cancel
}

func serve(s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFakeRuns()
	f.running = true
	s, _ := newTestServer(t, f, nil)

	rec := serve(s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","running":true}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListRuns(t *testing.T) {
	f := newFakeRuns()
	seed(t, f)
	s, _ := newTestServer(t, f, nil)

	rec := serve(s, http.MethodGet, "/api/runs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]history.Run](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
	assert.Equal(t, history.StatusSucceeded, runs[0].Status)

	rec = serve(s, http.MethodGet, "/api/runs?limit=bogus", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]history.Run](t, rec), 3)
}

func TestListRuns_Empty(t *testing.T) {
	s, _ := newTestServer(t, newFakeRuns(), nil)

	rec := serve(s, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestGetRun(t *testing.T) {
	f := newFakeRuns()
	seed(t, f)
	s, _ := newTestServer(t, f, nil)

	rec := serve(s, http.MethodGet, "/api/runs/r2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[history.Run](t, rec)
	assert.Equal(t, "r2", run.ID)
	assert.Equal(t, []history.TargetResult{{Name: "nrc", Moved: 2}}, run.Targets)

	rec = serve(s, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RUN002", decode[ErrorResponse](t, rec).Code)
}

func TestStartRun(t *testing.T) {
	f := newFakeRuns()
	s, _ := newTestServer(t, f, nil)

	rec := serve(s, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/api/runs/run-new", rec.Header().Get("Location"))
	run := decode[history.Run](t, rec)
	assert.Equal(t, history.TriggerAPI, run.Trigger)

	require.Len(t, f.ctxs, 1)
	runCtx := f.ctxs[0]
	assert.NoError(t, runCtx.Err(), "run context outlives the request")
	assert.NotEmpty(t, middleware.GetReqID(runCtx))
}

func TestStartRun_StopsOnShutdown(t *testing.T) {
	f := newFakeRuns()
	s, cancel := newTestServer(t, f, nil)

	serve(s, http.MethodPost, "/api/runs", nil)
	require.Len(t, f.ctxs, 1)

	cancel()
	assert.ErrorIs(t, f.ctxs[0].Err(), context.Canceled)
}

func TestStartRun_InProgress(t *testing.T) {
	f := newFakeRuns()
	f.startErr = core.ErrRunInProgress
	s, _ := newTestServer(t, f, nil)

	rec := serve(s, http.MethodPost, "/api/runs", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "RUN001", resp.Code)
	assert.NotEmpty(t, resp.Action)
}

func TestStartRun_APIKey(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong", header: http.Header{"X-Api-Key": {"nope"}}, want: http.StatusForbidden},
		{name: "header", header: http.Header{"X-Api-Key": {"k2"}}, want: http.StatusAccepted},
		{name: "bearer", header: http.Header{"Authorization": {"Bearer k1"}}, want: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, newFakeRuns(), func(c *config.Config) {
				c.Server.APIKeys = []string{"k1", "k2"}
			})
			rec := serve(s, http.MethodPost, "/api/runs", tt.header)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestAPIKeyDoesNotGuardReads(t *testing.T) {
	s, _ := newTestServer(t, newFakeRuns(), func(c *config.Config) {
		c.Server.APIKeys = []string{"k1"}
	})
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/runs", nil).Code)
}

func TestStatusPage(t *testing.T) {
	f := newFakeRuns()
	seed(t, f)
	failed := &history.Run{ID: "r4", Trigger: history.TriggerAPI, StartedAt: base.Add(5 * time.Hour)}
	failed.Finish(failed.StartedAt.Add(time.Second), &core.MissingDisplayNameError{Code: "ZZ"})
	require.NoError(t, f.store.Save(context.Background(), failed))
	s, _ := newTestServer(t, f, nil)

	rec := serve(s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<strong>idle</strong>")
	assert.Contains(t, body, "<li>nrc</li>")
	assert.Contains(t, body, "&lt;partner&gt;")
	assert.NotContains(t, body, "<partner>")
	assert.Contains(t, body, `href="/api/runs/r3"`)
	assert.Contains(t, body, "DATA004")
	assert.Less(t, strings.Index(body, "r4"), strings.Index(body, "r1"), "newest run first")
}

func TestRunError(t *testing.T) {
	run := &history.Run{Targets: []history.TargetResult{
		{Name: "a"},
		{Name: "b", Error: "boom", ErrorCode: "API001"},
		{Name: "c", Error: "bang", ErrorCode: "NET001"},
	}}
	assert.Equal(t, "b API001; c NET001", runError(run))

	run.Error, run.ErrorCode = "no targets", "ERR000"
	assert.Equal(t, "ERR000: no targets", runError(run))
}
