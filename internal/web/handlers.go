package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/history"
)

// Run list paging.
const (
	defaultRunLimit = 20
	maxRunLimit     = history.DefaultMemoryCapacity
)

type healthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, healthResponse{Status: "ok", Running: s.runs.Running()})
}

// handleListRuns returns recent runs, newest first. ?limit=N caps the count.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.Store().List(r.Context(), runLimit(r))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	writeJSON(w, r, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Store().Get(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, history.ErrNotFound) {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

// handleStartRun starts a full run in the background and answers 202 with the
// run record. A second request while a run is active gets 409.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Start(s.runContext(r), history.TriggerAPI)
	if errors.Is(err, core.ErrRunInProgress) {
		s.respondError(w, r, err, http.StatusConflict)
		return
	}
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, r, http.StatusAccepted, run)
}

func runLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultRunLimit
	}
	return min(n, maxRunLimit)
}
