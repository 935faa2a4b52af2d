package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/history"
	"github.com/JonMunkholm/pcodesync/internal/web/templates"
)

const statusRunLimit = 10

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.Store().List(r.Context(), statusRunLimit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.StatusPage(statusParams(s.targets, s.runs.Running(), runs)).Render(r.Context(), w); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// statusParams formats the configured targets and the most recent runs for display.
func statusParams(targets []string, running bool, runs []*history.Run) templates.StatusParams {
	p := templates.StatusParams{Running: running, Targets: targets}
	for _, run := range runs {
		p.Runs = append(p.Runs, templates.RunRow{
			ID:        run.ID,
			Started:   run.StartedAt.Format(time.RFC3339),
			Trigger:   run.Trigger,
			Status:    run.Status,
			Countries: strconv.Itoa(run.Countries),
			Forms:     strconv.Itoa(run.Artifacts),
			Duration:  run.Duration().Round(time.Second).String(),
			Error:     runError(run),
		})
	}
	return p
}

// runError summarizes a run failure, or the failing targets of a partial run.
func runError(run *history.Run) string {
	if run.Error != "" {
		return run.ErrorCode + ": " + run.Error
	}
	var failed string
	for _, t := range run.Targets {
		if t.Error == "" {
			continue
		}
		if failed != "" {
			failed += "; "
		}
		failed += t.Name + " " + t.ErrorCode
	}
	return failed
}
