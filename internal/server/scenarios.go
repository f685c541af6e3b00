package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/scenario"
)

type scenarioSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Operations  []string `json:"operations"`
}

type scenarioRunResponse struct {
	scenario.Report
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// WithScenarios exposes set under /v1/scenarios.
func WithScenarios(set *scenario.Set) Option {
	return func(s *Server) {
		s.scenarios = set
	}
}

func (s *Server) scenarioRoutes(api chi.Router) {
	api.Get("/scenarios", s.handleScenarios)
	api.Get("/scenarios/{id}", s.handleScenario)
	api.Post("/scenarios/{id}/run", s.handleScenarioRun)
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	list := s.scenarios.List()
	out := make([]scenarioSummary, 0, len(list))
	for _, sc := range list {
		out = append(out, summarize(sc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.scenarios.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown scenario"})
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleScenarioRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sc, ok := s.scenarios.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown scenario"})
		return
	}
	runner, err := scenario.NewRunner(s.console, scenario.WithLogger(s.logger))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	report, err := runner.Run(r.Context(), sc)
	resp := scenarioRunResponse{Report: report, Succeeded: err == nil && report.Succeeded()}
	switch {
	case errors.Is(err, engine.ErrBusy):
		resp.Error = "an operation is already running"
		writeJSON(w, http.StatusConflict, resp)
	case err != nil:
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func summarize(sc scenario.Scenario) scenarioSummary {
	return scenarioSummary{
		ID:          sc.ID,
		Name:        sc.Title(),
		Description: sc.Description,
		Operations:  sc.Operations(),
	}
}
