package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patchlight/crawld/internal/crawl"
)

type crawlRequest struct {
	TargetURL string `json:"target_url"`
}

type crawlAccepted struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type stopResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// startCrawl accepts a submission and returns 202 before any crawling
// happens.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	run, err := s.runs.StartRun(r.Context(), req.TargetURL)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, crawlAccepted{
		RunID:  run.ID,
		Status: string(run.Status),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetStatus(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	pages, err := s.runs.GetResults(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if pages == nil {
		pages = []crawl.PageRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"pages":  pages,
	})
}

func (s *Server) stopCrawl(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.StopRun(r.Context(), runID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stopResponse{
		RunID:  run.ID,
		Status: string(run.Status),
	})
}
