package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/rrsched/pkg/model"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, model.NewPagination(total, opts))
}

// loadRun writes a 404 or 500 and returns nil when the run cannot be served.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *model.Run {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return nil
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	respondOK(w, RequestIDFromContext(r.Context()), run)
}

func (s *Server) handleListFrames(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	frames, total, err := s.store.ListFrames(r.Context(), run.ID, opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if frames == nil {
		frames = []*model.FrameSample{}
	}
	respondList(w, reqID, frames, model.NewPagination(total, opts))
}

func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	sum, err := s.store.SummarizeRun(r.Context(), run.ID)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	respondOK(w, reqID, sum)
}
