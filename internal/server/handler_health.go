package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	LiveRun   string `json:"live_run,omitempty"`
}

func (s *Server) schedulerState() string {
	switch {
	case s.scheduler == nil:
		return "disabled"
	case s.running == nil:
		return "not_started"
	}
	select {
	case <-s.running:
		return "stopped"
	default:
		return "running"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: s.schedulerState(),
		LiveRun:   s.liveRunID,
	})
}
