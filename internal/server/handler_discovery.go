package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "rrsched API",
		Version:     "v1",
		Description: "Radio resource scheduler probes: recorded runs and per-frame samples",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "List recorded runs. Accepts ?state=, ?limit= and ?offset="},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run"},
			{"/api/v1/runs/{id}/frames", []string{"GET"}, "Per-frame probes of a run, paginated"},
			{"/api/v1/runs/{id}/summary", []string{"GET"}, "Aggregated probes of a run"},
			{"/api/v1/health", []string{"GET"}, "Server health, version and live scheduler state"},
		},
	})
}
