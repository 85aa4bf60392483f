package api

import (
	"net/http"

	"github.com/seantiz/jsworker/internal/jsengine"
)

// enginesResponse is the JSON response for GET /v1/engines.
type enginesResponse struct {
	Active  string                `json:"active"`
	Engines []jsengine.EngineInfo `json:"engines"`
}

func (s *Server) handleListEngines(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, enginesResponse{
		Active:  s.runner.Engine(),
		Engines: s.registry.List(),
	})
}
