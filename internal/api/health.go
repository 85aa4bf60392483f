package api

import (
	"net/http"
)

// healthResponse reports liveness along with the worker serving requests.
type healthResponse struct {
	Status   string `json:"status"`
	Engine   string `json:"engine"`
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Engine:   s.runner.Engine(),
		WorkerID: s.runner.WorkerID(),
	})
}
