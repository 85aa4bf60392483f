package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/jsworker/internal/model"
	"github.com/seantiz/jsworker/internal/runner"
	"github.com/seantiz/jsworker/internal/store"
	"github.com/seantiz/jsworker/internal/worker"
)

// evalRequest is the JSON body for POST /v1/eval.
type evalRequest struct {
	Code string `json:"code"`
}

// loadModuleRequest is the JSON body for POST /v1/modules.
type loadModuleRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Main   bool   `json:"main"`
}

// callRequest is the JSON body for entrypoint and function calls. An empty
// body calls with no arguments.
type callRequest struct {
	Args []worker.Value `json:"args"`
}

// operationError is the JSON response for a failed operation. Execution is
// set when the failure was recorded.
type operationError struct {
	Error     string           `json:"error"`
	Execution *model.Execution `json:"execution,omitempty"`
}

// listModulesResponse is the JSON response for GET /v1/modules.
type listModulesResponse struct {
	Modules []*model.Module `json:"modules"`
}

// decodeBody decodes a JSON request body into v. When optional is set an
// empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeOperationError maps a runner error to a status code.
func (s *Server) writeOperationError(w http.ResponseWriter, exec *model.Execution, err error) {
	var (
		engineErr  *worker.EngineError
		channelErr *worker.ChannelError
		status     int
	)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, runner.ErrNoMainModule):
		status = http.StatusNotFound
	case errors.As(err, &engineErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &channelErr),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("operation failed", "error", err)
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, operationError{Error: err.Error(), Execution: exec})
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	var req evalRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	exec, err := s.runner.Eval(r.Context(), req.Code)
	if err != nil {
		s.writeOperationError(w, exec, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleLoadModule(w http.ResponseWriter, r *http.Request) {
	var req loadModuleRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	m, exec, err := s.runner.LoadModule(r.Context(), req.Name, req.Source, req.Main)
	if err != nil {
		s.writeOperationError(w, exec, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	modules, err := s.runner.ListModules(r.Context())
	if err != nil {
		s.logger.Error("list modules", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list modules")
		return
	}
	if modules == nil {
		modules = []*model.Module{}
	}
	s.writeJSON(w, http.StatusOK, listModulesResponse{Modules: modules})
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := s.runner.GetModule(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "module not found")
		return
	}
	if err != nil {
		s.logger.Error("get module", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get module")
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCallEntrypoint(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exec, err := s.runner.CallEntrypoint(r.Context(), chi.URLParam(r, "id"), req.Args)
	s.writeExecution(w, exec, err)
}

func (s *Server) handleCallModuleFunction(w http.ResponseWriter, r *http.Request) {
	s.callFunction(w, r, chi.URLParam(r, "id"))
}

func (s *Server) handleCallGlobalFunction(w http.ResponseWriter, r *http.Request) {
	s.callFunction(w, r, "")
}

func (s *Server) callFunction(w http.ResponseWriter, r *http.Request, moduleID string) {
	var req callRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exec, err := s.runner.CallFunction(r.Context(), moduleID, chi.URLParam(r, "name"), req.Args)
	s.writeExecution(w, exec, err)
}

func (s *Server) handleGetModuleValue(w http.ResponseWriter, r *http.Request) {
	exec, err := s.runner.GetValue(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	s.writeExecution(w, exec, err)
}

func (s *Server) handleGetGlobalValue(w http.ResponseWriter, r *http.Request) {
	exec, err := s.runner.GetValue(r.Context(), "", chi.URLParam(r, "name"))
	s.writeExecution(w, exec, err)
}

func (s *Server) writeExecution(w http.ResponseWriter, exec *model.Execution, err error) {
	if err != nil {
		s.writeOperationError(w, exec, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}
