package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/jsworker/internal/model"
	"github.com/seantiz/jsworker/internal/runner"
	"github.com/seantiz/jsworker/internal/store"
)

// handleStreamConsole streams console events as SSE. With ?execution=<id>
// the stream carries one execution's output and ends with a done event;
// otherwise it carries every execution's output until the client leaves.
func (s *Server) handleStreamConsole(w http.ResponseWriter, r *http.Request) {
	topic := runner.AllTopic
	if id := r.URL.Query().Get("execution"); id != "" {
		exec, err := s.store.GetExecution(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "execution not found")
			return
		}
		if err != nil {
			s.logger.Error("get execution for console", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get execution")
			return
		}
		if model.IsTerminal(exec.Status) {
			setSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			_ = writeSSEEvent(w, "done", "stream complete")
			return
		}
		topic = id
	}

	setSSEHeaders(w)

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	ch, unsub := s.runner.Broker().Subscribe(topic)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode console event", "error", err)
				continue
			}
			if err := writeSSEData(w, string(data)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// consoleHistoryResponse is the JSON response for GET /v1/executions/{id}/console.
type consoleHistoryResponse struct {
	ExecutionID string              `json:"execution_id"`
	Lines       []model.ConsoleLine `json:"lines"`
}

func (s *Server) handleGetConsoleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution for console history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	lines, err := s.store.GetConsoleLines(r.Context(), id)
	if err != nil {
		s.logger.Error("get console lines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get console lines")
		return
	}

	s.writeJSON(w, http.StatusOK, consoleHistoryResponse{
		ExecutionID: id,
		Lines:       lines,
	})
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeSSEData writes one SSE data event. Multi-line strings are split so
// that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, line string) error {
	for seg := range strings.SplitSeq(line, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	// Blank line terminates the event.
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
