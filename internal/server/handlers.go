package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/logging"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

const keepAliveInterval = 15 * time.Second

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Engine        string `json:"engine"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type operationResponse struct {
	engine.OperationView
	LastRun *engine.Run `json:"last_run,omitempty"`
}

type executeResponse struct {
	Result   engine.Result   `json:"result"`
	Response json.RawMessage `json:"response,omitempty"`
}

type selectRequest struct {
	Operation string `json:"operation"`
}

type errorResponse struct {
	Error     string         `json:"error"`
	Operation string         `json:"operation,omitempty"`
	Running   *engine.Status `json:"running,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        string(s.Phase()),
		Version:       ProtocolVersion,
		Engine:        string(s.console.Status().State),
		UptimeSeconds: int64(s.uptime().Seconds()),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Status())
}

// handleState returns the session. Sensitive string values are fingerprinted
// unless ?reveal=true is passed.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := s.console.State()
	reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal"))
	if !reveal {
		state = redactState(state)
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.console.Runs()
	if name := strings.TrimSpace(r.URL.Query().Get("operation")); name != "" {
		filtered := runs[:0]
		for _, run := range runs {
			if run.Operation == name {
				filtered = append(filtered, run)
			}
		}
		runs = filtered
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.console.Operations())
}

func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, view := range s.console.Operations() {
		if view.Name != name {
			continue
		}
		resp := operationResponse{OperationView: view}
		if run, ok := s.console.LastRun(name); ok {
			resp.LastRun = &run
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeMissing(w, name)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.console.Known(name) {
		s.writeMissing(w, name)
		return
	}
	result, err := s.console.Execute(r.Context(), name)
	if errors.Is(err, engine.ErrBusy) {
		status := s.console.Status()
		writeJSON(w, http.StatusConflict, errorResponse{Error: "an operation is already running", Operation: name, Running: &status})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("operation", name).Msg("execute failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "execute failed", Operation: name})
		return
	}
	if result.Status == engine.StatusUnavailable {
		s.writeMissing(w, name)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{
		Result:   result,
		Response: result.Patch[operation.ResponseKey(name)],
	})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, selectRequest{Operation: s.console.Selected()})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if status, err := decodeBody(w, r, s.settings.MaxBodyBytes, &req); err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	name := strings.TrimSpace(req.Operation)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "operation is required"})
		return
	}
	if err := s.console.Select(name); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown operation", Operation: name})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Operation: name})
		return
	}
	writeJSON(w, http.StatusOK, selectRequest{Operation: name})
}

// handleEvents streams finished runs as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}
	// the stream outlives the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	sub := s.feed.Subscribe(r.URL.Query().Get("operation"))
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				s.logger.Debug().Err(err).Msg("event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeMissing(w http.ResponseWriter, name string) {
	msg := "operation not available for the current session"
	if !s.console.Known(name) {
		msg = "unknown operation"
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Error: msg, Operation: name})
}

func writeEvent(w io.Writer, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
	return err
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) (int, error) {
	if r.Body == nil {
		return http.StatusBadRequest, errors.New("empty body")
	}
	reader := http.MaxBytesReader(w, r.Body, limit)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, errors.New("payload exceeds limit")
		}
		return http.StatusBadRequest, errors.New("unable to read body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return http.StatusBadRequest, errors.New("invalid JSON")
	}
	return http.StatusOK, nil
}

func redactState(state session.State) session.State {
	for key, raw := range state {
		state[key] = logging.RedactJSON(key, raw)
	}
	return state
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
