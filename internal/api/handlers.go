package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/gaphost/internal/bootstrap"
	"github.com/mattjoyce/gaphost/internal/bridge"
	"github.com/mattjoyce/gaphost/internal/journal"
	"github.com/mattjoyce/gaphost/internal/queue"
)

const maxJournalLimit = 500

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:      s.deps.Queue.Depth(),
		TimerActive:     s.deps.Queue.TimerActive(),
		BridgeAvailable: s.deps.Queue.Available(),
		ReadyState:      string(s.deps.Document.ReadyState()),
		Drained:         s.deps.Bootstrap.Drained(),
	})
}

// handleExec handles POST /exec/{command}.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "command")

	var req ExecRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	id, err := s.deps.Queue.Enqueue(name, req.Args...)
	switch {
	case errors.Is(err, bridge.ErrEmptyCommand), errors.Is(err, bridge.ErrInvalidCommand):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrQueueFull):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to enqueue command", "command", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue command")
		return
	}

	status := "queued"
	if !s.deps.Queue.Available() {
		status = "held"
	}
	respondJSON(w, http.StatusAccepted, ExecResponse{
		CommandID:  id,
		Command:    name,
		URI:        bridge.BuildURI(name, req.Args...),
		Status:     status,
		QueueDepth: s.deps.Queue.Depth(),
	})
}

// handleGetReadyState handles GET /document/ready-state.
func (s *Server) handleGetReadyState(w http.ResponseWriter, r *http.Request) {
	s.respondReadyState(w, http.StatusOK)
}

// handleSetReadyState handles POST /document/ready-state.
func (s *Server) handleSetReadyState(w http.ResponseWriter, r *http.Request) {
	var req ReadyStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	state, err := bootstrap.ParseReadyState(req.ReadyState)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.deps.Document.SetReadyState(state); err != nil {
		if errors.Is(err, bootstrap.ErrReadyStateRegression) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondReadyState(w, http.StatusOK)
}

func (s *Server) respondReadyState(w http.ResponseWriter, status int) {
	state := s.deps.Document.ReadyState()
	respondJSON(w, status, ReadyStateResponse{
		ReadyState: string(state),
		Ready:      state.IsReady(),
		Drained:    s.deps.Bootstrap.Drained(),
	})
}

// handleNavigatorDevice handles GET /navigator/device. The device singleton
// exists only after the deferred constructors have run.
func (s *Server) handleNavigatorDevice(w http.ResponseWriter, r *http.Request) {
	dev := s.deps.Navigator.Device()
	if dev == nil {
		s.writeError(w, http.StatusServiceUnavailable, "navigator.device not installed yet")
		return
	}
	respondJSON(w, http.StatusOK, DeviceResponse{
		Device:              dev,
		Installed:           s.deps.Navigator.Installed(),
		PendingConstructors: s.deps.Bootstrap.Pending(),
	})
}

// handleJournal handles GET /journal?command=&limit=.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	filter := journal.Filter{Command: r.URL.Query().Get("command")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxJournalLimit {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}

	entries, err := s.deps.Journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, JournalResponse{Entries: entries})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
