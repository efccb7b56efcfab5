package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diptrack/diptrack/internal/engine"
	"github.com/diptrack/diptrack/internal/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.coord.GetSyncStatus(r.Context())
	if err != nil {
		s.logger.Error("status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	report, err := s.coord.ForceSync(r.Context())
	switch {
	case errors.Is(err, engine.ErrOffline):
		writeError(w, http.StatusConflict, "offline", err.Error())
		return
	case err != nil:
		s.logger.Error("forced sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) deadLetters(w http.ResponseWriter, r *http.Request) {
	actions, err := s.coord.DeadLetters(r.Context())
	if err != nil {
		s.logger.Error("list dead letters failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	if actions == nil {
		actions = []store.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.coord.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no action with id "+id)
		return
	case err != nil:
		s.logger.Error("requeue failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "requeued"})
}
