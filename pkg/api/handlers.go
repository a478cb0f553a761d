package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/intest/pkg/auth"
	apperrors "github.com/odvcencio/intest/pkg/errors"
	"github.com/odvcencio/intest/pkg/logging"
	"github.com/odvcencio/intest/pkg/macro"
	"github.com/odvcencio/intest/pkg/storage"
)

const maxMacroBody = 1 << 20

// AuthResponse carries a freshly issued session token.
type AuthResponse struct {
	Status    int       `json:"status"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SubmitMacroRequest is the body of POST /macro/{macroID}. Unset flags fall
// back to the configured defaults.
type SubmitMacroRequest struct {
	Entries    []macro.Entry `json:"entries"`
	Record     *bool         `json:"record,omitempty"`
	RecordPath string        `json:"recordPath,omitempty"`
	Log        *bool         `json:"log,omitempty"`
	LogPath    string        `json:"logPath,omitempty"`
}

// SubmitMacroResponse acknowledges an accepted macro.
type SubmitMacroResponse struct {
	Status  int          `json:"status"`
	Message string       `json:"message"`
	MacroID string       `json:"macroId"`
	State   macro.Status `json:"state"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": s.queue.QueueLen()})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientKey(r)) {
		s.metrics.AuthRejected("rate_limited")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	params, err := auth.ParseParams(
		chi.URLParam(r, "system"),
		chi.URLParam(r, "job"),
		chi.URLParam(r, "operator"),
		chi.URLParam(r, "tenant"),
	)
	if err != nil {
		s.metrics.AuthRejected("bad_request")
		_ = s.logger.Warn(logging.CategoryAuth, "auth_rejected", err.Error(), map[string]any{"request_id": requestID(r)})
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.issuer.Authenticate(r.Context(), s.store, params)
	if errors.Is(err, auth.ErrSessionExists) {
		// Same parameters within the token's second resolve to the same token.
		s.metrics.AuthRejected("duplicate")
		_ = s.logger.Warn(logging.CategoryAuth, "auth_rejected", "session already exists", map[string]any{"request_id": requestID(r)})
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	if err != nil {
		_ = s.logger.Error(logging.CategoryAuth, "auth_failed", err.Error(), map[string]any{"request_id": requestID(r)})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.metrics.SessionIssued()
	_ = s.logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategorySession,
		EventType:    "session_created",
		SessionToken: session.Token,
		Message:      "new session created",
		Details: map[string]any{
			"system":   session.System,
			"job":      session.JobNumber,
			"operator": session.Operator,
			"tenant":   session.Tenant,
		},
	})
	writeJSON(w, http.StatusOK, AuthResponse{Status: http.StatusOK, Token: session.Token, ExpiresAt: session.ExpiresAt})
}

// authenticate resolves the bearer token to a live session or writes 401.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*storage.Session, bool) {
	session, err := auth.Check(r.Context(), s.store, auth.BearerToken(r.Header.Get("Authorization")), s.now())
	if err != nil {
		status := statusFor(err)
		if status == http.StatusUnauthorized {
			s.metrics.AuthRejected(strings.ToLower(string(apperrors.GetCode(err))))
			writeError(w, status, "Unauthorized")
		} else {
			writeError(w, status, err.Error())
		}
		return nil, false
	}
	return session, true
}

func (s *Server) handleSubmitMacro(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	macroID := strings.TrimSpace(chi.URLParam(r, "macroID"))
	if macroID == "" {
		writeError(w, http.StatusBadRequest, "macro id is missing")
		return
	}

	var req SubmitMacroRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMacroBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := macro.Validate(req.Entries); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_ = s.logger.Log(logging.Event{
		Level:        logging.LevelInfo,
		Category:     logging.CategorySession,
		EventType:    "macro_received",
		SessionToken: session.Token,
		MacroID:      macroID,
		Message:      "received macro",
		Details:      map[string]any{"entries": len(req.Entries), "request_id": requestID(r)},
	})

	rec := &storage.MacroRecord{
		SessionToken: session.Token,
		MacroID:      macroID,
		Entries:      req.Entries,
		RecordPath:   req.RecordPath,
		LogPath:      req.LogPath,
	}
	if req.Record != nil {
		rec.Record = *req.Record
	}
	if req.Log != nil {
		rec.Log = *req.Log
	}
	if err := s.store.CreateMacro(r.Context(), rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateMacro) {
			writeError(w, http.StatusConflict, "macro "+macroID+" was already submitted")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	task := macro.Task{
		Action:       macro.ActionTest,
		SessionToken: session.Token,
		MacroID:      macroID,
		Entries:      req.Entries,
		Overrides: macro.Overrides{
			Record:     req.Record,
			RecordPath: req.RecordPath,
			Log:        req.Log,
			LogPath:    req.LogPath,
		},
	}
	if err := s.queue.Submit(task); err != nil {
		// The record must not stay pending forever.
		_ = s.store.FinishMacro(r.Context(), session.Token, macroID, macro.StatusFailed, err.Error(), s.now())
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, SubmitMacroResponse{
		Status:  http.StatusOK,
		Message: "OK",
		MacroID: macroID,
		State:   rec.Status,
	})
}

func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	rec, err := s.store.GetMacro(r.Context(), session.Token, chi.URLParam(r, "macroID"))
	if errors.Is(err, storage.ErrMacroNotFound) {
		writeError(w, http.StatusNotFound, "macro not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListMacros returns the macros submitted under the bearer's session.
func (s *Server) handleListMacros(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	macros, err := s.store.ListMacros(r.Context(), session.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if macros == nil {
		macros = []storage.MacroRecord{}
	}
	writeJSON(w, http.StatusOK, macros)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.store.ListWorkers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if workers == nil {
		workers = []storage.WorkerRecord{}
	}
	writeJSON(w, http.StatusOK, workers)
}
