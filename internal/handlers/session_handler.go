package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/models"
	"github.com/ternarybob/credbridge/internal/registry"
	"github.com/ternarybob/credbridge/internal/renderer"
	"github.com/ternarybob/credbridge/internal/worker"
)

// SessionHandler serves the backend-facing session API: creation, worker
// event callbacks, status, result, and the report views.
type SessionHandler struct {
	registry *registry.Registry
	config   *common.Config
	logger   arbor.ILogger
}

// NewSessionHandler creates the session API handler.
func NewSessionHandler(reg *registry.Registry, config *common.Config, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{registry: reg, config: config, logger: logger}
}

type createSessionRequest struct {
	UserID       string `json:"user_id"`
	ProviderHint string `json:"provider_hint"`
}

// CreateHandler handles POST /v1/sessions. The returned iframe_url is what
// the backend embeds for the user; possession of the session id is the only
// credential the widget needs.
func (h *SessionHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req createSessionRequest
	if r.Body != nil {
		// An empty body is a valid "anonymous" session request.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	session, err := h.registry.CreateSession(r.Context(), req.UserID, req.ProviderHint)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create session")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"iframe_url": fmt.Sprintf("%s/widget/%s", strings.TrimRight(h.config.Server.PublicBaseURL, "/"), session.ID),
	})
}

type eventRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventsHandler handles POST /v1/sessions/{id}/events, the worker callback.
// The pre-shared callback key gates it; an unknown session is a 404 and must
// not create a phantom session, an event the state machine rejects is a 409.
func (h *SessionHandler) EventsHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.authorized(r) {
		WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		WriteError(w, http.StatusBadRequest, "invalid_event")
		return
	}

	if _, err := h.registry.Append(r.Context(), sessionID, req.Type, req.Data); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			WriteError(w, http.StatusNotFound, "not_found")
		case errors.Is(err, registry.ErrIllegalTransition):
			WriteError(w, http.StatusConflict, "illegal_transition")
		default:
			h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to append event")
			WriteError(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	WriteOK(w)
}

// authorized checks the worker callback key. An empty configured key
// disables the check (single-process development mode).
func (h *SessionHandler) authorized(r *http.Request) bool {
	key := h.config.Worker.CallbackKey
	if key == "" {
		return true
	}
	presented := r.Header.Get(worker.CallbackKeyHeader)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1
}

// StatusHandler handles GET /v1/sessions/{id}/status.
func (h *SessionHandler) StatusHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	session, err := h.registry.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeLookupError(w, sessionID, err)
		return
	}
	WriteJSON(w, http.StatusOK, session)
}

// ResultHandler handles GET /v1/sessions/{id}/result. A session without a
// final event is 404 not_ready; failure is visible only through status and
// the event stream, never as a result body.
func (h *SessionHandler) ResultHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	result, err := h.registry.GetResult(r.Context(), sessionID)
	if err != nil {
		h.writeLookupError(w, sessionID, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result)
}

// PrettyHandler handles GET /v1/sessions/{id}/pretty.
func (h *SessionHandler) PrettyHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report, ok := h.loadReport(w, r, sessionID)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(renderer.Summary(report)))
}

// PrettyHTMLHandler handles GET /v1/sessions/{id}/pretty.html.
func (h *SessionHandler) PrettyHTMLHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report, ok := h.loadReport(w, r, sessionID)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(renderer.ToHTML(renderer.Summary(report))))
}

// PDFHandler handles GET /v1/sessions/{id}/report.pdf.
func (h *SessionHandler) PDFHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report, ok := h.loadReport(w, r, sessionID)
	if !ok {
		return
	}
	pdf, err := renderer.ToPDF(report)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to render PDF")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", sessionID+".pdf"))
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

func (h *SessionHandler) loadReport(w http.ResponseWriter, r *http.Request, sessionID string) (*models.NormalizedReport, bool) {
	raw, err := h.registry.GetResult(r.Context(), sessionID)
	if err != nil {
		h.writeLookupError(w, sessionID, err)
		return nil, false
	}
	var report models.NormalizedReport
	if err := json.Unmarshal(raw, &report); err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Stored result is not a report")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return nil, false
	}
	return &report, true
}

func (h *SessionHandler) writeLookupError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		WriteError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, registry.ErrNotReady):
		WriteError(w, http.StatusNotFound, "not_ready")
	default:
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Session lookup failed")
		WriteError(w, http.StatusInternalServerError, "internal_error")
	}
}
