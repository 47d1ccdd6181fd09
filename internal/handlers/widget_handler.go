package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/crypto"
	"github.com/ternarybob/credbridge/internal/models"
	"github.com/ternarybob/credbridge/internal/queue"
	"github.com/ternarybob/credbridge/internal/registry"
)

// WidgetHandler serves the public credential-submission endpoint. The
// session id acts as a bearer token: possession of it is the only
// authentication on this path.
type WidgetHandler struct {
	registry *registry.Registry
	cipher   *crypto.Cipher
	queue    *queue.Manager
	config   *common.Config
	validate *validator.Validate
	logger   arbor.ILogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewWidgetHandler creates the submission handler.
func NewWidgetHandler(reg *registry.Registry, cipher *crypto.Cipher, q *queue.Manager, config *common.Config, logger arbor.ILogger) *WidgetHandler {
	return &WidgetHandler{
		registry: reg,
		cipher:   cipher,
		queue:    q,
		config:   config,
		validate: validator.New(),
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// StartHandler handles POST /widget/{id}/start. The response acknowledges
// acceptance only; the scrape itself runs asynchronously and progress flows
// through the event stream. Credentials are encrypted before anything else
// touches them and appear in no log line.
func (h *WidgetHandler) StartHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	origin := requesterHost(r)
	if !h.allow(origin) {
		WriteError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	session, err := h.registry.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Session lookup failed")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if session.Status.Terminal() {
		WriteError(w, http.StatusConflict, "completed")
		return
	}

	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	defer creds.Scrub()

	if err := h.validate.Struct(&creds); err != nil {
		WriteError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	token, err := h.cipher.Encrypt(&creds)
	if err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to encrypt credentials")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	// Mark the session queued before the job becomes receivable, so a
	// worker can never observe it in a pre-submission status.
	if _, err := h.registry.Append(r.Context(), sessionID, models.EventQueued, nil); err != nil {
		if errors.Is(err, registry.ErrIllegalTransition) {
			// A concurrent completion won the race.
			WriteError(w, http.StatusConflict, "completed")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Queued event rejected")
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if err := h.queue.Enqueue(r.Context(), models.Job{
		SessionID:            sessionID,
		EncryptedCredentials: token,
	}); err != nil {
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to enqueue job")
		data, _ := json.Marshal(models.ErrorData{
			Reason:  models.ErrorWorkerFailed,
			Message: "job could not be enqueued",
		})
		if _, appendErr := h.registry.Append(r.Context(), sessionID, models.EventError, data); appendErr != nil {
			h.logger.Warn().Err(appendErr).Str("session_id", sessionID).Msg("Error event rejected")
		}
		WriteError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	// Audit record: session, provider, origin. Never the credentials.
	h.logger.Info().
		Str("session_id", sessionID).
		Str("provider", creds.Provider).
		Str("origin", origin).
		Msg("Credential submission accepted")

	WriteOK(w)
}

// allow applies the per-host submission rate limit.
func (h *WidgetHandler) allow(host string) bool {
	perMin := h.config.Server.SubmitPerMin
	if perMin <= 0 {
		return true
	}
	burst := h.config.Server.SubmitBurst
	if burst < 1 {
		burst = 1
	}

	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Allow()
}

func requesterHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
