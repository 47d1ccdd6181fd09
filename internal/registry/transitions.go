package registry

import (
	"encoding/json"

	"github.com/ternarybob/credbridge/internal/models"
)

// The session lifecycle is an explicit transition table rather than free
// string assignment, so an out-of-order callback (redelivered job, stale
// worker) surfaces as ErrIllegalTransition instead of silently rewinding a
// finished session.
//
//	created -> queued -> started -> { otp_required, completed, <error-kind> }
//
// otp_required and error kinds re-admit "queued": the OTP resolution and
// user retries restart the flow as a fresh job on the same session. A second
// submission before the first job starts supersedes it (queued -> queued).
// Redelivered jobs may legally repeat "started". completed is terminal.
func allowedTransition(from models.SessionStatus, eventType string) bool {
	switch eventType {
	case models.EventQueued:
		return from != models.StatusCompleted
	case models.EventStarted:
		return from == models.StatusQueued || from == models.StatusStarted
	case models.EventOtpRequired, models.EventFinal:
		return from == models.StatusStarted
	case models.EventError:
		return from == models.StatusQueued || from == models.StatusStarted
	}
	return false
}

// statusFor maps an event to the session status it induces. Error events
// adopt the reason string verbatim so a failed session is distinguishable by
// kind ("decrypt_failed", "worker_failed", ...) from the status field alone.
func statusFor(eventType string, data json.RawMessage) models.SessionStatus {
	switch eventType {
	case models.EventFinal:
		return models.StatusCompleted
	case models.EventError:
		var payload models.ErrorData
		if err := json.Unmarshal(data, &payload); err == nil && payload.Reason != "" {
			return models.SessionStatus(payload.Reason)
		}
		return models.SessionStatus(models.EventError)
	}
	return models.SessionStatus(eventType)
}
