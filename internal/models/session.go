// Package models holds the shared domain types: sessions and their event
// logs, credential payloads, queue jobs, and the normalized report schema.
package models

import "time"

// SessionStatus is the lifecycle position of a session. Beyond the named
// constants, a failed session carries its error reason verbatim as the
// status ("decrypt_failed", "worker_failed", ...), so error kinds are
// distinguishable from the status field alone.
type SessionStatus string

const (
	StatusCreated     SessionStatus = "created"
	StatusQueued      SessionStatus = "queued"
	StatusStarted     SessionStatus = "started"
	StatusOtpRequired SessionStatus = "otp_required"
	StatusCompleted   SessionStatus = "completed"
)

// IsErrorKind reports whether the status is an error reason rather than one
// of the named lifecycle positions.
func (s SessionStatus) IsErrorKind() bool {
	switch s {
	case StatusCreated, StatusQueued, StatusStarted, StatusOtpRequired, StatusCompleted:
		return false
	}
	return s != ""
}

// Terminal reports whether the session can accept no further work. Only
// completion is terminal; failed sessions may be retried by a new
// submission, and otp_required resumes once the user answers.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted
}

// Session is one credential-pull attempt: created by the backend, handed to
// the user's widget, driven to completion or failure by the worker.
type Session struct {
	ID           string        `json:"session_id" badgerhold:"key"`
	UserID       string        `json:"user_id"`
	ProviderHint string        `json:"provider_hint,omitempty"`
	Status       SessionStatus `json:"status"`
	EventCount   int           `json:"event_count"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}
