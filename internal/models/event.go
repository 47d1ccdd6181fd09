package models

import (
	"encoding/json"
	"time"
)

// Event types, in lifecycle order. "final" is the only event that carries a
// report; "error" carries an ErrorData payload.
const (
	EventQueued      = "queued"
	EventStarted     = "started"
	EventOtpRequired = "otp_required"
	EventFinal       = "final"
	EventError       = "error"
)

// Error reasons. Workers put one of these in ErrorData.Reason; the registry
// adopts the reason verbatim as the session status.
const (
	ErrorDecryptFailed   = "decrypt_failed"
	ErrorUnknownProvider = "unknown_provider"
	ErrorWorkerFailed    = "worker_failed"
	ErrorWorkerTimeout   = "worker_timeout"
)

// Event is one entry in a session's append-only log. Seq starts at 1 and is
// assigned by the registry; Data is stored and replayed verbatim.
type Event struct {
	Seq  int             `json:"seq"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	TS   time.Time       `json:"ts"`
}

// ErrorData is the payload of an error event. Message is human-oriented and
// must never contain credential material.
type ErrorData struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}
