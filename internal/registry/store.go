// Package registry owns the session table, the append-only per-session event
// logs, the result table, and the live-subscription fan-out. Intake is the
// only writer; the worker reaches it exclusively through the event callback.
package registry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ternarybob/credbridge/internal/models"
)

var (
	// ErrNotFound indicates an unknown session id.
	ErrNotFound = errors.New("session not found")

	// ErrNotReady indicates that no final event has landed for the session.
	ErrNotReady = errors.New("result not ready")

	// ErrIllegalTransition indicates an event that the session's state machine
	// does not admit (e.g. "started" after "completed"). These are programming
	// or protocol errors, not conditions to accept silently.
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Store is the persistence boundary of the registry: session records, event
// logs, and results. Backed in-memory for tests and by Badger in production;
// callers never see the difference. All mutations are append-shaped (status
// assignment, result write) - nothing is destructively edited.
type Store interface {
	PutSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context) ([]*models.Session, error)

	// AppendEvent persists an event. Seq must already be assigned by the
	// caller and be contiguous per session.
	AppendEvent(ctx context.Context, sessionID string, event *models.Event) error
	Events(ctx context.Context, sessionID string) ([]*models.Event, error)

	// PutResult writes the normalized report verbatim, exactly once per
	// session under normal operation; a duplicate final overwrites silently.
	PutResult(ctx context.Context, sessionID string, result json.RawMessage) error
	GetResult(ctx context.Context, sessionID string) (json.RawMessage, error)

	Close() error
}
