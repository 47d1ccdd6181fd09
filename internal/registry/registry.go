package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credbridge/internal/common"
	"github.com/ternarybob/credbridge/internal/models"
)

// subscriberBuffer is the live delivery headroom each subscriber gets beyond
// its replayed history. A subscriber that falls this far behind is dropped
// rather than allowed to block appends or starve other subscribers.
const subscriberBuffer = 256

// Registry coordinates session state, the append-only event logs, and live
// subscriber fan-out. A single mutex serializes appends against subscription
// attach/detach, which is what makes replay-then-live gap-free: history is
// read and the subscriber registered under the same critical section no
// append can enter.
type Registry struct {
	store  Store
	logger arbor.ILogger

	mu          sync.Mutex
	subscribers map[string][]*Subscription
}

// New creates a registry over the given store.
func New(store Store, logger arbor.ILogger) *Registry {
	return &Registry{
		store:       store,
		logger:      logger,
		subscribers: make(map[string][]*Subscription),
	}
}

// Subscription is a live handle onto one session's event stream. Events()
// first yields the full replayed history in order, then every subsequent
// append until Close or until the subscriber falls too far behind.
type Subscription struct {
	sessionID string
	registry  *Registry
	ch        chan *models.Event
	closeOnce sync.Once
}

// Events returns the delivery channel. It is closed on Close and on slow-
// consumer eviction.
func (s *Subscription) Events() <-chan *models.Event {
	return s.ch
}

// Close detaches the subscription and releases its channel.
func (s *Subscription) Close() {
	s.registry.unsubscribe(s)
}

// CreateSession creates a new session record with an unguessable id. No event
// is appended at creation; the log stays empty until intake enqueues work.
func (r *Registry) CreateSession(ctx context.Context, userID, providerHint string) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:           common.NewSessionID(),
		UserID:       userID,
		ProviderHint: providerHint,
		Status:       models.StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.PutSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Info().
		Str("session_id", session.ID).
		Str("provider_hint", providerHint).
		Msg("Session created")

	return session, nil
}

// Append records an event for a session, assigns its registry-local sequence
// and timestamp, applies the induced status transition, stores the result on
// a final event, and fans the event out to live subscribers. Returns
// ErrNotFound for unknown sessions and ErrIllegalTransition for events the
// state machine does not admit.
func (r *Registry) Append(ctx context.Context, sessionID, eventType string, data json.RawMessage) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !allowedTransition(session.Status, eventType) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, session.Status, eventType)
	}

	now := time.Now().UTC()
	event := &models.Event{
		Seq:  session.EventCount + 1,
		Type: eventType,
		Data: data,
		TS:   now,
	}
	if err := r.store.AppendEvent(ctx, sessionID, event); err != nil {
		return nil, err
	}

	session.EventCount = event.Seq
	session.Status = statusFor(eventType, data)
	session.UpdatedAt = now
	if eventType == models.EventFinal {
		if err := r.store.PutResult(ctx, sessionID, data); err != nil {
			return nil, err
		}
		session.CompletedAt = &now
	}
	if err := r.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	r.broadcastLocked(sessionID, event)

	r.logger.Debug().
		Str("session_id", sessionID).
		Str("type", eventType).
		Int("seq", event.Seq).
		Str("status", string(session.Status)).
		Msg("Event appended")

	return event, nil
}

// GetSession returns the session record for status polling.
func (r *Registry) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	return r.store.GetSession(ctx, sessionID)
}

// GetResult returns the stored normalized report, or ErrNotReady when no
// final event has landed. A failed session is still "not ready" here: failure
// is only visible through the status field and the event stream.
func (r *Registry) GetResult(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if _, err := r.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.store.GetResult(ctx, sessionID)
}

// ListSessions exposes the session table to the janitor sweep.
func (r *Registry) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return r.store.ListSessions(ctx)
}

// Subscribe attaches a live handle to a session's event stream. The full
// existing history is replayed into the handle before any new append can be
// delivered. Unknown session ids are tolerated to avoid racing session
// creation; such a handle simply receives nothing until events arrive.
func (r *Registry) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, err := r.store.Events(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The channel is sized to take the entire replay plus subscriberBuffer
	// of live headroom, so no part of the history is ever dropped and the
	// slow-consumer bound still applies from the moment of attach.
	sub := &Subscription{
		sessionID: sessionID,
		registry:  r,
		ch:        make(chan *models.Event, len(history)+subscriberBuffer),
	}
	for _, event := range history {
		sub.ch <- event
	}
	r.subscribers[sessionID] = append(r.subscribers[sessionID], sub)

	r.logger.Debug().
		Str("session_id", sessionID).
		Int("replayed", len(history)).
		Int("subscribers", len(r.subscribers[sessionID])).
		Msg("Subscriber attached")

	return sub, nil
}

// broadcastLocked delivers an event to every live subscriber of a session.
// Delivery is best-effort per subscriber: a full (stuck) subscriber is
// evicted so it cannot affect the others or the append itself.
func (r *Registry) broadcastLocked(sessionID string, event *models.Event) {
	subs := r.subscribers[sessionID]
	if len(subs) == 0 {
		return
	}

	kept := subs[:0]
	for _, sub := range subs {
		select {
		case sub.ch <- event:
			kept = append(kept, sub)
		default:
			sub.closeOnce.Do(func() { close(sub.ch) })
			r.logger.Warn().
				Str("session_id", sessionID).
				Msg("Dropping slow event subscriber")
		}
	}
	if len(kept) == 0 {
		delete(r.subscribers, sessionID)
	} else {
		r.subscribers[sessionID] = kept
	}
}

func (r *Registry) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscribers[sub.sessionID]
	for i, candidate := range subs {
		if candidate == sub {
			r.subscribers[sub.sessionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subscribers[sub.sessionID]) == 0 {
		delete(r.subscribers, sub.sessionID)
	}
	sub.closeOnce.Do(func() { close(sub.ch) })
}
