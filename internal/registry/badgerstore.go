package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/credbridge/internal/models"
)

// storedEvent is the badgerhold record for one event. The key embeds a
// zero-padded sequence so lexicographic key order matches append order.
type storedEvent struct {
	Key       string `badgerhold:"key"`
	SessionID string `badgerhold:"index"`
	Event     models.Event
}

// storedResult holds one normalized report, keyed by session id.
type storedResult struct {
	SessionID string `badgerhold:"key"`
	Data      []byte
}

// BadgerStore is the durable Store backed by badgerhold.
type BadgerStore struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerStore wraps an open badgerhold store. The caller owns the
// underlying database lifecycle when sharing it with the queue.
func NewBadgerStore(store *badgerhold.Store, logger arbor.ILogger) *BadgerStore {
	return &BadgerStore{store: store, logger: logger}
}

func (s *BadgerStore) PutSession(_ context.Context, session *models.Session) error {
	if err := s.store.Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *BadgerStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := s.store.Get(id, &session); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *BadgerStore) UpdateSession(ctx context.Context, session *models.Session) error {
	if _, err := s.GetSession(ctx, session.ID); err != nil {
		return err
	}
	return s.PutSession(ctx, session)
}

func (s *BadgerStore) ListSessions(_ context.Context) ([]*models.Session, error) {
	var sessions []*models.Session
	if err := s.store.Find(&sessions, nil); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (s *BadgerStore) AppendEvent(ctx context.Context, sessionID string, event *models.Event) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	record := storedEvent{
		Key:       eventKey(sessionID, event.Seq),
		SessionID: sessionID,
		Event:     *event,
	}
	if err := s.store.Insert(record.Key, &record); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *BadgerStore) Events(_ context.Context, sessionID string) ([]*models.Event, error) {
	var records []storedEvent
	query := badgerhold.Where("SessionID").Eq(sessionID).Index("SessionID").SortBy("Event.Seq")
	if err := s.store.Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	events := make([]*models.Event, 0, len(records))
	for i := range records {
		event := records[i].Event
		events = append(events, &event)
	}
	return events, nil
}

func (s *BadgerStore) PutResult(_ context.Context, sessionID string, result json.RawMessage) error {
	record := storedResult{SessionID: sessionID, Data: result}
	if err := s.store.Upsert(sessionID, &record); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (s *BadgerStore) GetResult(_ context.Context, sessionID string) (json.RawMessage, error) {
	var record storedResult
	if err := s.store.Get(sessionID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, ErrNotReady
		}
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return record.Data, nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}

func eventKey(sessionID string, seq int) string {
	return fmt.Sprintf("%s:%08d", sessionID, seq)
}
