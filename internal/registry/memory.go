package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ternarybob/credbridge/internal/models"
)

// MemoryStore is the in-memory Store used by tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	events   map[string][]*models.Event
	results  map[string]json.RawMessage
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		events:   make(map[string][]*models.Event),
		results:  make(map[string]json.RawMessage),
	}
}

func (s *MemoryStore) PutSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		copied := *session
		sessions = append(sessions, &copied)
	}
	return sessions, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, sessionID string, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	copied := *event
	s.events[sessionID] = append(s.events[sessionID], &copied)
	return nil
}

func (s *MemoryStore) Events(_ context.Context, sessionID string) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.events[sessionID]
	events := make([]*models.Event, 0, len(history))
	for _, event := range history {
		copied := *event
		events = append(events, &copied)
	}
	return events, nil
}

func (s *MemoryStore) PutResult(_ context.Context, sessionID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(json.RawMessage, len(result))
	copy(copied, result)
	s.results[sessionID] = copied
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, sessionID string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[sessionID]
	if !ok {
		return nil, ErrNotReady
	}
	return result, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
