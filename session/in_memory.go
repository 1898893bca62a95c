package session

import (
	"context"
	"sync"

	"github.com/mkragh/ensemble/core"
)

// InMemoryStore is a volatile SessionStore keeping sessions in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Every returned session is a clone so callers never
// share an instance with the store or with each other.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create returns the existing session when id is present, otherwise creates
// a new one owned by ownerID. Idempotent: it never overwrites.
func (s *InMemoryStore) Create(_ context.Context, id, ownerID string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		if sess.OwnerID != ownerID {
			return nil, core.ErrSessionNotFound
		}
		return sess.Clone(), nil
	}
	sess := core.NewSession(id, ownerID)
	s.sessions[id] = sess
	return sess.Clone(), nil
}

// Get returns a clone of the session owned by ownerID. Absence and foreign
// ownership are both reported as core.ErrSessionNotFound.
func (s *InMemoryStore) Get(_ context.Context, id, ownerID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || sess.OwnerID != ownerID {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// AppendTurn appends one turn to the session history.
func (s *InMemoryStore) AppendTurn(_ context.Context, id string, t core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.AddTurn(t)
	return nil
}

// MergeState merges delta into the persisted state: present keys overwrite,
// absent keys keep their previously persisted values.
func (s *InMemoryStore) MergeState(_ context.Context, id string, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.MergeState(delta)
	return nil
}

// SetNameIfUnset persists name only when the session has no name yet.
func (s *InMemoryStore) SetNameIfUnset(_ context.Context, id, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, core.ErrSessionNotFound
	}
	if sess.Name != "" {
		return false, nil
	}
	sess.Name = name
	return true, nil
}
