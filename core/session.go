package core

import (
	"context"
	"sync"
	"time"
)

// Reserved session state keys. State is an open map so callers can persist
// forward-compatible flags without schema changes; these keys have engine
// meaning.
const (
	// StateKeyDeepMode holds the persisted mode flag (bool). Set on one turn
	// it survives later turns that send no fields, via merge-update.
	StateKeyDeepMode = "deep_mode"
	// StateKeyUserDirectives holds the owner's custom directive list.
	StateKeyUserDirectives = "user_directives"
)

// Turn is one entry of a session's append-only conversation history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a durable, owner-scoped conversation record tracking persisted
// key/value state plus an ordered turn history. It is safe for concurrent
// access; store implementations return clones so callers never share one
// instance across requests.
//
// Contract:
//   - State mutations update the Updated timestamp
//   - Turns returns a defensive copy to avoid external mutation
//   - Clone performs deep copies of maps/slices for safe divergence
type Session struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"owner_id"`
	Name    string         `json:"name,omitempty"`
	State   map[string]any `json:"state"`
	History []Turn         `json:"history"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`
	mu      sync.RWMutex
}

// NewSession creates a new session owned by ownerID.
func NewSession(id, ownerID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:      id,
		OwnerID: ownerID,
		State:   map[string]any{},
		History: []Turn{},
		Created: now,
		Updated: now,
	}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// DeepMode reports the persisted mode flag. Absent means quick mode.
func (s *Session) DeepMode() bool {
	v, ok := s.GetState(StateKeyDeepMode)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MergeState merges the provided key/value pairs into State. Fields present
// overwrite; fields absent are retained.
func (s *Session) MergeState(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.State[k] = v
	}
	s.Updated = time.Now().UTC()
}

// AddTurn appends a turn to the history updating the Updated timestamp.
func (s *Session) AddTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, t)
	s.Updated = time.Now().UTC()
}

// Turns returns a defensive copy of the full turn history.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := make([]Turn, len(s.History))
	copy(turns, s.History)
	return turns
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:      s.ID,
		OwnerID: s.OwnerID,
		Name:    s.Name,
		State:   make(map[string]any, len(s.State)),
		History: make([]Turn, len(s.History)),
		Created: s.Created,
		Updated: s.Updated,
	}
	for k, v := range s.State {
		clone.State[k] = v
	}
	copy(clone.History, s.History)
	return clone
}

// SessionStore persists sessions, their evolving state and turn history.
//
// Concurrency contract: writes to different sessions never interfere
// (partition key = session id); concurrent writes to the same session are
// serialized by the backing store with last-write-wins ordering. MergeState
// applies read-before-write semantics at the store boundary, never in
// application memory.
type SessionStore interface {
	// Create returns the existing session when id is already present
	// (idempotent, never overwrites) or creates a new one owned by ownerID.
	Create(ctx context.Context, id, ownerID string) (*Session, error)
	// Get returns a clone of the session, or ErrSessionNotFound when it does
	// not exist or is not owned by ownerID.
	Get(ctx context.Context, id, ownerID string) (*Session, error)
	// AppendTurn appends one turn to the session history.
	AppendTurn(ctx context.Context, id string, t Turn) error
	// MergeState merges delta into persisted state: present keys overwrite,
	// absent keys are retained from the previously persisted value.
	MergeState(ctx context.Context, id string, delta map[string]any) error
	// SetNameIfUnset conditionally persists a session name. It reports false
	// without side effects when a name is already set.
	SetNameIfUnset(ctx context.Context, id, name string) (bool, error)
}
