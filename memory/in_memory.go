package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/internal/util"
)

// InMemoryStore is a process-local MemoryStore. Entries are partitioned by
// owner and matched by topic-set overlap; results come back newest first.
// Suitable for tests and demo servers. Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]core.MemoryEntry
}

// NewInMemoryStore creates an empty in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]core.MemoryEntry)}
}

// Append stores one immutable entry for ownerID with normalized topics.
func (m *InMemoryStore) Append(_ context.Context, ownerID, content string, topics []string) (*core.MemoryEntry, error) {
	entry := core.MemoryEntry{
		ID:      util.NewID(),
		OwnerID: ownerID,
		Content: content,
		Topics:  NormalizeTopics(topics),
		Updated: time.Now().UTC(),
	}
	m.mu.Lock()
	m.entries[ownerID] = append(m.entries[ownerID], entry)
	m.mu.Unlock()
	return &entry, nil
}

// Search returns ownerID's entries whose topic set overlaps topics, newest
// first, truncated to limit. An empty topics query falls back to the most
// recent limit entries. Non-positive limits default to 10, matching the
// sqlite backend.
func (m *InMemoryStore) Search(_ context.Context, ownerID string, topics []string, limit int) ([]core.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query := NormalizeTopics(topics)

	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]core.MemoryEntry, 0, limit)
	for _, entry := range m.entries[ownerID] {
		if len(query) == 0 || topicsOverlap(entry.Topics, query) {
			matches = append(matches, entry)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Updated.After(matches[j].Updated)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func topicsOverlap(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
