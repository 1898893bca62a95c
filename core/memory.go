package core

import (
	"context"
	"time"
)

// MemoryEntry is a durable, topic-tagged fact extracted from past
// conversation. Entries are immutable once written; superseding facts are
// simply newer entries.
type MemoryEntry struct {
	ID      string    `json:"id"`
	OwnerID string    `json:"owner_id"`
	Content string    `json:"content"`
	Topics  []string  `json:"topics"`
	Updated time.Time `json:"updated"`
}

// MemoryStore persists and retrieves topic-tagged memory entries.
//
// Search must filter at the store/query boundary; it never loads an owner's
// full memory set into the caller's working context. An entry matches when
// its topic set intersects the query topics (any overlap). Results are
// ordered by Updated descending and truncated to limit. An empty topics
// query falls back to the most recent limit entries rather than all.
type MemoryStore interface {
	Append(ctx context.Context, ownerID, content string, topics []string) (*MemoryEntry, error)
	Search(ctx context.Context, ownerID string, topics []string, limit int) ([]MemoryEntry, error)
}

// MemoryExtractor is the external collaborator that distills a completed
// turn into a lasting fact plus broad topic tags. The extraction itself is
// out of scope here; implementations typically wrap a classifier model.
type MemoryExtractor interface {
	Extract(ctx context.Context, turn Turn) (content string, topics []string, err error)
}
