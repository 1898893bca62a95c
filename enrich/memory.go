package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/logging"
)

// MemoryTask distills one completed turn into a lasting fact and appends it
// to the owner's memory store. Extraction returning empty content means the
// turn held nothing worth keeping, which is the common case and not an
// error.
type MemoryTask struct {
	ownerID   string
	turn      core.Turn
	memories  core.MemoryStore
	extractor core.MemoryExtractor
	logger    logging.Logger
}

// NewMemoryTask builds a memory extraction task for one turn.
func NewMemoryTask(ownerID string, turn core.Turn, memories core.MemoryStore, extractor core.MemoryExtractor, logger logging.Logger) *MemoryTask {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &MemoryTask{
		ownerID:   ownerID,
		turn:      turn,
		memories:  memories,
		extractor: extractor,
		logger:    logger,
	}
}

// Name implements Task.
func (t *MemoryTask) Name() string { return "memory-extraction" }

// Run implements Task.
func (t *MemoryTask) Run(ctx context.Context) error {
	content, topics, err := t.extractor.Extract(ctx, t.turn)
	if err != nil {
		return fmt.Errorf("extract memory: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}
	entry, err := t.memories.Append(ctx, t.ownerID, content, topics)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	t.logger.Debug("memory extracted owner=%s id=%s topics=%v", t.ownerID, entry.ID, entry.Topics)
	return nil
}
