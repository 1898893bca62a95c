package core

import (
	"sync"
	"time"
)

// StageStatus describes the outcome of one delegation pipeline stage.
type StageStatus string

const (
	// StageOK means the stage completed and its output fed the next stage.
	StageOK StageStatus = "ok"
	// StageFailed means the worker returned an error.
	StageFailed StageStatus = "failed"
	// StageTimeout means the worker exceeded its deadline.
	StageTimeout StageStatus = "timeout"
	// StageSkipped means an earlier stage failed so this one never started.
	StageSkipped StageStatus = "skipped"
)

// StageRecord captures one stage of a delegation pipeline for observability.
// Branch carries the recording coordinator's branch label; nested teams
// share one trace and the branch tells their records apart.
type StageRecord struct {
	Stage   int           `json:"stage"`
	Worker  string        `json:"worker"`
	Branch  string        `json:"branch,omitempty"`
	Input   string        `json:"input"`
	Output  string        `json:"output,omitempty"`
	Status  StageStatus   `json:"status"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// DelegationTrace is an ordered, append-only stage-by-stage record of one
// run. It is additive observability: runs are correct with a nil trace.
// Safe for concurrent use.
type DelegationTrace struct {
	mu     sync.Mutex
	stages []StageRecord
}

// NewDelegationTrace constructs an empty trace.
func NewDelegationTrace() *DelegationTrace { return &DelegationTrace{} }

// Add appends one stage record in order.
func (t *DelegationTrace) Add(rec StageRecord) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages = append(t.stages, rec)
}

// Stages returns a defensive copy of the recorded stages.
func (t *DelegationTrace) Stages() []StageRecord {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StageRecord, len(t.stages))
	copy(out, t.stages)
	return out
}

// Len returns the number of recorded stages.
func (t *DelegationTrace) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.stages)
}
