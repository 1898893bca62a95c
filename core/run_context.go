package core

import (
	"context"
	"fmt"

	"github.com/mkragh/ensemble/logging"
)

// RunContext carries the execution scope for exactly one request. It
// aggregates:
//
//   - The ambient cancellation Context
//   - Identifiers (OwnerID, SessionID, RunID, Role info)
//   - The immutable per-request ExecutionConfig
//   - The event emission channel back to the caller
//   - Backing stores (session, memory) for persistence concerns
//   - A working Session snapshot
//   - The per-run inference call limiter and optional delegation trace
//
// A RunContext is created fresh for every request and is never shared
// between two concurrent requests. Nested coordinators derive child
// contexts; services and the limiter are shared within one run, buffers and
// branch labels are not.
type RunContext struct {
	Context   context.Context
	OwnerID   string
	SessionID string
	RunID     string
	Role      RoleInfo
	Message   string
	Config    *ExecutionConfig
	Emit      chan<- Event
	Sessions  SessionStore
	Memories  MemoryStore
	Session   *Session
	Limiter   *CallLimiter
	Trace     *DelegationTrace
	Branch    string

	*loggerAdapter
}

// NewRunContext constructs a RunContext for one request.
func NewRunContext(
	ctx context.Context,
	ownerID, sessionID, runID string,
	role RoleInfo,
	message string,
	cfg *ExecutionConfig,
	maxCalls int,
	emit chan<- Event,
	sess *Session,
	sessions SessionStore,
	memories MemoryStore,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		OwnerID:       ownerID,
		SessionID:     sessionID,
		RunID:         runID,
		Role:          role,
		Message:       message,
		Config:        cfg,
		Emit:          emit,
		Session:       sess,
		Sessions:      sessions,
		Memories:      memories,
		Limiter:       NewCallLimiter(maxCalls),
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// EmitEvent sends ev to the caller, honoring cancellation. A nil Emit
// channel drops the event; emission is observability, not correctness.
func (rc *RunContext) EmitEvent(ev Event) error {
	if rc.Emit == nil {
		return nil
	}
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
		return nil
	}
}

// EmitChunk streams an incremental content fragment to the caller.
func (rc *RunContext) EmitChunk(text string) error {
	return rc.EmitEvent(NewChunkEvent(rc.RunID, rc.SessionID, rc.Role.Name, text))
}

// EmitStageStarted marks a delegation stage beginning.
func (rc *RunContext) EmitStageStarted(stage int, worker string) error {
	return rc.EmitEvent(NewStageStartedEvent(rc.RunID, rc.SessionID, rc.Role.Name, stage, worker))
}

// EmitStageCompleted marks a delegation stage finishing.
func (rc *RunContext) EmitStageCompleted(stage int, worker string, ok bool) error {
	return rc.EmitEvent(NewStageCompletedEvent(rc.RunID, rc.SessionID, rc.Role.Name, stage, worker, ok))
}

// SearchMemory queries the MemoryStore with topic filtering applied at the
// store boundary.
func (rc *RunContext) SearchMemory(topics []string, limit int) ([]MemoryEntry, error) {
	if rc.Memories == nil {
		return []MemoryEntry{}, nil
	}
	return rc.Memories.Search(rc.Context, rc.OwnerID, topics, limit)
}

// RefreshSession reloads the session snapshot from the SessionStore.
func (rc *RunContext) RefreshSession() error {
	if rc.Sessions == nil {
		return fmt.Errorf("session store not configured")
	}
	s, err := rc.Sessions.Get(rc.Context, rc.SessionID, rc.OwnerID)
	if err != nil {
		return err
	}
	rc.Session = s
	return nil
}

// SessionHistory returns the turn history of the working session snapshot.
func (rc *RunContext) SessionHistory() []Turn {
	if rc.Session == nil {
		return []Turn{}
	}
	return rc.Session.Turns()
}

// RoleName returns the logical role name for this invocation.
func (rc *RunContext) RoleName() string { return rc.Role.Name }

// NewChildContext derives a context for a nested execution path (a worker
// invoked by a coordinator, or a nested coordinator's own workers). The
// child shares services, config, trace and limiter with the parent but gets
// its own role identity and branch label.
func (rc *RunContext) NewChildContext(role RoleInfo, branch string) *RunContext {
	finalBranch := rc.Branch
	if branch != "" {
		finalBranch = branch
	}
	return &RunContext{
		Context:       rc.Context,
		OwnerID:       rc.OwnerID,
		SessionID:     rc.SessionID,
		RunID:         rc.RunID,
		Role:          role,
		Message:       rc.Message,
		Config:        rc.Config,
		Emit:          rc.Emit,
		Sessions:      rc.Sessions,
		Memories:      rc.Memories,
		Session:       rc.Session,
		Limiter:       rc.Limiter,
		Trace:         rc.Trace,
		Branch:        finalBranch,
		loggerAdapter: rc.loggerAdapter,
	}
}
