package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/directive"
	"github.com/mkragh/ensemble/enrich"
	"github.com/mkragh/ensemble/internal/util"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/memory"
	"github.com/mkragh/ensemble/session"
)

// deepModeOffer is appended to a quick-mode answer when the coordinator
// judged the query too complex for direct handling. Switching is always an
// explicit user decision.
const deepModeOffer = "This question would benefit from deep research mode. " +
	"Say so if you would like me to re-run it there; deep runs take longer."

// Request is one inbound submission.
type Request struct {
	OwnerID   string
	SessionID string
	Message   string
	// DeepMode overrides and persists the session's mode flag when set.
	// When nil the persisted flag decides.
	DeepMode *bool
	// AttachmentsRef optionally references externally ingested content.
	// Ingestion happens outside this engine; the reference is passed through
	// to the conversation verbatim.
	AttachmentsRef string
}

// Response is the synchronous result of one completed run.
type Response struct {
	RunID     string
	SessionID string
	Output    string
	Mode      core.Mode
	// SuggestDeep reports that the answer carries an explicit offer to
	// re-run in deep mode.
	SuggestDeep bool
	// Partial reports a deep-mode answer synthesized from an incomplete
	// pipeline.
	Partial bool
	Trace   []core.StageRecord
}

// SessionState is the caller-restorable state of one session.
type SessionState struct {
	SessionID string
	Name      string
	DeepMode  bool
	Extra     map[string]any
}

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	SessionStore core.SessionStore
	MemoryStore  core.MemoryStore
	Composer     *directive.Composer
	// Scheduler runs post-response enrichment. Nil disables enrichment.
	Scheduler *enrich.Scheduler
	// NameGenerator powers conversation auto-naming. Nil disables naming.
	NameGenerator enrich.NameGenerator
	// MemoryExtractor distills completed turns into lasting facts. Nil
	// disables extraction.
	MemoryExtractor core.MemoryExtractor
	// MaxModelCalls limits inference calls per run.
	MaxModelCalls int
	// EventBufferSize sets channel buffering for emitted events.
	EventBufferSize int
	Logger          logging.Logger
}

// Runner coordinates request execution: builds the request scope, streams
// events, persists turns and schedules enrichment.
type Runner struct {
	root      core.Role
	sessions  core.SessionStore
	memories  core.MemoryStore
	composer  *directive.Composer
	scheduler *enrich.Scheduler
	namer     enrich.NameGenerator
	extractor core.MemoryExtractor

	maxModelCalls   int
	eventBufferSize int
	logger          logging.Logger

	mu         sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// New constructs a Runner around the root coordinator role.
func New(root core.Role, optFns ...func(o *Options)) *Runner {
	opts := Options{
		SessionStore:    session.NewInMemoryStore(),
		MemoryStore:     memory.NewInMemoryStore(),
		Composer:        directive.NewComposer(),
		MaxModelCalls:   25,
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Runner{
		root:            root,
		sessions:        opts.SessionStore,
		memories:        opts.MemoryStore,
		composer:        opts.Composer,
		scheduler:       opts.Scheduler,
		namer:           opts.NameGenerator,
		extractor:       opts.MemoryExtractor,
		maxModelCalls:   opts.MaxModelCalls,
		eventBufferSize: opts.EventBufferSize,
		logger:          opts.Logger,
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// Submit starts one asynchronous run. Validation failures surface
// immediately with no side effects; after that the caller always receives a
// terminal event on the returned channel (completed or error). The terminal
// completed event carries the resolved session id.
func (r *Runner) Submit(ctx context.Context, req Request) (string, <-chan core.Event, error) {
	scope, err := r.buildScope(ctx, req)
	if err != nil {
		return "", nil, err
	}

	events := make(chan core.Event, r.eventBufferSize)
	emit := make(chan core.Event, r.eventBufferSize)

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[scope.runID] = cancel
	r.mu.Unlock()

	rc := core.NewRunContext(
		runCtx,
		scope.ownerID,
		scope.sessionID,
		scope.runID,
		core.RoleInfo{Name: r.root.Name(), Kind: "coordinator"},
		req.Message,
		scope.cfg,
		r.maxModelCalls,
		emit,
		scope.sess,
		r.sessions,
		r.memories,
		r.logger,
	)
	rc.Trace = core.NewDelegationTrace()

	resultCh := make(chan runOutcome, 1)
	go func() {
		defer close(emit)
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, scope.runID)
			r.mu.Unlock()
		}()
		res, err := r.root.Execute(rc, core.Task{Input: scope.input})
		resultCh <- runOutcome{result: res, err: err}
	}()

	go r.pump(ctx, scope, emit, events, resultCh)

	return scope.runID, events, nil
}

// SubmitSync runs a request to completion and returns the final response.
func (r *Runner) SubmitSync(ctx context.Context, req Request) (*Response, error) {
	scope, err := r.buildScope(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.activeRuns[scope.runID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.activeRuns, scope.runID)
		r.mu.Unlock()
	}()

	rc := core.NewRunContext(
		runCtx,
		scope.ownerID,
		scope.sessionID,
		scope.runID,
		core.RoleInfo{Name: r.root.Name(), Kind: "coordinator"},
		req.Message,
		scope.cfg,
		r.maxModelCalls,
		nil,
		scope.sess,
		r.sessions,
		r.memories,
		r.logger,
	)
	rc.Trace = core.NewDelegationTrace()

	res, err := r.root.Execute(rc, core.Task{Input: scope.input})
	if err != nil {
		return nil, fmt.Errorf("run %s failed: %w", scope.runID, err)
	}

	output := r.finishRun(context.WithoutCancel(ctx), scope, res)
	return &Response{
		RunID:       scope.runID,
		SessionID:   scope.sessionID,
		Output:      output,
		Mode:        scope.cfg.Mode,
		SuggestDeep: res.SuggestDeep,
		Partial:     res.Partial,
		Trace:       rc.Trace.Stages(),
	}, nil
}

// Cancel aborts a running run by id.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	return nil
}

// SessionState returns the restorable state of a session for UI recovery.
// Foreign or missing sessions yield core.ErrSessionNotFound.
func (r *Runner) SessionState(ctx context.Context, sessionID, ownerID string) (*SessionState, error) {
	sess, err := r.sessions.Get(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	extra := make(map[string]any)
	for k, v := range sess.State {
		if k == core.StateKeyDeepMode {
			continue
		}
		extra[k] = v
	}
	return &SessionState{
		SessionID: sess.ID,
		Name:      sess.Name,
		DeepMode:  sess.DeepMode(),
		Extra:     extra,
	}, nil
}

// runScope is the per-request state assembled before execution starts.
type runScope struct {
	ownerID   string
	sessionID string
	runID     string
	input     string
	sess      *core.Session
	cfg       *core.ExecutionConfig
}

type runOutcome struct {
	result core.Result
	err    error
}

// buildScope validates the request, resolves the session idempotently,
// resolves and persists the execution mode, composes the request config and
// appends the user turn. Everything before the turn append is free of side
// effects on validation failure.
func (r *Runner) buildScope(ctx context.Context, req Request) (*runScope, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, core.NewValidationError("owner_id", "owner id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, core.NewValidationError("message", "message must not be empty")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = util.NewID()
	}
	sess, err := r.sessions.Create(ctx, sessionID, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	// The request flag overrides and persists; absence falls back on the
	// flag persisted by an earlier turn.
	deep := sess.DeepMode()
	if req.DeepMode != nil {
		deep = *req.DeepMode
		if err := r.sessions.MergeState(ctx, sessionID, map[string]any{core.StateKeyDeepMode: deep}); err != nil {
			return nil, fmt.Errorf("persist mode flag: %w", err)
		}
		sess.MergeState(map[string]any{core.StateKeyDeepMode: deep})
	}
	mode := core.QuickMode
	if deep {
		mode = core.DeepMode
	}

	cfg, err := r.composer.Compose(mode, userDirectives(sess))
	if err != nil {
		var collision *core.ConfigCollisionError
		if !errors.As(err, &collision) {
			return nil, err
		}
		// Collisions degrade to quick-mode direct answering without the
		// offending directives rather than failing the request.
		r.logger.Warn("directive collision, degrading to quick mode session=%s err=%v", sessionID, collision)
		cfg, err = r.composer.Compose(core.QuickMode, nil)
		if err != nil {
			return nil, err
		}
	}

	input := req.Message
	if req.AttachmentsRef != "" {
		input = fmt.Sprintf("%s\n\n[attachments: %s]", req.Message, req.AttachmentsRef)
	}

	if err := r.sessions.AppendTurn(ctx, sessionID, core.Turn{
		Role:      "user",
		Content:   input,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("append user turn: %w", err)
	}
	sess.AddTurn(core.Turn{Role: "user", Content: input, Timestamp: time.Now().UTC()})

	return &runScope{
		ownerID:   req.OwnerID,
		sessionID: sessionID,
		runID:     util.NewID(),
		input:     input,
		sess:      sess,
		cfg:       cfg,
	}, nil
}

// pump forwards role events to the caller and appends the terminal event
// once the run outcome is known. Every send honors the caller's context so
// a consumer that cancels and stops draining cannot strand the goroutine;
// as long as the context is live the channel terminates with a completed or
// error event.
func (r *Runner) pump(ctx context.Context, scope *runScope, emit <-chan core.Event, events chan<- core.Event, resultCh <-chan runOutcome) {
	defer close(events)

	for ev := range emit {
		select {
		case <-ctx.Done():
			return
		case events <- ev:
		}
	}

	outcome := <-resultCh
	if outcome.err != nil {
		r.logger.Error("run failed run=%s session=%s err=%v", scope.runID, scope.sessionID, outcome.err)
		select {
		case <-ctx.Done():
		case events <- core.NewErrorEvent(scope.runID, scope.sessionID, r.root.Name(), outcome.err):
		}
		return
	}

	// Persistence and enrichment outlive the caller's request context.
	output := r.finishRun(context.WithoutCancel(ctx), scope, outcome.result)

	terminal := core.NewCompletedEvent(scope.runID, scope.sessionID, r.root.Name(), output)
	terminal.Partial = outcome.result.Partial
	select {
	case <-ctx.Done():
	case events <- terminal:
	}
}

// finishRun persists the assistant turn and schedules enrichment, returning
// the final output text (with the deep-mode offer appended when suggested).
func (r *Runner) finishRun(ctx context.Context, scope *runScope, res core.Result) string {
	output := res.Output
	if res.SuggestDeep {
		if output != "" {
			output += "\n\n"
		}
		output += deepModeOffer
	}

	turn := core.Turn{Role: "assistant", Content: output, Timestamp: time.Now().UTC()}
	if err := r.sessions.AppendTurn(ctx, scope.sessionID, turn); err != nil {
		r.logger.Error("append assistant turn failed session=%s err=%v", scope.sessionID, err)
	}

	r.scheduleEnrichment(scope, turn)
	return output
}

// scheduleEnrichment fires the post-response background tasks. Absent
// collaborators simply disable the corresponding task.
func (r *Runner) scheduleEnrichment(scope *runScope, assistantTurn core.Turn) {
	if r.scheduler == nil {
		return
	}
	if r.namer != nil {
		r.scheduler.Schedule(enrich.NewNamingTask(scope.sessionID, scope.ownerID, r.sessions, r.namer, r.logger))
	}
	if r.extractor != nil {
		r.scheduler.Schedule(enrich.NewMemoryTask(scope.ownerID, assistantTurn, r.memories, r.extractor, r.logger))
	}
}

// userDirectives reads the owner's custom directive list persisted in
// session state.
func userDirectives(sess *core.Session) []string {
	v, ok := sess.GetState(core.StateKeyUserDirectives)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
