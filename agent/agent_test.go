package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/directive"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/memory"
	"github.com/mkragh/ensemble/model"
	"github.com/mkragh/ensemble/registry"
	"github.com/mkragh/ensemble/session"
	"github.com/mkragh/ensemble/tool"
)

// MockRole is a testify-backed core.Role double.
type MockRole struct {
	mock.Mock
	BaseRole
}

func NewMockRole(name string, tags ...string) *MockRole {
	return &MockRole{BaseRole: NewBaseRole(name, tags...)}
}

func (m *MockRole) Execute(rc *core.RunContext, task core.Task) (core.Result, error) {
	args := m.Called(rc, task)
	return args.Get(0).(core.Result), args.Error(1)
}

func newTestRunContext(t *testing.T, mode core.Mode, message string, emit chan<- core.Event) *core.RunContext {
	t.Helper()
	ctx := context.Background()
	sessions := session.NewInMemoryStore()
	sess, err := sessions.Create(ctx, "test-session", "test-owner")
	require.NoError(t, err)

	cfg, err := directive.NewComposer().Compose(mode, nil)
	require.NoError(t, err)

	rc := core.NewRunContext(
		ctx, "test-owner", "test-session", "test-run",
		core.RoleInfo{Name: "coordinator", Kind: "coordinator"},
		message, cfg, 20, emit, sess, sessions,
		memory.NewInMemoryStore(), logging.NoOpLogger{},
	)
	rc.Trace = core.NewDelegationTrace()
	return rc
}

func drain(events chan core.Event) []core.Event {
	close(events)
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestCoordinator_QuickModeDirectAnswer(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.AddResponse("What is the capital of France?", "Paris.")

	reg, err := registry.New()
	require.NoError(t, err)
	coordinator := NewCoordinator("coordinator", llm, reg)

	events := make(chan core.Event, 32)
	rc := newTestRunContext(t, core.QuickMode, "What is the capital of France?", events)

	result, err := coordinator.Execute(rc, core.Task{Input: "What is the capital of France?"})

	require.NoError(t, err)
	assert.Equal(t, "Paris.", result.Output)
	assert.False(t, result.SuggestDeep)
	assert.False(t, result.Partial)
	assert.Equal(t, 0, rc.Trace.Len())
}

func TestCoordinator_QuickModeScreensDeepModeMarker(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.AddResponse("Compare five messaging platforms in depth",
		directive.DeepModeMarker+" Here is a brief overview of the major platforms.")

	reg, err := registry.New()
	require.NoError(t, err)
	coordinator := NewCoordinator("coordinator", llm, reg)

	events := make(chan core.Event, 32)
	rc := newTestRunContext(t, core.QuickMode, "Compare five messaging platforms in depth", events)

	result, err := coordinator.Execute(rc, core.Task{Input: "Compare five messaging platforms in depth"})

	require.NoError(t, err)
	assert.True(t, result.SuggestDeep)
	assert.NotContains(t, result.Output, directive.DeepModeMarker)
	for _, ev := range drain(events) {
		assert.NotContains(t, ev.Text, directive.DeepModeMarker)
	}
}

func TestCoordinator_DeepModeSequentialPipeline(t *testing.T) {
	llm := model.NewMockModel("mock")

	searcher := NewMockRole("searcher", "research")
	analyst := NewMockRole("analyst", "analysis")
	reg, err := registry.FromRoles(searcher, analyst)
	require.NoError(t, err)

	coordinator := NewCoordinator("coordinator", llm, reg)

	events := make(chan core.Event, 32)
	rc := newTestRunContext(t, core.DeepMode, "research question", events)

	searcher.On("Execute", mock.Anything, mock.MatchedBy(func(task core.Task) bool {
		return len(task.Context) == 0
	})).Return(core.Result{Output: "search findings"}, nil)
	// stage 2 must receive stage 1's complete output as context
	analyst.On("Execute", mock.Anything, mock.MatchedBy(func(task core.Task) bool {
		return len(task.Context) == 1 && task.Context[0] == "search findings"
	})).Return(core.Result{Output: "analysis conclusions"}, nil)

	result, err := coordinator.Execute(rc, core.Task{Input: "research question"})

	require.NoError(t, err)
	assert.False(t, result.Partial)
	assert.NotEmpty(t, result.Output)
	searcher.AssertExpectations(t)
	analyst.AssertExpectations(t)

	stages := rc.Trace.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, core.StageOK, stages[0].Status)
	assert.Equal(t, "searcher", stages[0].Worker)
	assert.Equal(t, core.StageOK, stages[1].Status)
	assert.Equal(t, "analyst", stages[1].Worker)

	var started, completed int
	for _, ev := range drain(events) {
		switch ev.Type {
		case core.EventStageStarted:
			started++
		case core.EventStageCompleted:
			completed++
			require.NotNil(t, ev.StageOK)
			assert.True(t, *ev.StageOK)
		}
	}
	assert.Equal(t, 2, started)
	assert.Equal(t, 2, completed)
}

func TestCoordinator_PipelineShortCircuitOnFailure(t *testing.T) {
	llm := model.NewMockModel("mock")

	searcher := NewMockRole("searcher", "research")
	analyst := NewMockRole("analyst", "analysis")
	reg, err := registry.FromRoles(searcher, analyst)
	require.NoError(t, err)

	coordinator := NewCoordinator("coordinator", llm, reg)

	events := make(chan core.Event, 4096)
	rc := newTestRunContext(t, core.DeepMode, "research question", events)

	searcher.On("Execute", mock.Anything, mock.Anything).
		Return(core.Result{}, errors.New("provider unavailable"))

	result, err := coordinator.Execute(rc, core.Task{Input: "research question"})

	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.NotEmpty(t, result.Output)
	analyst.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	stages := rc.Trace.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, core.StageFailed, stages[0].Status)
	assert.Contains(t, stages[0].Error, "provider unavailable")
	assert.Equal(t, core.StageSkipped, stages[1].Status)
}

func TestCoordinator_StageTimeoutIsFailureNotHang(t *testing.T) {
	llm := model.NewMockModel("mock")

	slow := NewMockRole("slow", "research")
	reg, err := registry.FromRoles(slow)
	require.NoError(t, err)

	coordinator := NewCoordinator("coordinator", llm, reg, func(o *CoordinatorOptions) {
		o.Pipeline = []string{"research"}
		o.StageTimeout = 20 * time.Millisecond
	})

	events := make(chan core.Event, 4096)
	rc := newTestRunContext(t, core.DeepMode, "research question", events)

	slow.On("Execute", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(200 * time.Millisecond) }).
		Return(core.Result{Output: "too late"}, nil)

	start := time.Now()
	result, err := coordinator.Execute(rc, core.Task{Input: "research question"})

	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.NotEmpty(t, result.Output)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	stages := rc.Trace.Stages()
	require.Len(t, stages, 1)
	assert.Equal(t, core.StageTimeout, stages[0].Status)
}

func TestCoordinator_NestedCoordinatorAsWorker(t *testing.T) {
	llm := model.NewMockModel("mock")

	inner := NewMockRole("inner-searcher", "research")
	innerReg, err := registry.FromRoles(inner)
	require.NoError(t, err)
	innerCoordinator := NewCoordinator("research-team", llm, innerReg, func(o *CoordinatorOptions) {
		o.Pipeline = []string{"research"}
	})

	// the inner coordinator registers as a worker of the outer one
	outerReg, err := registry.New(registry.Descriptor{
		Name:        innerCoordinator.Name(),
		Description: innerCoordinator.Description(),
		Tags:        []string{"research"},
		Role:        innerCoordinator,
	})
	require.NoError(t, err)
	outer := NewCoordinator("coordinator", llm, outerReg, func(o *CoordinatorOptions) {
		o.Pipeline = []string{"research"}
	})

	events := make(chan core.Event, 4096)
	rc := newTestRunContext(t, core.DeepMode, "layered question", events)

	inner.On("Execute", mock.Anything, mock.Anything).
		Return(core.Result{Output: "inner findings"}, nil)

	result, err := outer.Execute(rc, core.Task{Input: "layered question"})

	require.NoError(t, err)
	assert.NotEmpty(t, result.Output)
	inner.AssertExpectations(t)

	// one shared trace records both levels, told apart by branch label
	stages := rc.Trace.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, "inner-searcher", stages[0].Worker)
	assert.Equal(t, "research-team", stages[0].Branch)
	assert.Equal(t, "research-team", stages[1].Worker)
	assert.Empty(t, stages[1].Branch)
}

func TestModelWorker_ToolCallingLoop(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.AddToolCall("what is 2+2?", model.ToolCall{
		ID:        "call-1",
		Name:      "adder",
		Arguments: `{"a": 2, "b": 2}`,
	})
	llm.AddResponse("what is 2+2?", "The answer is 4.")

	adder := tool.NewFunctionTool("adder", "adds two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(rc *core.RunContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)

	worker := NewModelWorker("calculator", llm, []string{"math"}, func(o *ModelWorkerOptions) {
		o.Tools = []tool.Tool{adder}
	})

	events := make(chan core.Event, 8)
	rc := newTestRunContext(t, core.QuickMode, "what is 2+2?", events)

	result, err := worker.Execute(rc, core.Task{Input: "what is 2+2?"})

	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", result.Output)
}

func TestGenerate_RespectsCallLimiter(t *testing.T) {
	llm := model.NewMockModel("mock")
	llm.AddResponse("hello", "hi")

	events := make(chan core.Event, 8)
	rc := newTestRunContext(t, core.QuickMode, "hello", events)
	// exhaust the limiter
	for rc.Limiter.Remaining() > 0 {
		require.NoError(t, rc.Limiter.Increment())
	}

	_, err := generate(rc, llm, model.Request{
		Messages: []model.Message{{Role: "user", Content: "hello"}},
	}, false)
	assert.Error(t, err)
}
