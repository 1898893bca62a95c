package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/model"
	"github.com/mkragh/ensemble/tool"
)

// ModelWorkerOptions configures a ModelWorker instance.
type ModelWorkerOptions struct {
	Description   string
	Instruction   string
	Tools         []tool.Tool
	ToolTimeout   time.Duration
	MaxToolRounds int
	MaxHistory    int
}

// ModelWorker is a leaf role: it answers one sub-task with a single model
// conversation, optionally calling its registered tools. It holds no
// per-request state; everything request-scoped arrives via the RunContext
// and Task.
type ModelWorker struct {
	BaseRole
	llm           model.Model
	instruction   string
	tools         map[string]tool.Tool
	toolOrder     []string
	toolTimeout   time.Duration
	maxToolRounds int
	maxHistory    int
}

// NewModelWorker creates a worker with sensible defaults: a 15 second tool
// timeout, at most 5 tool-calling rounds and a 20-turn history window.
func NewModelWorker(name string, llm model.Model, tags []string, optFns ...func(o *ModelWorkerOptions)) *ModelWorker {
	opts := ModelWorkerOptions{
		Instruction:   fmt.Sprintf("You are %s, a focused specialist. Complete the task you are given.", name),
		ToolTimeout:   15 * time.Second,
		MaxToolRounds: 5,
		MaxHistory:    20,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	w := &ModelWorker{
		BaseRole:      NewBaseRole(name, tags...),
		llm:           llm,
		instruction:   opts.Instruction,
		tools:         make(map[string]tool.Tool, len(opts.Tools)),
		toolTimeout:   opts.ToolTimeout,
		maxToolRounds: opts.MaxToolRounds,
		maxHistory:    opts.MaxHistory,
	}
	if opts.Description != "" {
		w.SetDescription(opts.Description)
	}
	for _, t := range opts.Tools {
		w.tools[t.Name()] = t
		w.toolOrder = append(w.toolOrder, t.Name())
	}
	return w
}

// Execute implements core.Role. It runs one bounded tool-calling
// conversation against the worker's model and returns the final text.
func (w *ModelWorker) Execute(rc *core.RunContext, task core.Task) (core.Result, error) {
	messages := taskMessages(rc, task, w.maxHistory)
	resp, err := w.converse(rc, messages)
	if err != nil {
		return core.Result{}, err
	}
	return core.Result{Output: resp.Text}, nil
}

// converse loops model calls and tool executions until the model produces a
// final text or the round bound is hit.
func (w *ModelWorker) converse(rc *core.RunContext, messages []model.Message) (model.Response, error) {
	defs := w.toolDefinitions()

	for round := 0; ; round++ {
		resp, err := generate(rc, w.llm, model.Request{
			Instructions: w.instruction,
			Messages:     messages,
			Tools:        defs,
		}, false)
		if err != nil {
			return model.Response{}, err
		}

		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}
		if round >= w.maxToolRounds {
			return model.Response{}, fmt.Errorf("worker %s exceeded %d tool rounds", w.Name(), w.maxToolRounds)
		}

		messages = append(messages, model.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, w.executeToolCall(rc, call))
		}
	}
}

// executeToolCall runs one tool with its own deadline, converting failures
// into tool-result messages so the model can recover.
func (w *ModelWorker) executeToolCall(rc *core.RunContext, call model.ToolCall) model.Message {
	result := model.Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name}

	t, ok := w.tools[call.Name]
	if !ok {
		result.Content = fmt.Sprintf("error: unknown tool %q", call.Name)
		return result
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Content = fmt.Sprintf("error: invalid arguments: %v", err)
			return result
		}
	}

	ctx, cancel := context.WithTimeout(rc.Context, w.toolTimeout)
	defer cancel()

	toolRC := rc.NewChildContext(rc.Role, "")
	toolRC.Context = ctx

	start := time.Now()
	out, err := t.Call(toolRC, args)
	if err != nil {
		rc.LogWarn("tool call failed tool=%s worker=%s err=%v", call.Name, w.Name(), err)
		result.Content = fmt.Sprintf("error: %v", err)
		return result
	}
	rc.LogDebug("tool call completed tool=%s worker=%s elapsed=%s", call.Name, w.Name(), time.Since(start))

	switch v := out.(type) {
	case string:
		result.Content = v
	default:
		if data, err := json.Marshal(v); err == nil {
			result.Content = string(data)
		} else {
			result.Content = fmt.Sprintf("%v", v)
		}
	}
	return result
}

func (w *ModelWorker) toolDefinitions() []model.ToolDefinition {
	if len(w.toolOrder) == 0 {
		return nil
	}
	defs := make([]model.ToolDefinition, 0, len(w.toolOrder))
	for _, name := range w.toolOrder {
		t := w.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}
