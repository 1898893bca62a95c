package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/directive"
	"github.com/mkragh/ensemble/model"
	"github.com/mkragh/ensemble/registry"
	"github.com/mkragh/ensemble/tool"
)

// CoordinatorOptions configures a Coordinator instance.
type CoordinatorOptions struct {
	Description string
	// Tools are the coordinator's direct tools. Which of them a given
	// request may use is decided by the request's ExecutionConfig.
	Tools []tool.Tool
	// Pipeline is the ordered list of capability tags resolved against the
	// registry to form the deep-mode stage sequence.
	Pipeline []string
	// StageTimeout bounds each delegated stage.
	StageTimeout time.Duration
	// MaxToolRounds bounds the quick-mode tool-calling loop.
	MaxToolRounds int
	// MaxHistory bounds how many session turns are replayed into prompts.
	MaxHistory int
}

// Coordinator orchestrates one request: in quick mode it answers directly
// with its own tools, in deep mode it sequences registered workers through a
// pipeline and synthesizes their outputs into one combined response.
//
// A Coordinator implements core.Role, so it can itself be registered as a
// worker of an outer coordinator. All fields are fixed at construction; the
// per-request behavior variation lives entirely in the RunContext's
// ExecutionConfig.
type Coordinator struct {
	BaseRole
	llm           model.Model
	registry      *registry.Registry
	tools         map[string]tool.Tool
	toolOrder     []string
	pipeline      []string
	stageTimeout  time.Duration
	maxToolRounds int
	maxHistory    int
}

// NewCoordinator creates a coordinator over the given model and worker
// registry.
func NewCoordinator(name string, llm model.Model, reg *registry.Registry, optFns ...func(o *CoordinatorOptions)) *Coordinator {
	opts := CoordinatorOptions{
		Pipeline:      []string{"research", "analysis"},
		StageTimeout:  2 * time.Minute,
		MaxToolRounds: 5,
		MaxHistory:    20,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Coordinator{
		BaseRole:      NewBaseRole(name, "coordination"),
		llm:           llm,
		registry:      reg,
		tools:         make(map[string]tool.Tool, len(opts.Tools)),
		pipeline:      opts.Pipeline,
		stageTimeout:  opts.StageTimeout,
		maxToolRounds: opts.MaxToolRounds,
		maxHistory:    opts.MaxHistory,
	}
	if opts.Description != "" {
		c.SetDescription(opts.Description)
	} else {
		c.SetDescription("Coordinates direct answering and delegated research pipelines.")
	}
	for _, t := range opts.Tools {
		c.tools[t.Name()] = t
		c.toolOrder = append(c.toolOrder, t.Name())
	}
	return c
}

// Execute implements core.Role, dispatching on the request's execution mode.
func (c *Coordinator) Execute(rc *core.RunContext, task core.Task) (core.Result, error) {
	if rc.Config == nil {
		return core.Result{}, fmt.Errorf("coordinator %s: run context has no execution config", c.Name())
	}
	switch rc.Config.Mode {
	case core.DeepMode:
		return c.delegate(rc, task)
	default:
		return c.direct(rc, task)
	}
}

// direct answers in quick mode: a bounded tool-calling loop over the tools
// the request's config activates, followed by marker screening. The final
// text is emitted as a chunk only after screening so the mode-switch
// sentinel never reaches the stream.
func (c *Coordinator) direct(rc *core.RunContext, task core.Task) (core.Result, error) {
	messages := taskMessages(rc, task, c.maxHistory)
	defs := c.activeToolDefinitions(rc.Config)

	var final model.Response
	for round := 0; ; round++ {
		resp, err := generate(rc, c.llm, model.Request{
			Instructions: rc.Config.Instructions(),
			Messages:     messages,
			Tools:        defs,
		}, false)
		if err != nil {
			return core.Result{}, err
		}
		if len(resp.ToolCalls) == 0 {
			final = resp
			break
		}
		if round >= c.maxToolRounds {
			return core.Result{}, fmt.Errorf("coordinator %s exceeded %d tool rounds", c.Name(), c.maxToolRounds)
		}
		messages = append(messages, model.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, c.executeToolCall(rc, call))
		}
	}

	output, suggestDeep := screenDeepModeMarker(final.Text)
	if suggestDeep {
		rc.LogInfo("complexity marker detected run=%s session=%s", rc.RunID, rc.SessionID)
	}
	if output != "" {
		if err := rc.EmitChunk(output); err != nil {
			return core.Result{}, err
		}
	}
	return core.Result{Output: output, SuggestDeep: suggestDeep}, nil
}

// delegate runs the deep-mode pipeline: resolve each pipeline tag to a
// worker, run the stages sequentially with per-stage deadlines, feed each
// stage's output into the next, then synthesize one combined answer. A
// failed stage short-circuits the remainder; synthesis still runs over
// whatever completed.
func (c *Coordinator) delegate(rc *core.RunContext, task core.Task) (core.Result, error) {
	stages := c.resolvePipeline(rc)
	if len(stages) == 0 {
		rc.LogWarn("no pipeline workers resolved, answering directly run=%s", rc.RunID)
		return c.direct(rc, task)
	}

	var (
		outputs      []string
		failures     []string
		shortCircuit bool
	)

	for i, d := range stages {
		stageNum := i + 1

		if shortCircuit {
			rc.Trace.Add(core.StageRecord{
				Stage:  stageNum,
				Worker: d.Name,
				Branch: rc.Branch,
				Status: core.StageSkipped,
			})
			continue
		}

		if err := rc.EmitStageStarted(stageNum, d.Name); err != nil {
			return core.Result{}, err
		}

		stageTask := core.Task{Input: task.Input, Context: outputs}
		start := time.Now()
		result, err := c.runStage(rc, d, stageNum, stageTask)
		elapsed := time.Since(start)

		rec := core.StageRecord{
			Stage:   stageNum,
			Worker:  d.Name,
			Branch:  rc.Branch,
			Input:   stageTask.Input,
			Elapsed: elapsed,
		}
		if err != nil {
			var timeout *core.WorkerTimeoutError
			if errors.As(err, &timeout) {
				rec.Status = core.StageTimeout
			} else {
				rec.Status = core.StageFailed
			}
			rec.Error = err.Error()
			rc.Trace.Add(rec)
			rc.LogWarn("stage failed stage=%d worker=%s run=%s err=%v", stageNum, d.Name, rc.RunID, err)
			if emitErr := rc.EmitStageCompleted(stageNum, d.Name, false); emitErr != nil {
				return core.Result{}, emitErr
			}
			failures = append(failures, fmt.Sprintf("%s: %v", d.Name, err))
			shortCircuit = true
			continue
		}

		rec.Status = core.StageOK
		rec.Output = result.Output
		rc.Trace.Add(rec)
		if err := rc.EmitStageCompleted(stageNum, d.Name, true); err != nil {
			return core.Result{}, err
		}
		outputs = append(outputs, result.Output)
	}

	return c.synthesize(rc, task, outputs, failures)
}

// runStage executes one worker under its own deadline. Worker errors and
// deadline hits are converted into typed stage errors; a stage can fail but
// never hang the pipeline.
func (c *Coordinator) runStage(rc *core.RunContext, d registry.Descriptor, stageNum int, task core.Task) (core.Result, error) {
	ctx, cancel := context.WithTimeout(rc.Context, c.stageTimeout)
	defer cancel()

	child := rc.NewChildContext(core.RoleInfo{Name: d.Name, Kind: "worker"}, d.Name)
	child.Context = ctx

	type stageResult struct {
		result core.Result
		err    error
	}
	done := make(chan stageResult, 1)
	go func() {
		r, err := d.Role.Execute(child, task)
		done <- stageResult{result: r, err: err}
	}()

	select {
	case <-ctx.Done():
		if rc.Context.Err() != nil {
			return core.Result{}, rc.Context.Err()
		}
		return core.Result{}, &core.WorkerTimeoutError{Worker: d.Name, Stage: stageNum, Deadline: c.stageTimeout}
	case sr := <-done:
		if sr.err != nil {
			if errors.Is(sr.err, context.DeadlineExceeded) {
				return core.Result{}, &core.WorkerTimeoutError{Worker: d.Name, Stage: stageNum, Deadline: c.stageTimeout}
			}
			return core.Result{}, &core.WorkerFailureError{Worker: d.Name, Stage: stageNum, Err: sr.err}
		}
		return sr.result, nil
	}
}

// synthesize combines completed stage outputs into one response, streaming
// chunks as the model produces them. The answer carries Partial when any
// stage failed and is never empty: if the synthesis call itself fails with
// outputs in hand, those outputs are returned verbatim.
func (c *Coordinator) synthesize(rc *core.RunContext, task core.Task, outputs, failures []string) (core.Result, error) {
	partial := len(failures) > 0

	var b strings.Builder
	b.WriteString("Synthesize one combined answer to the user's request from the worker results below.\n\n")
	fmt.Fprintf(&b, "Request: %s\n\n", task.Input)
	for i, out := range outputs {
		fmt.Fprintf(&b, "--- worker result %d ---\n%s\n\n", i+1, out)
	}
	if partial {
		b.WriteString("Some pipeline stages did not complete:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		b.WriteString("Synthesize what the completed stages cover and state the gaps explicitly.\n")
	}

	messages := append(historyMessages(rc, c.maxHistory), model.Message{Role: "user", Content: b.String()})
	resp, err := generate(rc, c.llm, model.Request{
		Instructions: rc.Config.Instructions(),
		Messages:     messages,
		Stream:       true,
	}, true)
	if err != nil {
		if len(outputs) == 0 {
			return core.Result{}, err
		}
		rc.LogWarn("synthesis failed, returning raw stage outputs run=%s err=%v", rc.RunID, err)
		fallback := strings.Join(outputs, "\n\n")
		if emitErr := rc.EmitChunk(fallback); emitErr != nil {
			return core.Result{}, emitErr
		}
		return core.Result{Output: fallback, Partial: true}, nil
	}

	output := resp.Text
	if strings.TrimSpace(output) == "" {
		output = strings.Join(outputs, "\n\n")
		if strings.TrimSpace(output) == "" {
			output = "The research pipeline could not produce a result for this request."
		}
	}
	return core.Result{Output: output, Partial: partial}, nil
}

// resolvePipeline maps the configured capability tags to registered workers.
// Tags with no registered worker are logged and dropped.
func (c *Coordinator) resolvePipeline(rc *core.RunContext) []registry.Descriptor {
	var stages []registry.Descriptor
	for _, tag := range c.pipeline {
		d, ok := c.registry.FirstByTag(tag)
		if !ok {
			rc.LogWarn("no worker registered for capability %q", tag)
			continue
		}
		stages = append(stages, d)
	}
	return stages
}

// activeToolDefinitions filters the coordinator's tools down to the set the
// request's config enables, preserving wiring order.
func (c *Coordinator) activeToolDefinitions(cfg *core.ExecutionConfig) []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, name := range c.toolOrder {
		if !cfg.ToolActive(name) {
			continue
		}
		t := c.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// executeToolCall runs one of the coordinator's direct tools, converting
// failures into tool-result messages so the model can recover.
func (c *Coordinator) executeToolCall(rc *core.RunContext, call model.ToolCall) model.Message {
	result := model.Message{Role: "tool", ToolCallID: call.ID, ToolName: call.Name}

	t, ok := c.tools[call.Name]
	if !ok || !rc.Config.ToolActive(call.Name) {
		result.Content = fmt.Sprintf("error: tool %q is not available", call.Name)
		return result
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Content = fmt.Sprintf("error: invalid arguments: %v", err)
			return result
		}
	}

	out, err := t.Call(rc, args)
	if err != nil {
		rc.LogWarn("tool call failed tool=%s err=%v", call.Name, err)
		result.Content = fmt.Sprintf("error: %v", err)
		return result
	}

	switch v := out.(type) {
	case string:
		result.Content = v
	default:
		if data, merr := json.Marshal(v); merr == nil {
			result.Content = string(data)
		} else {
			result.Content = fmt.Sprintf("%v", v)
		}
	}
	return result
}

// screenDeepModeMarker strips the complexity sentinel from a quick-mode
// answer and reports whether it was present.
func screenDeepModeMarker(text string) (string, bool) {
	if !strings.Contains(text, directive.DeepModeMarker) {
		return strings.TrimSpace(text), false
	}
	cleaned := strings.ReplaceAll(text, directive.DeepModeMarker, "")
	return strings.TrimSpace(cleaned), true
}
