package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/model"
)

// BaseRole bundles the identity shared by all role implementations. Every
// field is set at construction and never mutated, so embedding types are
// safe for unsynchronized concurrent use across requests.
type BaseRole struct {
	name        string
	description string
	tags        []string
}

// NewBaseRole constructs a BaseRole with a generated description
// (customizable via SetDescription before first use).
func NewBaseRole(name string, tags ...string) BaseRole {
	return BaseRole{
		name:        name,
		description: fmt.Sprintf("Role %s", name),
		tags:        tags,
	}
}

// Name returns the role's external identifier.
func (b *BaseRole) Name() string { return b.name }

// Description returns a detailed description of this role's purpose.
func (b *BaseRole) Description() string { return b.description }

// SetDescription updates the description. Call during wiring, before the
// role serves requests.
func (b *BaseRole) SetDescription(desc string) { b.description = desc }

// CapabilityTags returns a copy of the role's capability tags.
func (b *BaseRole) CapabilityTags() []string {
	tags := make([]string, len(b.tags))
	copy(tags, b.tags)
	return tags
}

// historyMessages converts the session's turn history into model messages,
// keeping at most maxTurns of the most recent turns.
func historyMessages(rc *core.RunContext, maxTurns int) []model.Message {
	turns := rc.SessionHistory()
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	messages := make([]model.Message, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role != "user" && role != "assistant" {
			continue
		}
		messages = append(messages, model.Message{Role: role, Content: t.Content})
	}
	return messages
}

// taskMessages builds the message list for one task: bounded history, the
// accumulated context from earlier pipeline stages, then the task input.
func taskMessages(rc *core.RunContext, task core.Task, maxHistory int) []model.Message {
	messages := historyMessages(rc, maxHistory)
	if len(task.Context) > 0 {
		var b strings.Builder
		b.WriteString("Results from earlier stages:\n\n")
		for i, c := range task.Context {
			fmt.Fprintf(&b, "--- stage %d ---\n%s\n\n", i+1, c)
		}
		messages = append(messages, model.Message{Role: "user", Content: b.String()})
	}
	messages = append(messages, model.Message{Role: "user", Content: task.Input})
	return messages
}

// generate drives one model call, draining the response channel. When
// emitChunks is set, partial text is streamed to the caller as chunk events.
// The run's call limiter is consulted before the call is made.
func generate(rc *core.RunContext, m model.Model, req model.Request, emitChunks bool) (model.Response, error) {
	if err := rc.Limiter.Increment(); err != nil {
		return model.Response{}, err
	}

	if req.Stream && !m.Info().SupportsStreaming {
		req.Stream = false
	}

	start := time.Now()
	respCh, errCh := m.Generate(rc.Context, req)

	var final model.Response
	var gotFinal bool
	for {
		select {
		case <-rc.Done():
			return model.Response{}, rc.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return model.Response{}, err
			}
			errCh = nil
		case resp, ok := <-respCh:
			if !ok {
				if !gotFinal {
					// The error may still be in flight on the other channel.
					if errCh != nil {
						if err, ok := <-errCh; ok && err != nil {
							return model.Response{}, err
						}
					}
					return model.Response{}, fmt.Errorf("model %s returned no final response", m.Info().Name)
				}
				rc.LogDebug("model call completed model=%s elapsed=%s", m.Info().Name, time.Since(start))
				return final, nil
			}
			if resp.Partial {
				if emitChunks && resp.Text != "" {
					if err := rc.EmitChunk(resp.Text); err != nil {
						return model.Response{}, err
					}
				}
				continue
			}
			final = resp
			gotFinal = true
		}
	}
}
