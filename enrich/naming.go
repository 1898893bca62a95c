package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/model"
)

const (
	// minTurnsForNaming is the minimum history length before a name is
	// derived. One user message alone is not enough signal.
	minTurnsForNaming = 2
	// maxNameWords is the target length a generated name is asked for.
	maxNameWords = 10
	// hardNameWordLimit rejects runaway generations; an over-limit
	// candidate counts as a failed attempt and triggers a regeneration.
	hardNameWordLimit = 15
	// maxExcerptTurns bounds how much history goes into the naming prompt.
	maxExcerptTurns = 6
	// maxExcerptLen truncates each excerpted turn.
	maxExcerptLen = 500
	// nameAttempts is how many generations are tried before giving up.
	nameAttempts = 3
)

// NameGenerator derives a short descriptive conversation name from a
// history excerpt.
type NameGenerator interface {
	GenerateName(ctx context.Context, excerpt string) (string, error)
}

// ModelNameGenerator derives names with an inference model.
type ModelNameGenerator struct {
	llm model.Model
}

// NewModelNameGenerator wraps llm as a NameGenerator.
func NewModelNameGenerator(llm model.Model) *ModelNameGenerator {
	return &ModelNameGenerator{llm: llm}
}

// GenerateName implements NameGenerator with a single non-streaming call.
func (g *ModelNameGenerator) GenerateName(ctx context.Context, excerpt string) (string, error) {
	req := model.Request{
		Instructions: fmt.Sprintf(
			"Generate a short descriptive title for the conversation excerpt, "+
				"at most %d words. Reply with the title only: no quotes, no punctuation "+
				"at the end, no explanation.", maxNameWords),
		Messages: []model.Message{{Role: "user", Content: excerpt}},
	}

	respCh, errCh := g.llm.Generate(ctx, req)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err, ok := <-errCh:
			if ok && err != nil {
				return "", err
			}
			errCh = nil
		case resp, ok := <-respCh:
			if !ok {
				return "", fmt.Errorf("name generator returned no response")
			}
			if resp.Partial {
				continue
			}
			return resp.Text, nil
		}
	}
}

// NamingTask derives and persists a name for one session. It is idempotent:
// an already named session is left untouched, and the conditional write at
// the store means concurrent namers cannot overwrite each other.
type NamingTask struct {
	sessionID string
	ownerID   string
	sessions  core.SessionStore
	generator NameGenerator
	logger    logging.Logger
}

// NewNamingTask builds a naming task for the given session.
func NewNamingTask(sessionID, ownerID string, sessions core.SessionStore, generator NameGenerator, logger logging.Logger) *NamingTask {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &NamingTask{
		sessionID: sessionID,
		ownerID:   ownerID,
		sessions:  sessions,
		generator: generator,
		logger:    logger,
	}
}

// Name implements Task.
func (t *NamingTask) Name() string { return "session-naming" }

// Run implements Task. It skips silently when the session is already named
// or has too little history, otherwise generates a name (retrying up to
// nameAttempts) and persists it conditionally.
func (t *NamingTask) Run(ctx context.Context) error {
	sess, err := t.sessions.Get(ctx, t.sessionID, t.ownerID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Name != "" {
		return nil
	}
	turns := sess.Turns()
	if len(turns) < minTurnsForNaming {
		return nil
	}

	excerpt := buildExcerpt(turns)

	var name string
	for attempt := 1; attempt <= nameAttempts; attempt++ {
		raw, err := t.generator.GenerateName(ctx, excerpt)
		if err != nil {
			t.logger.Warn("name generation failed session=%s attempt=%d err=%v", t.sessionID, attempt, err)
			continue
		}
		name = sanitizeName(raw)
		if name == "" {
			t.logger.Warn("name generation produced empty name session=%s attempt=%d", t.sessionID, attempt)
			continue
		}
		if words := len(strings.Fields(name)); words > hardNameWordLimit {
			t.logger.Warn("generated name too long session=%s attempt=%d words=%d", t.sessionID, attempt, words)
			name = ""
			continue
		}
		break
	}
	if name == "" {
		return fmt.Errorf("no usable name after %d attempts", nameAttempts)
	}

	applied, err := t.sessions.SetNameIfUnset(ctx, t.sessionID, name)
	if err != nil {
		return fmt.Errorf("persist name: %w", err)
	}
	if applied {
		t.logger.Info("session named session=%s name=%q", t.sessionID, name)
	}
	return nil
}

// buildExcerpt joins the most recent turns into the naming prompt, bounding
// both turn count and per-turn length.
func buildExcerpt(turns []core.Turn) string {
	if len(turns) > maxExcerptTurns {
		turns = turns[len(turns)-maxExcerptTurns:]
	}
	var b strings.Builder
	for _, turn := range turns {
		content := turn.Content
		if len(content) > maxExcerptLen {
			content = content[:maxExcerptLen]
		}
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, content)
	}
	return b.String()
}

// sanitizeName strips quoting and surrounding whitespace and collapses
// internal runs of whitespace.
func sanitizeName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.Trim(name, `"'`)
	return strings.Join(strings.Fields(name), " ")
}
