package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/session"
)

// stubGenerator returns its queued names in order, then repeats the last.
type stubGenerator struct {
	mu    sync.Mutex
	names []string
	errs  []error
	calls int
}

func (g *stubGenerator) GenerateName(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i >= len(g.names) {
		i = len(g.names) - 1
	}
	return g.names[i], nil
}

func seedSession(t *testing.T, sessions core.SessionStore, turns int) {
	t.Helper()
	ctx := context.Background()
	_, err := sessions.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	for i := 0; i < turns; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, sessions.AppendTurn(ctx, "sess-1", core.Turn{
			Role: role, Content: "turn content", Timestamp: time.Now().UTC(),
		}))
	}
}

func TestNamingTask_NamesEligibleSession(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 2)
	gen := &stubGenerator{names: []string{"Trip planning for spring"}}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	require.NoError(t, task.Run(context.Background()))

	sess, err := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning for spring", sess.Name)
}

func TestNamingTask_SkipsSingleTurnSession(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 1)
	gen := &stubGenerator{names: []string{"Should not be used"}}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	require.NoError(t, task.Run(context.Background()))

	sess, err := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Empty(t, sess.Name)
	assert.Zero(t, gen.calls)
}

func TestNamingTask_SecondRunIsNoOp(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 4)
	gen := &stubGenerator{names: []string{"First name", "Second name"}}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	require.NoError(t, task.Run(context.Background()))
	require.NoError(t, task.Run(context.Background()))

	sess, err := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "First name", sess.Name)
	assert.Equal(t, 1, gen.calls, "already named session must not trigger generation")
}

func TestNamingTask_RegeneratesOverlongName(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 2)
	long := strings.Repeat("word ", hardNameWordLimit*2)
	gen := &stubGenerator{names: []string{long, "Valid short name"}}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	require.NoError(t, task.Run(context.Background()))

	sess, err := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Valid short name", sess.Name, "overlong candidate must be regenerated, not truncated")
	assert.Equal(t, 2, gen.calls)
}

func TestNamingTask_GivesUpWhenEveryNameIsOverlong(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 2)
	long := strings.Repeat("word ", hardNameWordLimit+1)
	gen := &stubGenerator{names: []string{long}}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	err := task.Run(context.Background())

	assert.Error(t, err)
	assert.Equal(t, nameAttempts, gen.calls)

	sess, gerr := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, gerr)
	assert.Empty(t, sess.Name)
}

func TestNamingTask_RetriesGenerationWithinBound(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 2)
	gen := &stubGenerator{
		names: []string{"", "", "Recovered on third try"},
		errs:  []error{errors.New("transient"), nil, nil},
	}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	require.NoError(t, task.Run(context.Background()))

	sess, err := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Recovered on third try", sess.Name)
	assert.Equal(t, nameAttempts, gen.calls)
}

func TestNamingTask_GivesUpAfterBoundedAttempts(t *testing.T) {
	sessions := session.NewInMemoryStore()
	seedSession(t, sessions, 2)
	gen := &stubGenerator{
		names: []string{""},
		errs:  []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}

	task := NewNamingTask("sess-1", "owner-1", sessions, gen, nil)
	err := task.Run(context.Background())

	assert.Error(t, err)
	assert.Equal(t, nameAttempts, gen.calls)

	sess, gerr := sessions.Get(context.Background(), "sess-1", "owner-1")
	require.NoError(t, gerr)
	assert.Empty(t, sess.Name, "failed attempts must leave the session unnamed")
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Weekend hiking plans", sanitizeName(`  "Weekend hiking plans"  `))
	assert.Equal(t, "", sanitizeName("  \"\"  "))
}

func TestScheduler_RecoversPanicsAndSwallowsErrors(t *testing.T) {
	s := NewScheduler(func(o *SchedulerOptions) { o.TaskTimeout = time.Second })

	var ran sync.WaitGroup
	ran.Add(2)
	s.Schedule(taskFunc{name: "panics", fn: func(context.Context) error {
		defer ran.Done()
		panic("boom")
	}})
	s.Schedule(taskFunc{name: "fails", fn: func(context.Context) error {
		defer ran.Done()
		return errors.New("enrichment failed")
	}})

	ran.Wait()
	s.Close()

	// a closed scheduler drops new tasks instead of running them
	executed := false
	s.Schedule(taskFunc{name: "late", fn: func(context.Context) error {
		executed = true
		return nil
	}})
	time.Sleep(10 * time.Millisecond)
	assert.False(t, executed)
}

type taskFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (t taskFunc) Name() string                  { return t.name }
func (t taskFunc) Run(ctx context.Context) error { return t.fn(ctx) }
