package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkragh/ensemble/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.SessionStore = (*InMemoryStore)(nil)
	_ core.SessionStore = (*SQLiteStore)(nil)
	_ core.SessionStore = (*RedisStore)(nil)
)

func TestInMemoryStore_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()

	first, err := svc.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	require.NoError(t, svc.MergeState(ctx, "sess-1", map[string]any{core.StateKeyDeepMode: true}))

	// second create with the same id must not reset state
	again, err := svc.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, again.DeepMode(), "deep_mode must survive re-create")
}

func TestInMemoryStore_OwnershipHidesSessions(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()

	_, err := svc.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)

	// absence and foreign ownership are indistinguishable
	_, err = svc.Get(ctx, "sess-1", "owner-2")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = svc.Get(ctx, "missing", "owner-1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	_, err = svc.Create(ctx, "sess-1", "owner-2")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestInMemoryStore_MergeStateRetainsAbsentKeys(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()

	_, err := svc.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	require.NoError(t, svc.MergeState(ctx, "sess-1", map[string]any{core.StateKeyDeepMode: true, "theme": "dark"}))
	// a later delta without deep_mode must not clear it
	require.NoError(t, svc.MergeState(ctx, "sess-1", map[string]any{"theme": "light"}))

	sess, err := svc.Get(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	assert.True(t, sess.DeepMode(), "deep_mode retained after partial merge")
	v, _ := sess.GetState("theme")
	assert.Equal(t, "light", v)
}

func TestInMemoryStore_SetNameIfUnset(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryStore()

	_, err := svc.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)

	applied, err := svc.SetNameIfUnset(ctx, "sess-1", "Trip planning")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = svc.SetNameIfUnset(ctx, "sess-1", "Different name")
	require.NoError(t, err)
	assert.False(t, applied, "second naming must be a no-op")

	sess, err := svc.Get(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", sess.Name)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, err := OpenSQLiteStore(t.TempDir() + "/sessions.db")
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.Create(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	require.NoError(t, svc.AppendTurn(ctx, "sess-1", core.Turn{Role: "user", Content: "hello", Timestamp: time.Now().UTC()}))
	require.NoError(t, svc.MergeState(ctx, "sess-1", map[string]any{core.StateKeyDeepMode: true}))
	require.NoError(t, svc.MergeState(ctx, "sess-1", map[string]any{"theme": "dark"}))

	sess, err := svc.Get(ctx, "sess-1", "owner-1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "hello", sess.History[0].Content)
	assert.True(t, sess.DeepMode(), "deep_mode retained across merges")

	_, err = svc.Get(ctx, "sess-1", "owner-2")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	applied, err := svc.SetNameIfUnset(ctx, "sess-1", "Greetings")
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = svc.SetNameIfUnset(ctx, "sess-1", "Other")
	require.NoError(t, err)
	assert.False(t, applied)
}
