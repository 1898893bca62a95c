package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/internal/util"
	"github.com/mkragh/ensemble/logging"
	"github.com/mkragh/ensemble/memory"
)

// -------------------- Schema & Validation Tests --------------------

type sampleSchema struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestCreateSchema(t *testing.T) {
	schema := util.CreateSchema(sampleSchema{})
	props, ok := schema["properties"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")
	// Required only includes non-pointer, non-omitempty exported fields
	req, _ := schema["required"].([]string)
	if req == nil { // reflection may produce []any
		ifaceReq, _ := schema["required"].([]any)
		for _, v := range ifaceReq {
			req = append(req, v.(string))
		}
	}
	assert.ElementsMatch(t, []string{"a"}, req)
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// Use []any to mirror possible JSON decoded schema shape
		"required": []any{"x"},
	}

	err := util.ValidateParameters(map[string]any{"x": 5}, schema)
	assert.NoError(t, err)

	err = util.ValidateParameters(map[string]any{}, schema)
	assert.Error(t, err)
	if vErr, ok := err.(*ValidationError); ok {
		assert.Equal(t, "x", vErr.Field)
	} else {
		t.Fatalf("expected ValidationError, got %T", err)
	}

	err = util.ValidateParameters(map[string]any{"x": "not-int"}, schema)
	assert.Error(t, err)
	if vErr, ok := err.(*ValidationError); ok {
		assert.Contains(t, vErr.Message, "expected type integer")
	} else {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

// -------------------- FunctionTool Tests --------------------

func newToolRunContext(t *testing.T, memories core.MemoryStore) *core.RunContext {
	t.Helper()
	return core.NewRunContext(
		context.Background(), "owner-1", "session-1", "run-1",
		core.RoleInfo{Name: "coordinator", Kind: "coordinator"},
		"task", &core.ExecutionConfig{}, 10, nil, nil, nil,
		memories, logging.NoOpLogger{},
	)
}

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *core.RunContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	rc := newToolRunContext(t, nil)
	result, err := sumTool.Call(rc, map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
		},
		"required": []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ *core.RunContext, _ map[string]any) (any, error) {
		return 0, nil
	})
	_, err := tTool.Call(newToolRunContext(t, nil), map[string]any{})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	execTool := NewFunctionTool("fail", "Fails", params, func(_ *core.RunContext, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(newToolRunContext(t, nil), map[string]any{})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}

// -------------------- Memory Tool Tests --------------------

func TestRecallMemoriesTool_FiltersByTopic(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	_, err := store.Append(ctx, "owner-1", "Prefers window seats on flights", []string{"travel"})
	require.NoError(t, err)
	_, err = store.Append(ctx, "owner-1", "Allergic to peanuts", []string{"health", "food"})
	require.NoError(t, err)

	recall := NewRecallMemoriesTool(5)
	rc := newToolRunContext(t, store)

	result, err := recall.Call(rc, map[string]any{"topics": []any{"travel"}})
	require.NoError(t, err)
	text := result.(string)
	assert.Contains(t, text, "window seats")
	assert.NotContains(t, text, "peanuts")
}

func TestRecallMemoriesTool_NoTopicsPrompt(t *testing.T) {
	recall := NewRecallMemoriesTool(5)
	rc := newToolRunContext(t, memory.NewInMemoryStore())

	result, err := recall.Call(rc, map[string]any{"topics": []any{}})
	require.NoError(t, err)
	assert.Contains(t, result.(string), "No topics provided")
}

func TestRecentMemoriesTool_RespectsLimit(t *testing.T) {
	store := memory.NewInMemoryStore()
	ctx := context.Background()
	for _, content := range []string{"fact one", "fact two", "fact three"} {
		_, err := store.Append(ctx, "owner-1", content, []string{"preferences"})
		require.NoError(t, err)
	}

	recent := NewRecentMemoriesTool(5)
	rc := newToolRunContext(t, store)

	result, err := recent.Call(rc, map[string]any{"limit": 2.0})
	require.NoError(t, err)
	lines := result.(string)
	assert.Contains(t, lines, "fact three")
	assert.NotContains(t, lines, "fact one")
}

// -------------------- Web Search Tool Tests --------------------

type stubSearchProvider struct {
	hits []SearchHit
	err  error
}

func (s *stubSearchProvider) Search(_ context.Context, _ string, _ int) ([]SearchHit, error) {
	return s.hits, s.err
}

func TestWebSearchTool_FormatsHits(t *testing.T) {
	provider := &stubSearchProvider{hits: []SearchHit{
		{Title: "Go proverbs", URL: "https://example.com/proverbs", Snippet: "Clear is better than clever."},
	}}
	search := NewWebSearchTool(provider, 3)

	result, err := search.Call(newToolRunContext(t, nil), map[string]any{"query": "go proverbs"})
	require.NoError(t, err)
	text := result.(string)
	assert.Contains(t, text, "Go proverbs")
	assert.Contains(t, text, "https://example.com/proverbs")
}

func TestWebSearchTool_EmptyQueryRejected(t *testing.T) {
	search := NewWebSearchTool(&stubSearchProvider{}, 3)

	_, err := search.Call(newToolRunContext(t, nil), map[string]any{"query": "   "})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestWebSearchTool_ProviderErrorWrapped(t *testing.T) {
	search := NewWebSearchTool(&stubSearchProvider{err: errors.New("engine down")}, 3)

	_, err := search.Call(newToolRunContext(t, nil), map[string]any{"query": "anything"})
	assert.Error(t, err)
	toolErr, ok := err.(*ToolError)
	assert.True(t, ok)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
}
