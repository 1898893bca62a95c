package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/directive"
)

// SearchHit is one result returned by an external search provider.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchProvider is the external search collaborator. Implementations wrap a
// real engine (DuckDuckGo, Exa, Tavily, ...); the provider internals are out
// of scope here. Invocations carry an explicit deadline via ctx and must
// return a typed error, never panic.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// WebSearchTool exposes a SearchProvider to roles as the "web_search" tool.
type WebSearchTool struct {
	provider SearchProvider
	limit    int
}

// NewWebSearchTool wraps a provider with a default result limit.
func NewWebSearchTool(provider SearchProvider, limit int) *WebSearchTool {
	if limit <= 0 {
		limit = 5
	}
	return &WebSearchTool{provider: provider, limit: limit}
}

// Name implements Tool.
func (t *WebSearchTool) Name() string { return directive.ToolWebSearch }

// Description implements Tool.
func (t *WebSearchTool) Description() string {
	return "Search the web for news, current events and quick facts. Returns titles, links and snippets."
}

// Parameters implements Tool.
func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

// Call implements Tool. Results are flattened into a compact text block.
func (t *WebSearchTool) Call(rc *core.RunContext, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, NewToolError(t.Name(), "query must not be empty", "VALIDATION_ERROR")
	}

	hits, err := t.provider.Search(rc.Context, query, t.limit)
	if err != nil {
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	if len(hits) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n", i+1, hit.Title, hit.URL, hit.Snippet)
	}
	return b.String(), nil
}
