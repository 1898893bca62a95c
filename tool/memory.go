package tool

import (
	"fmt"
	"strings"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/directive"
)

// RecallMemoriesTool retrieves an owner's memories by topic keywords. The
// filtering happens at the store boundary: only matching entries are ever
// loaded, never the owner's full memory set.
type RecallMemoriesTool struct {
	defaultLimit int
}

// NewRecallMemoriesTool constructs the topic-filtered recall tool.
func NewRecallMemoriesTool(defaultLimit int) *RecallMemoriesTool {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &RecallMemoriesTool{defaultLimit: defaultLimit}
}

// Name implements Tool.
func (t *RecallMemoriesTool) Name() string { return directive.ToolRecallMemories }

// Description implements Tool.
func (t *RecallMemoriesTool) Description() string {
	return "Search lasting facts about the user by topic keywords extracted from the conversation " +
		"(e.g. [\"travel\", \"family\"]). Only memories matching the topics are returned."
}

// Parameters implements Tool.
func (t *RecallMemoriesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topics": map[string]any{
				"type":        "array",
				"description": "Broad, lowercase topic keywords to filter by",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum memories to return",
			},
		},
		"required": []string{"topics"},
	}
}

// Call implements Tool.
func (t *RecallMemoriesTool) Call(rc *core.RunContext, args map[string]any) (any, error) {
	topics := toStringSlice(args["topics"])
	if len(topics) == 0 {
		return "No topics provided. Extract relevant keywords from the conversation.", nil
	}

	limit := t.defaultLimit
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	entries, err := rc.SearchMemory(topics, limit)
	if err != nil {
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No memories found matching topics: %s", strings.Join(topics, ", ")), nil
	}
	return formatMemories(entries), nil
}

// RecentMemoriesTool retrieves the owner's most recent memories with no
// topic filter, still bounded by limit at the store boundary.
type RecentMemoriesTool struct {
	defaultLimit int
}

// NewRecentMemoriesTool constructs the recency-ordered recall tool.
func NewRecentMemoriesTool(defaultLimit int) *RecentMemoriesTool {
	if defaultLimit <= 0 {
		defaultLimit = 5
	}
	return &RecentMemoriesTool{defaultLimit: defaultLimit}
}

// Name implements Tool.
func (t *RecentMemoriesTool) Name() string { return directive.ToolRecentMemories }

// Description implements Tool.
func (t *RecentMemoriesTool) Description() string {
	return "Get the most recent lasting facts about the user, without topic filtering."
}

// Parameters implements Tool.
func (t *RecentMemoriesTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{
				"type":        "integer",
				"description": "Number of recent memories to return",
			},
		},
	}
}

// Call implements Tool.
func (t *RecentMemoriesTool) Call(rc *core.RunContext, args map[string]any) (any, error) {
	limit := t.defaultLimit
	if v, ok := args["limit"].(float64); ok && int(v) > 0 {
		limit = int(v)
	}

	entries, err := rc.SearchMemory(nil, limit)
	if err != nil {
		return nil, &ToolError{Tool: t.Name(), Message: err.Error(), Code: "EXECUTION_ERROR"}
	}
	if len(entries) == 0 {
		return "No memories found for this user.", nil
	}
	return formatMemories(entries), nil
}

func formatMemories(entries []core.MemoryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		topics := "general"
		if len(e.Topics) > 0 {
			topics = strings.Join(e.Topics, ", ")
		}
		lines = append(lines, fmt.Sprintf("- %s (topics: %s)", e.Content, topics))
	}
	return strings.Join(lines, "\n")
}

func toStringSlice(v any) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
