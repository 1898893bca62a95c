// Package tool implements the function / tool calling subsystem that lets
// roles invoke structured capabilities (search, memory recall, computations)
// with schema validated arguments and consistent error handling.
package tool

import (
	"fmt"

	"github.com/mkragh/ensemble/core"
	"github.com/mkragh/ensemble/internal/util"
)

// Tool defines the interface for extending role capabilities with external
// functions.
//
// Tools receive the per-request RunContext so they can reach session state
// and the memory store without any shared mutable fields. Implementations
// should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be safe for concurrent use (no mutable state after construction)
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description returns a human-readable description of what this tool
	// does. It is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with validated arguments and the per-request
	// execution scope.
	Call(rc *core.RunContext, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Definition converts a Tool into the declarative form handed to models.
func Definition(t Tool) map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": t.Description(),
		"parameters":  t.Parameters(),
	}
}
