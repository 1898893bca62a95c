package core

import "strings"

// Mode selects the execution strategy for one request. The set is closed:
// every request resolves to exactly one of these.
type Mode int

const (
	// QuickMode answers directly using the coordinator's own tool-calling
	// ability, with no delegation.
	QuickMode Mode = iota
	// DeepMode delegates through a sequential worker pipeline before
	// synthesizing one combined response.
	DeepMode
)

// String returns the mode's wire label.
func (m Mode) String() string {
	if m == DeepMode {
		return "deep"
	}
	return "quick"
}

// ExecutionConfig is the fully-formed behavior configuration for exactly one
// request. It is composed fresh per request and discarded when the run
// completes; it is never persisted and never shared by reference across two
// concurrent requests. All directive blocks are plain data (static text
// concatenated by the composer, never runtime-generated code), so the value
// stays usable across any process boundary.
type ExecutionConfig struct {
	Mode           Mode
	BaseDirectives []string
	ModeDirectives []string
	UserDirectives []string
	ActiveTools    []string
}

// Instructions joins all directive blocks, base first, into the single
// instruction text handed to the inference provider.
func (c *ExecutionConfig) Instructions() string {
	blocks := make([]string, 0, len(c.BaseDirectives)+len(c.ModeDirectives)+len(c.UserDirectives))
	blocks = append(blocks, c.BaseDirectives...)
	blocks = append(blocks, c.ModeDirectives...)
	blocks = append(blocks, c.UserDirectives...)
	return strings.Join(blocks, "\n\n")
}

// ToolActive reports whether the named tool is enabled for this request.
func (c *ExecutionConfig) ToolActive(name string) bool {
	for _, t := range c.ActiveTools {
		if t == name {
			return true
		}
	}
	return false
}
