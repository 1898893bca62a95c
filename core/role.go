package core

// Task is the unit of work handed to a Role. Context carries the completed
// outputs of earlier pipeline stages so stage i+1 can build on stage i.
type Task struct {
	Input   string
	Context []string
}

// Result is the outcome of executing a Role.
//
// SuggestDeep marks a quick-mode answer in which the coordinator judged the
// query too complex for direct handling and is offering a switch to deep
// mode. Mode switching is always user-confirmed, never autonomous.
//
// Partial marks a deep-mode answer synthesized from an incomplete pipeline.
type Result struct {
	Output      string
	SuggestDeep bool
	Partial     bool
}

// Role is implemented by every processing unit in Ensemble: leaf workers that
// perform one sub-task and coordinators that delegate to other roles. Because
// a coordinator is itself a Role it can be registered as a worker of another
// coordinator, giving recursive teams-of-teams without special-casing.
//
// Implementations must:
//   - Respect cancellation of the RunContext for graceful shutdown
//   - Emit streaming events through the RunContext where applicable
//   - Hold no per-request mutable state on the receiver; everything
//     request-scoped flows through the RunContext and Task
type Role interface {
	Name() string
	Description() string
	CapabilityTags() []string
	Execute(rc *RunContext, task Task) (Result, error)
}

// RoleInfo carries identifying details about a role used in contexts & events.
// Name is the external identifier; Kind categorizes the implementation
// (e.g. "coordinator", "worker").
type RoleInfo struct{ Name, Kind string }
