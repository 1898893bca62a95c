// Package core provides the foundational domain types, interfaces and execution
// contexts used by Ensemble. It defines the core abstractions for:
//
//   - Roles (coordinators and workers share one interface, enabling
//     teams-of-teams delegation without special-casing)
//   - Sessions (durable, owner-scoped conversation records)
//   - Memory entries (durable, topic-tagged facts with filtered retrieval)
//   - Events (the streaming protocol between a run and its caller)
//   - RunContext (the per-request execution scope)
//   - ExecutionConfig (the immutable, per-request composed behavior)
//
// The package intentionally keeps implementation concerns (persistence,
// concrete roles, model providers) out of scope, exposing small interfaces so
// backends can be swapped without touching orchestration code.
package core
