// Package runner implements the submit surface of Ensemble.
//
// The Runner turns an inbound request (owner, optional session id, message,
// mode flag) into an immutable per-request execution scope: it resolves the
// session idempotently, resolves and persists the execution mode, composes
// the request's ExecutionConfig, runs the root coordinator on its own
// goroutine, and streams events back to the caller. After the terminal event
// is delivered it schedules background enrichment (conversation naming,
// memory extraction) fire-and-forget.
//
// Public methods are safe for concurrent use; nothing request-scoped is held
// on the Runner itself.
package runner
