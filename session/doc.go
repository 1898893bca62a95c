// Package session houses concrete implementations of core.SessionStore. The
// interface and the Session struct live in core so higher level packages
// (agent, runner, host) never depend on a concrete backend; only the wiring
// layer decides which implementation to instantiate.
//
// Three backends are provided: a process-local store for tests and demos, a
// SQLite store for single-node durability, and a Redis store for shared
// deployments. All three apply merge-update semantics at the store boundary
// and retry conflicting writes once before surfacing core.ErrStoreConflict.
package session
