// Package memory contains concrete core.MemoryStore implementations plus
// the topic vocabulary used to tag entries. Depend on core.MemoryStore in
// calling code and select an implementation at wiring time.
//
// The store contract filters by topic overlap at the query boundary: an
// owner's full memory set is never loaded into a caller's working context.
package memory
