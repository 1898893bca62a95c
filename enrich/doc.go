// Package enrich runs background enrichment over completed conversation
// turns: work that improves future requests but must never delay or fail the
// request that triggered it. Tasks run on detached goroutines with panic
// recovery; their errors are logged and dropped, never surfaced to callers.
package enrich
