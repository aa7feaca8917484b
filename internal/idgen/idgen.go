// Package idgen centralizes UUID generation for every identifier the engine
// mints at runtime: task, attempt, claim, event and trace IDs. Centralizing
// it in one package, rather than calling uuid.NewString() at each call
// site, keeps every ID-producing path on a single implementation.
package idgen

import "github.com/google/uuid"

// New returns a fresh random UUID string, used for task_id, attempt_id,
// claim_id and event_id.
func New() string {
	return uuid.NewString()
}

// NewTraceID returns a fresh UUID string used to correlate every LogEvent
// belonging to a single attempt (spec GLOSSARY: Trace ID).
func NewTraceID() string {
	return uuid.NewString()
}
