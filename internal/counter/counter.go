// Package counter tracks consecutive run failures across invocations. The
// count is the single source of truth for escalation tier, so every read
// goes to durable storage and every write must be atomic.
package counter

import "errors"

// ErrPersistence marks a failed durable write. Escalation state must not
// silently degrade, so callers treat it as fatal.
var ErrPersistence = errors.New("counter persistence failure")

// Store is a durable non-negative counter.
// Current returns 0 for missing or unreadable storage and never fails on
// reads. Increment and Reset rewrite storage atomically.
type Store interface {
	Current() (int, error)
	Increment() (int, error)
	Reset() error
	Close() error
}
