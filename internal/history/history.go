// Package history appends run outcomes and escalation decisions to an audit
// sink. Sinks are best-effort: a failed append is logged by the caller and
// never affects the run or the escalation state.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of audit event.
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventRunFinished EventType = "run_finished"
	EventEscalation  EventType = "escalation"
	EventRecovery    EventType = "recovery"
)

// Record carries the event details. Fields not applicable to an event kind
// stay zero.
type Record struct {
	Service   string    `json:"service"`
	PID       int       `json:"pid,omitempty"`
	Outcome   string    `json:"outcome,omitempty"` // success | failure
	Reason    string    `json:"reason,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Failures  int       `json:"failures,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
}

// Event is one audit entry.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for audit events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
