// Package notify fans a notification event out to the configured channels.
// Delivery is best-effort: every channel is attempted, a failing channel is
// logged and never blocks the others, and nothing here can fail a run.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/vigil/internal/metrics"
)

// Tier is the escalation severity derived from the consecutive-failure count.
type Tier string

const (
	TierSilent  Tier = "silent"
	TierWarning Tier = "warning"
	TierUrgent  Tier = "urgent"
)

// ParseTier validates a tier name from configuration.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierSilent, TierWarning, TierUrgent:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// EventType distinguishes failure escalations from recovery notices.
type EventType string

const (
	EventFailure  EventType = "failure"
	EventRecovery EventType = "recovery"
)

// Event is one immutable notification. Built by the escalation controller,
// consumed by the dispatcher.
type Event struct {
	Type      EventType `json:"type"`
	Tier      Tier      `json:"tier"`
	Service   string    `json:"service"`
	Failures  int       `json:"failures"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
}

// Channel is one delivery capability. Implementations must not panic and
// should respect context cancellation.
type Channel interface {
	// Name returns the channel type for logging and metrics.
	Name() string
	// Configured reports whether the channel has a usable target. An
	// unconfigured channel is skipped, not treated as an error.
	Configured() bool
	// Send delivers the event.
	Send(ctx context.Context, e Event) error
}

// Delivery is the per-channel result of one dispatch.
type Delivery struct {
	Channel string
	Skipped bool
	Err     error
}

// Dispatcher fans events out to a fixed channel set.
type Dispatcher struct {
	channels []Channel
}

func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels}
}

// Channels returns the configured channel set.
func (d *Dispatcher) Channels() []Channel { return d.channels }

// Dispatch attempts delivery on every channel unconditionally and returns
// the per-channel results. There is no retry and no rollback; one channel's
// failure never short-circuits the rest.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) []Delivery {
	results := make([]Delivery, 0, len(d.channels))
	for _, ch := range d.channels {
		if !ch.Configured() {
			slog.Info("notification channel not configured, skipping", "channel", ch.Name())
			results = append(results, Delivery{Channel: ch.Name(), Skipped: true})
			continue
		}
		err := ch.Send(ctx, e)
		metrics.IncNotification(ch.Name(), err)
		if err != nil {
			slog.Warn("notification delivery failed", "channel", ch.Name(), "service", e.Service, "error", err)
		} else {
			slog.Info("notification delivered", "channel", ch.Name(), "service", e.Service, "tier", string(e.Tier))
		}
		results = append(results, Delivery{Channel: ch.Name(), Err: err})
	}
	return results
}
