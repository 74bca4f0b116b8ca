package notify

import (
	"context"
	"log/slog"
)

// SystemLogChannel writes the event into the structured run log. It is
// always configured and serves as the floor every notification reaches even
// when external channels are down.
type SystemLogChannel struct{}

func NewSystemLogChannel() *SystemLogChannel { return &SystemLogChannel{} }

func (c *SystemLogChannel) Name() string { return "syslog" }

func (c *SystemLogChannel) Configured() bool { return true }

func (c *SystemLogChannel) Send(_ context.Context, e Event) error {
	attrs := []any{
		"service", e.Service,
		"tier", string(e.Tier),
		"failures", e.Failures,
		"body", e.Body,
	}
	switch e.Tier {
	case TierUrgent:
		slog.Error(e.Subject, attrs...)
	case TierWarning:
		slog.Warn(e.Subject, attrs...)
	default:
		slog.Info(e.Subject, attrs...)
	}
	return nil
}
