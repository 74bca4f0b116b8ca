package notify

import (
	"context"
	"fmt"
	"os/exec"
)

// DesktopConfig enables desktop popups via a notify-send compatible binary.
type DesktopConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Command string `json:"command" mapstructure:"command"` // defaults to notify-send
}

// DesktopChannel shells out to notify-send for operator desktops.
type DesktopChannel struct {
	cfg DesktopConfig
	// runner is swappable for tests; defaults to running the command.
	runner func(ctx context.Context, name string, args ...string) error
}

func NewDesktopChannel(cfg DesktopConfig) *DesktopChannel {
	if cfg.Command == "" {
		cfg.Command = "notify-send"
	}
	return &DesktopChannel{
		cfg: cfg,
		runner: func(ctx context.Context, name string, args ...string) error {
			// #nosec G204 -- command comes from operator config, not request input
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (c *DesktopChannel) Name() string { return "desktop" }

func (c *DesktopChannel) Configured() bool {
	if !c.cfg.Enabled {
		return false
	}
	_, err := exec.LookPath(c.cfg.Command)
	return err == nil
}

func (c *DesktopChannel) Send(ctx context.Context, e Event) error {
	urgency := "normal"
	switch e.Tier {
	case TierUrgent:
		urgency = "critical"
	case TierSilent:
		urgency = "low"
	}
	body := fmt.Sprintf("%s\n%s", e.Body, e.Timestamp.Format("2006-01-02 15:04:05"))
	return c.runner(ctx, c.cfg.Command, "-u", urgency, "-a", "vigil", e.Subject, body)
}
