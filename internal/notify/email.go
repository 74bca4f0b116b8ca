package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// EmailConfig describes the SMTP relay and recipients.
type EmailConfig struct {
	Host     string   `json:"host" mapstructure:"host"`
	Port     int      `json:"port" mapstructure:"port"`
	From     string   `json:"from" mapstructure:"from"`
	To       []string `json:"to" mapstructure:"to"`
	Username string   `json:"username" mapstructure:"username"`
	Password string   `json:"password" mapstructure:"password"`
}

// EmailChannel delivers events over SMTP.
type EmailChannel struct {
	cfg EmailConfig
	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg, send: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Configured() bool {
	return c.cfg.Host != "" && c.cfg.From != "" && len(c.cfg.To) > 0
}

func (c *EmailChannel) Send(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	port := c.cfg.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", port))
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	msg := buildMessage(c.cfg.From, c.cfg.To, e)
	return c.send(addr, auth, c.cfg.From, c.cfg.To, msg)
}

func buildMessage(from string, to []string, e Event) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(e.Body)
	fmt.Fprintf(&b, "\r\n\r\nservice: %s\r\nconsecutive failures: %d\r\ntime: %s\r\n",
		e.Service, e.Failures, e.Timestamp.Format("2006-01-02 15:04:05 MST"))
	return []byte(b.String())
}
