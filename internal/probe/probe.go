// Package probe checks that a started service answers on its health
// endpoint. Attempts are bounded with a fixed interval between them; the
// probe never mutates anything beyond logging each attempt.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Result is the transient outcome of one startup health-check sequence.
type Result struct {
	OK       bool
	Attempts int
}

// Prober polls an HTTP endpoint until it answers with a success status or
// the attempt budget is exhausted.
type Prober struct {
	client *http.Client

	// OnAttempt, when set, is called once per request with that
	// attempt's outcome.
	OnAttempt func(ok bool)
}

// New returns a Prober whose individual requests time out after reqTimeout.
func New(reqTimeout time.Duration) *Prober {
	if reqTimeout <= 0 {
		reqTimeout = 5 * time.Second
	}
	return &Prober{client: &http.Client{Timeout: reqTimeout}}
}

// Check polls endpoint up to maxAttempts times, sleeping interval between
// attempts (no backoff growth). A 2xx response is success. Context
// cancellation stops polling early and returns the context error.
func (p *Prober) Check(ctx context.Context, endpoint string, maxAttempts int, interval time.Duration) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	res := Result{}
	for i := 1; i <= maxAttempts; i++ {
		res.Attempts = i
		ok, err := p.once(ctx, endpoint)
		if p.OnAttempt != nil {
			p.OnAttempt(ok)
		}
		if ok {
			res.OK = true
			slog.Info("health check passed", "endpoint", endpoint, "attempt", i)
			return res, nil
		}
		slog.Info("health check attempt failed", "endpoint", endpoint, "attempt", i, "max_attempts", maxAttempts, "error", err)
		if i == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(interval):
		}
	}
	return res, nil
}

func (p *Prober) once(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, nil
	}
	return false, fmt.Errorf("status %d", resp.StatusCode)
}
