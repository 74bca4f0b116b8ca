// Package escalation turns failure and success signals from the external
// trigger into durable counter updates and notification dispatch. The
// counter value is the only input to tier selection.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loykin/vigil/internal/counter"
	"github.com/loykin/vigil/internal/history"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/notify"
)

// DefaultCriticalThreshold is the consecutive-failure count at which the
// controller logs a distinct marker inviting manual intervention. Advisory
// only: runs are never disabled automatically.
const DefaultCriticalThreshold = 5

// Rule maps a minimum consecutive-failure count to a tier.
type Rule struct {
	Min  int
	Tier notify.Tier
}

// Table is an ordered tier table evaluated once per increment. Rules must
// be sorted by ascending Min; the last rule whose Min is <= count wins.
type Table []Rule

// DefaultTable implements the 1=silent, 2=warning, >2=urgent ladder.
func DefaultTable() Table {
	return Table{
		{Min: 1, Tier: notify.TierSilent},
		{Min: 2, Tier: notify.TierWarning},
		{Min: 3, Tier: notify.TierUrgent},
	}
}

// NewTable validates and sorts rules into an evaluation-ready table.
func NewTable(rules []Rule) (Table, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("escalation table needs at least one rule")
	}
	t := make(Table, len(rules))
	copy(t, rules)
	sort.SliceStable(t, func(i, j int) bool { return t[i].Min < t[j].Min })
	for i := 1; i < len(t); i++ {
		if t[i].Min == t[i-1].Min {
			return nil, fmt.Errorf("duplicate escalation rule for min=%d", t[i].Min)
		}
	}
	return t, nil
}

// TierFor returns the tier for a failure count of at least 1.
func (t Table) TierFor(count int) notify.Tier {
	tier := notify.TierSilent
	for _, r := range t {
		if count >= r.Min {
			tier = r.Tier
		}
	}
	return tier
}

// Controller is the trigger-facing escalation surface. OnFailure and
// OnSuccess are the only two ways escalation state changes.
type Controller struct {
	store      counter.Store
	dispatcher *notify.Dispatcher
	table      Table
	critical   int
	sinks      []history.Sink
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithTable overrides the default tier table.
func WithTable(t Table) Option { return func(c *Controller) { c.table = t } }

// WithCriticalThreshold overrides the advisory critical threshold.
func WithCriticalThreshold(n int) Option { return func(c *Controller) { c.critical = n } }

// WithHistory adds audit sinks for escalation and recovery events.
func WithHistory(sinks ...history.Sink) Option {
	return func(c *Controller) { c.sinks = append(c.sinks, sinks...) }
}

func NewController(store counter.Store, d *notify.Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		dispatcher: d,
		table:      DefaultTable(),
		critical:   DefaultCriticalThreshold,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Result reports the counter value and tier an OnFailure call produced.
type Result struct {
	Failures int
	Tier     notify.Tier
}

// OnFailure records one failed run: it increments the durable counter,
// derives the tier, and dispatches for warning and urgent tiers. A counter
// write failure is fatal; notification failures are not.
func (c *Controller) OnFailure(ctx context.Context, serviceID string) (Result, error) {
	n, err := c.store.Increment()
	if err != nil {
		return Result{}, fmt.Errorf("record failure for %s: %w", serviceID, err)
	}
	tier := c.table.TierFor(n)
	metrics.SetConsecutiveFailures(serviceID, n)
	metrics.IncEscalation(serviceID, string(tier))

	slog.Warn("run failure recorded", "service", serviceID, "consecutive_failures", n, "tier", string(tier))
	if n >= c.critical && c.critical > 0 {
		slog.Error("CRITICAL: consecutive failure threshold reached, manual intervention advised",
			"service", serviceID, "consecutive_failures", n, "threshold", c.critical)
	}

	event := c.buildEvent(serviceID, tier, n)
	c.audit(ctx, history.EventEscalation, history.Record{
		Service: serviceID, Tier: string(tier), Failures: n,
	})

	if tier == notify.TierSilent {
		// First failure of a streak is assumed possibly transient.
		slog.Info("first failure of streak, no external notification", "service", serviceID)
		return Result{Failures: n, Tier: tier}, nil
	}
	c.dispatcher.Dispatch(ctx, event)
	return Result{Failures: n, Tier: tier}, nil
}

// OnSuccess records one clean run. With a positive counter it emits exactly
// one recovery notice and resets to zero; at zero it is a no-op. It returns
// the streak length that was cleared.
func (c *Controller) OnSuccess(ctx context.Context, serviceID string) (int, error) {
	n, err := c.store.Current()
	if err != nil {
		return 0, fmt.Errorf("read failure counter for %s: %w", serviceID, err)
	}
	if n == 0 {
		return 0, nil
	}

	slog.Info("service recovered", "service", serviceID, "previous_failures", n)
	metrics.IncEscalation(serviceID, "recovery")

	event := notify.Event{
		Type:      notify.EventRecovery,
		Tier:      notify.TierWarning,
		Service:   serviceID,
		Failures:  n,
		Timestamp: c.now(),
		Subject:   fmt.Sprintf("%s recovered", serviceID),
		Body:      fmt.Sprintf("service %s completed a clean run after %d consecutive failure(s); failure counter reset", serviceID, n),
	}
	c.dispatcher.Dispatch(ctx, event)
	c.audit(ctx, history.EventRecovery, history.Record{Service: serviceID, Failures: n})

	if err := c.store.Reset(); err != nil {
		return 0, fmt.Errorf("reset failure counter for %s: %w", serviceID, err)
	}
	metrics.SetConsecutiveFailures(serviceID, 0)
	return n, nil
}

// Current exposes the durable counter for status surfaces.
func (c *Controller) Current() (int, error) { return c.store.Current() }

func (c *Controller) buildEvent(serviceID string, tier notify.Tier, n int) notify.Event {
	var subject, body string
	switch tier {
	case notify.TierUrgent:
		subject = fmt.Sprintf("URGENT: %s failing repeatedly", serviceID)
		body = fmt.Sprintf("service %s has failed %d consecutive runs", serviceID, n)
	case notify.TierWarning:
		subject = fmt.Sprintf("warning: %s failed again", serviceID)
		body = fmt.Sprintf("service %s has failed %d consecutive runs", serviceID, n)
	default:
		subject = fmt.Sprintf("%s run failed", serviceID)
		body = fmt.Sprintf("first failure for service %s, possibly transient", serviceID)
	}
	return notify.Event{
		Type:      notify.EventFailure,
		Tier:      tier,
		Service:   serviceID,
		Failures:  n,
		Timestamp: c.now(),
		Subject:   subject,
		Body:      body,
	}
}

func (c *Controller) audit(ctx context.Context, typ history.EventType, rec history.Record) {
	for _, s := range c.sinks {
		if err := s.Send(ctx, history.Event{Type: typ, OccurredAt: c.now().UTC(), Record: rec}); err != nil {
			slog.Warn("history sink append failed", "event", string(typ), "error", err)
		}
	}
}
