package escalation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/loykin/vigil/internal/counter"
	"github.com/loykin/vigil/internal/notify"
)

type recordingChannel struct {
	events []notify.Event
}

func (r *recordingChannel) Name() string     { return "recorder" }
func (r *recordingChannel) Configured() bool { return true }
func (r *recordingChannel) Send(_ context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return nil
}

func newTestController(t *testing.T) (*Controller, *recordingChannel, counter.Store) {
	t.Helper()
	store := counter.NewFileStore(filepath.Join(t.TempDir(), "failures"))
	ch := &recordingChannel{}
	c := NewController(store, notify.NewDispatcher(ch))
	return c, ch, store
}

func TestTierTable(t *testing.T) {
	tbl := DefaultTable()
	cases := []struct {
		count int
		want  notify.Tier
	}{
		{1, notify.TierSilent},
		{2, notify.TierWarning},
		{3, notify.TierUrgent},
		{7, notify.TierUrgent},
	}
	for _, tc := range cases {
		if got := tbl.TierFor(tc.count); got != tc.want {
			t.Fatalf("tier(%d) = %s want %s", tc.count, got, tc.want)
		}
	}
}

func TestFirstFailureIsSilent(t *testing.T) {
	c, ch, store := newTestController(t)
	res, err := c.OnFailure(context.Background(), "demo")
	if err != nil {
		t.Fatalf("onFailure: %v", err)
	}
	if res.Failures != 1 || res.Tier != notify.TierSilent {
		t.Fatalf("result = %+v", res)
	}
	if n, _ := store.Current(); n != 1 {
		t.Fatalf("count %d want 1", n)
	}
	if len(ch.events) != 0 {
		t.Fatalf("silent tier must not dispatch, got %d events", len(ch.events))
	}
}

func TestConsecutiveFailuresEscalate(t *testing.T) {
	c, ch, store := newTestController(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := c.OnFailure(ctx, "demo"); err != nil {
			t.Fatalf("onFailure %d: %v", i+1, err)
		}
	}
	if n, _ := store.Current(); n != 4 {
		t.Fatalf("count %d want 4", n)
	}
	// failure 1 silent; failures 2..4 dispatched
	if len(ch.events) != 3 {
		t.Fatalf("expected 3 dispatched events, got %d", len(ch.events))
	}
	if ch.events[0].Tier != notify.TierWarning || ch.events[0].Failures != 2 {
		t.Fatalf("second failure should be warning: %+v", ch.events[0])
	}
	for _, e := range ch.events[1:] {
		if e.Tier != notify.TierUrgent {
			t.Fatalf("failures beyond 2 should be urgent: %+v", e)
		}
	}
}

func TestSuccessResetsAndNotifiesOnce(t *testing.T) {
	c, ch, store := newTestController(t)
	ctx := context.Background()

	_, _ = c.OnFailure(ctx, "demo")
	_, _ = c.OnFailure(ctx, "demo")
	dispatched := len(ch.events)

	cleared, err := c.OnSuccess(ctx, "demo")
	if err != nil {
		t.Fatalf("onSuccess: %v", err)
	}
	if cleared != 2 {
		t.Fatalf("cleared = %d want 2", cleared)
	}
	if n, _ := store.Current(); n != 0 {
		t.Fatalf("counter not reset: %d", n)
	}
	recovered := ch.events[dispatched:]
	if len(recovered) != 1 || recovered[0].Type != notify.EventRecovery {
		t.Fatalf("expected exactly one recovery event, got %+v", recovered)
	}
	if recovered[0].Failures != 2 {
		t.Fatalf("recovery should carry prior failure count, got %d", recovered[0].Failures)
	}
}

func TestSuccessAtZeroIsNoop(t *testing.T) {
	c, ch, _ := newTestController(t)
	if cleared, err := c.OnSuccess(context.Background(), "demo"); err != nil || cleared != 0 {
		t.Fatalf("onSuccess: cleared=%d err=%v", cleared, err)
	}
	if len(ch.events) != 0 {
		t.Fatalf("no events expected at zero, got %d", len(ch.events))
	}
}

func TestSuccessIdempotent(t *testing.T) {
	c, ch, _ := newTestController(t)
	ctx := context.Background()
	_, _ = c.OnFailure(ctx, "demo")
	_, _ = c.OnFailure(ctx, "demo")
	if _, err := c.OnSuccess(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	before := len(ch.events)
	if _, err := c.OnSuccess(ctx, "demo"); err != nil {
		t.Fatal(err)
	}
	if len(ch.events) != before {
		t.Fatalf("second success must not emit again")
	}
}

func TestCustomTable(t *testing.T) {
	store := counter.NewFileStore(filepath.Join(t.TempDir(), "failures"))
	ch := &recordingChannel{}
	tbl := Table{
		{Min: 1, Tier: notify.TierWarning},
		{Min: 3, Tier: notify.TierUrgent},
	}
	c := NewController(store, notify.NewDispatcher(ch), WithTable(tbl))
	if _, err := c.OnFailure(context.Background(), "demo"); err != nil {
		t.Fatal(err)
	}
	if len(ch.events) != 1 || ch.events[0].Tier != notify.TierWarning {
		t.Fatalf("custom table not honored: %+v", ch.events)
	}
}

type brokenStore struct{}

func (brokenStore) Current() (int, error)   { return 0, nil }
func (brokenStore) Increment() (int, error) { return 0, counter.ErrPersistence }
func (brokenStore) Reset() error            { return counter.ErrPersistence }
func (brokenStore) Close() error            { return nil }

func TestPersistenceFailureIsFatal(t *testing.T) {
	c := NewController(brokenStore{}, notify.NewDispatcher())
	_, err := c.OnFailure(context.Background(), "demo")
	if !errors.Is(err, counter.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}
