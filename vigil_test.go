package vigil

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestFacadeRunAndEscalate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix shell children")
	}
	dir := t.TempDir()
	sup := NewSupervisor(Spec{
		Name:        "demo",
		Command:     "sleep 0.2",
		PIDFile:     filepath.Join(dir, "demo.pid"),
		SettleDelay: 50 * time.Millisecond,
		GracePeriod: 300 * time.Millisecond,
	})
	out := sup.Run(context.Background())
	if !out.Success {
		t.Fatalf("run: %s", out.Reason)
	}

	store, err := NewCounterStore(filepath.Join(dir, "failures"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	esc := NewEscalator(store)
	res, err := esc.OnFailure(context.Background(), "demo")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failures != 1 {
		t.Fatalf("failures = %d", res.Failures)
	}
	cleared, err := esc.OnSuccess(context.Background(), "demo")
	if err != nil || cleared != 1 {
		t.Fatalf("cleared=%d err=%v", cleared, err)
	}
	if n, _ := esc.Failures(); n != 0 {
		t.Fatalf("counter = %d", n)
	}
}

func TestFacadeHistorySink(t *testing.T) {
	sink, err := NewHistorySink("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
}
