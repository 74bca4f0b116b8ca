package factory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/vigil/internal/history"
)

func TestNewSinkFromDSNSQLite(t *testing.T) {
	for _, dsn := range []string{
		filepath.Join(t.TempDir(), "audit.db"),
		"sqlite://" + filepath.Join(t.TempDir(), "audit.db"),
	} {
		sink, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		e := history.Event{Type: history.EventRunFinished, OccurredAt: time.Now().UTC(), Record: history.Record{Service: "demo", Outcome: "success"}}
		if err := sink.Send(context.Background(), e); err != nil {
			t.Fatalf("send: %v", err)
		}
		_ = sink.Close()
	}
}

func TestNewSinkFromDSNErrors(t *testing.T) {
	cases := []string{"", "redis://localhost:6379", "kafka://broker:9092"}
	for _, dsn := range cases {
		if _, err := NewSinkFromDSN(dsn); err == nil {
			t.Fatalf("dsn %q: expected error", dsn)
		}
	}
}
