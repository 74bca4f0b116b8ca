package counter

import (
	"path/filepath"
	"testing"
)

func TestSQLiteStoreLifecycle(t *testing.T) {
	s, err := NewSQLiteStore("sqlite://" + filepath.Join(t.TempDir(), "counter.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	if n, _ := s.Current(); n != 0 {
		t.Fatalf("fresh store should read 0, got %d", n)
	}
	for want := 1; want <= 4; want++ {
		got, err := s.Increment()
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("got %d want %d", got, want)
		}
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := s.Current(); n != 0 {
		t.Fatalf("after reset got %d", n)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Increment(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Increment(); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if n, _ := s2.Current(); n != 2 {
		t.Fatalf("counter not durable across invocations: got %d want 2", n)
	}
}

func TestNewFromDSN(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		dsn     string
		wantErr bool
	}{
		{filepath.Join(dir, "failures"), false},
		{"file://" + filepath.Join(dir, "failures2"), false},
		{"sqlite://" + filepath.Join(dir, "c.db"), false},
		{"", true},
		{"redis://localhost", true},
	}
	for _, tc := range cases {
		s, err := NewFromDSN(tc.dsn)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("dsn %q: expected error", tc.dsn)
			}
			continue
		}
		if err != nil {
			t.Fatalf("dsn %q: %v", tc.dsn, err)
		}
		_ = s.Close()
	}
}
