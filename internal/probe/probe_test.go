package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckSucceedsFirstAttempt(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	res, err := New(time.Second).Check(context.Background(), ts.URL+"/health", 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.OK || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCheckRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	res, err := New(time.Second).Check(context.Background(), ts.URL+"/health", 5, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.OK || res.Attempts != 3 {
		t.Fatalf("expected success on attempt 3, got %+v", res)
	}
}

func TestCheckReportsEveryAttempt(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	p := New(time.Second)
	var seen []bool
	p.OnAttempt = func(ok bool) { seen = append(seen, ok) }

	res, err := p.Check(context.Background(), ts.URL+"/health", 5, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	want := []bool{false, false, true}
	if len(seen) != len(want) {
		t.Fatalf("expected %d attempt callbacks, got %v", len(want), seen)
	}
	for i, ok := range want {
		if seen[i] != ok {
			t.Fatalf("attempt %d: got %v want %v", i+1, seen[i], ok)
		}
	}
}

func TestCheckExhaustsAttempts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	res, err := New(time.Second).Check(context.Background(), ts.URL+"/health", 4, time.Millisecond)
	if err != nil {
		t.Fatalf("exhausted attempts should not be an error: %v", err)
	}
	if res.OK || res.Attempts != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCheckUnreachableEndpoint(t *testing.T) {
	res, err := New(200*time.Millisecond).Check(context.Background(), "http://127.0.0.1:1/health", 2, time.Millisecond)
	if err != nil {
		t.Fatalf("connection refusal should not be an error: %v", err)
	}
	if res.OK {
		t.Fatalf("unreachable endpoint reported healthy")
	}
}

func TestCheckHonorsCancellation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(time.Second).Check(ctx, ts.URL+"/health", 10, time.Second)
	if err == nil {
		t.Fatalf("expected context error")
	}
}
