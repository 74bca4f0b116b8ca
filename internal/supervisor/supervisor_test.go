package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses unix shell children")
	}
}

func testSpec(t *testing.T, command string) Spec {
	t.Helper()
	dir := t.TempDir()
	return Spec{
		Name:        "demo",
		Command:     command,
		Port:        0,
		PIDFile:     filepath.Join(dir, "demo.pid"),
		LockFile:    filepath.Join(dir, "demo.lock"),
		StatusFile:  filepath.Join(dir, "demo.status.json"),
		Timeout:     30 * time.Second,
		SettleDelay: 100 * time.Millisecond,
		GracePeriod: 300 * time.Millisecond,
	}
}

func TestRunNaturalExitSuccess(t *testing.T) {
	skipOnWindows(t)
	spec := testSpec(t, "sleep 0.3")
	out := New(spec).Run(context.Background())
	if !out.Success {
		t.Fatalf("expected success, got reason %q", out.Reason)
	}
	if out.FinalState != "stopped" {
		t.Fatalf("final state = %q", out.FinalState)
	}
	if _, err := os.Stat(spec.PIDFile); !os.IsNotExist(err) {
		t.Fatalf("pid file not removed: %v", err)
	}
}

func TestRunNaturalExitFailure(t *testing.T) {
	skipOnWindows(t)
	spec := testSpec(t, "/bin/sh -c 'sleep 0.3; exit 3'")
	out := New(spec).Run(context.Background())
	if out.Success {
		t.Fatal("expected failure for nonzero exit")
	}
	if !strings.Contains(out.Reason, "exited") {
		t.Fatalf("reason = %q", out.Reason)
	}
	if _, err := os.Stat(spec.PIDFile); !os.IsNotExist(err) {
		t.Fatal("pid file not removed")
	}
}

func TestRunStartupDeath(t *testing.T) {
	skipOnWindows(t)
	spec := testSpec(t, "/bin/sh -c 'exit 7'")
	out := New(spec).Run(context.Background())
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Reason, ErrStartup.Error()) {
		t.Fatalf("reason = %q", out.Reason)
	}
}

func TestRunTimeoutTerminates(t *testing.T) {
	skipOnWindows(t)
	spec := testSpec(t, "sleep 60")
	spec.Timeout = 300 * time.Millisecond
	start := time.Now()
	out := New(spec).Run(context.Background())
	if out.Success {
		t.Fatal("timeout run must not report success")
	}
	if !strings.Contains(out.Reason, "timeout") {
		t.Fatalf("reason = %q", out.Reason)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("termination took too long: %s", elapsed)
	}
	if _, err := os.Stat(spec.PIDFile); !os.IsNotExist(err) {
		t.Fatal("pid file not removed after timeout")
	}
}

func TestRunInterrupted(t *testing.T) {
	skipOnWindows(t)
	spec := testSpec(t, "sleep 60")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(400 * time.Millisecond)
		cancel()
	}()
	out := New(spec).Run(ctx)
	if out.Success {
		t.Fatal("interrupted run must not report success")
	}
	if !strings.Contains(out.Reason, "interrupted") {
		t.Fatalf("reason = %q", out.Reason)
	}
	if _, err := os.Stat(spec.PIDFile); !os.IsNotExist(err) {
		t.Fatal("pid file not removed after interrupt")
	}
}

func TestRunHealthFailureIsNotFatal(t *testing.T) {
	skipOnWindows(t)
	// Nothing listens on the probed port; the run still completes.
	spec := testSpec(t, "sleep 0.5")
	spec.Port = freePort(t)
	spec.Health = HealthSpec{Path: "/health", Attempts: 2, Interval: 50 * time.Millisecond, RequestTimeout: 100 * time.Millisecond}
	out := New(spec).Run(context.Background())
	if !out.Success {
		t.Fatalf("expected success despite failed health check, got %q", out.Reason)
	}
	if out.HealthOK {
		t.Fatal("health should not have succeeded")
	}
	if out.HealthAttempts != 2 {
		t.Fatalf("attempts = %d", out.HealthAttempts)
	}
}

func TestRunHealthSucceeds(t *testing.T) {
	skipOnWindows(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := srv.Listener.Addr().(*net.TCPAddr)

	spec := testSpec(t, "sleep 0.5")
	spec.Host = addr.IP.String()
	spec.Port = addr.Port
	spec.Health = HealthSpec{Path: "/health", Attempts: 3, Interval: 50 * time.Millisecond}
	out := New(spec).Run(context.Background())
	if !out.Success || !out.HealthOK {
		t.Fatalf("success=%v healthOK=%v reason=%q", out.Success, out.HealthOK, out.Reason)
	}
}

func TestMissingBinaryFailsEarly(t *testing.T) {
	spec := testSpec(t, "definitely-not-a-real-binary-xyz --flag")
	out := New(spec).Run(context.Background())
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Reason, ErrEnvironment.Error()) {
		t.Fatalf("reason = %q", out.Reason)
	}
	if _, err := os.Stat(spec.StatusFile); err != nil {
		t.Fatalf("status file should still be written: %v", err)
	}
}

func TestMissingWorkDirFailsEarly(t *testing.T) {
	skipOnWindows(t)
	spec := testSpec(t, "sleep 0.1")
	spec.WorkDir = filepath.Join(t.TempDir(), "nope")
	out := New(spec).Run(context.Background())
	if out.Success || !strings.Contains(out.Reason, ErrEnvironment.Error()) {
		t.Fatalf("success=%v reason=%q", out.Success, out.Reason)
	}
}

func TestRunLockBlocksSecondRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	unlock, err := acquireRunLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := acquireRunLock(path); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second acquire err = %v", err)
	}
	unlock()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("unlock did not remove lock file")
	}
	unlock2, err := acquireRunLock(path)
	if err != nil {
		t.Fatalf("reacquire after unlock: %v", err)
	}
	unlock2()
}

func TestRunLockBreaksDeadOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	// A PID far beyond pid_max cannot belong to a live process.
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", 1<<30)), 0o600); err != nil {
		t.Fatal(err)
	}
	unlock, err := acquireRunLock(path)
	if err != nil {
		t.Fatalf("stale lock not broken: %v", err)
	}
	unlock()
}

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "status.json")
	out := Outcome{Success: true, PID: 42, StartedAt: time.Now().Add(-time.Minute), StoppedAt: time.Now(), FinalState: "stopped"}
	if err := writeStatus(path, "demo", out); err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := ReadStatus(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if st.Service != "demo" || !st.Outcome.Success || st.Outcome.PID != 42 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestBuildCommandShellDetection(t *testing.T) {
	cases := []struct {
		in        string
		wantShell bool
	}{
		{"sleep 1", false},
		{"echo hi && echo bye", true},
		{"/bin/sh -c 'sleep 1'", true},
		{"env FOO=1 sleep 1", false},
	}
	for _, c := range cases {
		cmd := buildCommand(c.in)
		isShell := cmd.Path == "/bin/sh" || filepath.Base(cmd.Path) == "sh"
		if isShell != c.wantShell {
			t.Errorf("buildCommand(%q) path=%q wantShell=%v", c.in, cmd.Path, c.wantShell)
		}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}
