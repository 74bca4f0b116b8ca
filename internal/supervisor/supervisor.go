// Package supervisor runs one supervised invocation of the service child
// process: start, settle, health-check, bounded wait, terminate. The one
// hard guarantee is that every exit path, interruption included, goes
// through termination and removes the persisted PID record.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/loykin/vigil/internal/history"
	"github.com/loykin/vigil/internal/logger"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/pidfile"
	"github.com/loykin/vigil/internal/probe"
)

// Error taxonomy for one run. Environment and startup errors are fatal for
// the run; health failures are not.
var (
	ErrEnvironment = errors.New("missing runtime environment")
	ErrStartup     = errors.New("service exited during startup")
	ErrRunActive   = errors.New("another run is already active")
)

// Default timings. All overridable through Spec.
const (
	DefaultSettleDelay      = 3 * time.Second
	DefaultGracePeriod      = 10 * time.Second
	DefaultTimeout          = 2 * time.Hour
	DefaultProgressInterval = 30 * time.Minute
	DefaultHealthAttempts   = 5
	DefaultHealthInterval   = 2 * time.Second

	forcedStopWait = 2 * time.Second
	alivePoll      = time.Second
)

// HealthSpec configures the startup health probe. An empty Path degrades
// health-checking to "assume healthy after settle delay".
type HealthSpec struct {
	Path           string        `json:"path" mapstructure:"path"`
	Attempts       int           `json:"attempts" mapstructure:"attempts"`
	Interval       time.Duration `json:"interval" mapstructure:"interval"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// Spec describes one supervised run. All parameters come from external
// configuration; nothing here is hard-coded to a particular service.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"`
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"`
	Env     []string `json:"env" mapstructure:"env"`
	Host    string   `json:"host" mapstructure:"host"`
	Port    int      `json:"port" mapstructure:"port"`

	// Binaries that must resolve on PATH before anything starts. Defaults
	// to the command's own executable.
	Prerequisites []string `json:"prerequisites" mapstructure:"prerequisites"`

	PIDFile    string `json:"pid_file" mapstructure:"pid_file"`
	LockFile   string `json:"lock_file" mapstructure:"lock_file"`
	StatusFile string `json:"status_file" mapstructure:"status_file"`

	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	SettleDelay      time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
	GracePeriod      time.Duration `json:"grace_period" mapstructure:"grace_period"`
	ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`

	Health HealthSpec    `json:"health" mapstructure:"health"`
	Log    logger.Config `json:"log" mapstructure:"log"`
}

func (s *Spec) withDefaults() Spec {
	out := *s
	if out.Host == "" {
		out.Host = "127.0.0.1"
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.SettleDelay <= 0 {
		out.SettleDelay = DefaultSettleDelay
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = DefaultGracePeriod
	}
	if out.ProgressInterval <= 0 {
		out.ProgressInterval = DefaultProgressInterval
	}
	if out.Health.Attempts <= 0 {
		out.Health.Attempts = DefaultHealthAttempts
	}
	if out.Health.Interval <= 0 {
		out.Health.Interval = DefaultHealthInterval
	}
	return out
}

// healthEndpoint returns the absolute URL of the health path, or "".
func (s *Spec) healthEndpoint() string {
	if s.Health.Path == "" {
		return ""
	}
	path := s.Health.Path
	if path[0] != '/' {
		path = "/" + path
	}
	return "http://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + path
}

// Outcome is the overall result of one run. The external trigger maps it to
// an escalation signal: success or failure.
type Outcome struct {
	Success        bool      `json:"success"`
	Reason         string    `json:"reason,omitempty"`
	PID            int       `json:"pid,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	StoppedAt      time.Time `json:"stopped_at"`
	HealthOK       bool      `json:"health_ok"`
	HealthAttempts int       `json:"health_attempts,omitempty"`
	FinalState     string    `json:"final_state"`
}

// Supervisor owns exactly one child process for the duration of one run.
type Supervisor struct {
	spec   Spec
	prober *probe.Prober
	sinks  []history.Sink

	state    State
	cmd      *exec.Cmd
	waitDone chan struct{}
	waitErr  error
}

// New builds a Supervisor for one run of spec.
func New(spec Spec, sinks ...history.Sink) *Supervisor {
	s := spec.withDefaults()
	p := probe.New(s.Health.RequestTimeout)
	p.OnAttempt = func(ok bool) { metrics.IncHealthAttempt(s.Name, ok) }
	return &Supervisor{
		spec:   s,
		prober: p,
		sinks:  sinks,
	}
}

func (s *Supervisor) setState(next State) {
	if s.state == next {
		return
	}
	slog.Debug("run state transition", "service", s.spec.Name, "from", s.state.String(), "to", next.String())
	s.state = next
}

// Run executes one supervised run and blocks until the child is stopped and
// all tracked resources are released. Cancelling ctx at any point routes
// through the termination path.
func (s *Supervisor) Run(ctx context.Context) Outcome {
	started := time.Now()
	out := s.run(ctx)
	out.StoppedAt = time.Now()
	if out.StartedAt.IsZero() {
		out.StartedAt = started
	}
	out.FinalState = s.state.String()

	label := "failure"
	if out.Success {
		label = "success"
	}
	metrics.IncRun(s.spec.Name, label)
	metrics.ObserveRunDuration(s.spec.Name, out.StoppedAt.Sub(out.StartedAt).Seconds())
	s.audit(history.EventRunFinished, history.Record{
		Service: s.spec.Name, PID: out.PID, Outcome: label, Reason: out.Reason,
		StartedAt: out.StartedAt, StoppedAt: out.StoppedAt,
	})
	if s.spec.StatusFile != "" {
		if err := writeStatus(s.spec.StatusFile, s.spec.Name, out); err != nil {
			slog.Warn("could not write run status file", "path", s.spec.StatusFile, "error", err)
		}
	}
	if out.Success {
		slog.Info("run finished", "service", s.spec.Name, "outcome", label)
	} else {
		slog.Error("run finished", "service", s.spec.Name, "outcome", label, "reason", out.Reason)
	}
	return out
}

func (s *Supervisor) run(ctx context.Context) Outcome {
	s.state = StateNotStarted

	if err := s.validateEnvironment(); err != nil {
		return Outcome{Reason: err.Error()}
	}

	unlock, err := acquireRunLock(s.spec.LockFile)
	if err != nil {
		return Outcome{Reason: err.Error()}
	}
	defer unlock()

	s.setState(StateStarting)
	if err := s.start(); err != nil {
		return Outcome{Reason: err.Error()}
	}
	startedAt := time.Now()
	pid := s.cmd.Process.Pid
	slog.Info("service started", "service", s.spec.Name, "pid", pid,
		"host", s.spec.Host, "port", s.spec.Port, "timeout", s.spec.Timeout.String())
	s.audit(history.EventRunStarted, history.Record{Service: s.spec.Name, PID: pid, StartedAt: startedAt})

	// Scoped acquisition of the child: termination and PID-record removal
	// run on every exit path below, interruption included.
	defer s.terminate()

	out := Outcome{PID: pid, StartedAt: startedAt}

	// Settle, then confirm the child survived its own startup.
	if !s.sleep(ctx, s.spec.SettleDelay) {
		out.Reason = "interrupted during startup"
		return out
	}
	if s.exited() {
		out.Reason = fmt.Sprintf("%v: %v", ErrStartup, s.waitErr)
		slog.Error("service died right after start", "service", s.spec.Name, "error", s.waitErr)
		return out
	}
	s.setState(StateRunning)

	// Health probing is best-effort: a service without (or not yet serving)
	// its health endpoint may still become healthy later in the run.
	if endpoint := s.spec.healthEndpoint(); endpoint != "" {
		s.setState(StateHealthChecking)
		res, perr := s.prober.Check(ctx, endpoint, s.spec.Health.Attempts, s.spec.Health.Interval)
		out.HealthOK = res.OK
		out.HealthAttempts = res.Attempts
		if perr != nil {
			out.Reason = "interrupted during health check"
			return out
		}
		if !res.OK {
			slog.Warn("health check never succeeded, continuing run anyway",
				"service", s.spec.Name, "attempts", res.Attempts)
		}
	} else {
		out.HealthOK = true
		slog.Info("no health endpoint configured, assuming healthy after settle delay", "service", s.spec.Name)
	}

	s.setState(StateActive)
	return s.waitLoop(ctx, out, startedAt)
}

// waitLoop blocks until natural exit, timeout, or interruption.
func (s *Supervisor) waitLoop(ctx context.Context, out Outcome, startedAt time.Time) Outcome {
	deadline := startedAt.Add(s.spec.Timeout)
	progress := time.NewTicker(s.spec.ProgressInterval)
	defer progress.Stop()
	poll := time.NewTicker(alivePoll)
	defer poll.Stop()

	for {
		select {
		case <-s.waitDone:
			s.setState(StateNaturalExit)
			if s.waitErr == nil {
				slog.Info("service exited cleanly", "service", s.spec.Name)
				out.Success = true
				return out
			}
			slog.Error("service exited with error", "service", s.spec.Name, "error", s.waitErr)
			out.Reason = fmt.Sprintf("service exited: %v", s.waitErr)
			return out

		case <-ctx.Done():
			slog.Warn("run interrupted, terminating service", "service", s.spec.Name)
			out.Reason = "interrupted"
			return out

		case <-progress.C:
			slog.Info("service still running", "service", s.spec.Name,
				"elapsed", time.Since(startedAt).Round(time.Second).String(),
				"remaining", time.Until(deadline).Round(time.Second).String())

		case <-poll.C:
			if time.Now().After(deadline) {
				s.setState(StateTimeoutExpired)
				slog.Warn("run timeout expired, terminating service",
					"service", s.spec.Name, "timeout", s.spec.Timeout.String())
				out.Reason = fmt.Sprintf("timeout expired after %s", s.spec.Timeout)
				return out
			}
		}
	}
}

// validateEnvironment fails before anything starts when a prerequisite
// binary or the working directory is missing.
func (s *Supervisor) validateEnvironment() error {
	prereqs := s.spec.Prerequisites
	if len(prereqs) == 0 {
		if bin := commandBinary(s.spec.Command); bin != "" {
			prereqs = []string{bin}
		}
	}
	for _, bin := range prereqs {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found", ErrEnvironment, bin)
		}
	}
	if s.spec.WorkDir != "" {
		if fi, err := os.Stat(s.spec.WorkDir); err != nil || !fi.IsDir() {
			return fmt.Errorf("%w: work dir %s", ErrEnvironment, s.spec.WorkDir)
		}
	}
	return nil
}

// start launches the child, persists its PID record, and attaches the
// single waiter goroutine.
func (s *Supervisor) start() error {
	cmd := buildCommand(s.spec.Command)
	if s.spec.WorkDir != "" {
		cmd.Dir = s.spec.WorkDir
	}
	cmd.Env = append(os.Environ(), s.spec.Env...)
	cmd.Env = append(cmd.Env,
		"VIGIL_SERVICE_HOST="+s.spec.Host,
		"VIGIL_SERVICE_PORT="+strconv.Itoa(s.spec.Port),
	)
	configureSysProcAttr(cmd)

	if outW, errW := s.spec.Log.ChildWriters(s.spec.Name); outW != nil {
		if s.spec.Log.Dir != "" {
			_ = os.MkdirAll(s.spec.Log.Dir, 0o750)
		}
		cmd.Stdout = outW
		cmd.Stderr = errW
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}
	s.cmd = cmd
	s.waitDone = make(chan struct{})
	go func() {
		s.waitErr = cmd.Wait()
		close(s.waitDone)
	}()

	rec := pidfile.Record{
		PID:       cmd.Process.Pid,
		Service:   s.spec.Name,
		StartUnix: pidfile.StartUnix(cmd.Process.Pid),
	}
	if err := pidfile.Write(s.spec.PIDFile, rec); err != nil {
		slog.Warn("could not persist pid record", "path", s.spec.PIDFile, "error", err)
	}
	return nil
}

// terminate performs graceful-then-forced stop and always removes the PID
// record. Safe to call when the child already exited.
func (s *Supervisor) terminate() {
	s.setState(StateTerminating)
	defer func() {
		if err := pidfile.Remove(s.spec.PIDFile); err != nil {
			slog.Warn("could not remove pid record", "path", s.spec.PIDFile, "error", err)
		}
		s.setState(StateStopped)
	}()

	if s.cmd == nil || s.cmd.Process == nil || s.exited() {
		return
	}
	pid := s.cmd.Process.Pid

	slog.Info("sending graceful stop", "service", s.spec.Name, "pid", pid, "grace_period", s.spec.GracePeriod.String())
	if err := signalGroup(pid, true); err != nil {
		slog.Warn("graceful stop signal failed", "service", s.spec.Name, "error", err)
	}
	select {
	case <-s.waitDone:
		slog.Info("service stopped gracefully", "service", s.spec.Name)
		return
	case <-time.After(s.spec.GracePeriod):
	}

	// Grace period elapsed with the child still alive: force it, once.
	slog.Warn("grace period expired, forcing stop", "service", s.spec.Name, "pid", pid)
	if err := signalGroup(pid, false); err != nil {
		slog.Warn("forced stop signal failed", "service", s.spec.Name, "error", err)
	}
	select {
	case <-s.waitDone:
		slog.Info("service stopped after forced signal", "service", s.spec.Name)
	case <-time.After(forcedStopWait):
		slog.Error("service did not stop after forced signal", "service", s.spec.Name, "pid", pid)
	}
}

// exited reports whether the waiter has reaped the child.
func (s *Supervisor) exited() bool {
	if s.waitDone == nil {
		return true
	}
	select {
	case <-s.waitDone:
		return true
	default:
		return false
	}
}

// sleep waits d unless ctx is cancelled first; returns false on cancel.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Supervisor) audit(typ history.EventType, rec history.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sink := range s.sinks {
		if err := sink.Send(ctx, history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}); err != nil {
			slog.Warn("history sink append failed", "event", string(typ), "error", err)
		}
	}
}
