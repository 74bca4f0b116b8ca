package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/vigil/internal/config"
	"github.com/loykin/vigil/internal/counter"
	"github.com/loykin/vigil/internal/escalation"
	"github.com/loykin/vigil/internal/history"
	historyfactory "github.com/loykin/vigil/internal/history/factory"
	"github.com/loykin/vigil/internal/logger"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/notify"
	"github.com/loykin/vigil/internal/pidfile"
	"github.com/loykin/vigil/internal/server"
	"github.com/loykin/vigil/internal/service"
	"github.com/loykin/vigil/internal/supervisor"
)

// command bundles the wiring shared by subcommands.
type command struct{}

// runtime holds everything a configured command needs, with a single Close.
type runtime struct {
	cfg      *config.Config
	store    counter.Store
	sinks    []history.Sink
	ctrl     *escalation.Controller
	logClose func()
}

func (c command) setup(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	_ = metrics.Register(prometheus.DefaultRegisterer)

	rt := &runtime{cfg: cfg, logClose: func() { _ = closer.Close() }}

	store, err := counter.NewFromDSN(cfg.Counter.DSN)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open failure counter: %w", err)
	}
	rt.store = store

	if cfg.History.DSN != "" {
		sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		rt.sinks = append(rt.sinks, sink)
	}

	table, err := cfg.Escalation.Table()
	if err != nil {
		rt.Close()
		return nil, err
	}
	opts := []escalation.Option{
		escalation.WithTable(table),
		escalation.WithHistory(rt.sinks...),
	}
	if cfg.Escalation.CriticalThreshold > 0 {
		opts = append(opts, escalation.WithCriticalThreshold(cfg.Escalation.CriticalThreshold))
	}
	rt.ctrl = escalation.NewController(store, notify.NewDispatcher(cfg.Notify.Channels()...), opts...)
	return rt, nil
}

func (rt *runtime) Close() {
	for _, s := range rt.sinks {
		_ = s.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.logClose != nil {
		rt.logClose()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Run performs one supervised run. With escalate enabled the outcome is fed
// straight into the failure counter, so a cron line needs only this command.
func (c command) Run(flags RunFlags) error {
	rt, err := c.setup(flags.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	sup := supervisor.New(rt.cfg.Service, rt.sinks...)
	out := sup.Run(ctx)

	if flags.Escalate {
		// The run context is already cancelled when the operator
		// interrupted the run; escalation still has to record the
		// outcome and notify, so it gets its own deadline.
		escCtx, escCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer escCancel()
		if out.Success {
			if _, err := rt.ctrl.OnSuccess(escCtx, rt.cfg.Service.Name); err != nil {
				return err
			}
		} else {
			if _, err := rt.ctrl.OnFailure(escCtx, rt.cfg.Service.Name); err != nil {
				return err
			}
		}
	}
	if !out.Success {
		return fmt.Errorf("run failed: %s", out.Reason)
	}
	return nil
}

// EscalateFailure records one failed run against the durable counter.
func (c command) EscalateFailure(flags EscalateFlags) error {
	rt, err := c.setup(flags.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := rt.ctrl.OnFailure(ctx, rt.cfg.Service.Name)
	if err != nil {
		return err
	}
	fmt.Printf("consecutive failures: %d (tier %s)\n", res.Failures, res.Tier)
	return nil
}

// EscalateSuccess records one clean run and resets the counter.
func (c command) EscalateSuccess(flags EscalateFlags) error {
	rt, err := c.setup(flags.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signalContext()
	defer cancel()

	cleared, err := rt.ctrl.OnSuccess(ctx, rt.cfg.Service.Name)
	if err != nil {
		return err
	}
	if cleared > 0 {
		fmt.Printf("recovered after %d consecutive failure(s)\n", cleared)
	} else {
		fmt.Println("no failure streak to clear")
	}
	return nil
}

type statusOutput struct {
	Service  string             `json:"service"`
	Running  bool               `json:"running"`
	PID      int                `json:"pid,omitempty"`
	Failures int                `json:"failures"`
	LastRun  *supervisor.Status `json:"last_run,omitempty"`
}

// Status prints the last run record, liveness, and the failure streak.
func (c command) Status(flags StatusFlags) error {
	rt, err := c.setup(flags.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := statusOutput{Service: rt.cfg.Service.Name}
	if rt.cfg.Service.PIDFile != "" {
		if rec, err := pidfile.Read(rt.cfg.Service.PIDFile); err == nil && rec.Alive() {
			out.Running = true
			out.PID = rec.PID
		}
	}
	if n, err := rt.ctrl.Current(); err == nil {
		out.Failures = n
	}
	if rt.cfg.Service.StatusFile != "" {
		if st, err := supervisor.ReadStatus(rt.cfg.Service.StatusFile); err == nil {
			out.LastRun = &st
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Serve exposes the status API until interrupted.
func (c command) Serve(flags ServeFlags) error {
	rt, err := c.setup(flags.ConfigPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	listen := flags.Listen
	if listen == "" {
		listen = rt.cfg.Server.Listen
	}
	if listen == "" {
		listen = "127.0.0.1:9090"
	}

	router := server.NewRouter(rt.ctrl, server.Config{
		Service:    rt.cfg.Service.Name,
		StatusFile: rt.cfg.Service.StatusFile,
		PIDFile:    rt.cfg.Service.PIDFile,
		BasePath:   flags.BasePath,
	})
	srv := server.NewServer(listen, router)
	slog.Info("status API listening", "addr", listen)

	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	return srv.Close()
}

// DemoService runs the built-in sample application, handy as the supervised
// command in examples and tests.
func (c command) DemoService(flags DemoServiceFlags) error {
	addr := flags.Addr
	if addr == "" {
		host := os.Getenv("VIGIL_SERVICE_HOST")
		port := os.Getenv("VIGIL_SERVICE_PORT")
		if host != "" && port != "" {
			addr = host + ":" + port
		}
	}
	ctx, cancel := signalContext()
	defer cancel()
	return service.New(service.Options{
		Addr:         addr,
		AutoRun:      flags.AutoRun,
		AutoRunDelay: flags.AutoRunDelay,
	}).Start(ctx)
}
