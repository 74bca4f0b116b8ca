// Package vigil supervises scheduled runs of an HTTP service: it starts
// the service, verifies health, enforces the run window, stops the service
// cleanly, and escalates notifications as consecutive failures accumulate.
//
// This file is the embedding facade; the CLI in cmd/vigil is built on the
// same surface.
package vigil

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/vigil/internal/config"
	"github.com/loykin/vigil/internal/counter"
	"github.com/loykin/vigil/internal/escalation"
	"github.com/loykin/vigil/internal/history"
	historyfactory "github.com/loykin/vigil/internal/history/factory"
	"github.com/loykin/vigil/internal/metrics"
	"github.com/loykin/vigil/internal/notify"
	"github.com/loykin/vigil/internal/server"
	"github.com/loykin/vigil/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = supervisor.Spec

type Outcome = supervisor.Outcome

type HealthSpec = supervisor.HealthSpec

type Config = cfg.Config

type CounterStore = counter.Store

type HistorySink = history.Sink

type Tier = notify.Tier

type Event = notify.Event

type Channel = notify.Channel

// Supervisor is a thin facade over internal/supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

func NewSupervisor(spec Spec, sinks ...HistorySink) *Supervisor {
	return &Supervisor{inner: supervisor.New(spec, sinks...)}
}

// Run executes one supervised run and blocks until the service is stopped.
func (s *Supervisor) Run(ctx context.Context) Outcome { return s.inner.Run(ctx) }

// Escalator wraps the failure counter and notification ladder.
type Escalator struct{ inner *escalation.Controller }

type EscalationResult = escalation.Result

func NewEscalator(store CounterStore, channels ...Channel) *Escalator {
	return &Escalator{inner: escalation.NewController(store, notify.NewDispatcher(channels...))}
}

func (e *Escalator) OnFailure(ctx context.Context, service string) (EscalationResult, error) {
	return e.inner.OnFailure(ctx, service)
}

func (e *Escalator) OnSuccess(ctx context.Context, service string) (int, error) {
	return e.inner.OnSuccess(ctx, service)
}

func (e *Escalator) Failures() (int, error) { return e.inner.Current() }

// NewCounterStore opens a failure counter from a DSN: a plain path or
// file:// for the scalar file store, sqlite:// or postgres:// for SQL.
func NewCounterStore(dsn string) (CounterStore, error) { return counter.NewFromDSN(dsn) }

// NewHistorySink opens a run-history sink from a DSN: sqlite://,
// postgres://, clickhouse://, or a plain path.
func NewHistorySink(dsn string) (HistorySink, error) { return historyfactory.NewSinkFromDSN(dsn) }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer starts the status API on addr using the given escalator.
func NewHTTPServer(addr, basePath string, e *Escalator, spec Spec) *http.Server {
	router := server.NewRouter(e.inner, server.Config{
		Service:    spec.Name,
		StatusFile: spec.StatusFile,
		PIDFile:    spec.PIDFile,
		BasePath:   basePath,
	})
	return server.NewServer(addr, router)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
