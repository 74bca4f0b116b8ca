package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "run",
			Name:      "total",
			Help:      "Number of supervised runs by outcome.",
		}, []string{"service", "outcome"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of one supervised run from start to stopped.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"service"},
	)
	healthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "health",
			Name:      "attempts_total",
			Help:      "Health probe attempts by result.",
		}, []string{"service", "result"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "escalation",
			Name:      "consecutive_failures",
			Help:      "Durable consecutive-failure counter as last observed.",
		}, []string{"service"},
	)
	escalationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "escalation",
			Name:      "events_total",
			Help:      "Escalation decisions by tier (including recovery).",
		}, []string{"service", "tier"},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Per-channel notification delivery attempts by result.",
		}, []string{"channel", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsTotal, runDuration, healthAttempts, consecutiveFailures, escalationEvents, notifications}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers used by internal packages. They no-op if Register hasn't been called.

func IncRun(service, outcome string) {
	if regOK.Load() {
		runsTotal.WithLabelValues(service, outcome).Inc()
	}
}

func ObserveRunDuration(service string, seconds float64) {
	if regOK.Load() {
		runDuration.WithLabelValues(service).Observe(seconds)
	}
}

func IncHealthAttempt(service string, ok bool) {
	if regOK.Load() {
		result := "failure"
		if ok {
			result = "success"
		}
		healthAttempts.WithLabelValues(service, result).Inc()
	}
}

func SetConsecutiveFailures(service string, n int) {
	if regOK.Load() {
		consecutiveFailures.WithLabelValues(service).Set(float64(n))
	}
}

func IncEscalation(service, tier string) {
	if regOK.Load() {
		escalationEvents.WithLabelValues(service, tier).Inc()
	}
}

func IncNotification(channel string, err error) {
	if regOK.Load() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		notifications.WithLabelValues(channel, result).Inc()
	}
}
