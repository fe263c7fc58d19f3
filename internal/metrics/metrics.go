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

	cycleVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "verdicts_total",
			Help:      "Number of evaluation cycles by verdict (idle or busy).",
		}, []string{"verdict"},
	)
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall time of one evaluation cycle.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	hostIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "idle",
			Help:      "Whether the last verdict considered the host idle (1) or busy (0).",
		},
	)
	hostPaused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "paused",
			Help:      "Whether an operator pause is forcing the busy outcome.",
		},
	)
	sessionCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "sessions",
			Help:      "Terminal sessions seen by the last evaluation.",
		},
	)
	unreadableSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "unreadable_sessions",
			Help:      "Sessions whose terminal device could not be inspected.",
		},
	)
	sessionIdleSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "session_idle_seconds",
			Help:      "Seconds since last activity per terminal session.",
		}, []string{"terminal"},
	)
	verdictTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idlewatch",
			Subsystem: "cycle",
			Name:      "verdict_transitions_total",
			Help:      "Number of verdict flips between idle and busy.",
		}, []string{"from", "to"},
	)

	workerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idlewatch",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker launches.",
		}, []string{"name"},
	)
	workerInterrupts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idlewatch",
			Subsystem: "worker",
			Name:      "interrupts_total",
			Help:      "Number of interrupt signals delivered to workers.",
		}, []string{"name"},
	)
	workerRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "idlewatch",
			Subsystem: "worker",
			Name:      "running",
			Help:      "Whether the named worker is currently alive (1) or not (0).",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		cycleVerdicts, cycleDuration, hostIdle, hostPaused,
		sessionCount, unreadableSessions, sessionIdleSeconds, verdictTransitions,
		workerStarts, workerInterrupts, workerRunning,
	}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveVerdict(idle, paused bool) {
	if !regOK.Load() {
		return
	}
	verdict := "busy"
	v := 0.0
	if idle {
		verdict = "idle"
		v = 1
	}
	cycleVerdicts.WithLabelValues(verdict).Inc()
	hostIdle.Set(v)
	p := 0.0
	if paused {
		p = 1
	}
	hostPaused.Set(p)
}

func ObserveCycleDuration(seconds float64) {
	if regOK.Load() {
		cycleDuration.Observe(seconds)
	}
}

func SetSessions(total, unreadable int) {
	if regOK.Load() {
		sessionCount.Set(float64(total))
		unreadableSessions.Set(float64(unreadable))
	}
}

// SetSessionIdle replaces the per-terminal gauge set with the given readings,
// dropping terminals whose sessions have ended.
func SetSessionIdle(byTerminal map[string]float64) {
	if !regOK.Load() {
		return
	}
	sessionIdleSeconds.Reset()
	for term, secs := range byTerminal {
		sessionIdleSeconds.WithLabelValues(term).Set(secs)
	}
}

func RecordVerdictTransition(fromIdle, toIdle bool) {
	if !regOK.Load() {
		return
	}
	name := func(idle bool) string {
		if idle {
			return "idle"
		}
		return "busy"
	}
	verdictTransitions.WithLabelValues(name(fromIdle), name(toIdle)).Inc()
}

func IncStart(name string) {
	if regOK.Load() {
		workerStarts.WithLabelValues(name).Inc()
	}
}

func IncInterrupt(name string) {
	if regOK.Load() {
		workerInterrupts.WithLabelValues(name).Inc()
	}
}

func SetWorkerRunning(name string, running bool) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	workerRunning.WithLabelValues(name).Set(v)
}
