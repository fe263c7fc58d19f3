// Package idlewatch runs background compute workers only while every login
// session on the machine has been idle past a threshold, and interrupts
// them the moment someone comes back.
package idlewatch

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/idlewatch/internal/config"
	"github.com/loykin/idlewatch/internal/history"
	histfactory "github.com/loykin/idlewatch/internal/history/factory"
	"github.com/loykin/idlewatch/internal/idle"
	"github.com/loykin/idlewatch/internal/metrics"
	"github.com/loykin/idlewatch/internal/process"
	"github.com/loykin/idlewatch/internal/scheduler"
	iapi "github.com/loykin/idlewatch/internal/server"
	"github.com/loykin/idlewatch/internal/session"
	"github.com/loykin/idlewatch/internal/store"
	"github.com/loykin/idlewatch/internal/store/factory"
	"github.com/loykin/idlewatch/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Verdict = idle.Verdict

type Policy = idle.Policy

type Reading = session.Reading

type Config = cfg.Config

type Store = store.Store

// Run is one persisted run of a supervised worker.
type Run = store.Record

// CycleVerdict is one persisted idle evaluation.
type CycleVerdict = store.Verdict

type HistorySink = history.Sink

// CronRegistration is the crontab line managed by install/uninstall.
type CronRegistration = scheduler.Registration

// WorkerResources samples CPU/memory/thread usage of supervised workers into
// Prometheus gauges.
type WorkerResources = metrics.WorkerResources

// WorkerResourceConfig configures the resource sampler.
type WorkerResourceConfig = metrics.ResourceConfig

const (
	PolicyIgnore = idle.PolicyIgnore
	PolicyBlock  = idle.PolicyBlock
)

// Worker run policies.
const (
	RunWhenIdle = process.RunWhenIdle
	AlwaysRun   = process.AlwaysRun
)

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.

type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a supervisor reading real login sessions. thresholdSeconds is
// the per-terminal idle threshold; an empty policy ignores unreadable
// sessions.
func New(thresholdSeconds float64, policy Policy) *Supervisor {
	eval := idle.Evaluator{Threshold: thresholdSeconds, Policy: policy}
	return &Supervisor{inner: supervisor.New(session.NewSensor(), eval)}
}

// NewFromConfig builds a supervisor from a loaded configuration: threshold,
// session policy, global environment, and every worker spec registered.
func NewFromConfig(c *Config) (*Supervisor, error) {
	s := New(c.IdleSeconds, c.SessionPolicy)
	s.SetGlobalEnv(c.GlobalEnv)
	for i := range c.Specs {
		if err := s.Register(c.Specs[i]); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Supervisor) SetLogger(l *slog.Logger)                 { s.inner.SetLogger(l) }
func (s *Supervisor) SetGlobalEnv(kvs []string)                { s.inner.SetGlobalEnv(kvs) }
func (s *Supervisor) SetStore(st Store) error                  { return s.inner.SetStore(st) }
func (s *Supervisor) SetHistorySinks(sinks ...HistorySink)     { s.inner.SetHistorySinks(sinks...) }
func (s *Supervisor) Register(sp Spec) error                   { return s.inner.Register(sp) }
func (s *Supervisor) RunCycle(ctx context.Context) Verdict     { return s.inner.RunCycle(ctx) }
func (s *Supervisor) Evaluate() Verdict                        { return s.inner.Evaluate() }
func (s *Supervisor) Sessions() Reading                        { return s.inner.Sessions() }
func (s *Supervisor) Pause()                                   { s.inner.Pause() }
func (s *Supervisor) Resume()                                  { s.inner.Resume() }
func (s *Supervisor) Paused() bool                             { return s.inner.Paused() }
func (s *Supervisor) Status(name string) (Status, error)       { return s.inner.Status(name) }
func (s *Supervisor) StatusAll() []Status                      { return s.inner.StatusAll() }
func (s *Supervisor) Workers() map[string]int32                { return s.inner.Workers() }
func (s *Supervisor) Close() error                             { return s.inner.Close() }
func (s *Supervisor) EnsureRunning(ctx context.Context, name string) error {
	return s.inner.EnsureRunning(ctx, name)
}
func (s *Supervisor) EnsureStopped(ctx context.Context, name string) error {
	return s.inner.EnsureStopped(ctx, name)
}
func (s *Supervisor) RecentVerdicts(ctx context.Context, limit int) ([]CycleVerdict, error) {
	return s.inner.RecentVerdicts(ctx, limit)
}
func (s *Supervisor) History(ctx context.Context, name string, limit int) ([]Run, error) {
	return s.inner.History(ctx, name, limit)
}

// Driver re-runs supervision cycles on a fixed period in-process.

type Driver struct{ inner *scheduler.Driver }

// NewDriver binds a schedule ("@every <duration>", empty for the default
// one minute) to the supervisor's cycle.
func NewDriver(schedule string, s *Supervisor) (*Driver, error) {
	d, err := scheduler.New(schedule, func() { s.inner.RunCycle(context.Background()) })
	if err != nil {
		return nil, err
	}
	return &Driver{inner: d}, nil
}

func (d *Driver) Start() error          { return d.inner.Start() }
func (d *Driver) Stop()                 { d.inner.Stop() }
func (d *Driver) Period() time.Duration { return d.inner.Period() }

// LoadConfig reads and validates a deployment configuration file.
func LoadConfig(path string) (*Config, error) {
	return cfg.LoadConfig(path)
}

// NewStoreFromDSN opens a persistence store ("sqlite://<path>", a bare file
// path, or a postgres DSN).
func NewStoreFromDSN(dsn string) (Store, error) {
	return factory.NewFromDSN(dsn)
}

// NewHistorySinkFromDSN opens a lifecycle event sink
// (clickhouse://, opensearch:// or elasticsearch://).
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) {
	return histfactory.NewSinkFromDSN(dsn)
}

// NewHTTPServer starts an HTTP server exposing the control API for the given supervisor.
func NewHTTPServer(addr, basePath string, s *Supervisor) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, s.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewWorkerResources builds a resource sampler; feed it Workers() from a
// running supervisor.
func NewWorkerResources(c WorkerResourceConfig) *WorkerResources {
	return metrics.NewWorkerResources(c)
}

// RegisterMetricsWithWorkerResourcesDefault registers the standard collectors
// plus the sampler's gauges with the default registry.
func RegisterMetricsWithWorkerResourcesDefault(res *WorkerResources) error {
	if err := RegisterMetricsDefault(); err != nil {
		return err
	}
	return res.RegisterMetrics(prometheus.DefaultRegisterer)
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
