// Package supervisor ties the idle sensor to worker lifecycles. One cycle
// reads the login sessions, turns them into a verdict, and converges every
// registered worker onto the state its policy wants: running while the host
// is unattended, interrupted as soon as someone is back. Both directions are
// idempotent, so a cycle that finds the goal state already reached does
// nothing.
package supervisor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/idlewatch/internal/detector"
	"github.com/loykin/idlewatch/internal/env"
	"github.com/loykin/idlewatch/internal/history"
	"github.com/loykin/idlewatch/internal/idle"
	"github.com/loykin/idlewatch/internal/metrics"
	"github.com/loykin/idlewatch/internal/process"
	"github.com/loykin/idlewatch/internal/procstat"
	"github.com/loykin/idlewatch/internal/session"
	"github.com/loykin/idlewatch/internal/store"
)

// Sensor yields one pass over the host's login sessions.
type Sensor interface {
	Read() session.Reading
}

// ErrNoStore is returned by persistence queries when no store is configured.
var ErrNoStore = errors.New("no store configured")

// Supervisor owns the registered workers and applies idle verdicts to them.
type Supervisor struct {
	logger *slog.Logger
	sensor Sensor
	eval   idle.Evaluator
	envM   *env.Env

	mu      sync.RWMutex
	st      store.Store
	sinks   []history.Sink
	entries map[string]*entry
	order   []string

	// cycleMu serializes cycles triggered from different callers (the
	// scheduler tick and an operator command arriving at the same time).
	cycleMu sync.Mutex

	paused atomic.Bool

	lastMu   sync.Mutex
	last     idle.Verdict
	lastAt   time.Time
	haveLast bool
}

type entry struct {
	proc *process.Process
	// pattern finds the worker in the process table when no launch handle
	// is held, e.g. after a supervisor restart.
	pattern detector.PatternDetector
}

func New(sensor Sensor, eval idle.Evaluator) *Supervisor {
	return &Supervisor{
		logger:  slog.Default(),
		sensor:  sensor,
		eval:    eval,
		envM:    env.New(),
		entries: make(map[string]*entry),
	}
}

func (s *Supervisor) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SetStore configures a persistence store used to record worker runs and
// idle verdicts. It ensures the schema and keeps the instance for writes.
func (s *Supervisor) SetStore(st store.Store) error {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.EnsureSchema(context.Background())
}

// SetHistorySinks configures external history sinks (OpenSearch, ClickHouse, etc.).
// Passing nil or no sinks clears the list.
func (s *Supervisor) SetHistorySinks(sinks ...history.Sink) {
	s.mu.Lock()
	s.sinks = append([]history.Sink(nil), sinks...)
	s.mu.Unlock()
}

// SetGlobalEnv sets environment variables merged into every worker launch.
// kvs must be in the form "KEY=VALUE".
func (s *Supervisor) SetGlobalEnv(kvs []string) {
	s.envM.SetAll(kvs)
}

// Register adds a worker or, when the name is already known, replaces its
// spec in place. The retained handle and any running child are kept.
func (s *Supervisor) Register(spec process.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	dets := append([]detector.Detector(nil), spec.Detectors...)
	for _, dc := range spec.DetectorConfigs {
		d, err := dc.Detector()
		if err != nil {
			return fmt.Errorf("worker %q: %w", spec.Name, err)
		}
		dets = append(dets, d)
	}
	spec.Detectors = dets

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[spec.Name]; ok {
		e.proc.UpdateSpec(spec)
		e.pattern = detector.PatternDetector{Pattern: fallbackPattern(spec)}
		return nil
	}
	s.entries[spec.Name] = &entry{
		proc:    process.New(spec),
		pattern: detector.PatternDetector{Pattern: fallbackPattern(spec)},
	}
	s.order = append(s.order, spec.Name)
	return nil
}

// fallbackPattern picks the process-table needle for a spec: an explicit
// pattern detector wins, otherwise the raw command line is used the way
// pkill -f would be handed it.
func fallbackPattern(spec process.Spec) string {
	for _, dc := range spec.DetectorConfigs {
		if strings.EqualFold(dc.Type, "pattern") && dc.Pattern != "" {
			return dc.Pattern
		}
	}
	for _, d := range spec.Detectors {
		if pd, ok := d.(detector.PatternDetector); ok && pd.Pattern != "" {
			return pd.Pattern
		}
	}
	return strings.TrimSpace(spec.Command)
}

func (s *Supervisor) entry(name string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[name]
}

func (s *Supervisor) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Specs returns a copy of every registered worker spec in registration order.
func (s *Supervisor) Specs() []process.Spec {
	var out []process.Spec
	for _, name := range s.names() {
		if e := s.entry(name); e != nil {
			out = append(out, e.proc.Spec())
		}
	}
	return out
}

// Pause forces every following evaluation to the busy outcome, so workers
// are stopped and kept stopped until Resume. Always-run workers are not
// affected.
func (s *Supervisor) Pause() { s.paused.Store(true) }

// Resume restores normal idle evaluation.
func (s *Supervisor) Resume() { s.paused.Store(false) }

func (s *Supervisor) Paused() bool { return s.paused.Load() }

// Sessions returns the current sensor reading without acting on it.
func (s *Supervisor) Sessions() session.Reading {
	return s.sensor.Read()
}

// Evaluate reads the sessions and applies the threshold without touching
// any worker.
func (s *Supervisor) Evaluate() idle.Verdict {
	rd := s.sensor.Read()
	return s.eval.Evaluate(rd.IdleSecs, rd.Unreadable)
}

// LastVerdict reports the most recent cycle's verdict, its time, and
// whether a cycle has run at all.
func (s *Supervisor) LastVerdict() (idle.Verdict, time.Time, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.last, s.lastAt, s.haveLast
}

// RunCycle performs one full pass: sense, evaluate, persist the verdict,
// and converge every worker onto its goal state. Worker action failures
// are logged and never abort the cycle; the next period retries naturally.
func (s *Supervisor) RunCycle(ctx context.Context) idle.Verdict {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	began := time.Now()
	rd := s.sensor.Read()
	v := s.eval.Evaluate(rd.IdleSecs, rd.Unreadable)
	paused := s.paused.Load()
	effIdle := v.Idle && !paused

	metrics.ObserveVerdict(v.Idle, paused)
	metrics.SetSessions(len(rd.Sessions), rd.Unreadable)
	metrics.SetSessionIdle(rd.IdleSecs)
	s.noteVerdict(v, rd.Taken)
	s.recordVerdict(ctx, v, paused, rd)

	for _, name := range s.names() {
		e := s.entry(name)
		if e == nil {
			continue
		}
		spec := e.proc.Spec()
		switch {
		case spec.Policy == process.AlwaysRun:
			if err := s.ensureRunning(ctx, name, "always"); err != nil {
				s.logger.Warn("worker start failed", "worker", name, "err", err)
			}
		case effIdle:
			if err := s.ensureRunning(ctx, name, "idle"); err != nil {
				s.logger.Warn("worker start failed", "worker", name, "err", err)
			}
		default:
			reason := "busy"
			if paused && v.Idle {
				reason = "pause"
			}
			if err := s.ensureStopped(ctx, name, reason); err != nil {
				s.logger.Warn("worker interrupt failed", "worker", name, "err", err)
			}
		}
	}

	metrics.ObserveCycleDuration(time.Since(began).Seconds())
	return v
}

func (s *Supervisor) noteVerdict(v idle.Verdict, at time.Time) {
	s.lastMu.Lock()
	if s.haveLast && s.last.Idle != v.Idle {
		metrics.RecordVerdictTransition(s.last.Idle, v.Idle)
	}
	s.last = v
	s.lastAt = at
	s.haveLast = true
	s.lastMu.Unlock()
}

func (s *Supervisor) recordVerdict(ctx context.Context, v idle.Verdict, paused bool, rd session.Reading) {
	s.mu.RLock()
	st := s.st
	s.mu.RUnlock()
	if st == nil {
		return
	}
	err := st.RecordVerdict(ctx, store.Verdict{
		At:         rd.Taken,
		Idle:       v.Idle,
		Paused:     paused,
		Sessions:   len(rd.Sessions),
		Unreadable: rd.Unreadable,
		Busy:       strings.Join(v.Busy, ","),
	})
	if err != nil {
		s.logger.Warn("verdict not persisted", "err", err)
	}
}

// EnsureRunning converges the named worker onto the running state. A worker
// already alive, including one found by pattern lookup after a supervisor
// restart, is left untouched.
func (s *Supervisor) EnsureRunning(ctx context.Context, name string) error {
	return s.ensureRunning(ctx, name, "manual")
}

func (s *Supervisor) ensureRunning(ctx context.Context, name, reason string) error {
	e := s.entry(name)
	if e == nil {
		return fmt.Errorf("unknown worker %q", name)
	}
	p := e.proc

	if alive, by := p.DetectAlive(); alive {
		p.UpdateDetection(true, by, 0)
		metrics.SetWorkerRunning(name, true)
		s.upsertStatus(ctx, p)
		return nil
	}

	// No handle says alive; the worker may still be there from a previous
	// supervisor. Adopt it instead of starting a second copy.
	if pids, err := e.pattern.FindPIDs(); err == nil && len(pids) > 0 {
		s.adopt(e, pids[0])
		s.logger.Info("worker adopted", "worker", name, "pid", pids[0])
		metrics.SetWorkerRunning(name, true)
		s.upsertStatus(ctx, p)
		return nil
	}

	cmd := p.ConfigureCmd(s.envM.Merge(p.Spec().Env))
	if err := p.TryStart(cmd); err != nil {
		metrics.SetWorkerRunning(name, false)
		return fmt.Errorf("start %q: %w", name, err)
	}
	rs := p.Snapshot()
	s.logger.Info("worker started", "worker", name, "pid", rs.PID, "reason", reason)
	metrics.IncStart(name)
	metrics.SetWorkerRunning(name, true)
	s.recordStart(ctx, p, reason)
	return nil
}

// EnsureStopped converges the named worker onto the stopped state with a
// single interrupt per target and no waiting: a worker that ignores the
// signal is simply found alive again by the next cycle. A worker already
// gone is success, not an error.
func (s *Supervisor) EnsureStopped(ctx context.Context, name string) error {
	return s.ensureStopped(ctx, name, "manual")
}

func (s *Supervisor) ensureStopped(ctx context.Context, name, reason string) error {
	e := s.entry(name)
	if e == nil {
		return fmt.Errorf("unknown worker %q", name)
	}
	p := e.proc
	spec := p.Spec()

	var firstErr error
	signalled := false
	handlePID := 0

	// Our own child gets the interrupt on its process group, so a shell
	// wrapper and the worker behind it both hear it.
	if alive, by := p.DetectAlive(); alive && by == "exec:pid" {
		handlePID = p.Snapshot().PID
		signalled = true
		if err := p.Interrupt(); err != nil {
			firstErr = err
		}
	}

	// A pidfile names a worker we did not launch this time around. The
	// detector vouches the PID still belongs to that worker before any
	// signal is sent, so a recycled PID is never hit.
	if spec.PIDFile != "" {
		d := detector.PIDFileDetector{PIDFile: spec.PIDFile}
		if ok, _ := d.Alive(); ok {
			if pid, _, err := process.ReadPIDFile(spec.PIDFile); err == nil && pid != handlePID {
				signalled = true
				if err := process.InterruptPID(pid); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	// Pattern matches round up strays, pkill style. Members of our own
	// child's process group are skipped; the group interrupt covered them.
	if pids, err := e.pattern.FindPIDs(); err == nil {
		for _, pid := range pids {
			if pid == handlePID || process.InGroupOf(pid, handlePID) {
				continue
			}
			signalled = true
			if err := process.InterruptPID(pid); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if !signalled {
		metrics.SetWorkerRunning(name, false)
		return nil
	}

	s.logger.Info("worker interrupted", "worker", name, "reason", reason)
	metrics.IncInterrupt(name)
	metrics.SetWorkerRunning(name, false)
	s.recordStop(ctx, p, reason)
	return firstErr
}

// adopt marks a pattern-found PID as the worker's current incarnation and
// backfills its start time from the OS, so the run keeps one identity no
// matter which supervisor instance observes it.
func (s *Supervisor) adopt(e *entry, pid int) {
	e.proc.UpdateDetection(true, e.pattern.Describe(), pid)
	at := time.Now().UTC()
	if su := procstat.StartUnix(pid); su > 0 {
		at = time.Unix(su, 0).UTC()
	}
	e.proc.AdoptStartTime(at)
}

// Status refreshes liveness for one worker and returns its snapshot. The
// pattern fallback keeps adopted workers visible even though no launch
// handle is held for them.
func (s *Supervisor) Status(name string) (process.Status, error) {
	e := s.entry(name)
	if e == nil {
		return process.Status{}, fmt.Errorf("unknown worker %q", name)
	}
	alive, by := e.proc.DetectAlive()
	if !alive {
		if pids, err := e.pattern.FindPIDs(); err == nil && len(pids) > 0 {
			s.adopt(e, pids[0])
			return e.proc.Snapshot(), nil
		}
	}
	e.proc.UpdateDetection(alive, by, 0)
	return e.proc.Snapshot(), nil
}

// StatusAll refreshes liveness for every worker in registration order.
func (s *Supervisor) StatusAll() []process.Status {
	var out []process.Status
	for _, name := range s.names() {
		if st, err := s.Status(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Workers reports the PID of every currently alive worker, keyed by name.
// It feeds the resource sampler.
func (s *Supervisor) Workers() map[string]int32 {
	out := make(map[string]int32)
	for _, name := range s.names() {
		st, err := s.Status(name)
		if err == nil && st.Running && st.PID > 0 {
			out[name] = int32(st.PID)
		}
	}
	return out
}

// RecentVerdicts returns persisted cycle verdicts, newest first.
func (s *Supervisor) RecentVerdicts(ctx context.Context, limit int) ([]store.Verdict, error) {
	s.mu.RLock()
	st := s.st
	s.mu.RUnlock()
	if st == nil {
		return nil, ErrNoStore
	}
	return st.RecentVerdicts(ctx, limit)
}

// History returns persisted runs of the named worker, newest first.
func (s *Supervisor) History(ctx context.Context, name string, limit int) ([]store.Record, error) {
	s.mu.RLock()
	st := s.st
	s.mu.RUnlock()
	if st == nil {
		return nil, ErrNoStore
	}
	return st.GetByName(ctx, name, limit)
}

// Close releases the store and any closable sinks. Workers keep running;
// surviving the supervisor is the point of the detached launch.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	st := s.st
	sinks := s.sinks
	s.st = nil
	s.sinks = nil
	s.mu.Unlock()

	var firstErr error
	if st != nil {
		if err := st.Close(); err != nil {
			firstErr = err
		}
	}
	for _, sk := range sinks {
		if c, ok := sk.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Supervisor) recordStart(ctx context.Context, p *process.Process, reason string) {
	s.mu.RLock()
	st := s.st
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.RUnlock()

	rs := p.Snapshot()
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		StartedAt: rs.StartedAt,
	}
	if st != nil {
		if err := st.RecordStart(ctx, rec); err != nil {
			s.logger.Warn("start not persisted", "worker", rs.Name, "err", err)
		}
	}
	if len(sinks) > 0 {
		evt := history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Reason: reason, Record: rec}
		for _, sk := range sinks {
			_ = sk.Send(ctx, evt)
		}
	}
}

func (s *Supervisor) recordStop(ctx context.Context, p *process.Process, reason string) {
	s.mu.RLock()
	st := s.st
	sinks := append([]history.Sink(nil), s.sinks...)
	s.mu.RUnlock()

	rs := p.Snapshot()
	uniq := store.UniqueKey(rs.PID, rs.StartedAt)
	stoppedAt := rs.StoppedAt
	if stoppedAt.IsZero() {
		// No exit observed; the interrupt time is the best stamp available.
		stoppedAt = time.Now().UTC()
	}
	if st != nil {
		if err := st.RecordStop(ctx, uniq, stoppedAt, nil); err != nil {
			s.logger.Warn("stop not persisted", "worker", rs.Name, "err", err)
		}
	}
	if len(sinks) > 0 {
		rec := store.Record{
			Name:      rs.Name,
			PID:       rs.PID,
			StartedAt: rs.StartedAt,
			StoppedAt: sql.NullTime{Time: stoppedAt, Valid: true},
			Running:   false,
			Uniq:      uniq,
		}
		if rs.ExitError != "" {
			rec.ExitErr = sql.NullString{String: rs.ExitError, Valid: true}
		}
		evt := history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), Reason: reason, Record: rec}
		for _, sk := range sinks {
			_ = sk.Send(ctx, evt)
		}
	}
}

func (s *Supervisor) upsertStatus(ctx context.Context, p *process.Process) {
	s.mu.RLock()
	st := s.st
	s.mu.RUnlock()
	if st == nil {
		return
	}
	rs := p.Snapshot()
	if rs.PID <= 0 || rs.StartedAt.IsZero() {
		return
	}
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		StartedAt: rs.StartedAt,
		Running:   rs.Running,
	}
	if err := st.UpsertStatus(ctx, rec); err != nil {
		s.logger.Warn("status not persisted", "worker", rs.Name, "err", err)
	}
}
