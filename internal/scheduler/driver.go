// Package scheduler re-runs the supervision cycle at a fixed period.
//
// Two modes share one non-overlap rule. The resident Driver ticks inside a
// long-lived daemon and skips a tick while the previous cycle is still
// running. Cron mode installs a Registration into the user's crontab and
// relies on a CycleLock to keep independent one-shot invocations from
// overlapping.
package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultSchedule is the period used when the configuration names none.
const DefaultSchedule = "@every 1m"

// Driver fires a cycle callback on a fixed period.
// Schedule supports only the form "@every <duration>" (e.g. "@every 1m").
// Non-overlap: if the previous cycle is still running, the tick is skipped,
// never queued.
type Driver struct {
	period time.Duration
	cycle  func()

	// guarded via atomic
	busy    atomic.Bool
	skipped atomic.Uint64

	quit chan struct{}
	done chan struct{}
}

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

// New parses the schedule and binds the cycle callback.
func New(schedule string, cycle func()) (*Driver, error) {
	if cycle == nil {
		return nil, errors.New("scheduler requires a cycle callback")
	}
	if strings.TrimSpace(schedule) == "" {
		schedule = DefaultSchedule
	}
	period, err := ParseEvery(schedule)
	if err != nil {
		return nil, err
	}
	return &Driver{period: period, cycle: cycle}, nil
}

// Period reports the parsed tick period.
func (d *Driver) Period() time.Duration { return d.period }

// Skipped reports how many ticks were dropped because a cycle overran.
func (d *Driver) Skipped() uint64 { return d.skipped.Load() }

// Start launches the tick loop. Call Stop to cancel.
func (d *Driver) Start() error {
	if d.quit != nil {
		return errors.New("scheduler already started")
	}
	d.quit = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop()
	return nil
}

func (d *Driver) loop() {
	defer close(d.done)
	t := time.NewTicker(d.period)
	defer t.Stop()
	for {
		select {
		case <-d.quit:
			return
		case <-t.C:
			// attempt to mark busy; if already true, skip this tick
			if !d.busy.CompareAndSwap(false, true) {
				d.skipped.Add(1)
				continue
			}
			// run apart from the ticker so a slow cycle cannot delay the clock
			go func() {
				defer d.busy.Store(false)
				d.cycle()
			}()
		}
	}
}

// Stop cancels the tick loop and waits for it to wind down. A cycle already
// in flight is left to finish; cycles are short.
func (d *Driver) Stop() {
	if d.quit == nil {
		return
	}
	// Close once; leaving the channel non-nil avoids a racy nil assignment
	// observed by the loop goroutine.
	select {
	case <-d.quit:
		// already closed
	default:
		close(d.quit)
	}
	<-d.done
}
