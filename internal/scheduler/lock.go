package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrCycleHeld means another invocation is mid-cycle; the caller should exit
// quietly, which is the cross-process form of a skipped tick.
var ErrCycleHeld = errors.New("cycle lock held by another invocation")

// CycleLock serializes one-shot invocations fired out of cron. The resident
// Driver gets non-overlap from its own CAS; independent processes get it
// from an exclusive flock on a well-known path.
type CycleLock struct {
	fl *flock.Flock
}

func NewCycleLock(path string) *CycleLock {
	return &CycleLock{fl: flock.New(path)}
}

// Path reports the lock file location.
func (l *CycleLock) Path() string { return l.fl.Path() }

// Acquire takes the lock without blocking. ErrCycleHeld when another
// invocation holds it.
func (l *CycleLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o750); err != nil {
		return fmt.Errorf("cycle lock dir: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("cycle lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return ErrCycleHeld
	}
	return nil
}

// Release drops the lock. The file itself stays behind for the next
// invocation to lock against.
func (l *CycleLock) Release() error {
	return l.fl.Unlock()
}
