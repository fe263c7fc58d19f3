package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one observed run of a supervised worker. Uniq identifies the run
// across supervisor restarts: a PID together with its start time names the
// same row forever, so repeated upserts of the same run stay idempotent.
// Timestamps are stored in UTC.

type Record struct {
	ID        int64
	Name      string
	PID       int
	StartedAt time.Time
	StoppedAt sql.NullTime
	Running   bool
	ExitErr   sql.NullString
	Uniq      string
	UpdatedAt time.Time
}

// UniqueKey derives the run identity from PID and start time.
func UniqueKey(pid int, startedAt time.Time) string {
	return fmt.Sprintf("%d-%d", pid, startedAt.UTC().UnixNano())
}

// Key returns the run identity, preferring an explicit Uniq when set.
func (r Record) Key() string {
	if r.Uniq != "" {
		return r.Uniq
	}
	return UniqueKey(r.PID, r.StartedAt)
}

// Verdict is the outcome of one idle evaluation of the host. Busy names the
// terminal that vetoed idleness and is empty when every session was idle.
// Paused reports whether the operator had forced the busy outcome.

type Verdict struct {
	ID         int64
	At         time.Time
	Idle       bool
	Paused     bool
	Sessions   int
	Unreadable int
	Busy       string
}

// Store persists worker run state and idle verdicts.

type Store interface {
	EnsureSchema(ctx context.Context) error
	RecordStart(ctx context.Context, rec Record) error
	RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error
	UpsertStatus(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string, limit int) ([]Record, error)
	GetRunning(ctx context.Context, namePrefix string) ([]Record, error)
	RecordVerdict(ctx context.Context, v Verdict) error
	RecentVerdicts(ctx context.Context, limit int) ([]Verdict, error)
	PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
