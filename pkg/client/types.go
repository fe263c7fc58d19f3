package client

import "time"

// Status is the supervisor snapshot returned by the status endpoint.
type Status struct {
	Idle       bool           `json:"idle"`
	Paused     bool           `json:"paused"`
	Threshold  float64        `json:"threshold_seconds"`
	Busy       []string       `json:"busy,omitempty"`
	Unreadable int            `json:"unreadable,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	Workers    []WorkerStatus `json:"workers"`
}

// WorkerStatus is the state of a single supervised worker.
type WorkerStatus struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid"`
	Policy     string    `json:"policy"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitError  string    `json:"exit_error,omitempty"`
	DetectedBy string    `json:"detected_by"`
}

// Session is one logged-in terminal session reported by the sessions endpoint.
type Session struct {
	Terminal     string    `json:"terminal"`
	User         string    `json:"user"`
	Host         string    `json:"host,omitempty"`
	LoginAt      time.Time `json:"login_at"`
	LastActivity time.Time `json:"last_activity"`
	Readable     bool      `json:"readable"`
}

// Sessions is one sensor pass over the host.
type Sessions struct {
	Sessions   []Session          `json:"sessions"`
	IdleSecs   map[string]float64 `json:"idle_seconds"`
	Unreadable int                `json:"unreadable"`
	Taken      time.Time          `json:"taken"`
}

// Verdict is the outcome of one idle evaluation.
type Verdict struct {
	Idle       bool     `json:"idle"`
	Threshold  float64  `json:"threshold_seconds"`
	Busy       []string `json:"busy,omitempty"`
	Unreadable int      `json:"unreadable,omitempty"`
}

// CheckResult is the response of the check endpoint.
type CheckResult struct {
	OK      bool    `json:"ok"`
	Verdict Verdict `json:"verdict"`
}

// HistoryVerdict is one persisted cycle verdict.
type HistoryVerdict struct {
	At         time.Time `json:"at"`
	Idle       bool      `json:"idle"`
	Paused     bool      `json:"paused"`
	Sessions   int       `json:"sessions"`
	Unreadable int       `json:"unreadable,omitempty"`
	Busy       string    `json:"busy,omitempty"`
}

// WorkerRun is one persisted run of a supervised worker.
type WorkerRun struct {
	Name      string     `json:"name"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Running   bool       `json:"running"`
	ExitError string     `json:"exit_error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
