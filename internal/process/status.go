package process

import "time"

// Status is a point-in-time view of a supervised worker.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid"`
	Policy     Policy    `json:"policy"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitError  string    `json:"exit_error,omitempty"`
	DetectedBy string    `json:"detected_by"`
}
