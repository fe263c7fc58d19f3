package detector

// Detector is a strategy that decides whether a supervised process is
// currently running. Implementations may consult a PID file, a fixed PID,
// the OS process table, or a custom probe command.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
