package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type pidMeta struct {
	StartUnix int64 `json:"start_unix"`
}

// FormatPIDFile renders pidfile content: the PID on the first line and a
// JSON meta line with the process start time on the second. startUnix <= 0
// (start time unavailable on this platform) omits the meta line.
func FormatPIDFile(pid int, startUnix int64) string {
	if startUnix <= 0 {
		return strconv.Itoa(pid) + "\n"
	}
	meta, err := json.Marshal(pidMeta{StartUnix: startUnix})
	if err != nil {
		return strconv.Itoa(pid) + "\n"
	}
	return strconv.Itoa(pid) + "\n" + string(meta) + "\n"
}

// ReadPIDFile reads a pidfile written by Process.WritePIDFile.
// It returns the PID and, when the meta line is present and parses, the
// recorded start time. Files holding only a PID yield startUnix 0.
func ReadPIDFile(path string) (int, int64, error) {
	// #nosec G304 -- path comes from operator-provided configuration
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, 0, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, 0, fmt.Errorf("parse pidfile %s: %w", path, err)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, 0, nil
	}
	var m pidMeta
	if err := json.Unmarshal([]byte(rest), &m); err != nil {
		// Tolerate foreign trailing content; the PID alone is still useful.
		return pid, 0, nil
	}
	return pid, m.StartUnix, nil
}
