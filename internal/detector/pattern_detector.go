package detector

import (
	"fmt"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// PatternDetector scans the OS process table for command lines containing
// Pattern, equivalent to pgrep -f. It is the fallback lookup used when no
// handle from a previous launch is held, e.g. after a supervisor restart.
type PatternDetector struct {
	Pattern string
	// SelfPID is excluded from matches; zero means the current process.
	SelfPID int
}

func (d PatternDetector) Alive() (bool, error) {
	pids, err := d.FindPIDs()
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// FindPIDs returns the PIDs of all processes whose command line contains
// the pattern, excluding the calling process itself. Processes that vanish
// mid-scan or hide their command line are skipped.
func (d PatternDetector) FindPIDs() ([]int, error) {
	if strings.TrimSpace(d.Pattern) == "" {
		return nil, fmt.Errorf("pattern detector requires a pattern")
	}
	procs, err := gopsproc.Processes()
	if err != nil {
		return nil, fmt.Errorf("scan process table: %w", err)
	}
	self := d.SelfPID
	if self == 0 {
		self = os.Getpid()
	}
	var pids []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || cmdline == "" {
			continue
		}
		if strings.Contains(cmdline, d.Pattern) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

func (d PatternDetector) Describe() string { return "pattern:" + d.Pattern }
