package detector

import (
	"fmt"
	"os"
	"testing"
	"time"
)

func TestPatternDetectorFindsLiveProcess(t *testing.T) {
	requireUnix(t)
	// Use a sleep duration unlikely to collide with anything else on the host.
	marker := fmt.Sprintf("sleep 7.%d", os.Getpid()%1000+1000)
	cmd, err := startSleep(marker[len("sleep "):])
	if err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() { _ = cmd.Process.Kill() }()
	time.Sleep(50 * time.Millisecond)

	d := PatternDetector{Pattern: marker}
	alive, err := d.Alive()
	if err != nil {
		t.Fatalf("Alive error: %v", err)
	}
	if !alive {
		t.Fatalf("expected pattern %q to match the sleep process", marker)
	}
	pids, err := d.FindPIDs()
	if err != nil {
		t.Fatalf("FindPIDs error: %v", err)
	}
	found := false
	for _, pid := range pids {
		if pid == cmd.Process.Pid {
			found = true
		}
	}
	if !found {
		t.Fatalf("FindPIDs %v does not include started pid %d", pids, cmd.Process.Pid)
	}
}

func TestPatternDetectorNoMatch(t *testing.T) {
	d := PatternDetector{Pattern: "__idlewatch_no_such_process__"}
	alive, err := d.Alive()
	if err != nil {
		t.Fatalf("Alive error: %v", err)
	}
	if alive {
		t.Fatalf("expected no match")
	}
}

func TestPatternDetectorExcludesSelf(t *testing.T) {
	// The test binary's own command line always contains its executable
	// path; matching on it must not report the excluded self PID.
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("executable path unavailable: %v", err)
	}
	d := PatternDetector{Pattern: exe}
	pids, err := d.FindPIDs()
	if err != nil {
		t.Fatalf("FindPIDs error: %v", err)
	}
	for _, pid := range pids {
		if pid == os.Getpid() {
			t.Fatalf("self pid %d must be excluded from matches", pid)
		}
	}
}

func TestPatternDetectorEmptyPattern(t *testing.T) {
	d := PatternDetector{}
	if _, err := d.FindPIDs(); err == nil {
		t.Fatalf("expected error for empty pattern")
	}
	if d.Describe() != "pattern:" {
		t.Fatalf("unexpected describe: %q", d.Describe())
	}
}
