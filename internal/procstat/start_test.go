package procstat

import (
	"os"
	"testing"
	"time"
)

func TestStartUnixSelf(t *testing.T) {
	start := StartUnix(os.Getpid())
	if start == 0 {
		t.Skip("process start time unavailable on this platform")
	}
	now := time.Now().Unix()
	if start > now+5 {
		t.Fatalf("start time %d is in the future (now %d)", start, now)
	}
	// The test binary started well after boot but within the last day.
	if now-start > 24*3600 {
		t.Fatalf("start time %d implausibly old (now %d)", start, now)
	}
}

func TestStartUnixInvalidPID(t *testing.T) {
	if got := StartUnix(0); got != 0 {
		t.Fatalf("pid 0 should yield 0, got %d", got)
	}
	if got := StartUnix(-5); got != 0 {
		t.Fatalf("negative pid should yield 0, got %d", got)
	}
}
