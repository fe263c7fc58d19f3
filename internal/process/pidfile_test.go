package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/idlewatch/internal/detector"
)

func TestFormatReadPIDFileRoundtrip(t *testing.T) {
	dir := t.TempDir()
	pf := filepath.Join(dir, "rt.pid")
	if err := os.WriteFile(pf, []byte(FormatPIDFile(4321, 1700000000)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, startUnix, err := ReadPIDFile(pf)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 4321 || startUnix != 1700000000 {
		t.Fatalf("roundtrip mismatch: pid=%d start=%d", pid, startUnix)
	}
}

func TestFormatPIDFileWithoutStartTime(t *testing.T) {
	content := FormatPIDFile(99, 0)
	if content != "99\n" {
		t.Fatalf("expected bare pid line, got %q", content)
	}
}

func TestReadPIDFileLegacyFormat(t *testing.T) {
	dir := t.TempDir()
	pf := filepath.Join(dir, "legacy.pid")
	if err := os.WriteFile(pf, []byte("12345\n"), 0o600); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	pid, startUnix, err := ReadPIDFile(pf)
	if err != nil {
		t.Fatalf("ReadPIDFile legacy: %v", err)
	}
	if pid != 12345 {
		t.Fatalf("pid mismatch: got %d want 12345", pid)
	}
	if startUnix != 0 {
		t.Fatalf("expected zero start time for legacy pidfile, got %d", startUnix)
	}
}

func TestReadPIDFileGarbageMeta(t *testing.T) {
	dir := t.TempDir()
	pf := filepath.Join(dir, "garbage.pid")
	if err := os.WriteFile(pf, []byte("777\nnot-json-at-all\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, startUnix, err := ReadPIDFile(pf)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 777 || startUnix != 0 {
		t.Fatalf("expected pid with zero start, got pid=%d start=%d", pid, startUnix)
	}
}

func TestReadPIDFileBadPID(t *testing.T) {
	dir := t.TempDir()
	pf := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(pf, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadPIDFile(pf); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestReadPIDFileMissing(t *testing.T) {
	if _, _, err := ReadPIDFile(filepath.Join(t.TempDir(), "absent.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

// A pidfile written at launch must satisfy the pidfile detector, including
// its PID-reuse check against the recorded start time.
func TestWritePIDFileValidatesAgainstDetector(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pf := filepath.Join(dir, "p1.pid")
	spec := Spec{Name: "p1", Command: "sleep 1", PIDFile: pf}
	r := New(spec)
	if err := r.TryStart(r.ConfigureCmd(nil)); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	ok := waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		b, err := os.ReadFile(pf)
		return err == nil && strings.Count(string(b), "\n") >= 2
	})
	if !ok {
		t.Fatalf("pidfile with meta not written in time")
	}

	d := detector.PIDFileDetector{PIDFile: pf}
	alive, derr := d.Alive()
	if derr != nil {
		t.Fatalf("detector alive err: %v", derr)
	}
	if !alive {
		t.Fatalf("expected detector to report alive with matching meta")
	}
}
