package detector

import (
	"runtime"
	"strings"
	"testing"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestBuildShellAwareCommand(t *testing.T) {
	requireUnix(t)
	// empty -> /bin/true
	c := buildShellAwareCommand("")
	if c.Path == "" || !strings.Contains(c.String(), "/bin/true") {
		t.Fatalf("expected /bin/true, got %q (%q)", c.Path, c.String())
	}
	// simple no metachar -> direct exec
	c = buildShellAwareCommand("pgrep gpuowl")
	if len(c.Args) == 0 || c.Args[0] != "pgrep" {
		t.Fatalf("expected direct exec pgrep, got %#v", c.Args)
	}
	// with shell meta -> sh -c
	c = buildShellAwareCommand("pgrep -f gpuowl | head -1")
	if len(c.Args) < 2 || c.Args[0] != "/bin/sh" || c.Args[1] != "-c" {
		t.Fatalf("expected /bin/sh -c, got %#v", c.Args)
	}
}

func TestCommandDetectorAliveAndDescribe(t *testing.T) {
	requireUnix(t)
	// A probe that exits 0 -> Alive true
	d := CommandDetector{Command: "true"}
	alive, err := d.Alive()
	if err != nil || !alive {
		t.Fatalf("true should be alive, got alive=%v err=%v", alive, err)
	}
	if d.Describe() != "cmd:true" {
		t.Fatalf("Describe mismatch: %q", d.Describe())
	}

	// A probe that exits non-zero -> Alive false, nil error
	d = CommandDetector{Command: "sh -c 'exit 3'"}
	alive, err = d.Alive()
	if err != nil || alive {
		t.Fatalf("non-zero exit expected false,nil, got alive=%v err=%v", alive, err)
	}

	// Non-existent binary -> error
	d = CommandDetector{Command: "__definitely_not_exists__"}
	alive, err = d.Alive()
	if err == nil || alive {
		t.Fatalf("expected error for missing binary, got alive=%v err=%v", alive, err)
	}
}
