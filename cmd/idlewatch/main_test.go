package main

import (
	"os/exec"
	"strings"
	"testing"
)

func TestHelpExitsZero(t *testing.T) {
	cmd := exec.Command("go", "run", ".", "--help")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("help should succeed: %v, out=%s", err, out)
	}
	if !strings.Contains(string(out), "idlewatch") {
		t.Fatalf("unexpected help output: %s", out)
	}
}

func TestBuildRootRegistersSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{"run", "once", "check", "status", "pause", "resume", "install", "uninstall", "template", "version"}
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestCheckViaCobra(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"check", "--idle-seconds", "300"})
	if err := root.Execute(); err != nil {
		t.Fatalf("check via cobra: %v", err)
	}
}
