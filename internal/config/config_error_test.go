package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadSpecsRejectsBadPolicy(t *testing.T) {
	file := writeConfig(t, `
[[processes]]
name = "w"
command = "sleep 1"
policy = "sometimes"
`)
	if _, err := LoadSpecsFromTOML(file); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestLoadSpecsRejectsBadDetector(t *testing.T) {
	file := writeConfig(t, `
[[processes]]
name = "w"
command = "sleep 1"
  [[processes.detectors]]
  type = "quantum"
`)
	if _, err := LoadSpecsFromTOML(file); err == nil {
		t.Fatalf("expected error for unknown detector type")
	}
	file = writeConfig(t, `
[[processes]]
name = "w"
command = "sleep 1"
  [[processes.detectors]]
  type = "pidfile"
`)
	if _, err := LoadSpecsFromTOML(file); err == nil {
		t.Fatalf("expected error for pidfile detector without path")
	}
}

func TestLoadSpecsRejectsDuplicateNames(t *testing.T) {
	file := writeConfig(t, `
[[processes]]
name = "w"
command = "sleep 1"

[[processes]]
name = "w"
command = "sleep 2"
`)
	if _, err := LoadSpecsFromTOML(file); err == nil {
		t.Fatalf("expected error for duplicate process name")
	}
}

func TestLoadSpecsRejectsMissingCommand(t *testing.T) {
	file := writeConfig(t, `
[[processes]]
name = "w"
`)
	if _, err := LoadSpecsFromTOML(file); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestLoadConfigRejectsBadSessionPolicy(t *testing.T) {
	file := writeConfig(t, `
session_policy = "maybe"
`)
	if _, err := LoadConfig(file); err == nil {
		t.Fatalf("expected error for unknown session policy")
	}
}

func TestLoadConfigRejectsNegativeIdleSeconds(t *testing.T) {
	file := writeConfig(t, `
idle_seconds = -5
`)
	if _, err := LoadConfig(file); err == nil {
		t.Fatalf("expected error for negative idle_seconds")
	}
}

func TestLoadEnvFileInvalidPath(t *testing.T) {
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
