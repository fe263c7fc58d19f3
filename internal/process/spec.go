package process

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/idlewatch/internal/detector"
	"github.com/loykin/idlewatch/internal/logger"
)

// Policy decides what a supervision cycle does with a process given the
// idle verdict.
type Policy string

const (
	// RunWhenIdle starts the process while the machine is unattended and
	// interrupts it as soon as a session turns active.
	RunWhenIdle Policy = "run-when-idle"
	// AlwaysRun keeps the process running regardless of idleness; it is
	// never interrupted by a cycle.
	AlwaysRun Policy = "always-run"
)

// ParsePolicy maps a config string to a Policy. Empty selects RunWhenIdle.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.TrimSpace(s)) {
	case "", RunWhenIdle:
		return RunWhenIdle, nil
	case AlwaysRun:
		return AlwaysRun, nil
	default:
		return "", fmt.Errorf("unknown policy %q (want run-when-idle or always-run)", s)
	}
}

// DetectorConfig represents a detector configuration that can be parsed from config files
type DetectorConfig struct {
	Type    string `json:"type" mapstructure:"type"`
	Path    string `json:"path" mapstructure:"path"`
	Pattern string `json:"pattern" mapstructure:"pattern"`
	Command string `json:"command" mapstructure:"command"`
}

// Detector materializes the configured detector.
func (c DetectorConfig) Detector() (detector.Detector, error) {
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case "pidfile":
		if c.Path == "" {
			return nil, fmt.Errorf("pidfile detector requires path")
		}
		return detector.PIDFileDetector{PIDFile: c.Path}, nil
	case "pattern":
		if c.Pattern == "" {
			return nil, fmt.Errorf("pattern detector requires pattern")
		}
		return detector.PatternDetector{Pattern: c.Pattern}, nil
	case "command":
		if c.Command == "" {
			return nil, fmt.Errorf("command detector requires command")
		}
		return detector.CommandDetector{Command: c.Command}, nil
	default:
		return nil, fmt.Errorf("unknown detector type %q", c.Type)
	}
}

// Spec describes a worker the supervisor keeps running or stopped
// according to its policy.
type Spec struct {
	Name            string              `json:"name"`
	Command         string              `json:"command"`  // command to start the worker (shell syntax allowed)
	WorkDir         string              `json:"work_dir"` // optional working dir
	Env             []string            `json:"env"`      // optional extra env
	PIDFile         string              `json:"pid_file"` // optional pidfile path; if set a PIDFileDetector will be used
	Policy          Policy              `json:"policy"`   // run-when-idle (default) or always-run
	Detectors       []detector.Detector `json:"-" mapstructure:"-"`
	DetectorConfigs []DetectorConfig    `json:"detectors" mapstructure:"detectors"` // for config parsing
	Log             logger.Config       `json:"log"`                                // worker stdout/stderr destinations
}

// Validate checks the fields a launch depends on.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("process requires name")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("process %q requires command", s.Name)
	}
	if _, err := ParsePolicy(string(s.Policy)); err != nil {
		return fmt.Errorf("process %q: %w", s.Name, err)
	}
	return nil
}

// DeepCopy returns a copy sharing no mutable state with s.
func (s *Spec) DeepCopy() *Spec {
	if s == nil {
		return nil
	}
	out := *s
	if s.Env != nil {
		out.Env = append([]string(nil), s.Env...)
	}
	if s.Detectors != nil {
		out.Detectors = append([]detector.Detector(nil), s.Detectors...)
	}
	if s.DetectorConfigs != nil {
		out.DetectorConfigs = append([]DetectorConfig(nil), s.DetectorConfigs...)
	}
	return &out
}

// BuildCommand constructs an *exec.Cmd for the given spec.Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'gpuowl -nospin'"), avoiding double-wrapping with
// another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	// Fallback: when metacharacters are present, hand the whole string to a shell.
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204 -- command comes from operator-provided configuration
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
