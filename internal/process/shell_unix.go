//go:build !windows

package process

import "os/exec"

// getShellCommand wraps script in the platform shell. The absolute path
// avoids a PATH dependency when Env is overridden.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// getTrueCommand returns a command that always succeeds.
func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
