//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr detaches the child into a new session (setsid) so it
// survives this supervisor's exit and never sees signals aimed at the
// supervisor's controlling terminal. Session leadership also makes the
// child a process group leader, which group interrupts rely on.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
