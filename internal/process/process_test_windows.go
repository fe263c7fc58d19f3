//go:build windows

package process

import (
	"os/exec"
	"testing"
)

// checkSysProcAttrs verifies Windows detachment flags.
func checkSysProcAttrs(t *testing.T, cmd *exec.Cmd) {
	t.Helper()
	if cmd.SysProcAttr == nil {
		t.Fatalf("SysProcAttr not set")
	}
	if cmd.SysProcAttr.CreationFlags&DETACHED_PROCESS == 0 {
		t.Fatalf("DETACHED_PROCESS flag not set")
	}
}
