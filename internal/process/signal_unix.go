//go:build !windows

package process

import "syscall"

// interruptGroup signals the whole process group so a shell-wrapped worker
// receives the interrupt alongside its wrapper. Children launched here are
// session leaders, so pid doubles as the process group id.
func interruptGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGINT)
}

// interruptPID signals a single process, matching pkill semantics for
// workers this supervisor did not launch itself.
func interruptPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGINT)
}

// processExists checks liveness without delivering a signal.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func sameProcessGroup(pid, leader int) bool {
	pgid, err := syscall.Getpgid(pid)
	return err == nil && pgid == leader
}
