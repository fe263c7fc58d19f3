package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/idlewatch/internal/detector"
	"github.com/loykin/idlewatch/internal/procstat"
)

// Process is the retained handle for one supervised worker. A launch
// detaches the child into its own session so it outlives this supervisor;
// the handle only observes it afterwards and never owns its lifetime.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	status    Status
	mu        sync.Mutex
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

func New(spec Spec) *Process { return &Process{spec: spec} }

// UpdateSpec replaces the internal spec under lock.
func (r *Process) UpdateSpec(s Spec) {
	r.mu.Lock()
	r.spec = s
	r.mu.Unlock()
}

// Spec returns a copy of the current spec.
func (r *Process) Spec() Spec {
	r.mu.Lock()
	s := *r.spec.DeepCopy()
	r.mu.Unlock()
	return s
}

// ConfigureCmd builds and configures *exec.Cmd for this process using mergedEnv.
// It sets workdir, environment, stdio, and the detachment attributes. Worker
// stdout/stderr are opened append-mode and the descriptors are inherited by
// the child, so the log keeps filling after this supervisor exits.
func (r *Process) ConfigureCmd(mergedEnv []string) *exec.Cmd {
	r.mu.Lock()
	spec := r.spec // copy to avoid holding the lock during I/O
	r.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	configureSysProcAttr(cmd)

	// Drop writers left over from a failed previous attempt.
	r.CloseWriters()
	outF, errF, err := spec.Log.AppendFiles(spec.Name)
	if err != nil {
		outF, errF = nil, nil
	}
	if outF != nil {
		cmd.Stdout = outF
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errF != nil {
		cmd.Stderr = errF
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	r.setWriters(outF, errF)
	return cmd
}

func (r *Process) setWriters(stdout, stderr io.WriteCloser) {
	r.mu.Lock()
	if stdout != nil {
		r.outCloser = stdout
	}
	if stderr != nil {
		r.errCloser = stderr
	}
	r.mu.Unlock()
}

// CloseWriters releases the supervisor-side copies of the log descriptors.
// The child keeps its own duplicates.
func (r *Process) CloseWriters() {
	r.mu.Lock()
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
	r.mu.Unlock()
}

// CopyCmd returns the current command handle.
func (r *Process) CopyCmd() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

// TryStart atomically starts the command and updates internal state and PID file.
// On success it also releases the parent-side log descriptors and parks a
// background reaper so an exited child does not linger as a zombie while
// this supervisor keeps running.
func (r *Process) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		r.CloseWriters()
		return err
	}
	r.setStarted(cmd)
	// Write PID file synchronously to ensure availability immediately after Start returns.
	r.WritePIDFile()
	r.CloseWriters()
	go r.reap(cmd)
	return nil
}

func (r *Process) setStarted(cmd *exec.Cmd) {
	r.mu.Lock()
	r.cmd = cmd
	r.status.Name = r.spec.Name
	r.status.Running = true
	r.status.PID = cmd.Process.Pid
	r.status.StartedAt = time.Now()
	r.status.StoppedAt = time.Time{}
	r.status.ExitError = ""
	r.status.DetectedBy = "exec:pid"
	r.mu.Unlock()
}

// reap waits for the child in the background purely to collect its exit
// status. It never restarts anything; the next cycle decides what to do.
func (r *Process) reap(cmd *exec.Cmd) {
	err := cmd.Wait()
	r.mu.Lock()
	if r.cmd == cmd {
		r.status.Running = false
		r.status.StoppedAt = time.Now()
		if err != nil {
			r.status.ExitError = err.Error()
		}
	}
	r.mu.Unlock()
}

// WritePIDFile records the child PID plus its start time, so a later run
// can tell the worker apart from an unrelated process that reused the PID.
func (r *Process) WritePIDFile() {
	r.mu.Lock()
	pidFile := r.spec.PIDFile
	pid := 0
	if r.cmd != nil && r.cmd.Process != nil {
		pid = r.cmd.Process.Pid
	}
	r.mu.Unlock()

	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	_ = os.WriteFile(pidFile, []byte(FormatPIDFile(pid, procstat.StartUnix(pid))), 0o600)
}

// RemovePIDFile best-effort
func (r *Process) RemovePIDFile() {
	r.mu.Lock()
	pidFile := r.spec.PIDFile
	r.mu.Unlock()

	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	s := r.status
	s.Name = r.spec.Name
	s.Policy = r.spec.Policy
	if s.Policy == "" {
		s.Policy = RunWhenIdle
	}
	r.mu.Unlock()
	return s
}

// UpdateDetection refreshes the liveness fields after a probe. pid > 0
// records where the probe found the worker, e.g. a pattern-matched PID
// after a supervisor restart.
func (r *Process) UpdateDetection(alive bool, by string, pid int) {
	r.mu.Lock()
	r.status.Running = alive
	r.status.DetectedBy = by
	if alive && pid > 0 {
		r.status.PID = pid
	}
	r.mu.Unlock()
}

// AdoptStartTime backfills the start time of a worker this supervisor did
// not launch, so an adopted run keeps one identity across restarts. A start
// time from an actual launch is never overwritten.
func (r *Process) AdoptStartTime(at time.Time) {
	r.mu.Lock()
	if r.status.StartedAt.IsZero() && !at.IsZero() {
		r.status.StartedAt = at
		r.status.StoppedAt = time.Time{}
		r.status.ExitError = ""
	}
	r.mu.Unlock()
}

// DetectAlive probes liveness avoiding races with os/exec internals.
func (r *Process) DetectAlive() (bool, string) {
	r.mu.Lock()
	cmd := r.cmd
	reaped := !r.status.Running && !r.status.StoppedAt.IsZero()
	r.mu.Unlock()

	// First, try exec:pid detection if we hold a launch handle. Once the
	// reaper collected the exit the PID may belong to a stranger, so skip
	// straight to detectors.
	if cmd != nil && cmd.Process != nil && !reaped {
		pid := cmd.Process.Pid
		// A child that exited but was not reaped yet shows as a zombie on
		// Linux; report it dead so a cycle can relaunch.
		if runtime.GOOS == "linux" && isZombieLinux(pid) {
			return false, ""
		}
		if processExists(pid) {
			return true, "exec:pid"
		}
	}

	// If exec:pid detection fails or no process, try configured detectors.
	for _, d := range r.detectors() {
		ok, _ := d.Alive()
		if ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

func (r *Process) detectors() []detector.Detector {
	r.mu.Lock()
	defer r.mu.Unlock()

	dets := make([]detector.Detector, 0, len(r.spec.Detectors)+1)
	if r.spec.PIDFile != "" {
		dets = append(dets, detector.PIDFileDetector{PIDFile: r.spec.PIDFile})
	}
	dets = append(dets, r.spec.Detectors...)
	return dets
}

// isZombieLinux returns true if /proc/<pid>/status reports a zombie state (Z) on Linux.
func isZombieLinux(pid int) bool {
	path := "/proc/" + strconv.Itoa(pid) + "/status"
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Interrupt delivers one interrupt to the child's process group so a
// shell-wrapped worker receives it too. It never waits for exit and never
// escalates to a kill; a worker that ignores the signal is simply seen
// alive again by a later cycle. A child already gone reports success.
func (r *Process) Interrupt() error {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return mapInterruptErr(cmd.Process.Pid, interruptGroup(cmd.Process.Pid))
}

// InterruptPID delivers one interrupt directly to pid, for workers found by
// pattern lookup rather than launched by this supervisor.
func InterruptPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	return mapInterruptErr(pid, interruptPID(pid))
}

// InGroupOf reports whether pid belongs to the process group led by leader.
// A group interrupt already reached such a PID; a direct signal on top of
// it would deliver a second interrupt.
func InGroupOf(pid, leader int) bool {
	if pid <= 0 || leader <= 0 {
		return false
	}
	return sameProcessGroup(pid, leader)
}

func mapInterruptErr(pid int, err error) error {
	if err == nil || errors.Is(err, syscall.ESRCH) {
		// Exited between lookup and signal; the goal state is reached.
		return nil
	}
	return fmt.Errorf("interrupt pid %d: %w", pid, err)
}
