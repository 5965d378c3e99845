package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
)

// BuildFunc creates the command for an artifact. The command must not be
// started and must not have Stdout or Stderr set.
type BuildFunc func(artifact string) (*exec.Cmd, error)

// ExecLauncher launches any command produced by Build.
type ExecLauncher struct {
	// ProcessName is returned by Name.
	ProcessName string

	Build BuildFunc
}

// Name implements Launcher.
func (l *ExecLauncher) Name() string {
	if l.ProcessName == "" {
		return "exec"
	}
	return l.ProcessName
}

// CommandString implements Launcher.
func (l *ExecLauncher) CommandString(artifact string) string {
	cmd, err := l.Build(artifact)
	if err != nil {
		return ""
	}
	return strings.Join(cmd.Args, " ")
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(artifact string) (Handle, error) {
	cmd, err := l.Build(artifact)
	if err != nil {
		return nil, err
	}
	return Spawn(cmd)
}

// Spawn starts cmd with its standard output and error connected to fresh
// anonymous pipes and returns a handle to it.
//
// The pipes are created with os.Pipe rather than cmd.StdoutPipe so that
// reaping the process never closes a reader that a log pump is still
// draining.
func Spawn(cmd *exec.Cmd) (Handle, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return nil, err
	}

	// Close parent's write ends after Start() so the readers see EOF when
	// the child exits.
	stdoutW.Close()
	stderrW.Close()

	return &cmdHandle{cmd: cmd, stdout: stdoutR, stderr: stderrR}, nil
}

// cmdHandle adapts a started exec.Cmd to Handle.
type cmdHandle struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	waitOnce sync.Once
	waitErr  error
	reaped   atomic.Bool
}

func (h *cmdHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *cmdHandle) Stdout() io.ReadCloser { return h.stdout }

func (h *cmdHandle) Stderr() io.ReadCloser { return h.stderr }

// Kill sends SIGKILL to the process group (unix) or kills the process.
// Once the process has been reaped its PID may be reused, so Kill does
// nothing and returns os.ErrProcessDone.
func (h *cmdHandle) Kill() error {
	if h.reaped.Load() {
		return os.ErrProcessDone
	}
	return killProcess(h.cmd.Process)
}

// Wait reaps the process. Safe to call more than once.
func (h *cmdHandle) Wait() error {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
		h.reaped.Store(true)
	})
	return h.waitErr
}

// ExitCode extracts the exit code from a Wait() error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
