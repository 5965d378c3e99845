//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so a forced kill
// also reaches anything the JVM spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcess sends SIGKILL to the process group when the process leads
// one, otherwise to the process itself.
func killProcess(p *os.Process) error {
	if pgid, err := syscall.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
	return p.Kill()
}
