//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup gives the child its own console process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// killProcessGroup kills the process.
// On Windows only the main process is killed; its children may remain.
func killProcessGroup(p *os.Process) error {
	return p.Kill()
}

// killGroup is a no-op: without process groups there is nothing left to
// address once the main process is gone.
func killGroup(int) error {
	return os.ErrProcessDone
}
