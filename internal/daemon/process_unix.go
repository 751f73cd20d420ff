//go:build unix

package daemon

import (
	"os/exec"
	"syscall"
)

func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

func signalReload(pid int) error {
	return syscall.Kill(pid, syscall.SIGHUP)
}

func terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// detach starts the child in its own session so it outlives the terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
