//go:build !unix

package daemon

import (
	"errors"
	"os"
	"os/exec"
)

var errNoReloadSignal = errors.New("reload signal not supported on this platform; enable profiles.watch instead")

func alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func signalReload(int) error {
	return errNoReloadSignal
}

func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func detach(*exec.Cmd) {}
