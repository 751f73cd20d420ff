// Package daemon manages the background gateway process through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotRunning is returned by Stop when no PID file exists.
var ErrNotRunning = errors.New("Proxy is not running (no PID file found).")

// AlreadyRunningError is returned by Start when a live gateway is recorded.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("Proxy already running (PID %d). Stop it first with: model-switch stop", e.PID)
}

// Daemon locates and controls the background gateway.
type Daemon struct {
	PIDPath string
	// Executable is re-run with "start --foreground"; defaults to the current binary.
	Executable string
	// Env is appended to the child's inherited environment.
	Env []string
}

// DefaultPIDPath returns ~/.claude/model-switch-proxy.pid.
func DefaultPIDPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "model-switch-proxy.pid"), nil
}

// New returns a Daemon using pidPath.
func New(pidPath string) *Daemon {
	return &Daemon{PIDPath: pidPath}
}

// ReadPID returns the recorded PID. A missing file is reported as an error
// matching os.ErrNotExist.
func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.PIDPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", d.PIDPath)
	}
	return pid, nil
}

// IsRunning reports the recorded PID and whether that process is alive.
// No PID file means not running and no error.
func (d *Daemon) IsRunning() (pid int, running bool, err error) {
	pid, err = d.ReadPID()
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pid, alive(pid), nil
}

// NotifyReload asks a running gateway to reload its profiles. It reports
// whether a gateway was notified.
func (d *Daemon) NotifyReload() (bool, error) {
	pid, running, err := d.IsRunning()
	if err != nil || !running {
		return false, err
	}
	if err := signalReload(pid); err != nil {
		return false, fmt.Errorf("notify PID %d: %w", pid, err)
	}
	return true, nil
}

// Start launches "<exe> start --foreground --port <port> [args...]" in the
// background with output discarded and records its PID. A stale PID file is
// replaced; a live one is an *AlreadyRunningError.
func (d *Daemon) Start(port int, args ...string) (int, error) {
	pid, running, err := d.IsRunning()
	switch {
	case err != nil:
		// Unreadable PID file: treat it as stale.
		if rmErr := os.Remove(d.PIDPath); rmErr != nil {
			return 0, rmErr
		}
	case running:
		return 0, &AlreadyRunningError{PID: pid}
	case pid != 0:
		if err := os.Remove(d.PIDPath); err != nil {
			return 0, err
		}
	}

	exe := d.Executable
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return 0, fmt.Errorf("could not determine executable path: %w", err)
		}
	}

	argv := append([]string{"start", "--foreground", "--port", strconv.Itoa(port)}, args...)
	cmd := exec.Command(exe, argv...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = append(os.Environ(), d.Env...)
	detach(cmd)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to spawn proxy process: %w", err)
	}
	pid = cmd.Process.Pid

	if err := os.MkdirAll(filepath.Dir(d.PIDPath), 0o755); err != nil {
		return pid, err
	}
	if err := os.WriteFile(d.PIDPath, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return pid, err
	}
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop terminates the recorded process and removes the PID file. It reports
// whether the process was alive.
func (d *Daemon) Stop() (pid int, wasRunning bool, err error) {
	pid, err = d.ReadPID()
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, ErrNotRunning
	}
	if err != nil {
		return 0, false, err
	}

	wasRunning = terminate(pid) == nil
	if err := os.Remove(d.PIDPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return pid, wasRunning, err
	}
	return pid, wasRunning, nil
}
