package commands

// Start launches the gateway in the background. args are passed through to
// the foreground process.
func (r *Runner) Start(port int, args ...string) error {
	pid, err := r.Daemon.Start(port, args...)
	if err != nil {
		return err
	}
	r.printf("Proxy started on %s (PID %d)\n", GatewayURL(port), pid)
	return nil
}

// Stop terminates the background gateway.
func (r *Runner) Stop() error {
	pid, wasRunning, err := r.Daemon.Stop()
	if err != nil {
		return err
	}
	if wasRunning {
		r.printf("Proxy stopped (PID %d).\n", pid)
	} else {
		r.printf("Process %d was not running. Cleaned up PID file.\n", pid)
	}
	return nil
}

