//go:build unix

package runtime

import (
	"os"
	"syscall"
)

// reloadSignals trigger a profile reload in the running gateway.
var reloadSignals = []os.Signal{syscall.SIGHUP}
