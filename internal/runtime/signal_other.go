//go:build !unix

package runtime

import "os"

// No reload signal exists here; profiles.watch is the only out-of-band trigger.
var reloadSignals []os.Signal
