//go:build !windows

package lock

import "syscall"

// processExistsSignal is the no-op signal used to probe whether a PID is
// still alive without actually delivering a signal to it.
const processExistsSignal = syscall.Signal(0)
