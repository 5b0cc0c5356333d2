//go:build windows

package lock

import "os"

// processExistsSignal on Windows: os.Process.Signal only supports
// os.Kill/os.Interrupt; os.FindProcess succeeding is itself the liveness
// signal there, so we use the no-op Interrupt which Go maps to a handle
// check rather than an actual signal delivery.
const processExistsSignal = os.Interrupt
