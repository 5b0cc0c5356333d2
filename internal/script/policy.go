// Package script implements the Scripting Host (spec.md §4.F): a
// dedicated-OS-thread, single-threaded JS reactor built on goja, since the
// isolate it wraps is not thread-safe. New relative to the teacher (which
// loads native Go plugins via plugin.Open, not a JS engine); the reactor
// shape is grounded on the teacher's command-queue/request-reply idioms in
// internal/process/command_queue.go and internal/mcp.
package script

import "github.com/agentd-run/agentd/internal/workspace"

// Policy is the fixed capability surface every script capability checks
// before performing its operation: allowed read/write roots, network
// allow/deny, and whether host environment variables are exposed.
type Policy struct {
	Gate           *workspace.Gate
	NetworkAllowed bool
	ExposeEnv      bool
}
