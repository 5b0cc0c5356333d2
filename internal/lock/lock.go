// Package lock implements the workspace lock: an advisory, cross-process,
// file-backed exclusive lock that serializes every turn that may mutate
// shared on-disk state (session files, memory files, artifacts).
//
// Grounded on the teacher's gateway singleton lock (PID payload + Linux
// /proc start-time cross-check to detect PID reuse), generalized from
// "prevent a second gateway instance" to "serialize turns within and
// across processes" per spec.md §4.A.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// ErrTimeout is returned by Acquire when the lock could not be obtained
// within the requested ceiling.
var ErrTimeout = errors.New("timed out")

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultCeiling      = 30 * time.Second
)

// Payload is the JSON content written into the sibling PID file, used only
// for liveness diagnostics — it is never consulted to decide ownership.
type Payload struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	StartTime int64  `json:"start_time,omitempty"`
}

// Lock guards a single well-known path outside the workspace tree (so
// filesystem watchers inside the workspace never see it).
type Lock struct {
	path    string
	pidPath string
}

// New returns a Lock bound to path. A sibling "<path>.pid" file carries
// diagnostic-only PID information.
func New(path string) *Lock {
	return &Lock{path: path, pidPath: path + ".pid"}
}

// Guard holds the lock until Release is called.
type Guard struct {
	l    *Lock
	file *os.File
}

// Acquire blocks until the lock is obtained or the 30-second ceiling
// elapses, whichever comes first. On timeout it returns ErrTimeout.
func (l *Lock) Acquire(ctx context.Context) (*Guard, error) {
	deadline := time.Now().Add(defaultCeiling)
	for {
		g, err := l.TryAcquire()
		if err == nil {
			return g, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(defaultPollInterval):
		}
	}
}

// TryAcquire attempts to obtain the lock without blocking. It returns
// (nil, non-nil) immediately if the lock is currently held.
func (l *Lock) TryAcquire() (*Guard, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("lock: create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lock: held: %w", err)
		}
		return nil, fmt.Errorf("lock: open: %w", err)
	}

	payload := Payload{PID: os.Getpid(), CreatedAt: time.Now().UTC().Format(time.RFC3339)}
	if runtime.GOOS == "linux" {
		if st, ok := linuxStartTime(os.Getpid()); ok {
			payload.StartTime = st
		}
	}
	data, _ := json.Marshal(payload)
	_ = os.WriteFile(l.pidPath, data, 0o644)

	return &Guard{l: l, file: f}, nil
}

// Release drops the lock: closes the backing file, removes the lock file,
// and best-effort removes the sibling PID file. Never breaks a lock it did
// not itself acquire.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	_ = g.file.Close()
	err := os.Remove(g.l.path)
	_ = os.Remove(g.l.pidPath)
	g.file = nil
	return err
}

// Diagnose reads the sibling PID file (if any) and reports whether the
// recorded owner process still appears to be alive. This is diagnostic
// only: the kernel alone manages lock release, and Diagnose never breaks
// the lock.
func (l *Lock) Diagnose() (pid int, alive bool, ok bool) {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0, false, false
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return 0, false, false
	}
	return payload.PID, processAlive(payload), true
}

func processAlive(p Payload) bool {
	if p.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(p.PID)
	if err != nil {
		return false
	}
	if err := proc.Signal(processExistsSignal); err != nil {
		return false
	}
	if runtime.GOOS == "linux" && p.StartTime > 0 {
		if st, ok := linuxStartTime(p.PID); ok && st != p.StartTime {
			// PID was reused by an unrelated process.
			return false
		}
	}
	return true
}

// linuxStartTime reads field 22 (process start time) from /proc/<pid>/stat,
// used to distinguish a live owner from a reused PID.
func linuxStartTime(pid int) (int64, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, false
	}
	content := string(data)
	closeParen := strings.LastIndex(content, ")")
	if closeParen < 0 {
		return 0, false
	}
	fields := strings.Fields(strings.TrimSpace(content[closeParen+1:]))
	if len(fields) < 20 {
		return 0, false
	}
	st, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0, false
	}
	return st, true
}
