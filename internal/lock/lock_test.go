package lock

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	l := New(path)

	g, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	g2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second acquire after release: %v", err)
	}
	_ = g2.Release()
}

func TestTryAcquireFailsWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	l := New(path)

	g, err := l.TryAcquire()
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}
	defer g.Release()

	if _, err := l.TryAcquire(); err == nil {
		t.Fatalf("expected try-acquire to fail while lock is held")
	}
}

func TestConcurrentAcquireMutualExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspace.lock")
	l := New(path)

	var holders int32
	var maxHolders int32
	done := make(chan struct{})

	worker := func() {
		defer func() { done <- struct{}{} }()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g, err := l.Acquire(ctx)
		if err != nil {
			t.Errorf("acquire: %v", err)
			return
		}
		n := atomic.AddInt32(&holders, 1)
		for {
			cur := atomic.LoadInt32(&maxHolders)
			if n <= cur || atomic.CompareAndSwapInt32(&maxHolders, cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&holders, -1)
		_ = g.Release()
	}

	const n = 3
	for i := 0; i < n; i++ {
		go worker()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	if maxHolders != 1 {
		t.Fatalf("expected at most 1 concurrent holder, saw %d", maxHolders)
	}
}
