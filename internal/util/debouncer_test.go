package util

import (
	"sync"
	"testing"
	"time"
)

func TestEventDebouncerCollapsesBurst(t *testing.T) {
	var (
		mu    sync.Mutex
		fired []int
	)
	d := NewEventDebouncer(20*time.Millisecond, func(v int) {
		mu.Lock()
		fired = append(fired, v)
		mu.Unlock()
	})

	d.Add("/a", 1)
	d.Add("/a", 2)
	d.Add("/a", 3)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("fired = %v, want exactly one delivery", fired)
	}
	if fired[0] != 3 {
		t.Fatalf("fired[0] = %d, want 3 (latest value)", fired[0])
	}
}

func TestEventDebouncerKeepsKeysIndependent(t *testing.T) {
	d := NewEventDebouncer(10*time.Millisecond, func(v int) {})
	d.Add("/a", 1)
	d.Add("/b", 2)
	time.Sleep(50 * time.Millisecond)
	// Independent keys shouldn't block or cancel each other; absence of a
	// panic/deadlock here is the assertion.
}

func TestEventDebouncerStopCancelsPending(t *testing.T) {
	fired := false
	d := NewEventDebouncer(10*time.Millisecond, func(v int) { fired = true })
	d.Add("/a", 1)
	d.Stop()
	time.Sleep(30 * time.Millisecond)
	if fired {
		t.Fatal("Stop should have cancelled the pending delivery")
	}
}
