//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly && !windows

package fsobserve

import (
	"sync"
	"time"

	"github.com/fsobserve/fsobserve/snapshot"
)

// pollingEmitter is the portable fallback backend: a ticker re-walks the
// watched tree and diffs it against the previous snapshot, grounded on the
// teacher's AIX-only polling Watcher (polling.go: sleepTime ticker,
// map[string]os.FileInfo) but rebuilt on top of the [snapshot] package
// instead of a bespoke file-list diff, and generalized from AIX-only to
// "any GOOS with no kernel-notification backend" (spec.md §4.4.5).
type pollingEmitter struct {
	root ObservedWatch
	cfg  backendConfig
	out  EventSink

	walker *snapshot.Walker

	mu       sync.Mutex
	prev     *snapshot.Snapshot
	done     chan struct{}
	doneResp chan struct{}
}

func newPlatformEmitter(watch ObservedWatch, cfg backendConfig) (emitter, error) {
	return newPollingEmitter(watch, cfg)
}

func newPollingEmitter(watch ObservedWatch, cfg backendConfig) (emitter, error) {
	return &pollingEmitter{
		root:     watch,
		cfg:      cfg,
		walker:   snapshot.NewWalker(),
		done:     make(chan struct{}),
		doneResp: make(chan struct{}),
	}, nil
}

func (e *pollingEmitter) start(out EventSink) error {
	e.out = out
	// Seed with an empty snapshot rather than a real initial walk, so the
	// first tick's diff (real walk vs. empty) reports every pre-existing
	// entry as a catch-up Created, per spec.md's EmptyDirectorySnapshot
	// seeding for the first resync on this watch.
	e.prev = snapshot.Empty(e.root.Path)
	go e.pollLoop()
	return nil
}

func (e *pollingEmitter) stop() error {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	<-e.doneResp
	return nil
}

func (e *pollingEmitter) interval() time.Duration {
	if e.cfg.pollInterval <= 0 {
		return defaultPollInterval
	}
	return e.cfg.pollInterval
}

func (e *pollingEmitter) pollLoop() {
	defer close(e.doneResp)

	ticker := time.NewTicker(e.interval())
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *pollingEmitter) tick() {
	cur, err := e.walker.Walk(e.root.Path, e.root.Recursive)
	if err != nil {
		e.cfg.logger.Warn("polling walk failed", "watch", e.root, "error", err)
		return
	}

	e.mu.Lock()
	prev := e.prev
	e.prev = cur
	e.mu.Unlock()

	result := snapshot.Diff(prev, cur)
	if result.OverflowHint {
		e.cfg.logger.Warn("large change set; events may be coalesced", "watch", e.root, "changes", len(result.Changes))
	}
	for _, c := range result.Changes {
		e.emit(snapshotChangeToEvent(c))
	}
}

func (e *pollingEmitter) emit(ev Event) {
	if err := e.out.Put(ev); err != nil {
		e.cfg.logger.Debug("event dropped, queue closed", "watch", e.root)
	}
}
