package fsobserve

import (
	"errors"
	"fmt"
)

// Sentinel errors, in the manner of the teacher's ErrNonExistentWatch /
// ErrEventOverflow (fsnotify.go, backend_inotify.go): callers compare with
// errors.Is rather than matching strings.
var (
	// ErrNonExistentWatch is returned by unschedule-adjacent operations
	// that can't find the requested watch. unschedule itself never returns
	// it: per spec.md §7 "Calls to unschedule on an already-dead watch
	// succeed silently".
	ErrNonExistentWatch = errors.New("fsobserve: no such watch")
	// ErrIllegalState is returned for observer misuse: schedule after stop,
	// stop before start, spec.md §7.
	ErrIllegalState = errors.New("fsobserve: illegal state")
	// ErrClosed names a closed observer or backend for errors.Is checks.
	// No operation in this package returns it; a closed event queue is
	// reported as queue.ErrClosed.
	ErrClosed = errors.New("fsobserve: closed")
)

// ResourceKind names the exhausted resource in a [ResourceError].
type ResourceKind string

const (
	ResourceInotifyWatches  ResourceKind = "inotify_watches"  // ENOSPC: fs.inotify.max_user_watches
	ResourceInotifyInstance ResourceKind = "inotify_instances" // fs.inotify.max_user_instances
	ResourceOpenFiles       ResourceKind = "open_files"        // kqueue per-process fd limit
)

// ResourceError reports schedule() failing because a kernel resource is
// exhausted (spec.md §7, "Resource exhaustion"). Hint suggests the
// operator-facing remedy (e.g. the sysctl to raise).
type ResourceError struct {
	Resource ResourceKind
	Hint     string
	Err      error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("fsobserve: %s exhausted: %s (%s)", e.Resource, e.Err, e.Hint)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// WatchError reports a terminal condition on an already-live watch — most
// commonly its root directory vanishing (spec.md §7, "Watch-target
// vanished"). Handlers can recover the watch from the error to decide
// whether to reschedule.
type WatchError struct {
	Watch ObservedWatch
	Err   error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("fsobserve: watch %s: %s", e.Watch, e.Err)
}

func (e *WatchError) Unwrap() error { return e.Err }
