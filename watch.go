package fsobserve

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EventFilter is an optional allowlist of event kinds an [ObservedWatch]
// restricts dispatch to. A nil filter means "all kinds".
type EventFilter map[Kind]bool

// NewEventFilter builds a filter from the given kinds.
func NewEventFilter(kinds ...Kind) EventFilter {
	f := make(EventFilter, len(kinds))
	for _, k := range kinds {
		f[k] = true
	}
	return f
}

// Allows reports whether the filter permits kind. A nil filter allows
// everything.
func (f EventFilter) Allows(kind Kind) bool {
	if f == nil {
		return true
	}
	return f[kind]
}

// ObservedWatch is the value handed back from [Observer.Schedule].
// Identity is defined over (Path, Recursive): scheduling the same pair
// twice returns the same ObservedWatch, per spec.md §3. Filter is a map, so
// ObservedWatch values cannot be compared with ==; compare their
// (Path, Recursive) pair instead. ObservedWatch values are immutable once
// constructed.
type ObservedWatch struct {
	Path      string
	Recursive bool
	Filter    EventFilter
}

// key is the identity fsobserve's registry hashes watches by.
type watchKey struct {
	path      string
	recursive bool
}

func (w ObservedWatch) key() watchKey { return watchKey{w.Path, w.Recursive} }

func (w ObservedWatch) String() string {
	if w.Recursive {
		return fmt.Sprintf("%s/...", w.Path)
	}
	return w.Path
}

// canonicalize normalizes path the way schedule() does: absolute, symlinks
// resolved where possible, trailing separator stripped. This is the
// resolution to spec.md §9's open question about Windows junction/reparse
// handling — canonicalize once here, then compare by that form everywhere.
func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	abs = strings.TrimRight(abs, string(os.PathSeparator))
	if abs == "" {
		abs = string(os.PathSeparator)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Path doesn't exist yet, or a component is unreadable: fall back to
	// the absolute, uncanonicalized form rather than failing schedule().
	return abs, nil
}
