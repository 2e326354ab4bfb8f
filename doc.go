// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fsobserve watches directory subtrees and delivers a canonical
// stream of filesystem change events to user-supplied handlers. It
// abstracts over the platform's native notification mechanism (inotify on
// Linux, FSEvents on macOS with a kqueue fallback, kqueue on the BSDs,
// ReadDirectoryChangesW on Windows) and a portable polling backend. The
// backend is chosen by the target operating system at build time; the
// polling backend is used only on operating systems with none of the
// native mechanisms, and cannot be selected per path or per filesystem.
//
// Construct an [Observer] with [NewObserver], [Observer.Schedule] one or
// more handlers against a path, then [Observer.Start] it:
//
//	obs := fsobserve.NewObserver()
//	watch, err := obs.Schedule("/var/log", true, nil, handler)
//	obs.Start()
//	defer obs.Stop()
//
// Handlers implement [Handler]; [HandlerFunc] adapts a plain function that
// wants every event. Watches are identified by their (path, recursive) pair:
// scheduling the same pair twice returns the same [ObservedWatch] and simply
// attaches the new handler to the existing watch.
package fsobserve
