//go:build windows

package fsobserve

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// newPlatformEmitter on Windows is always ReadDirectoryChangesW;
// spec.md §4.4.4.
func newPlatformEmitter(watch ObservedWatch, cfg backendConfig) (emitter, error) {
	return newWindowsEmitter(watch, cfg)
}

// windowsEmitter drives one directory handle through ReadDirectoryChangesW
// via an IOCP, grounded on the teacher's windows.go (watch.ov Overlapped,
// watch.buf 64K buffer, port/CreateIoCompletionPort, startRead/readEvents),
// generalized from a shared multi-directory watchMap keyed by volume+index
// to a single handle per ObservedWatch, and from the RENAMED_OLD_NAME /
// RENAMED_NEW_NAME two-step (stashed in watch.rename) to pairing through
// pendingRename below.
type windowsEmitter struct {
	root ObservedWatch
	cfg  backendConfig
	out  EventSink

	handle windows.Handle
	port   windows.Handle
	ov     windows.Overlapped
	buf    [65536]byte

	mu            sync.Mutex
	pendingRename *windowsRename // old half stashed between RENAMED_OLD_NAME and _NEW_NAME
	dirs          map[string]bool // known directory paths; ReadDirectoryChangesW never reports isDir itself
	done          chan struct{}
	doneResp      chan struct{}
}

// windowsRename is the old-name half of a rename stashed between the two
// FILE_ACTION_RENAMED_* notifications ReadDirectoryChangesW delivers for
// it; isDir is captured at OLD_NAME time since the path no longer exists
// under that name once NEW_NAME arrives.
type windowsRename struct {
	path  string
	isDir bool
}

func newWindowsEmitter(watch ObservedWatch, cfg backendConfig) (emitter, error) {
	p, err := windows.UTF16PtrFromString(watch.Path)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFile(p,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateFile %q: %w", watch.Path, err)
	}
	port, err := windows.CreateIoCompletionPort(h, 0, 0, 0)
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("CreateIoCompletionPort: %w", err)
	}
	return &windowsEmitter{
		root:     watch,
		cfg:      cfg,
		handle:   h,
		port:     port,
		dirs:     make(map[string]bool),
		done:     make(chan struct{}),
		doneResp: make(chan struct{}),
	}, nil
}

func (e *windowsEmitter) notifyFilter() uint32 {
	f := windows.FILE_NOTIFY_CHANGE_FILE_NAME | windows.FILE_NOTIFY_CHANGE_DIR_NAME |
		windows.FILE_NOTIFY_CHANGE_LAST_WRITE | windows.FILE_NOTIFY_CHANGE_ATTRIBUTES
	return uint32(f)
}

func (e *windowsEmitter) start(out EventSink) error {
	e.out = out
	e.seedDirs()
	if err := e.startRead(); err != nil {
		windows.CloseHandle(e.handle)
		return err
	}
	go e.readLoop()
	return nil
}

// seedDirs walks the watched subtree once at start so later isDirPath
// lookups have something to fall back on for paths FILE_ACTION_REMOVED
// reports after they've already vanished from disk.
func (e *windowsEmitter) seedDirs() {
	e.mu.Lock()
	e.dirs[e.root.Path] = true
	e.mu.Unlock()

	filepath.WalkDir(e.root.Path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == e.root.Path || !d.IsDir() {
			return nil
		}
		e.mu.Lock()
		e.dirs[p] = true
		e.mu.Unlock()
		return nil
	})
}

// isDirPath reports whether path names a directory. Lstat answers it
// directly for any path that still exists (created, modified, the
// destination half of a rename); a path already gone (removed, the
// source half of a rename) falls back to the tracked dirs set.
func (e *windowsEmitter) isDirPath(path string) bool {
	if info, err := os.Lstat(path); err == nil {
		return info.IsDir()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirs[path]
}

func (e *windowsEmitter) trackDir(path string, isDir bool) {
	if !isDir {
		return
	}
	e.mu.Lock()
	e.dirs[path] = true
	e.mu.Unlock()
}

func (e *windowsEmitter) untrackDir(path string) {
	e.mu.Lock()
	delete(e.dirs, path)
	e.mu.Unlock()
}

func (e *windowsEmitter) startRead() error {
	return windows.ReadDirectoryChanges(e.handle, &e.buf[0],
		uint32(len(e.buf)), e.root.Recursive, e.notifyFilter(), nil, &e.ov, 0)
}

func (e *windowsEmitter) stop() error {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	windows.CancelIo(e.handle)
	err := windows.CloseHandle(e.handle)
	windows.CloseHandle(e.port)
	<-e.doneResp
	return err
}

func (e *windowsEmitter) readLoop() {
	defer close(e.doneResp)

	var n uint32
	var key uintptr
	var ov *windows.Overlapped
	for {
		select {
		case <-e.done:
			return
		default:
		}

		err := windows.GetQueuedCompletionStatus(e.port, &n, &key, &ov, 500)
		switch err {
		case windows.WAIT_TIMEOUT:
			continue
		case windows.ERROR_OPERATION_ABORTED:
			return
		case windows.ERROR_ACCESS_DENIED:
			// The watched directory was probably removed.
			e.emit(NewEvent(FileDeleted, e.root.Path, true, false))
			return
		case nil:
		default:
			e.cfg.logger.Error("ReadDirectoryChanges wait", "watch", e.root, "error", err)
			return
		}

		e.parse(n)
		if err := e.startRead(); err != nil {
			e.cfg.logger.Error("re-arming ReadDirectoryChanges", "watch", e.root, "error", err)
			return
		}
	}
}

func (e *windowsEmitter) parse(n uint32) {
	if n == 0 {
		return
	}
	var offset uint32
	for {
		raw := (*windows.FileNotifyInformation)(unsafe.Pointer(&e.buf[offset]))
		size := int(raw.FileNameLength / 2)
		name := windows.UTF16ToString(unsafe.Slice(&raw.FileName[0], size))
		full := filepath.Join(e.root.Path, name)

		switch raw.Action {
		case windows.FILE_ACTION_ADDED:
			isDir := e.isDirPath(full)
			e.trackDir(full, isDir)
			e.emit(NewEvent(FileCreated, full, isDir, false))
		case windows.FILE_ACTION_REMOVED:
			isDir := e.isDirPath(full)
			e.untrackDir(full)
			e.emit(NewEvent(FileDeleted, full, isDir, false))
		case windows.FILE_ACTION_MODIFIED:
			e.emit(NewEvent(FileModified, full, e.isDirPath(full), false))
		case windows.FILE_ACTION_RENAMED_OLD_NAME:
			isDir := e.isDirPath(full)
			e.mu.Lock()
			e.pendingRename = &windowsRename{path: full, isDir: isDir}
			e.mu.Unlock()
		case windows.FILE_ACTION_RENAMED_NEW_NAME:
			e.mu.Lock()
			old := e.pendingRename
			e.pendingRename = nil
			e.mu.Unlock()
			if old != nil {
				if old.isDir {
					e.untrackDir(old.path)
					e.trackDir(full, true)
				}
				e.emit(NewMovedEvent(old.path, full, old.isDir, false))
			} else {
				isDir := e.isDirPath(full)
				e.trackDir(full, isDir)
				e.emit(NewEvent(FileCreated, full, isDir, false))
			}
		}

		if raw.NextEntryOffset == 0 {
			break
		}
		offset += raw.NextEntryOffset
	}
}

func (e *windowsEmitter) emit(ev Event) {
	if err := e.out.Put(ev); err != nil {
		e.cfg.logger.Debug("event dropped, queue closed", "watch", e.root)
	}
}
