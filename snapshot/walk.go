package snapshot

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// StatProvider returns metadata for one path. Injectable so tests can mock
// I/O without touching a real filesystem, per spec.md §4.2.
type StatProvider func(path string) (fs.FileInfo, error)

// ListdirProvider enumerates the direct children of a directory.
type ListdirProvider func(path string) ([]fs.DirEntry, error)

// Walker builds a [Snapshot] of a directory tree.
type Walker struct {
	// StatProvider defaults to os.Lstat (never follows symlinks: a
	// symlinked entry is recorded as itself, not traversed into).
	StatProvider StatProvider
	// ListdirProvider defaults to os.ReadDir.
	ListdirProvider ListdirProvider
	// IgnoreDevice: when true, identity is keyed by inode alone, which
	// makes moves across mount boundaries visible as a Moved event rather
	// than a Deleted+Created pair. Default true on POSIX; ignored on
	// Windows, where identity is the NTFS file ID, which already includes
	// the volume serial number (see identityFor in identity_windows.go and
	// identity_unix.go).
	IgnoreDevice bool
}

// NewWalker returns a Walker with the platform defaults.
func NewWalker() *Walker {
	return &Walker{
		StatProvider:    os.Lstat,
		ListdirProvider: os.ReadDir,
		IgnoreDevice:    true,
	}
}

// Walk builds a Snapshot of root. If recursive is false only root's direct
// children are recorded (root itself is always recorded). Symlinks are
// never followed. An unreadable directory is skipped silently rather than
// failing the whole walk, per spec.md §4.2 and §7.
func (w *Walker) Walk(root string, recursive bool) (*Snapshot, error) {
	snap := Empty(root)
	snap.Taken = time.Now()

	rootInfo, err := w.stat()(root)
	if err != nil {
		return nil, err
	}
	w.record(snap, root, rootInfo)

	if rootInfo.IsDir() {
		w.walkDir(snap, root, recursive)
	}
	return snap, nil
}

func (w *Walker) walkDir(snap *Snapshot, dir string, recursive bool) {
	entries, err := w.listdir()(dir)
	if err != nil {
		// Permission denied or similar: skip this subtree, not the whole
		// walk (spec.md §7, "Unreadable entry during walk").
		return
	}
	for _, de := range entries {
		path := filepath.Join(dir, de.Name())
		info, err := w.stat()(path)
		if err != nil {
			continue // vanished between readdir and stat; skip it
		}
		w.record(snap, path, info)
		if info.IsDir() && recursive {
			w.walkDir(snap, path, recursive)
		}
	}
}

func (w *Walker) record(snap *Snapshot, path string, info fs.FileInfo) {
	e := Entry{
		Path:     path,
		Identity: identityFor(path, info, w.IgnoreDevice),
		ModTime:  info.ModTime(),
		Size:     info.Size(),
		Type:     entryType(info),
	}
	if existing, ok := snap.entries[e.Identity]; ok && existing.Path != e.Path {
		// Two paths claiming one identity within a single snapshot: a rare
		// race (e.g. a rename landed mid-walk). Keep whichever is newer,
		// per spec.md §4.2 tie-break rule.
		if !e.ModTime.After(existing.ModTime) {
			return
		}
		delete(snap.byPath, existing.Path)
	}
	snap.entries[e.Identity] = e
	snap.byPath[path] = e.Identity
}

func entryType(info fs.FileInfo) EntryType {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return Symlink
	case info.IsDir():
		return Dir
	default:
		return File
	}
}

func (w *Walker) stat() StatProvider {
	if w.StatProvider != nil {
		return w.StatProvider
	}
	return os.Lstat
}

func (w *Walker) listdir() ListdirProvider {
	if w.ListdirProvider != nil {
		return w.ListdirProvider
	}
	return os.ReadDir
}
