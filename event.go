package fsobserve

import "fmt"

// Kind identifies the variant of a filesystem change [Event]. The string
// form is the stable identifier consumers use for event-filter allowlists.
type Kind uint8

const (
	FileCreated Kind = iota
	FileDeleted
	FileModified
	FileMoved
	FileOpened
	FileClosed
	FileClosedNoWrite
	DirCreated
	DirDeleted
	DirModified
	DirMoved
	DirOpened
	DirClosed
	DirClosedNoWrite
)

var kindNames = [...]string{
	FileCreated:       "file_created",
	FileDeleted:       "file_deleted",
	FileModified:      "file_modified",
	FileMoved:         "file_moved",
	FileOpened:        "file_opened",
	FileClosed:        "file_closed",
	FileClosedNoWrite: "file_closed_no_write",
	DirCreated:        "dir_created",
	DirDeleted:        "dir_deleted",
	DirModified:       "dir_modified",
	DirMoved:          "dir_moved",
	DirOpened:         "dir_opened",
	DirClosed:         "dir_closed",
	DirClosedNoWrite:  "dir_closed_no_write",
}

// String returns the stable wire-independent identifier for k, e.g.
// "file_created". It is the name consumers use for event-filter allowlists.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// IsDirKind reports whether k is one of the Dir* variants.
func (k Kind) IsDirKind() bool { return k >= DirCreated }

// dirVariant returns the Dir* sibling of a File* kind (or k itself if k is
// already a Dir* kind). Used by backends that only know a path's type at
// translation time.
func dirVariant(k Kind, isDir bool) Kind {
	if !isDir || k.IsDirKind() {
		return k
	}
	return k + (DirCreated - FileCreated)
}

// Event is an immutable filesystem change notification. SrcPath is always
// absolute. DestPath is only meaningful for the Moved variants. IsSynthetic
// is true when the event was produced by snapshot comparison or a catch-up
// walk rather than directly by a kernel notification.
type Event struct {
	Kind        Kind
	SrcPath     string
	DestPath    string // only set for *Moved
	IsDirectory bool
	IsSynthetic bool
}

// NewEvent constructs a non-moved event, normalizing Kind to the directory
// variant when isDir is true.
func NewEvent(kind Kind, path string, isDir, synthetic bool) Event {
	return Event{
		Kind:        dirVariant(kind, isDir),
		SrcPath:     path,
		IsDirectory: isDir,
		IsSynthetic: synthetic,
	}
}

// NewMovedEvent constructs a Moved event from src to dest.
func NewMovedEvent(src, dest string, isDir, synthetic bool) Event {
	kind := FileMoved
	if isDir {
		kind = DirMoved
	}
	return Event{
		Kind:        kind,
		SrcPath:     src,
		DestPath:    dest,
		IsDirectory: isDir,
		IsSynthetic: synthetic,
	}
}

func (e Event) String() string {
	if e.DestPath != "" {
		return fmt.Sprintf("%s: %q -> %q", e.Kind, e.SrcPath, e.DestPath)
	}
	return fmt.Sprintf("%s: %q", e.Kind, e.SrcPath)
}

// equalStructural reports whether e and other would collapse under the
// event queue's tail de-duplication rule: same kind, same paths. Used by
// taggedEqual (dispatcher.go), the equality function the shared
// [queue.Queue] is built with.
func (e Event) equalStructural(other Event) bool {
	return e.Kind == other.Kind && e.SrcPath == other.SrcPath && e.DestPath == other.DestPath
}
