//go:build !windows

package snapshot

import (
	"io/fs"
	"syscall"
)

// identityFor extracts the (device, inode) identity pair from a POSIX
// FileInfo, grounded on the teacher's own kq_watch.go watch.ident
// ([2]uint64{dev, ino} from *syscall.Stat_t). When ignoreDevice is true the
// device half is zeroed so entries keep their identity across a mount-point
// move, per spec.md §4.2's ignore_device option.
func identityFor(path string, info fs.FileInfo, ignoreDevice bool) Identity {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Identity{}
	}
	if ignoreDevice {
		return Identity{0, uint64(sys.Ino)}
	}
	return Identity{uint64(sys.Dev), uint64(sys.Ino)}
}
