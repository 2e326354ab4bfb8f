//go:build windows

package snapshot

import (
	"io/fs"

	"golang.org/x/sys/windows"
)

// identityFor synthesizes a stable identity from the NTFS file ID
// (volume serial number + file index), which plays the same role inode
// numbers play on POSIX and survives a rename on the same volume — exactly
// what the differ needs to recognize a move by identity. The identity is
// not derived from the path; ignoreDevice is accepted for interface symmetry with the
// POSIX build (spec.md §4.2 requires it stay true on Windows) but unused,
// since the volume serial number is already folded into the identity.
func identityFor(path string, info fs.FileInfo, ignoreDevice bool) Identity {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fallbackIdentity(info)
	}

	h, err := windows.CreateFile(
		p,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return fallbackIdentity(info)
	}
	defer windows.CloseHandle(h)

	var fi windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &fi); err != nil {
		return fallbackIdentity(info)
	}
	fileIndex := uint64(fi.FileIndexHigh)<<32 | uint64(fi.FileIndexLow)
	return Identity{uint64(fi.VolumeSerialNumber), fileIndex}
}

// fallbackIdentity is used when the file ID can't be obtained (e.g. the
// path vanished between readdir and open); it keys the entry by its
// modification time alone, so an entry whose mtime changes between two
// snapshots shows up as delete+create instead of Modified, and two entries
// with the same mtime share one identity.
func fallbackIdentity(info fs.FileInfo) Identity {
	return Identity{1, uint64(info.ModTime().UnixNano())}
}
