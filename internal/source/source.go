// Package source walks a set of include roots and yields the entries
// a job feeds into the archive writer (§4.2 source tree), honoring
// include/exclude patterns, the .nobackup convention and the
// filesystem no-dump attribute, and (dev,inode) cycle protection for
// symlinked directories.
package source

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Kind classifies a Node the same way archive.EntryKind classifies an
// archive entry; source and archive are kept decoupled so the walker
// has no dependency on the wire format.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindHardlink // a regular file whose (dev,ino) was already seen this walk
	KindSpecial  // character/block device, fifo, socket
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// Node is one walked filesystem entry.
type Node struct {
	// Path is the absolute on-disk path.
	Path string
	// RelPath is Path relative to the parent of the include root it
	// was found under, so it begins with the root's own base name (a
	// root's own Node has just that name); the archive stores the
	// entry under it.
	RelPath string
	Kind    Kind

	Mode  uint32 // full st_mode, including format bits
	Size  int64
	Mtime time.Time
	UID   uint32
	GID   uint32
	Dev   uint64
	Ino   uint64
	Nlink uint64
	Rdev  uint64 // populated for KindSpecial device nodes

	// LinkTarget holds readlink(2)'s result for KindSymlink.
	LinkTarget string

	// HardlinkOf holds the RelPath of the first Node seen with this
	// (Dev,Ino), populated only when Kind is KindHardlink.
	HardlinkOf string
}

func modeFmt(st *unix.Stat_t) uint32 { return st.Mode & unix.S_IFMT }

func nodeFromStat(path, rel string, st *unix.Stat_t) Node {
	return Node{
		Path:    path,
		RelPath: rel,
		Mode:    st.Mode,
		Size:    st.Size,
		Mtime:   time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec)),
		UID:     st.Uid,
		GID:     st.Gid,
		Dev:     st.Dev,
		Ino:     st.Ino,
		Nlink:   uint64(st.Nlink),
		Rdev:    st.Rdev,
	}
}

func lstat(path string) (*unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return &st, nil
}
