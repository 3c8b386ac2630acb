package source

import (
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/bar-archiver/bar/internal/barerrors"
)

const (
	noBackupMarker = ".nobackup"

	// fsIoctlGetFlags is FS_IOC_GETFLAGS; not yet exposed by
	// golang.org/x/sys/unix as of the version this module pins, the
	// same situation internal/build/mount.go notes for LOOP_SET_STATUS64
	// ("TODO: get this into x/sys/unix").
	fsIoctlGetFlags = 0x80086601
	fsNodumpFlag    = 0x00000040
)

// Options configures a Walker.
type Options struct {
	Roots          []string
	Include        []Pattern
	Exclude        []Pattern
	OneFileSystem  bool
	FollowSymlinks bool
	HonorNoDump    bool
	HonorNoBackup  bool
}

// Walker performs a breadth-first walk of Options.Roots, applying
// include/exclude filtering and skip rules, and labeling repeat
// (dev,ino) regular files as hardlinks of their first occurrence.
type Walker struct {
	opts Options

	visitedDirs map[[2]uint64]bool // cycle guard: (dev,ino) of every directory queued below a root
	seenFiles   map[[2]uint64]string
	rootDev     map[string]uint64 // root path -> its starting device, for OneFileSystem
}

// NewWalker returns a Walker configured by opts. Patterns are compiled
// eagerly so a malformed regex surfaces before the walk starts rather
// than mid-traversal.
func NewWalker(opts Options) (*Walker, error) {
	for i := range opts.Include {
		if err := opts.Include[i].Compile(); err != nil {
			return nil, barerrors.New(barerrors.KindInvalidArgument, "source", err)
		}
	}
	for i := range opts.Exclude {
		if err := opts.Exclude[i].Compile(); err != nil {
			return nil, barerrors.New(barerrors.KindInvalidArgument, "source", err)
		}
	}
	return &Walker{
		opts:        opts,
		visitedDirs: make(map[[2]uint64]bool),
		seenFiles:   make(map[[2]uint64]string),
		rootDev:     make(map[string]uint64),
	}, nil
}

// queueEntry is one pending directory to expand, carrying the
// archive-relative prefix entries under it should be stored as.
type queueEntry struct {
	root    string
	absPath string
	relPath string
}

// Walk visits every selected entry breadth-first, calling fn once per
// Node in directory-then-children order (a directory's Node is
// emitted before any of its descendants', matching how the archive
// writer needs parent directories recorded before the files inside
// them). Walk stops and returns fn's error the first time it returns
// non-nil.
func (w *Walker) Walk(fn func(Node) error) error {
	var queue []queueEntry
	for _, root := range w.opts.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return barerrors.New(barerrors.KindIO, "source", err)
		}
		st, err := lstat(abs)
		if err != nil {
			return barerrors.New(barerrors.KindIO, "source", err)
		}
		w.rootDev[root] = st.Dev
		node := nodeFromStat(abs, filepath.Base(abs), st)
		node.Kind = w.classify(node, st)
		if err := fn(node); err != nil {
			return err
		}
		if node.Kind == KindDirectory {
			queue = append(queue, queueEntry{root: root, absPath: abs, relPath: filepath.Base(abs)})
		}
	}

	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		names, err := readDirSorted(dir.absPath)
		if err != nil {
			return barerrors.New(barerrors.KindIO, "source", err)
		}
		if w.opts.HonorNoBackup {
			skip := false
			for _, n := range names {
				if n == noBackupMarker {
					skip = true
					break
				}
			}
			if skip {
				continue
			}
		}

		for _, name := range names {
			absPath := filepath.Join(dir.absPath, name)
			relPath := filepath.Join(dir.relPath, name)

			st, err := lstat(absPath)
			if err != nil {
				continue // vanished between readdir and lstat, or permission denied
			}

			if w.opts.OneFileSystem && st.Dev != w.rootDev[dir.root] {
				continue
			}
			if !selected(filepath.ToSlash(relPath), w.opts.Include, w.opts.Exclude) {
				continue
			}

			node := nodeFromStat(absPath, relPath, st)
			node.Kind = w.classify(node, st)

			// Only open()able kinds are checked: opening a fifo or
			// socket here could block indefinitely waiting for a peer.
			if w.opts.HonorNoDump && (node.Kind == KindFile || node.Kind == KindDirectory) && hasNoDumpFlag(absPath) {
				continue
			}

			if node.Kind == KindFile {
				key := [2]uint64{st.Dev, st.Ino}
				if first, ok := w.seenFiles[key]; ok {
					node.Kind = KindHardlink
					node.HardlinkOf = first
				} else if st.Nlink > 1 {
					w.seenFiles[key] = relPath
				}
			}

			if err := fn(node); err != nil {
				return err
			}

			switch node.Kind {
			case KindDirectory:
				key := [2]uint64{st.Dev, st.Ino}
				if w.visitedDirs[key] {
					continue
				}
				w.visitedDirs[key] = true
				queue = append(queue, queueEntry{root: dir.root, absPath: absPath, relPath: relPath})
			case KindSymlink:
				target, err := os.Readlink(absPath)
				if err == nil && w.opts.FollowSymlinks {
					resolved := target
					if !filepath.IsAbs(target) {
						resolved = filepath.Join(filepath.Dir(absPath), target)
					}
					if tst, err := lstat(resolved); err == nil && modeFmt(tst) == unix.S_IFDIR {
						key := [2]uint64{tst.Dev, tst.Ino}
						if !w.visitedDirs[key] {
							w.visitedDirs[key] = true
							queue = append(queue, queueEntry{root: dir.root, absPath: resolved, relPath: relPath})
						}
					}
				}
			}
		}
	}
	return nil
}

func (w *Walker) classify(n Node, st *unix.Stat_t) Kind {
	switch modeFmt(st) {
	case unix.S_IFDIR:
		return KindDirectory
	case unix.S_IFLNK:
		return KindSymlink
	case unix.S_IFREG:
		return KindFile
	default:
		return KindSpecial
	}
}

func readDirSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

// hasNoDumpFlag reports whether path has the ext2/ext3/ext4/xfs/btrfs
// "no dump" inode attribute set (chattr +d), false (rather than
// erroring the whole walk) when the underlying filesystem does not
// support the FS_IOC_GETFLAGS ioctl at all.
func hasNoDumpFlag(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	flags, err := unix.IoctlGetInt(int(f.Fd()), fsIoctlGetFlags)
	if err != nil {
		return false
	}
	return flags&fsNodumpFlag != 0
}
