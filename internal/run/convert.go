package run

import (
	"crypto/sha256"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bar-archiver/bar/internal/archive"
	"github.com/bar-archiver/bar/internal/source"
)

// permissions extracts the mode bits archive.DirectoryMeta/FileMeta
// want, stripping the format bits source.Node.Mode carries alongside
// them (st_mode packs both into one word).
func permissions(mode uint32) uint32 {
	return mode & 0o7777
}

func specialKind(mode uint32) archive.SpecialKind {
	switch mode & unix.S_IFMT {
	case unix.S_IFCHR:
		return archive.SpecialChar
	case unix.S_IFBLK:
		return archive.SpecialBlock
	case unix.S_IFIFO:
		return archive.SpecialFIFO
	case unix.S_IFSOCK:
		return archive.SpecialSocket
	default:
		return archive.SpecialChar
	}
}

// hashFile digests path's full content, used to populate
// FileMeta.Hash before the writer's own streaming pass over the same
// file for fragment content (§3: "SHA-256 of the logical content").
func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func directoryMeta(n source.Node) archive.DirectoryMeta {
	return archive.DirectoryMeta{
		Path:        n.RelPath,
		Mtime:       n.Mtime,
		Owner:       n.UID,
		Group:       n.GID,
		Permissions: permissions(n.Mode),
	}
}

func linkMeta(n source.Node) archive.LinkMeta {
	return archive.LinkMeta{
		Path:        n.RelPath,
		Destination: n.LinkTarget,
		Owner:       n.UID,
	}
}

func specialMeta(n source.Node) archive.SpecialMeta {
	return archive.SpecialMeta{
		Path:     n.RelPath,
		Kind:     specialKind(n.Mode),
		DevMajor: unix.Major(n.Rdev),
		DevMinor: unix.Minor(n.Rdev),
	}
}

func fileMeta(n source.Node, hash []byte) archive.FileMeta {
	return archive.FileMeta{
		Paths:       []string{n.RelPath},
		Size:        uint64(n.Size),
		Mtime:       n.Mtime,
		Owner:       n.UID,
		Group:       n.GID,
		Permissions: permissions(n.Mode),
		Hash:        hash,
	}
}
