// Package archive implements C4 (writer) and C5 (reader): the chunked
// archive format's entry-level contract built on top of internal/chunk,
// internal/crypt and internal/compress (§3, §4.4, §4.5).
package archive

import (
	"time"

	"github.com/bar-archiver/bar/internal/compress"
)

// EntryKind tags which of the §3 entry variants a chunk carries.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryImage
	EntryDirectory
	EntryLink
	EntryHardlink
	EntrySpecial
	EntryMeta
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "FILE"
	case EntryImage:
		return "IMAGE"
	case EntryDirectory:
		return "DIRECTORY"
	case EntryLink:
		return "LINK"
	case EntryHardlink:
		return "HARDLINK"
	case EntrySpecial:
		return "SPECIAL"
	case EntryMeta:
		return "META"
	default:
		return "UNKNOWN"
	}
}

// SpecialKind distinguishes the SPECIAL entry's device-ish subtypes
// (§3).
type SpecialKind int

const (
	SpecialChar SpecialKind = iota
	SpecialBlock
	SpecialFIFO
	SpecialSocket
)

// FileMeta is the essential-fields table row for FILE/HARDLINK entries
// (§3).
type FileMeta struct {
	Paths       []string // len 1 for FILE, >=1 shared paths for HARDLINK
	Size        uint64
	Mtime       time.Time
	Owner       uint32
	Group       uint32
	Permissions uint32
	Attrs       uint32
	Hash        []byte // SHA-256 of the logical (pre-compression) content
	Partial     bool   // I2 escape hatch: fragments need not cover [0,Size)
}

// ImageMeta is the IMAGE entry's essential fields.
type ImageMeta struct {
	DevicePath string
	BlockSize  uint64
	TotalSize  uint64
}

// DirectoryMeta is the DIRECTORY entry's essential fields.
type DirectoryMeta struct {
	Path        string
	Mtime       time.Time
	Owner       uint32
	Group       uint32
	Permissions uint32
	Attrs       uint32
}

// LinkMeta is the LINK entry's essential fields.
type LinkMeta struct {
	Path        string
	Destination string
	Owner       uint32
}

// SpecialMeta is the SPECIAL entry's essential fields.
type SpecialMeta struct {
	Path       string
	Kind       SpecialKind
	DevMajor   uint32
	DevMinor   uint32
}

// MetaRecord is one META annotation (§3: "key=value of archive-level
// annotations").
type MetaRecord struct {
	Key   string
	Value string
}

// Fragment describes one child fragment chunk (§3): "{offset, length,
// delta-source ref?, compressed-length, encrypted bytes}".
type Fragment struct {
	Offset           uint64
	Length           uint64
	DeltaSourceHash  string // path hash of the delta source, empty if none
	CompressAlg      compress.Algorithm
	CompressedLength uint64
	Payload          []byte // encrypted (or, with no crypt, plaintext) bytes
}
