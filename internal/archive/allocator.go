package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/bar-archiver/bar/internal/storage"
)

// StorageAllocator is the PartAllocator every real job uses: it names
// successive parts against a storage.Adapter, so the write-mode and
// part-split behavior of §4.4 works unchanged whether the target is a
// local directory, an FTP/SFTP/WebDAV/SMB server or removable media.
type StorageAllocator struct {
	ctx     context.Context
	adapter storage.Adapter
	mode    storage.WriteMode
	base    string // storage-relative name, e.g. "<entity>/<storage>.bar"
	part    int
}

// NewStorageAllocator returns an allocator that opens parts under base
// through adapter, using mode for each part's OpenWrite.
func NewStorageAllocator(ctx context.Context, adapter storage.Adapter, base string, mode WriteMode) *StorageAllocator {
	return &StorageAllocator{ctx: ctx, adapter: adapter, base: base, mode: storageWriteMode(mode)}
}

// storageWriteMode maps archive.WriteMode to storage.WriteMode; the two
// enums are kept separate (storage.go explains why) but share ordering.
func storageWriteMode(m WriteMode) storage.WriteMode {
	switch m {
	case WriteModeRename:
		return storage.WriteModeRename
	case WriteModeAppend:
		return storage.WriteModeAppend
	case WriteModeOverwrite:
		return storage.WriteModeOverwrite
	default:
		return storage.WriteModeStop
	}
}

// NextPart implements PartAllocator. The first part is named base; the
// second request (Options.PartSizeLimit was hit) rolls to base.001, and
// so on; the name is also returned as the part's display name.
func (s *StorageAllocator) NextPart() (io.WriteCloser, string, error) {
	name := s.base
	if s.part > 0 {
		name = fmt.Sprintf("%s.%03d", s.base, s.part)
	}
	s.part++
	w, err := s.adapter.OpenWrite(s.ctx, name, s.mode)
	if err != nil {
		return nil, "", err
	}
	return w, name, nil
}
