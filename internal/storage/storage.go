// Package storage implements the blob-stream abstraction every archive
// part is read from or written to: a small interface plus one adapter
// per supported storage kind (local file, ftp, sftp/scp, webdav,
// smb, optical/removable device), a shared bandwidth limiter and a
// per-server connection pool with priority queues.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// WriteMode controls what OpenWrite does when name already exists,
// mirroring the archive writer's own WriteMode (§4.3 write modes) --
// storage has its own copy because a remote adapter implements the
// check-then-act differently per protocol (some servers refuse
// overwrite outright, others need an explicit remove first).
type WriteMode int

const (
	WriteModeStop WriteMode = iota
	WriteModeRename
	WriteModeAppend
	WriteModeOverwrite
)

func (m WriteMode) String() string {
	switch m {
	case WriteModeStop:
		return "stop"
	case WriteModeRename:
		return "rename"
	case WriteModeAppend:
		return "append"
	case WriteModeOverwrite:
		return "overwrite"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned by OpenRead/Delete when name does not exist
// on the backing storage, regardless of adapter.
type ErrNotFound struct {
	Name string
}

func (e *ErrNotFound) Error() string { return fmt.Sprintf("%s: not found", e.Name) }

// BlobInfo describes one entry returned by List.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Reader is what OpenRead hands back: archive restore needs to seek
// backward when the chunk reader resyncs past corruption, so every
// adapter must support io.Seeker even when the underlying protocol
// (ftp, webdav) has to fake it with a restart offset.
type Reader interface {
	io.ReadCloser
	io.Seeker
	// Size reports the blob's total length.
	Size() (int64, error)
}

// Writer is what OpenWrite hands back.
type Writer interface {
	io.WriteCloser
}

// VolumeRequest describes the prompt an adapter raises when a job
// needs operator action before a part can be written or read --
// inserting the next tape, burning a disc, swapping removable media.
type VolumeRequest struct {
	// Label is the volume/part name the operator should supply.
	Label string
	// Prompt is a human-readable instruction shown on the shared
	// console (internal/pool).
	Prompt string
}

// VolumeHandler is notified of a VolumeRequest and blocks until the
// operator has acted (or ctx is cancelled). Jobs supply this from the
// shared console; tests supply one that resolves immediately.
type VolumeHandler func(ctx context.Context, req VolumeRequest) error

// Adapter is the per-storage-kind implementation of the blob-stream
// interface (§4.6). Every method takes a ctx so a caller can cancel a
// stalled remote operation without leaking the underlying connection.
type Adapter interface {
	// OpenRead opens name for reading from the beginning.
	OpenRead(ctx context.Context, name string) (Reader, error)
	// OpenWrite opens name for writing under the given mode.
	OpenWrite(ctx context.Context, name string, mode WriteMode) (Writer, error)
	// Delete removes name.
	Delete(ctx context.Context, name string) error
	// List enumerates blobs whose name has prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	// RequestVolume asks the operator (or a scripted loader) to make
	// the volume named in req available, e.g. by running a
	// configured load/unload command (internal/storage/device.go) or
	// surfacing a console prompt.
	RequestVolume(ctx context.Context, req VolumeRequest) error
	// Close releases adapter-held resources (connection pool leases,
	// open sessions). Individual Reader/Writer values must already be
	// closed by the caller.
	Close() error
}

func wrapErr(kind barerrors.Kind, component string, err error) error {
	return barerrors.New(kind, component, err)
}
