package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/google/renameio"
)

// FileAdapter stores parts as plain files under Root, the adapter
// every other protocol adapter is benchmarked against since it is
// what a local or NFS-mounted target uses.
type FileAdapter struct {
	Root string
	// Pool caps concurrent open file handles against Root (§4.6); a
	// local/NFS target has no server-side connection limit to honor,
	// but the cap still bounds how many parts a restore/compare fan-out
	// holds open at once.
	Pool *Pool
}

// NewFileAdapter returns an Adapter rooted at dir. OpenWrite creates
// dir, and any missing directory between it and a part, if needed.
// maxConns caps concurrent open handles (0 means unlimited, per Pool).
func NewFileAdapter(dir string, maxConns int) *FileAdapter {
	return &FileAdapter{Root: dir, Pool: NewPool(maxConns)}
}

func (a *FileAdapter) path(name string) string {
	return filepath.Join(a.Root, filepath.FromSlash(name))
}

type fileReader struct {
	*os.File
	lease *Lease
}

func (r fileReader) Size() (int64, error) {
	fi, err := r.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (r fileReader) Close() error {
	err := r.File.Close()
	r.lease.Release()
	return err
}

func (a *FileAdapter) OpenRead(ctx context.Context, name string) (Reader, error) {
	lease, err := a.Pool.Acquire(ctx, 0)
	if err != nil {
		return nil, wrapErr(barerrors.KindIO, "storage.file", err)
	}
	f, err := os.Open(a.path(name))
	if os.IsNotExist(err) {
		lease.Release()
		return nil, &ErrNotFound{Name: name}
	}
	if err != nil {
		lease.Release()
		return nil, wrapErr(barerrors.KindIO, "storage.file", err)
	}
	return fileReader{f, lease}, nil
}

// pendingFileWriter adapts renameio.PendingFile (which only exposes
// Write, not WriteAt/Seek) to the Writer interface, committing the
// replacement atomically on Close.
type pendingFileWriter struct {
	pf    *renameio.PendingFile
	lease *Lease
}

func (w *pendingFileWriter) Write(p []byte) (int, error) { return w.pf.Write(p) }

func (w *pendingFileWriter) Close() error {
	err := w.pf.CloseAtomicallyReplace()
	w.lease.Release()
	return err
}

// appendFileWriter wraps the plain *os.File returned for append mode
// so it shares the lease-release-on-Close contract of pendingFileWriter.
type appendFileWriter struct {
	*os.File
	lease *Lease
}

func (w *appendFileWriter) Close() error {
	err := w.File.Close()
	w.lease.Release()
	return err
}

func (a *FileAdapter) OpenWrite(ctx context.Context, name string, mode WriteMode) (Writer, error) {
	lease, err := a.Pool.Acquire(ctx, 0)
	if err != nil {
		return nil, wrapErr(barerrors.KindIO, "storage.file", err)
	}
	dst := a.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		lease.Release()
		return nil, wrapErr(barerrors.KindIO, "storage.file", err)
	}

	_, statErr := os.Stat(dst)
	exists := statErr == nil

	switch mode {
	case WriteModeStop:
		if exists {
			lease.Release()
			return nil, wrapErr(barerrors.KindIO, "storage.file", fmt.Errorf("%s: already exists", name))
		}
	case WriteModeRename:
		if exists {
			dst = nextFreeName(dst)
		}
	case WriteModeAppend:
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			lease.Release()
			return nil, wrapErr(barerrors.KindIO, "storage.file", err)
		}
		return &appendFileWriter{f, lease}, nil
	case WriteModeOverwrite:
		// renameio's atomic replace below already overwrites.
	}

	pf, err := renameio.TempFile("", dst)
	if err != nil {
		lease.Release()
		return nil, wrapErr(barerrors.KindIO, "storage.file", err)
	}
	return &pendingFileWriter{pf: pf, lease: lease}, nil
}

// nextFreeName finds dst.1, dst.2, ... the same way the archive
// writer's own RENAME mode picks a fresh part name (§4.3).
func nextFreeName(dst string) string {
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", dst, i)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (a *FileAdapter) Delete(ctx context.Context, name string) error {
	err := os.Remove(a.path(name))
	if os.IsNotExist(err) {
		return &ErrNotFound{Name: name}
	}
	if err != nil {
		return wrapErr(barerrors.KindIO, "storage.file", err)
	}
	return nil
}

func (a *FileAdapter) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	entries, err := os.ReadDir(a.Root)
	if err != nil {
		return nil, wrapErr(barerrors.KindIO, "storage.file", err)
	}
	var out []BlobInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, BlobInfo{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RequestVolume is a no-op for local storage: there is no removable
// media to swap.
func (a *FileAdapter) RequestVolume(ctx context.Context, req VolumeRequest) error { return nil }

func (a *FileAdapter) Close() error { return nil }

var _ io.Closer = (*FileAdapter)(nil)
