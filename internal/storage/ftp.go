package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/jlaffaye/ftp"
)

// FTPAdapter stores parts on a plain FTP server, dialing a fresh
// control connection per operation the way jlaffaye/ftp's ServerConn
// is meant to be used (it is not safe for concurrent reuse).
type FTPAdapter struct {
	Addr     string
	User     string
	Password string
	Dir      string
	Timeout  time.Duration
	// Pool caps concurrent control connections against Addr (§4.6).
	Pool *Pool
}

// NewFTPAdapter returns an adapter capped at maxConns concurrent
// connections against addr (0 means unlimited, per Pool).
func NewFTPAdapter(addr, user, password, dir string, maxConns int) *FTPAdapter {
	return &FTPAdapter{Addr: addr, User: user, Password: password, Dir: dir, Timeout: 30 * time.Second, Pool: NewPool(maxConns)}
}

func (a *FTPAdapter) dial(ctx context.Context) (*ftp.ServerConn, *Lease, error) {
	lease, err := a.Pool.Acquire(ctx, 0)
	if err != nil {
		return nil, nil, barerrors.New(barerrors.KindNetwork, "storage.ftp", err)
	}
	c, err := ftp.DialTimeout(a.Addr, a.Timeout)
	if err != nil {
		lease.Release()
		return nil, nil, barerrors.New(barerrors.KindNetwork, "storage.ftp", err)
	}
	if a.User != "" {
		if err := c.Login(a.User, a.Password); err != nil {
			c.Quit()
			lease.Release()
			return nil, nil, barerrors.New(barerrors.KindAuthentication, "storage.ftp", err)
		}
	}
	return c, lease, nil
}

func (a *FTPAdapter) path(name string) string {
	if a.Dir == "" {
		return name
	}
	return a.Dir + "/" + name
}

// ftpReader wraps *ftp.Response (which does not implement io.Seeker)
// by re-issuing RETR from the requested offset on every Seek, the
// same restart-offset trick FTP clients always use for resumable
// downloads.
type ftpReader struct {
	conn  *ftp.ServerConn
	lease *Lease
	path  string
	resp  *ftp.Response
	off   int64
	size  int64
}

func (r *ftpReader) Read(p []byte) (int, error) {
	n, err := r.resp.Read(p)
	r.off += int64(n)
	return n, err
}

func (r *ftpReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.off + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, fmt.Errorf("storage.ftp: invalid whence %d", whence)
	}
	if target == r.off {
		return r.off, nil
	}
	if r.resp != nil {
		r.resp.Close()
	}
	resp, err := r.conn.RetrFrom(r.path, uint64(target))
	if err != nil {
		return 0, barerrors.New(barerrors.KindNetwork, "storage.ftp", err)
	}
	r.resp = resp
	r.off = target
	return r.off, nil
}

func (r *ftpReader) Size() (int64, error) { return r.size, nil }

func (r *ftpReader) Close() error {
	if r.resp != nil {
		r.resp.Close()
	}
	err := r.conn.Quit()
	r.lease.Release()
	return err
}

func (a *FTPAdapter) OpenRead(ctx context.Context, name string) (Reader, error) {
	c, lease, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	size, err := c.FileSize(a.path(name))
	if err != nil {
		c.Quit()
		lease.Release()
		return nil, &ErrNotFound{Name: name}
	}
	resp, err := c.Retr(a.path(name))
	if err != nil {
		c.Quit()
		lease.Release()
		return nil, barerrors.New(barerrors.KindNetwork, "storage.ftp", err)
	}
	return &ftpReader{conn: c, lease: lease, path: a.path(name), resp: resp, size: size}, nil
}

// ftpWriter pipes Write calls into the blocking ftp.Stor/Append call
// running in its own goroutine, since jlaffaye/ftp uploads by reading
// an io.Reader to EOF rather than exposing incremental writes.
type ftpWriter struct {
	pw    *io.PipeWriter
	conn  *ftp.ServerConn
	lease *Lease
	done  chan error
}

func (w *ftpWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *ftpWriter) Close() error {
	w.pw.Close()
	err := <-w.done
	w.conn.Quit()
	w.lease.Release()
	return err
}

func (a *FTPAdapter) OpenWrite(ctx context.Context, name string, mode WriteMode) (Writer, error) {
	c, lease, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	p := a.path(name)

	if mode == WriteModeStop {
		if _, err := c.FileSize(p); err == nil {
			c.Quit()
			lease.Release()
			return nil, barerrors.New(barerrors.KindIO, "storage.ftp", fmt.Errorf("%s: already exists", name))
		}
	}
	if mode == WriteModeRename {
		for i := 1; ; i++ {
			if _, err := c.FileSize(p); err != nil {
				break
			}
			p = fmt.Sprintf("%s.%d", a.path(name), i)
		}
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		if mode == WriteModeAppend {
			done <- c.Append(p, pr)
		} else {
			done <- c.Stor(p, pr)
		}
	}()
	return &ftpWriter{pw: pw, conn: c, lease: lease, done: done}, nil
}

func (a *FTPAdapter) Delete(ctx context.Context, name string) error {
	c, lease, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Quit()
	defer lease.Release()
	if err := c.Delete(a.path(name)); err != nil {
		return &ErrNotFound{Name: name}
	}
	return nil
}

func (a *FTPAdapter) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	c, lease, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Quit()
	defer lease.Release()
	entries, err := c.List(a.Dir)
	if err != nil {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.ftp", err)
	}
	var out []BlobInfo
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile || len(e.Name) < len(prefix) || e.Name[:len(prefix)] != prefix {
			continue
		}
		out = append(out, BlobInfo{Name: e.Name, Size: int64(e.Size), ModTime: e.Time})
	}
	return out, nil
}

// RequestVolume for FTP has nothing to prompt for; remote storage is
// always online.
func (a *FTPAdapter) RequestVolume(ctx context.Context, req VolumeRequest) error { return nil }

func (a *FTPAdapter) Close() error { return nil }
