package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPAdapter stores parts over SSH, the same transport scp uses --
// BAR's "scp" target is simply this adapter against a server that
// only speaks the SCP subsystem and not SFTP is not supported; in
// practice every scp-capable sshd also speaks sftp.
type SFTPAdapter struct {
	Addr     string
	User     string
	Password string
	Dir      string
	// HostKeyCallback is mandatory; operators wire in a known_hosts
	// based callback (golang.org/x/crypto/ssh/knownhosts), BAR never
	// silently trusts an unknown host key.
	HostKeyCallback ssh.HostKeyCallback
	// Pool caps concurrent SSH connections against Addr (§4.6).
	Pool *Pool
}

// NewSFTPAdapter returns an adapter capped at maxConns concurrent
// connections against addr (0 means unlimited, per Pool).
func NewSFTPAdapter(addr, user, password, dir string, hostKeyCB ssh.HostKeyCallback, maxConns int) *SFTPAdapter {
	return &SFTPAdapter{Addr: addr, User: user, Password: password, Dir: dir, HostKeyCallback: hostKeyCB, Pool: NewPool(maxConns)}
}

type sftpSession struct {
	ssh   *ssh.Client
	sftp  *sftp.Client
	lease *Lease
}

func (a *SFTPAdapter) dial(ctx context.Context) (*sftpSession, error) {
	lease, err := a.Pool.Acquire(ctx, 0)
	if err != nil {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.sftp", err)
	}
	cfg := &ssh.ClientConfig{
		User:            a.User,
		Auth:            []ssh.AuthMethod{ssh.Password(a.Password)},
		HostKeyCallback: a.HostKeyCallback,
		Timeout:         30 * time.Second,
	}
	conn, err := ssh.Dial("tcp", a.Addr, cfg)
	if err != nil {
		lease.Release()
		return nil, barerrors.New(barerrors.KindNetwork, "storage.sftp", err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		lease.Release()
		return nil, barerrors.New(barerrors.KindNetwork, "storage.sftp", err)
	}
	return &sftpSession{ssh: conn, sftp: client, lease: lease}, nil
}

func (s *sftpSession) Close() {
	s.sftp.Close()
	s.ssh.Close()
	s.lease.Release()
}

func (a *SFTPAdapter) path(name string) string {
	if a.Dir == "" {
		return name
	}
	return strings.TrimSuffix(a.Dir, "/") + "/" + name
}

// sftpReader bundles the open *sftp.File with the session it came
// from, closing both together since the client is not shared across
// concurrent reads/writes in this adapter (one session per blob).
type sftpReader struct {
	sess *sftpSession
	f    *sftp.File
}

func (r *sftpReader) Read(p []byte) (int, error)               { return r.f.Read(p) }
func (r *sftpReader) Seek(off int64, whence int) (int64, error) { return r.f.Seek(off, whence) }

func (r *sftpReader) Size() (int64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, barerrors.New(barerrors.KindIO, "storage.sftp", err)
	}
	return fi.Size(), nil
}

func (r *sftpReader) Close() error {
	err := r.f.Close()
	r.sess.Close()
	return err
}

func (a *SFTPAdapter) OpenRead(ctx context.Context, name string) (Reader, error) {
	sess, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sess.sftp.Open(a.path(name))
	if err != nil {
		sess.Close()
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Name: name}
		}
		return nil, barerrors.New(barerrors.KindIO, "storage.sftp", err)
	}
	return &sftpReader{sess: sess, f: f}, nil
}

type sftpWriter struct {
	sess *sftpSession
	f    *sftp.File
}

func (w *sftpWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *sftpWriter) Close() error {
	err := w.f.Close()
	w.sess.Close()
	return err
}

func (a *SFTPAdapter) OpenWrite(ctx context.Context, name string, mode WriteMode) (Writer, error) {
	sess, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	p := a.path(name)

	_, statErr := sess.sftp.Stat(p)
	exists := statErr == nil

	switch mode {
	case WriteModeStop:
		if exists {
			sess.Close()
			return nil, barerrors.New(barerrors.KindIO, "storage.sftp", fmt.Errorf("%s: already exists", name))
		}
	case WriteModeRename:
		for i := 1; exists; i++ {
			p = fmt.Sprintf("%s.%d", a.path(name), i)
			_, statErr = sess.sftp.Stat(p)
			exists = statErr == nil
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if mode == WriteModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := sess.sftp.OpenFile(p, flags)
	if err != nil {
		sess.Close()
		return nil, barerrors.New(barerrors.KindIO, "storage.sftp", err)
	}
	return &sftpWriter{sess: sess, f: f}, nil
}

func (a *SFTPAdapter) Delete(ctx context.Context, name string) error {
	sess, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.sftp.Remove(a.path(name)); err != nil {
		if os.IsNotExist(err) {
			return &ErrNotFound{Name: name}
		}
		return barerrors.New(barerrors.KindIO, "storage.sftp", err)
	}
	return nil
}

func (a *SFTPAdapter) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	sess, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	entries, err := sess.sftp.ReadDir(a.Dir)
	if err != nil {
		return nil, barerrors.New(barerrors.KindIO, "storage.sftp", err)
	}
	var out []BlobInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		out = append(out, BlobInfo{Name: e.Name(), Size: e.Size(), ModTime: e.ModTime()})
	}
	return out, nil
}

func (a *SFTPAdapter) RequestVolume(ctx context.Context, req VolumeRequest) error { return nil }

func (a *SFTPAdapter) Close() error { return nil }
