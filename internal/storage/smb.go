package storage

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/hirochachacha/go-smb2"
)

// SMBAdapter stores parts on a Windows/Samba share over SMB2/3.
type SMBAdapter struct {
	Addr     string
	User     string
	Password string
	Domain   string
	Share    string
	Dir      string
	// Pool caps concurrent SMB sessions against Addr (§4.6).
	Pool *Pool
}

// NewSMBAdapter returns an adapter capped at maxConns concurrent
// sessions against addr (0 means unlimited, per Pool).
func NewSMBAdapter(addr, user, password, domain, share, dir string, maxConns int) *SMBAdapter {
	return &SMBAdapter{Addr: addr, User: user, Password: password, Domain: domain, Share: share, Dir: dir, Pool: NewPool(maxConns)}
}

type smbSession struct {
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
	lease   *Lease
}

func (a *SMBAdapter) dial(ctx context.Context) (*smbSession, error) {
	lease, err := a.Pool.Acquire(ctx, 0)
	if err != nil {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.smb", err)
	}
	conn, err := net.DialTimeout("tcp", a.Addr, 30*time.Second)
	if err != nil {
		lease.Release()
		return nil, barerrors.New(barerrors.KindNetwork, "storage.smb", err)
	}
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{User: a.User, Password: a.Password, Domain: a.Domain},
	}
	sess, err := d.Dial(conn)
	if err != nil {
		conn.Close()
		lease.Release()
		return nil, barerrors.New(barerrors.KindAuthentication, "storage.smb", err)
	}
	share, err := sess.Mount(a.Share)
	if err != nil {
		sess.Logoff()
		conn.Close()
		lease.Release()
		return nil, barerrors.New(barerrors.KindNetwork, "storage.smb", err)
	}
	return &smbSession{conn: conn, session: sess, share: share, lease: lease}, nil
}

func (s *smbSession) Close() {
	s.share.Umount()
	s.session.Logoff()
	s.conn.Close()
	s.lease.Release()
}

func (a *SMBAdapter) path(name string) string {
	if a.Dir == "" {
		return name
	}
	return strings.TrimSuffix(a.Dir, `\`) + `\` + name
}

type smbReader struct {
	sess *smbSession
	f    *smb2.File
}

func (r *smbReader) Read(p []byte) (int, error)                { return r.f.Read(p) }
func (r *smbReader) Seek(off int64, whence int) (int64, error) { return r.f.Seek(off, whence) }

func (r *smbReader) Size() (int64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, barerrors.New(barerrors.KindIO, "storage.smb", err)
	}
	return fi.Size(), nil
}

func (r *smbReader) Close() error {
	err := r.f.Close()
	r.sess.Close()
	return err
}

func (a *SMBAdapter) OpenRead(ctx context.Context, name string) (Reader, error) {
	sess, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sess.share.Open(a.path(name))
	if err != nil {
		sess.Close()
		if os.IsNotExist(err) {
			return nil, &ErrNotFound{Name: name}
		}
		return nil, barerrors.New(barerrors.KindIO, "storage.smb", err)
	}
	return &smbReader{sess: sess, f: f}, nil
}

type smbWriter struct {
	sess *smbSession
	f    *smb2.File
}

func (w *smbWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *smbWriter) Close() error {
	err := w.f.Close()
	w.sess.Close()
	return err
}

func (a *SMBAdapter) OpenWrite(ctx context.Context, name string, mode WriteMode) (Writer, error) {
	sess, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	p := a.path(name)

	_, statErr := sess.share.Stat(p)
	exists := statErr == nil
	switch mode {
	case WriteModeStop:
		if exists {
			sess.Close()
			return nil, barerrors.New(barerrors.KindIO, "storage.smb", fmt.Errorf("%s: already exists", name))
		}
	case WriteModeRename:
		for i := 1; exists; i++ {
			p = fmt.Sprintf("%s.%d", a.path(name), i)
			_, statErr = sess.share.Stat(p)
			exists = statErr == nil
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if mode == WriteModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := sess.share.OpenFile(p, flags, 0644)
	if err != nil {
		sess.Close()
		return nil, barerrors.New(barerrors.KindIO, "storage.smb", err)
	}
	return &smbWriter{sess: sess, f: f}, nil
}

func (a *SMBAdapter) Delete(ctx context.Context, name string) error {
	sess, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.share.Remove(a.path(name)); err != nil {
		if os.IsNotExist(err) {
			return &ErrNotFound{Name: name}
		}
		return barerrors.New(barerrors.KindIO, "storage.smb", err)
	}
	return nil
}

func (a *SMBAdapter) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	sess, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	entries, err := sess.share.ReadDir(a.Dir)
	if err != nil {
		return nil, barerrors.New(barerrors.KindIO, "storage.smb", err)
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

func (a *SMBAdapter) RequestVolume(ctx context.Context, req VolumeRequest) error { return nil }

func (a *SMBAdapter) Close() error { return nil }
