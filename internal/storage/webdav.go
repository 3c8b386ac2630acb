package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// WebDAVAdapter speaks WebDAV PUT/GET/DELETE/PROPFIND directly over
// net/http. golang.org/x/net/webdav (a direct teacher-adjacent
// dependency) only implements the server side of the protocol --
// there is no client half to reuse -- so the client verbs are built
// on net/http the same way internal/repo.Reader builds its plain GET
// fetcher, with the variant http.Client.Transport (TLS for webdavs).
type WebDAVAdapter struct {
	// BaseURL is e.g. "https://backup.example/bar/" (webdavs) or
	// "http://backup.example/bar/" (webdav).
	BaseURL  string
	User     string
	Password string
	Client   *http.Client
	// Pool caps concurrent requests in flight against BaseURL (§4.6);
	// net/http pools its own TCP connections, but without this an
	// unbounded restore/list fan-out can still open far more concurrent
	// requests than the server wants to serve.
	Pool *Pool
}

// NewWebDAVAdapter returns an adapter capped at maxConns concurrent
// requests against baseURL (0 means unlimited, per Pool).
func NewWebDAVAdapter(baseURL, user, password string, maxConns int) *WebDAVAdapter {
	return &WebDAVAdapter{
		BaseURL: strings.TrimSuffix(baseURL, "/") + "/",
		User:    user, Password: password,
		Client: &http.Client{Timeout: 60 * time.Second},
		Pool:   NewPool(maxConns),
	}
}

func (a *WebDAVAdapter) url(name string) string {
	return a.BaseURL + url.PathEscape(name)
}

func (a *WebDAVAdapter) do(req *http.Request) (*http.Response, error) {
	if a.User != "" {
		req.SetBasicAuth(a.User, a.Password)
	}
	lease, err := a.Pool.Acquire(req.Context(), 0)
	if err != nil {
		return nil, err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		lease.Release()
		return nil, err
	}
	resp.Body = &leaseReleasingBody{ReadCloser: resp.Body, lease: lease}
	return resp, nil
}

// leaseReleasingBody returns the pool slot when the response body is
// closed, since that's the point at which the connection (and BAR's
// logical claim on one of Pool's concurrency slots) is actually free.
type leaseReleasingBody struct {
	io.ReadCloser
	lease *Lease
}

func (b *leaseReleasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.lease.Release()
	return err
}

type webdavReader struct {
	a    *WebDAVAdapter
	name string
	body io.ReadCloser
	off  int64
	size int64
}

func (r *webdavReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	r.off += int64(n)
	return n, err
}

func (r *webdavReader) Size() (int64, error) { return r.size, nil }

func (r *webdavReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.off + offset
	case io.SeekEnd:
		target = r.size + offset
	default:
		return 0, fmt.Errorf("storage.webdav: invalid whence %d", whence)
	}
	if target == r.off {
		return r.off, nil
	}
	r.body.Close()
	req, err := http.NewRequest(http.MethodGet, r.a.url(r.name), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", target))
	resp, err := r.a.do(req)
	if err != nil {
		return 0, barerrors.New(barerrors.KindNetwork, "storage.webdav", err)
	}
	r.body = resp.Body
	r.off = target
	return r.off, nil
}

func (r *webdavReader) Close() error { return r.body.Close() }

func (a *WebDAVAdapter) OpenRead(ctx context.Context, name string) (Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url(name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.do(req)
	if err != nil {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.webdav", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, &ErrNotFound{Name: name}
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, barerrors.New(barerrors.KindNetwork, "storage.webdav", fmt.Errorf("GET %s: %s", name, resp.Status))
	}
	return &webdavReader{a: a, name: name, body: resp.Body, size: resp.ContentLength}, nil
}

type webdavWriter struct {
	pw   *io.PipeWriter
	done chan error
}

func (w *webdavWriter) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *webdavWriter) Close() error {
	w.pw.Close()
	return <-w.done
}

func (a *WebDAVAdapter) OpenWrite(ctx context.Context, name string, mode WriteMode) (Writer, error) {
	target := name
	if mode == WriteModeStop || mode == WriteModeRename {
		head, err := http.NewRequestWithContext(ctx, http.MethodHead, a.url(target), nil)
		if err == nil {
			if resp, err := a.do(head); err == nil {
				resp.Body.Close()
				exists := resp.StatusCode/100 == 2
				if exists && mode == WriteModeStop {
					return nil, barerrors.New(barerrors.KindIO, "storage.webdav", fmt.Errorf("%s: already exists", name))
				}
				for i := 1; exists && mode == WriteModeRename; i++ {
					target = fmt.Sprintf("%s.%d", name, i)
					resp, err := a.do(mustHead(ctx, a.url(target)))
					if err != nil {
						break
					}
					resp.Body.Close()
					exists = resp.StatusCode/100 == 2
				}
			}
		}
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, a.url(target), pr)
		if err != nil {
			pr.CloseWithError(err)
			done <- err
			return
		}
		resp, err := a.do(req)
		if err != nil {
			done <- barerrors.New(barerrors.KindNetwork, "storage.webdav", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			done <- barerrors.New(barerrors.KindNetwork, "storage.webdav", fmt.Errorf("PUT %s: %s", target, resp.Status))
			return
		}
		done <- nil
	}()
	return &webdavWriter{pw: pw, done: done}, nil
}

func mustHead(ctx context.Context, u string) *http.Request {
	req, _ := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	return req
}

func (a *WebDAVAdapter) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.url(name), nil)
	if err != nil {
		return err
	}
	resp, err := a.do(req)
	if err != nil {
		return barerrors.New(barerrors.KindNetwork, "storage.webdav", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &ErrNotFound{Name: name}
	}
	if resp.StatusCode/100 != 2 {
		return barerrors.New(barerrors.KindNetwork, "storage.webdav", fmt.Errorf("DELETE %s: %s", name, resp.Status))
	}
	return nil
}

// multistatus mirrors just the fields BAR needs out of a PROPFIND
// response; a full WebDAV client would model the whole DAV: schema.
type multistatus struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		Href string `xml:"DAV: href"`
		Prop struct {
			Length       int64  `xml:"DAV: getcontentlength"`
			LastModified string `xml:"DAV: getlastmodified"`
		} `xml:"DAV: propstat>prop"`
	} `xml:"DAV: response"`
}

func (a *WebDAVAdapter) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	body := strings.NewReader(`<?xml version="1.0"?><propfind xmlns="DAV:"><allprop/></propfind>`)
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", a.BaseURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")
	resp, err := a.do(req)
	if err != nil {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.webdav", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 207 {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.webdav", fmt.Errorf("PROPFIND: %s", resp.Status))
	}
	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, barerrors.New(barerrors.KindNetwork, "storage.webdav", err)
	}
	var out []BlobInfo
	for _, r := range ms.Responses {
		name := path.Base(r.Href)
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		mtime, _ := time.Parse(time.RFC1123, r.Prop.LastModified)
		out = append(out, BlobInfo{Name: name, Size: r.Prop.Length, ModTime: mtime})
	}
	return out, nil
}

func (a *WebDAVAdapter) RequestVolume(ctx context.Context, req VolumeRequest) error { return nil }

func (a *WebDAVAdapter) Close() error { return nil }
