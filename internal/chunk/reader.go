package chunk

import (
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// maxResyncScan bounds the top-level linear scan for a known chunk id
// after a parse error, per §4.1: "at most 64 KiB scanned before giving
// up on that storage".
const maxResyncScan = 64 * 1024

// Header is a decoded chunk header: id + declared payload size. Offset
// is the byte offset of the header within the stream, used by the
// resync algorithm to compute "parent's start + size".
type Header struct {
	ID     ID
	Size   uint64
	Offset int64
}

// Reader is the C1 read-side codec operating over an io.ReadSeeker so
// that skip_remainder and the resync algorithm can jump forward without
// buffering already-seen bytes.
type Reader struct {
	r      io.ReadSeeker
	Strict bool // when true, unknown chunk ids raise ErrUnknownChunk instead of being skipped

	cur       *Header
	curStart  int64 // offset just after cur's header, i.e. start of payload
	curRemain uint64
}

// NewReader opens a chunk stream for reading (open(stream)).
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{r: r}
}

// Next reads the next chunk header. If the previous chunk is a leaf
// whose payload was not fully consumed, Next first skips the rest of
// it. A container chunk (FILE, HLNK, IMGE) is not skipped: once its
// fixed fields are read, Next returns its first child.
func (r *Reader) Next() (*Header, error) {
	if r.cur != nil && r.curRemain > 0 && r.cur.ID != IDFile && r.cur.ID != IDHlnk && r.cur.ID != IDImge {
		if err := r.SkipRemainder(); err != nil {
			return nil, err
		}
	}

	off, err := r.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, barerrors.New(barerrors.KindIO, "chunk", err)
	}

	var idb [4]byte
	if _, err := io.ReadFull(r.r, idb[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
	}
	var sb [8]byte
	if _, err := io.ReadFull(r.r, sb[:]); err != nil {
		return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
	}

	id := ID{idb[0], idb[1], idb[2], idb[3]}
	size := binary.BigEndian.Uint64(sb[:])

	if !IsKnown(id) {
		swapped := id.Swapped()
		if IsKnown(swapped) {
			id = swapped
		} else if r.Strict {
			return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrUnknownChunk)
		}
	}

	h := &Header{ID: id, Size: size, Offset: off}
	r.cur = h
	r.curStart, _ = r.r.Seek(0, io.SeekCurrent)
	r.curRemain = size
	return h, nil
}

// ReadFixed decodes spec against the current chunk's payload, checking
// the declared size only if checkSize is true (containers' fixed
// section is a prefix of Size, not all of it, so most callers pass
// false and validate overall structure differently; leaf chunks with no
// nested children pass true).
func (r *Reader) ReadFixed(spec Spec, checkSize bool) (Values, error) {
	if r.cur == nil {
		return nil, barerrors.Errorf(barerrors.KindInternal, "chunk", "ReadFixed called before Next")
	}
	before := r.curRemain
	lr := io.LimitReader(r.r, int64(r.curRemain))
	counted := &countingReader{r: lr}
	v, err := ReadFixed(counted, spec)
	r.curRemain = before - uint64(counted.n)
	if err != nil {
		return nil, err
	}
	if checkSize && uint64(counted.n) != before {
		return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrFixedFieldMismatch)
	}
	return v, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadPayload reads exactly n bytes of the current chunk's remaining
// payload (e.g. a FRAG chunk's encrypted byte range).
func (r *Reader) ReadPayload(n int) ([]byte, error) {
	if r.cur == nil {
		return nil, barerrors.Errorf(barerrors.KindInternal, "chunk", "ReadPayload called before Next")
	}
	if uint64(n) > r.curRemain {
		return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
	}
	r.curRemain -= uint64(n)
	return buf, nil
}

// VerifyCRC reads the trailing 4-byte crc32 of a leaf chunk (the last 4
// bytes of its declared size) and compares it against crc, the running
// checksum the caller accumulated over the payload it already consumed.
func (r *Reader) VerifyCRC(crc uint32) error {
	if r.curRemain != 4 {
		return barerrors.Errorf(barerrors.KindInternal, "chunk", "VerifyCRC called with %d bytes remaining, want 4", r.curRemain)
	}
	want, err := r.ReadPayload(4)
	if err != nil {
		return err
	}
	if binary.BigEndian.Uint32(want) != crc {
		return barerrors.New(barerrors.KindChunk, "chunk", ErrCRCMismatch)
	}
	return nil
}

// SkipRemainder seeks past whatever is left of the current chunk's
// payload (skip_remainder()), used both for unknown chunks (I1) and for
// entries the caller chose not to read.
func (r *Reader) SkipRemainder() error {
	if r.cur == nil || r.curRemain == 0 {
		r.curRemain = 0
		return nil
	}
	if _, err := r.r.Seek(int64(r.curRemain), io.SeekCurrent); err != nil {
		return barerrors.New(barerrors.KindIO, "chunk", err)
	}
	r.curRemain = 0
	return nil
}

// Pos returns the reader's current absolute offset in the stream.
func (r *Reader) Pos() (int64, error) {
	off, err := r.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, barerrors.New(barerrors.KindIO, "chunk", err)
	}
	return off, nil
}

// Current returns the most recently read header, or nil before the
// first call to Next.
func (r *Reader) Current() *Header { return r.cur }

// CurStart returns the absolute offset of the current chunk's payload
// (just past its header), needed by callers tracking a container
// chunk's byte range to know when its children are exhausted.
func (r *Reader) CurStart() int64 { return r.curStart }

// Remaining reports how many payload bytes of the current chunk have
// not yet been consumed, used by callers reading a leaf chunk's raw
// payload up to its trailing crc32 without hardcoding field sizes.
func (r *Reader) Remaining() uint64 { return r.curRemain }

// ChildEnd returns the absolute offset one past the current container
// chunk, i.e. curStart + Size, used by ResyncToParentEnd.
func (r *Reader) ChildEnd() int64 {
	return r.curStart + int64(r.cur.Size)
}

// ResyncToParentEnd implements the below-top-level half of §4.1's
// resync algorithm: "the reader computes the parent's start + size,
// seeks there, and continues".
func (r *Reader) ResyncToParentEnd(parent *Header, parentStart int64) error {
	target := parentStart + int64(parent.Size)
	if _, err := r.r.Seek(target, io.SeekStart); err != nil {
		return barerrors.New(barerrors.KindIO, "chunk", err)
	}
	r.cur = nil
	r.curRemain = 0
	return nil
}

// ResyncTopLevel implements the top-level half of §4.1: a linear scan
// forward for a known 4-byte chunk id at 4-byte-aligned offsets,
// bounded by maxResyncScan.
func (r *Reader) ResyncTopLevel() (*Header, error) {
	start, err := r.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, barerrors.New(barerrors.KindIO, "chunk", err)
	}
	buf := make([]byte, 4)
	for scanned := int64(0); scanned < maxResyncScan; scanned += 4 {
		pos := start + scanned
		if _, err := r.r.Seek(pos, io.SeekStart); err != nil {
			return nil, barerrors.New(barerrors.KindIO, "chunk", err)
		}
		if _, err := io.ReadFull(r.r, buf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, barerrors.New(barerrors.KindIO, "chunk", err)
		}
		id := ID{buf[0], buf[1], buf[2], buf[3]}
		if IsKnown(id) || IsKnown(id.Swapped()) {
			if _, err := r.r.Seek(pos, io.SeekStart); err != nil {
				return nil, barerrors.New(barerrors.KindIO, "chunk", err)
			}
			r.cur = nil
			r.curRemain = 0
			return r.Next()
		}
	}
	return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrResyncFailed)
}

// Discard drains and discards n bytes without requiring a seekable
// stream, used by payload-skipping paths layered over Reader's result
// (e.g. an HTTP-backed storage adapter wrapping chunk data).
func Discard(r io.Reader, n int64) error {
	_, err := io.CopyN(ioutil.Discard, r, n)
	return err
}
