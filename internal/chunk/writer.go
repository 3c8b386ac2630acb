package chunk

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/orcaman/writerseeker"
)

// frame is one nesting level of an in-progress chunk. Its contents are
// buffered in memory via writerseeker so that the container's size field
// -- which must be written before its children, yet counts all of them
// (§3 "size in a container chunk counts all descendants") -- can be
// backpatched without a second pass over the underlying stream.
type frame struct {
	id   ID
	buf  *writerseeker.WriterSeeker
	crc  *crc32Writer
	leaf bool
}

type crc32Writer struct {
	w   io.Writer
	crc uint32
}

func newCRC32Writer(w io.Writer) *crc32Writer { return &crc32Writer{w: w} }

func (c *crc32Writer) Write(p []byte) (int, error) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p)
	return c.w.Write(p)
}

// Writer is the C1 write-side codec: open_write/begin_chunk/write_payload/
// end_chunk (§4.1).
type Writer struct {
	out   io.Writer
	stack []*frame
}

// NewWriter opens a chunk stream over out (open_write(stream)).
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// BeginChunk starts a new chunk of the given id, writing its fixed
// fields into a fresh buffered frame. Nested BeginChunk calls (e.g. a
// FRAG chunk inside a FILE chunk) write into the enclosing frame once
// EndChunk/EndLeafChunk pops them.
func (w *Writer) BeginChunk(id ID, spec Spec, values Values) error {
	ws := &writerseeker.WriterSeeker{}
	cw := newCRC32Writer(ws)
	if err := WriteFixed(cw, spec, values); err != nil {
		return err
	}
	w.stack = append(w.stack, &frame{id: id, buf: ws, crc: cw})
	return nil
}

// WritePayload appends raw payload bytes to the chunk currently open at
// the top of the stack (e.g. a FRAG chunk's encrypted byte range).
func (w *Writer) WritePayload(p []byte) (int, error) {
	if len(w.stack) == 0 {
		return 0, io.ErrClosedPipe
	}
	top := w.stack[len(w.stack)-1]
	return top.crc.Write(p)
}

// EndChunk closes the top-of-stack chunk as a container: no trailing
// CRC, size = however many bytes its fixed fields + nested children
// occupy.
func (w *Writer) EndChunk() error {
	return w.end(false)
}

// EndLeafChunk closes the top-of-stack chunk as a leaf: appends a
// trailing crc32 of the chunk's payload before computing size, per
// §6.1 "Payload CRC: each leaf chunk ends with crc32 of its payload
// before end_chunk".
func (w *Writer) EndLeafChunk() error {
	return w.end(true)
}

func (w *Writer) end(leaf bool) error {
	n := len(w.stack)
	if n == 0 {
		return io.ErrClosedPipe
	}
	top := w.stack[n-1]
	w.stack = w.stack[:n-1]

	if leaf {
		var crcBytes [4]byte
		binary.BigEndian.PutUint32(crcBytes[:], top.crc.crc)
		if _, err := top.buf.Write(crcBytes[:]); err != nil {
			return err
		}
	}

	payload := top.buf.BytesReader()
	size := uint64(payload.Len())

	var dest io.Writer = w.out
	if len(w.stack) > 0 {
		dest = w.stack[len(w.stack)-1].crc
	}

	if _, err := dest.Write(top.id[:]); err != nil {
		return err
	}
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], size)
	if _, err := dest.Write(sb[:]); err != nil {
		return err
	}
	if _, err := io.Copy(dest, payload); err != nil {
		return err
	}
	return nil
}

// Depth reports how many chunks are currently open, for callers that
// need to assert balanced Begin/End pairs (tests, defensive checks).
func (w *Writer) Depth() int { return len(w.stack) }
