package chunk

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var fileSpec = Spec{
	{Name: "path", Kind: FieldString},
	{Name: "size", Kind: FieldUint64},
	{Name: "mtime", Kind: FieldUint64},
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.BeginChunk(IDFile, fileSpec, Values{
		"path":  "a.bin",
		"size":  uint64(12),
		"mtime": uint64(1000),
	}); err != nil {
		t.Fatal(err)
	}
	if err := w.BeginChunk(IDFrag, Spec{
		{Name: "offset", Kind: FieldUint64},
		{Name: "length", Kind: FieldUint64},
	}, Values{"offset": uint64(0), "length": uint64(12)}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WritePayload([]byte("hello world!")); err != nil {
		t.Fatal(err)
	}
	if err := w.EndLeafChunk(); err != nil {
		t.Fatal(err)
	}
	if err := w.EndChunk(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	h, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if h.ID != IDFile {
		t.Fatalf("id = %v, want FILE", h.ID)
	}
	fileStart := r.curStart
	v, err := r.ReadFixed(fileSpec, false)
	if err != nil {
		t.Fatal(err)
	}
	want := Values{"path": "a.bin", "size": uint64(12), "mtime": uint64(1000)}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("fixed fields mismatch (-want +got):\n%s", diff)
	}

	fh, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if fh.ID != IDFrag {
		t.Fatalf("child id = %v, want FRAG", fh.ID)
	}
	fv, err := r.ReadFixed(Spec{
		{Name: "offset", Kind: FieldUint64},
		{Name: "length", Kind: FieldUint64},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if fv["offset"].(uint64) != 0 || fv["length"].(uint64) != 12 {
		t.Fatalf("fragment fields = %+v", fv)
	}
	payload, err := r.ReadPayload(12)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "hello world!" {
		t.Fatalf("payload = %q", payload)
	}
	// The trailing crc32 covers everything written into the leaf's
	// frame, fixed fields included, not just the raw payload bytes.
	var fragFixed bytes.Buffer
	if err := WriteFixed(&fragFixed, Spec{
		{Name: "offset", Kind: FieldUint64},
		{Name: "length", Kind: FieldUint64},
	}, Values{"offset": uint64(0), "length": uint64(12)}); err != nil {
		t.Fatal(err)
	}
	if err := r.VerifyCRC(crcOf(append(fragFixed.Bytes(), payload...))); err != nil {
		t.Fatalf("VerifyCRC: %v", err)
	}
	_ = fileStart

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("Next at end = %v, want io.EOF", err)
	}
}

func TestFixedFieldMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.BeginChunk(IDMeta, Spec{{Name: "key", Kind: FieldString}}, Values{"key": "uuid"}); err != nil {
		t.Fatal(err)
	}
	if err := w.EndLeafChunk(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	// Wrong declared size relative to what's actually on disk (the real
	// size includes a trailing crc32 this spec doesn't know about).
	if _, err := r.ReadFixed(Spec{{Name: "key", Kind: FieldString}}, true); !errors.Is(err, ErrFixedFieldMismatch) {
		t.Fatalf("err = %v, want ErrFixedFieldMismatch", err)
	}
}

func TestUnknownChunkSkipped(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.BeginChunk(ID{'Z', 'Z', 'Z', 'Z'}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WritePayload([]byte("unknown payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.EndLeafChunk(); err != nil {
		t.Fatal(err)
	}
	if err := w.BeginChunk(IDMeta, Spec{{Name: "key", Kind: FieldString}}, Values{"key": "uuid"}); err != nil {
		t.Fatal(err)
	}
	if err := w.EndLeafChunk(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	h, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if h.ID != (ID{'Z', 'Z', 'Z', 'Z'}) {
		t.Fatalf("id = %v", h.ID)
	}
	if err := r.SkipRemainder(); err != nil {
		t.Fatal(err)
	}
	h2, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if h2.ID != IDMeta {
		t.Fatalf("second chunk id = %v, want META", h2.ID)
	}
}

func crcOf(b []byte) uint32 {
	cw := newCRC32Writer(bytes.NewBuffer(nil))
	cw.Write(b)
	return cw.crc
}
