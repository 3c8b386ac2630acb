// Package compress implements C3: the uniform stream-filter interface
// over byte-compression codecs and the delta filter (§4.3).
package compress

import "io"

// Filter is the uniform stream-filter contract of §4.3: "push(&[u8]) ->
// producesBuf, flush() -> producesBuf". Go expresses it as a Push that
// appends output to an internal buffer and a Flush that returns it,
// mirroring internal/repo/reader.go's gzipReader adapter
// shape (a struct wrapping an inner stream, exposing Read/Close) but
// generalized to be push-based for the writer side.
type Filter interface {
	// Push feeds p through the filter; any output ready so far is
	// appended to the filter's internal buffer.
	Push(p []byte) error
	// Flush finalizes the filter (e.g. closes the underlying codec
	// writer) and returns everything buffered since the last Flush.
	Flush() ([]byte, error)
}

// Algorithm enumerates the byte-compression codecs of §6.4/C3. NONE is
// the bypass value recorded when compression is skipped (either by
// configuration or because it didn't help, per the SPEC_FULL.md C3
// supplement).
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmZlib
	AlgorithmBzip2 // decompress-only: stdlib compress/bzip2 has no encoder
	AlgorithmGzip
	AlgorithmZstd
	AlgorithmLZ4
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmZlib:
		return "zlib"
	case AlgorithmBzip2:
		return "bzip2"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// NopFilter passes bytes through unchanged, used for the
// compress-min-file-size bypass and for entries whose negotiated
// algorithm is NONE (§4.3).
type NopFilter struct {
	buf []byte
}

func (f *NopFilter) Push(p []byte) error {
	f.buf = append(f.buf, p...)
	return nil
}

func (f *NopFilter) Flush() ([]byte, error) {
	out := f.buf
	f.buf = nil
	return out, nil
}

var _ io.Writer = (*bufWriter)(nil)

// bufWriter adapts an io.Writer-based codec (zlib.Writer, gzip.Writer,
// ...) into the Push/Flush shape by writing into an in-memory buffer.
type bufWriter struct {
	buf []byte
}

func (b *bufWriter) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}
