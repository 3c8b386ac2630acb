package compress

import (
	"compress/bzip2"
	"io"

	"github.com/bar-archiver/bar/internal/barerrors"
	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// NewByteCompressor builds the write-side Filter for alg at the given
// level (codec-specific scale, 0 = codec default), the C3b "thin stream
// adapter over the chosen codec" of §4.3.
func NewByteCompressor(alg Algorithm, level int) (Filter, error) {
	switch alg {
	case AlgorithmNone:
		return &NopFilter{}, nil
	case AlgorithmZlib:
		return newZlibCompressor(level)
	case AlgorithmGzip:
		return newGzipCompressor(level)
	case AlgorithmZstd:
		return newZstdCompressor(level)
	case AlgorithmBzip2:
		return nil, barerrors.Errorf(barerrors.KindCompress, "compress", "bzip2 compression (encode) is not supported, only decompression")
	default:
		return nil, barerrors.Errorf(barerrors.KindCompress, "compress", "unsupported compression algorithm %v", alg)
	}
}

// NewByteDecompressor builds the read-side decoder for alg, returning a
// plain io.Reader since decompression is naturally pull-based.
func NewByteDecompressor(alg Algorithm, r io.Reader) (io.Reader, error) {
	switch alg {
	case AlgorithmNone:
		return r, nil
	case AlgorithmZlib:
		zr, err := kzlib.NewReader(r)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCompress, "compress", err)
		}
		return zr, nil
	case AlgorithmGzip:
		gr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCompress, "compress", err)
		}
		return gr, nil
	case AlgorithmZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCompress, "compress", err)
		}
		return zr.IOReadCloser(), nil
	case AlgorithmBzip2:
		return bzip2.NewReader(r), nil
	default:
		return nil, barerrors.Errorf(barerrors.KindCompress, "compress", "unsupported compression algorithm %v", alg)
	}
}

type zlibFilter struct {
	buf *bufWriter
	w   *kzlib.Writer
}

func newZlibCompressor(level int) (Filter, error) {
	buf := &bufWriter{}
	if level == 0 {
		level = kzlib.DefaultCompression
	}
	w, err := kzlib.NewWriterLevel(buf, level)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCompress, "compress", err)
	}
	return &zlibFilter{buf: buf, w: w}, nil
}

func (f *zlibFilter) Push(p []byte) error {
	_, err := f.w.Write(p)
	return err
}

func (f *zlibFilter) Flush() ([]byte, error) {
	if err := f.w.Close(); err != nil {
		return nil, barerrors.New(barerrors.KindCompress, "compress", err)
	}
	out := f.buf.buf
	f.buf.buf = nil
	return out, nil
}

// gzipFilter uses klauspost/pgzip so large fragments compress across
// multiple goroutines, per the SPEC_FULL.md C3 supplement's "parallel
// gzip for large fragments".
type gzipFilter struct {
	buf *bufWriter
	w   *pgzip.Writer
}

func newGzipCompressor(level int) (Filter, error) {
	buf := &bufWriter{}
	if level == 0 {
		level = pgzip.DefaultCompression
	}
	w, err := pgzip.NewWriterLevel(buf, level)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCompress, "compress", err)
	}
	return &gzipFilter{buf: buf, w: w}, nil
}

func (f *gzipFilter) Push(p []byte) error {
	_, err := f.w.Write(p)
	return err
}

func (f *gzipFilter) Flush() ([]byte, error) {
	if err := f.w.Close(); err != nil {
		return nil, barerrors.New(barerrors.KindCompress, "compress", err)
	}
	out := f.buf.buf
	f.buf.buf = nil
	return out, nil
}

type zstdFilter struct {
	buf *bufWriter
	w   *zstd.Encoder
}

func newZstdCompressor(level int) (Filter, error) {
	buf := &bufWriter{}
	opts := []zstd.EOption{}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	w, err := zstd.NewWriter(buf, opts...)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCompress, "compress", err)
	}
	return &zstdFilter{buf: buf, w: w}, nil
}

func (f *zstdFilter) Push(p []byte) error {
	_, err := f.w.Write(p)
	return err
}

func (f *zstdFilter) Flush() ([]byte, error) {
	if err := f.w.Close(); err != nil {
		return nil, barerrors.New(barerrors.KindCompress, "compress", err)
	}
	out := f.buf.buf
	f.buf.buf = nil
	return out, nil
}

// CompressIfSmaller runs alg over data and returns (compressed, alg) if
// the result is smaller, or (data, AlgorithmNone) otherwise -- the
// SPEC_FULL.md C3 supplement's per-fragment compression fallback.
func CompressIfSmaller(alg Algorithm, level int, data []byte) ([]byte, Algorithm, error) {
	if alg == AlgorithmNone {
		return data, AlgorithmNone, nil
	}
	f, err := NewByteCompressor(alg, level)
	if err != nil {
		return nil, AlgorithmNone, err
	}
	if err := f.Push(data); err != nil {
		return nil, AlgorithmNone, err
	}
	out, err := f.Flush()
	if err != nil {
		return nil, AlgorithmNone, err
	}
	if len(out) >= len(data) {
		return data, AlgorithmNone, nil
	}
	return out, alg, nil
}
