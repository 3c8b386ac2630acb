package archive

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"io"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/bar-archiver/bar/internal/chunk"
	"github.com/bar-archiver/bar/internal/compress"
	"github.com/bar-archiver/bar/internal/crypt"
)

// WriteMode controls how Writer's PartAllocator should react when its
// target already exists (§4.4: "STOP/RENAME/APPEND/OVERWRITE").
type WriteMode int

const (
	WriteModeStop WriteMode = iota
	WriteModeRename
	WriteModeAppend
	WriteModeOverwrite
)

// PartAllocator opens successive output parts for a part-split archive
// (§4.4 "archive_part_size"). Each part is an independently parseable
// chunk stream: its own BAR0/SALT/KEY0 header and its own trailing
// IDX0/SIG0, so that a reader handed a single part out of a set can
// still open and verify it.
type PartAllocator interface {
	// NextPart returns a writer for the next part plus a display name
	// recorded nowhere on disk but useful for logging, or an error if
	// the allocator cannot produce one (e.g. WriteModeStop finding the
	// first part already present).
	NextPart() (io.WriteCloser, string, error)
}

// defaultFragmentSize bounds how much plaintext one FRAG/BFRG chunk
// carries before the writer starts a new one, matching the block-sized
// chunking original_source/bar's writer does internally rather than
// emitting one fragment per entire file.
const defaultFragmentSize = 1 << 20

// Options configures a Writer's archive-level header and per-entry
// processing pipeline (§4.2, §4.3, §4.4).
type Options struct {
	ArchiveType  uint8
	CryptType    crypt.CryptType
	Cipher       crypt.CipherAlgorithm
	SignatureAlg crypt.SignatureAlgorithm

	CompressAlg   compress.Algorithm
	CompressLevel int

	// PartSizeLimit bounds the on-disk size of a single part before the
	// writer rolls to the next one; 0 means unlimited (single part).
	PartSizeLimit uint64

	Password  []byte         // symmetric key material, CryptType Symmetric only
	PublicKey *rsa.PublicKey // session-key wrap target, CryptType Asymmetric/Hybrid
	SignKey   *crypt.KeyPair // signs each part's SIG0; nil disables signing

	FragmentSize int // <=0 uses defaultFragmentSize
}

type idx0Entry struct {
	name   string
	offset uint64
}

// hashCountWriter tees every byte the chunk codec emits into a running
// sha256 (for the part's SIG0) while counting bytes written so IDX0/SIG0
// can record accurate offsets.
type hashCountWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

func (h *hashCountWriter) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	h.h.Write(p[:n])
	h.n += int64(n)
	return n, err
}

type partState struct {
	out     io.WriteCloser
	name    string
	hcw     *hashCountWriter
	cw      *chunk.Writer
	catalog []idx0Entry
}

// Writer is the C4 archive writer: Begin/WriteXEntry.../End (§4.4).
type Writer struct {
	alloc PartAllocator
	opts  Options

	salt     []byte
	stream   *crypt.Stream
	chunkSeq uint64

	part *partState
}

// NewWriter builds a Writer that allocates parts from alloc.
func NewWriter(alloc PartAllocator, opts Options) *Writer {
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = defaultFragmentSize
	}
	return &Writer{alloc: alloc, opts: opts}
}

// Begin opens the first part and writes its header chunks.
func (w *Writer) Begin() error {
	if w.opts.CryptType != crypt.CryptTypeNone {
		w.salt = make([]byte, 16)
		if _, err := rand.Read(w.salt); err != nil {
			return barerrors.New(barerrors.KindCrypt, "archive", err)
		}
		key, err := w.sessionKey()
		if err != nil {
			return err
		}
		stream, err := crypt.NewStream(w.opts.Cipher, key, w.salt)
		if err != nil {
			return err
		}
		w.stream = stream
	}
	return w.openPart()
}

// sessionKey derives or generates the symmetric key used to encrypt
// every part's payload, per §3/§4.2. Hybrid is treated like Asymmetric
// for session-key establishment (the wrapped key travels in KEY0); a
// configured Password is accepted but not used when a PublicKey is
// also present.
func (w *Writer) sessionKey() ([]byte, error) {
	switch w.opts.CryptType {
	case crypt.CryptTypeSymmetric:
		if len(w.opts.Password) == 0 {
			return nil, barerrors.New(barerrors.KindPassword, "archive", crypt.ErrPasswordRequired)
		}
		return crypt.DeriveKey(w.opts.Password, w.salt, w.opts.Cipher.KeySize()), nil
	case crypt.CryptTypeAsymmetric, crypt.CryptTypeHybrid:
		key := make([]byte, w.opts.Cipher.KeySize())
		if _, err := rand.Read(key); err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "archive", err)
		}
		return key, nil
	default:
		return nil, barerrors.Errorf(barerrors.KindInternal, "archive", "sessionKey called with CryptType none")
	}
}

func (w *Writer) openPart() error {
	out, name, err := w.alloc.NextPart()
	if err != nil {
		return err
	}
	hcw := &hashCountWriter{w: out, h: sha256.New()}
	w.part = &partState{out: out, name: name, hcw: hcw, cw: chunk.NewWriter(hcw)}
	// Each part is independently parseable (its own BAR0/SALT/KEY0 and
	// IDX0/SIG0), so the CBC-IV ordinal must restart at 0 here too --
	// otherwise a Reader opening part 002 on its own derives different
	// IVs than the Writer used, corrupting every fragment's first block.
	w.chunkSeq = 0
	return w.writeHeader()
}

func (w *Writer) writeHeader() error {
	values := chunk.Values{
		"version":             uint32(1),
		"archive_type":        w.opts.ArchiveType,
		"crypt_type":          uint8(w.opts.CryptType),
		"cipher_algorithm":    uint8(w.opts.Cipher),
		"signature_algorithm": uint8(w.opts.SignatureAlg),
	}
	if err := w.part.cw.BeginChunk(chunk.IDBar0, bar0Spec, values); err != nil {
		return err
	}
	if err := w.part.cw.EndLeafChunk(); err != nil {
		return err
	}

	if w.opts.CryptType == crypt.CryptTypeNone {
		return nil
	}

	if err := w.part.cw.BeginChunk(chunk.IDSalt, saltSpec, chunk.Values{"salt": w.salt}); err != nil {
		return err
	}
	if err := w.part.cw.EndLeafChunk(); err != nil {
		return err
	}

	if w.opts.CryptType == crypt.CryptTypeAsymmetric || w.opts.CryptType == crypt.CryptTypeHybrid {
		if w.opts.PublicKey == nil {
			return barerrors.Errorf(barerrors.KindConfig, "archive", "asymmetric/hybrid crypt type requires a PublicKey")
		}
		wrapped, err := crypt.WrapSessionKey(w.opts.PublicKey, w.stream.Key())
		if err != nil {
			return err
		}
		if err := w.part.cw.BeginChunk(chunk.IDKey0, key0Spec, chunk.Values{"wrapped_session_key": string(wrapped)}); err != nil {
			return err
		}
		if err := w.part.cw.EndLeafChunk(); err != nil {
			return err
		}
	}
	return nil
}

// rollIfNeeded closes the current part and opens a fresh one when
// PartSizeLimit is set and would be exceeded by projectedBytes more
// bytes. Splitting only happens between entries: a single entry's
// content (all of its FRAG/BFRG children) is never split mid-stream, so
// one oversized file can make its containing part exceed
// PartSizeLimit. A real splitter would interleave the roll check with
// fragment writes; this one is checked once per WriteXEntry call, ahead
// of the entry's container chunk, which is simpler at the cost of that
// one-entry overshoot.
func (w *Writer) rollIfNeeded(projectedBytes uint64) error {
	if w.opts.PartSizeLimit == 0 {
		return nil
	}
	if uint64(w.part.hcw.n)+projectedBytes <= w.opts.PartSizeLimit {
		return nil
	}
	if err := w.closePart(); err != nil {
		return err
	}
	return w.openPart()
}

// WriteMetaEntry appends a META annotation (§3).
func (w *Writer) WriteMetaEntry(rec MetaRecord) error {
	if err := w.rollIfNeeded(uint64(len(rec.Key) + len(rec.Value) + 32)); err != nil {
		return err
	}
	values := chunk.Values{"key": rec.Key, "value": rec.Value}
	if err := w.part.cw.BeginChunk(chunk.IDMeta, metaSpec, values); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndLeafChunk, "META:"+rec.Key)
}

// WriteDirectoryEntry appends a DIRECTORY entry (§3).
func (w *Writer) WriteDirectoryEntry(meta DirectoryMeta) error {
	if err := w.rollIfNeeded(uint64(len(meta.Path) + 64)); err != nil {
		return err
	}
	values := chunk.Values{
		"path":        meta.Path,
		"mtime":       uint64(meta.Mtime.Unix()),
		"owner":       meta.Owner,
		"group":       meta.Group,
		"permissions": meta.Permissions,
		"attrs":       meta.Attrs,
	}
	if err := w.part.cw.BeginChunk(chunk.IDDire, direSpec, values); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndLeafChunk, meta.Path)
}

// WriteLinkEntry appends a LINK (symlink) entry (§3).
func (w *Writer) WriteLinkEntry(meta LinkMeta) error {
	if err := w.rollIfNeeded(uint64(len(meta.Path) + len(meta.Destination) + 32)); err != nil {
		return err
	}
	values := chunk.Values{
		"path":        meta.Path,
		"destination": meta.Destination,
		"owner":       meta.Owner,
	}
	if err := w.part.cw.BeginChunk(chunk.IDLink, linkSpec, values); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndLeafChunk, meta.Path)
}

// WriteSpecialEntry appends a SPECIAL (device/fifo/socket) entry (§3).
func (w *Writer) WriteSpecialEntry(meta SpecialMeta) error {
	if err := w.rollIfNeeded(uint64(len(meta.Path) + 32)); err != nil {
		return err
	}
	values := chunk.Values{
		"path":      meta.Path,
		"kind":      uint8(meta.Kind),
		"dev_major": meta.DevMajor,
		"dev_minor": meta.DevMinor,
	}
	if err := w.part.cw.BeginChunk(chunk.IDSpec, specSpec, values); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndLeafChunk, meta.Path)
}

// WriteFileEntry appends a FILE entry, splitting content into FRAG
// children. deltaSource, when non-nil, is a prior version of the same
// logical content against which fragments are delta-compressed (§4.3);
// deltaSourceHash names it for the reader to resolve the same source.
func (w *Writer) WriteFileEntry(meta FileMeta, content io.Reader, deltaSource []byte, deltaSourceHash string) error {
	if err := w.rollIfNeeded(uint64(len(meta.Paths[0]) + 96)); err != nil {
		return err
	}
	values := chunk.Values{
		"path":        meta.Paths[0],
		"size":        meta.Size,
		"mtime":       uint64(meta.Mtime.Unix()),
		"owner":       meta.Owner,
		"group":       meta.Group,
		"permissions": meta.Permissions,
		"attrs":       meta.Attrs,
		"partial":     boolToUint8(meta.Partial),
		"hash":        meta.Hash,
	}
	if err := w.part.cw.BeginChunk(chunk.IDFile, fileSpec, values); err != nil {
		return err
	}
	if err := w.writeFragments(chunk.IDFrag, fragSpec, content, deltaSource, deltaSourceHash); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndChunk, meta.Paths[0])
}

// WriteHardlinkEntry appends a HARDLINK entry: the shared content plus
// every path that names it (§3).
func (w *Writer) WriteHardlinkEntry(meta FileMeta, content io.Reader) error {
	if len(meta.Paths) == 0 {
		return barerrors.Errorf(barerrors.KindInvalidArgument, "archive", "hardlink entry requires at least one path")
	}
	if err := w.rollIfNeeded(uint64(len(meta.Paths[0]) + 96)); err != nil {
		return err
	}
	if err := w.part.cw.BeginChunk(chunk.IDHlnk, chunk.Spec{}, nil); err != nil {
		return err
	}
	var pathCount [2]byte
	binary.BigEndian.PutUint16(pathCount[:], uint16(len(meta.Paths)))
	if _, err := w.part.cw.WritePayload(pathCount[:]); err != nil {
		return err
	}
	for _, p := range meta.Paths {
		if err := writeLengthPrefixed(w.part.cw, p); err != nil {
			return err
		}
	}
	rest := chunk.Values{
		"size":        meta.Size,
		"mtime":       uint64(meta.Mtime.Unix()),
		"owner":       meta.Owner,
		"group":       meta.Group,
		"permissions": meta.Permissions,
		"attrs":       meta.Attrs,
		"partial":     boolToUint8(meta.Partial),
		"hash":        meta.Hash,
	}
	restSpec := hlnkSpec[1:]
	var buf fixedFieldBuf
	if err := chunk.WriteFixed(&buf, restSpec, rest); err != nil {
		return err
	}
	if _, err := w.part.cw.WritePayload(buf.b); err != nil {
		return err
	}
	if err := w.writeFragments(chunk.IDFrag, fragSpec, content, nil, ""); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndChunk, meta.Paths[0])
}

// WriteImageEntry appends an IMAGE entry, splitting its block device
// content into BFRG children (§3).
func (w *Writer) WriteImageEntry(meta ImageMeta, content io.Reader) error {
	if err := w.rollIfNeeded(uint64(len(meta.DevicePath) + 64)); err != nil {
		return err
	}
	values := chunk.Values{
		"device_path": meta.DevicePath,
		"block_size":  meta.BlockSize,
		"total_size":  meta.TotalSize,
	}
	if err := w.part.cw.BeginChunk(chunk.IDImge, imgeSpec, values); err != nil {
		return err
	}
	if err := w.writeFragments(chunk.IDBfrg, bfrgSpec, content, nil, ""); err != nil {
		return err
	}
	return w.endEntry(w.part.cw.EndChunk, meta.DevicePath)
}

// writeFragments reads content in FragmentSize-sized blocks, applies
// the configured delta/compress/encrypt pipeline to each, and emits one
// FRAG/BFRG leaf chunk per block (§4.3, §4.4).
func (w *Writer) writeFragments(fragID chunk.ID, spec chunk.Spec, content io.Reader, deltaSource []byte, deltaSourceHash string) error {
	buf := make([]byte, w.opts.FragmentSize)
	var offset uint64
	for {
		n, readErr := io.ReadFull(content, buf)
		if n > 0 {
			if err := w.writeOneFragment(fragID, spec, buf[:n], offset, deltaSource, deltaSourceHash); err != nil {
				return err
			}
			offset += uint64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return barerrors.New(barerrors.KindIO, "archive", readErr)
		}
	}
	return nil
}

func (w *Writer) writeOneFragment(fragID chunk.ID, spec chunk.Spec, data []byte, offset uint64, deltaSource []byte, deltaSourceHash string) error {
	usedDeltaHash := ""
	logical := data
	if deltaSource != nil {
		df, err := compress.NewDeltaFilter(deltaSource, false)
		if err != nil {
			return err
		}
		if err := df.Push(data); err != nil {
			return err
		}
		encoded, err := df.Flush()
		if err != nil {
			return err
		}
		if !df.Degraded {
			logical = encoded
			usedDeltaHash = deltaSourceHash
		}
	}

	compressed, alg, err := compress.CompressIfSmaller(w.opts.CompressAlg, w.opts.CompressLevel, logical)
	if err != nil {
		return err
	}

	payload := compressed
	if w.stream != nil {
		payload, err = w.stream.Encrypt(compressed, w.chunkSeq)
		if err != nil {
			return err
		}
		w.chunkSeq++
	}

	values := chunk.Values{
		"offset":            offset,
		"length":            uint64(len(data)),
		"delta_source_hash": usedDeltaHash,
		"compress_alg":      uint8(alg),
		"compressed_length": uint64(len(compressed)),
	}
	if err := w.part.cw.BeginChunk(fragID, spec, values); err != nil {
		return err
	}
	if _, err := w.part.cw.WritePayload(payload); err != nil {
		return err
	}
	return w.part.cw.EndLeafChunk()
}

// endEntry records the entry's catalog offset (captured just before end
// flushes the buffered top-level frame to the part's real output, see
// the writer-stack note in internal/chunk) and runs end (either
// EndChunk for container entries with fragments, or EndLeafChunk for
// fixed-field-only entries like DIRECTORY/LINK/SPECIAL/META).
func (w *Writer) endEntry(end func() error, name string) error {
	offset := uint64(w.part.hcw.n)
	if err := end(); err != nil {
		return err
	}
	w.part.catalog = append(w.part.catalog, idx0Entry{name: name, offset: offset})
	return nil
}

// End writes the final part's catalog and signature and closes it.
func (w *Writer) End() error {
	return w.closePart()
}

func (w *Writer) closePart() error {
	if w.part == nil {
		return nil
	}
	if err := w.writeCatalog(); err != nil {
		return err
	}
	if err := w.writeSignature(); err != nil {
		return err
	}
	if err := w.part.out.Close(); err != nil {
		return barerrors.New(barerrors.KindIO, "archive", err)
	}
	w.part = nil
	return nil
}

func (w *Writer) writeCatalog() error {
	if err := w.part.cw.BeginChunk(chunk.IDIdx0, chunk.Spec{}, nil); err != nil {
		return err
	}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(w.part.catalog)))
	if _, err := w.part.cw.WritePayload(count[:]); err != nil {
		return err
	}
	for _, e := range w.part.catalog {
		if err := writeLengthPrefixed(w.part.cw, e.name); err != nil {
			return err
		}
		var off [8]byte
		binary.BigEndian.PutUint64(off[:], e.offset)
		if _, err := w.part.cw.WritePayload(off[:]); err != nil {
			return err
		}
	}
	return w.part.cw.EndLeafChunk()
}

func (w *Writer) writeSignature() error {
	if w.opts.SignKey == nil {
		return nil
	}
	offset := uint64(w.part.hcw.n)
	digest := w.part.hcw.h.Sum(nil)
	sig, err := crypt.Sign(w.opts.SignKey, digest)
	if err != nil {
		return err
	}
	values := chunk.Values{
		"offset":              offset,
		"hash_algorithm":      uint8(crypt.HashSHA256),
		"signature_algorithm": uint8(w.opts.SignKey.Algorithm),
		"signature":           string(sig),
	}
	if err := w.part.cw.BeginChunk(chunk.IDSig0, sig0Spec, values); err != nil {
		return err
	}
	return w.part.cw.EndLeafChunk()
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// fixedFieldBuf is a minimal io.Writer sink for chunk.WriteFixed calls
// whose bytes must be forwarded through WritePayload rather than
// through a nested BeginChunk frame (HLNK's trailing fixed fields after
// its variable-length path list).
type fixedFieldBuf struct{ b []byte }

func (f *fixedFieldBuf) Write(p []byte) (int, error) {
	f.b = append(f.b, p...)
	return len(p), nil
}

func writeLengthPrefixed(cw *chunk.Writer, s string) error {
	var lb [2]byte
	binary.BigEndian.PutUint16(lb[:], uint16(len(s)))
	if _, err := cw.WritePayload(lb[:]); err != nil {
		return err
	}
	_, err := cw.WritePayload([]byte(s))
	return err
}
