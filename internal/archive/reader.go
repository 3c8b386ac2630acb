package archive

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/bar-archiver/bar/internal/barerrors"
	"github.com/bar-archiver/bar/internal/chunk"
	"github.com/bar-archiver/bar/internal/compress"
	"github.com/bar-archiver/bar/internal/crypt"
)

// ReadOptions configures how a Reader establishes the part's symmetric
// key and verifies its signature (§4.2, §4.4).
type ReadOptions struct {
	Password   []byte          // tried when the part's BAR0 declares CryptTypeSymmetric (Hybrid parts use PrivateKey)
	PrivateKey *rsa.PrivateKey // unwraps KEY0 for CryptTypeAsymmetric/Hybrid
	VerifyKey  *crypt.KeyPair  // verifies SIG0 if present; nil skips verification
	Strict     bool            // passed through to the underlying chunk.Reader

	// ResolveDeltaSource returns the bytes of a previously-seen entry's
	// content by its path hash, used to reconstruct delta-compressed
	// fragments (§4.3). nil disables delta resolution: delta-encoded
	// fragments then fail to decode.
	ResolveDeltaSource func(hash string) ([]byte, error)
}

// Entry is one decoded top-level record from an archive part (§3).
type Entry struct {
	Kind EntryKind

	File      *FileMeta
	Image     *ImageMeta
	Directory *DirectoryMeta
	Link      *LinkMeta
	Special   *SpecialMeta
	Meta      *MetaRecord

	// Content streams the entry's reassembled logical bytes for FILE,
	// HARDLINK and IMAGE entries; nil for the metadata-only kinds.
	Content io.Reader
}

// Reader is the C5 archive reader for a single part: Open/Next (§4.5).
// Restoring a multi-part archive means constructing one Reader per part
// in sequence, sharing ReadOptions.ResolveDeltaSource across all of them
// so later parts can reference content from earlier ones.
type Reader struct {
	cr     *chunk.Reader
	opts   ReadOptions
	stream *crypt.Stream
	salt   []byte

	archiveType        uint8
	cryptType          crypt.CryptType
	cipher             crypt.CipherAlgorithm
	signatureAlgorithm crypt.SignatureAlgorithm

	hr  *hashingReadSeeker // digests bytes read so far, for SIG0 verification
	seq uint64             // fragment IV ordinal, mirrors Writer.chunkSeq
}

// NewReader opens r as a BAR archive part, reading its BAR0/SALT/KEY0
// header and establishing the decrypt stream when the archive is
// encrypted.
func NewReader(r io.ReadSeeker, opts ReadOptions) (*Reader, error) {
	hr := newHashingReadSeeker(r)
	cr := chunk.NewReader(hr)
	cr.Strict = opts.Strict
	ar := &Reader{cr: cr, opts: opts}
	ar.hr = hr

	h, err := cr.Next()
	if err != nil {
		return nil, barerrors.New(barerrors.KindChunk, "archive", err)
	}
	if h.ID != chunk.IDBar0 {
		return nil, barerrors.Errorf(barerrors.KindChunk, "archive", "expected BAR0 as the first chunk, got %v", h.ID)
	}
	vals, err := cr.ReadFixed(bar0Spec, false)
	if err != nil {
		return nil, err
	}
	ar.archiveType = vals["archive_type"].(uint8)
	ar.cryptType = crypt.CryptType(vals["crypt_type"].(uint8))
	ar.cipher = crypt.CipherAlgorithm(vals["cipher_algorithm"].(uint8))
	ar.signatureAlgorithm = crypt.SignatureAlgorithm(vals["signature_algorithm"].(uint8))
	if err := cr.VerifyCRC(crcOfFixed(bar0Spec, vals)); err != nil {
		return nil, err
	}

	if ar.cryptType != crypt.CryptTypeNone {
		if err := ar.readSalt(); err != nil {
			return nil, err
		}
		if ar.cryptType == crypt.CryptTypeAsymmetric || ar.cryptType == crypt.CryptTypeHybrid {
			if err := ar.readKey0(); err != nil {
				return nil, err
			}
		} else if err := ar.deriveSymmetricStream(); err != nil {
			return nil, err
		}
	}
	return ar, nil
}

func (ar *Reader) readSalt() error {
	h, err := ar.cr.Next()
	if err != nil {
		return barerrors.New(barerrors.KindChunk, "archive", err)
	}
	if h.ID != chunk.IDSalt {
		return barerrors.Errorf(barerrors.KindChunk, "archive", "expected SALT, got %v", h.ID)
	}
	vals, err := ar.cr.ReadFixed(saltSpec, false)
	if err != nil {
		return err
	}
	ar.salt = vals["salt"].([]byte)
	return ar.cr.VerifyCRC(crcOfFixed(saltSpec, vals))
}

func (ar *Reader) readKey0() error {
	h, err := ar.cr.Next()
	if err != nil {
		return barerrors.New(barerrors.KindChunk, "archive", err)
	}
	if h.ID != chunk.IDKey0 {
		return barerrors.Errorf(barerrors.KindChunk, "archive", "expected KEY0, got %v", h.ID)
	}
	vals, err := ar.cr.ReadFixed(key0Spec, false)
	if err != nil {
		return err
	}
	if err := ar.cr.VerifyCRC(crcOfFixed(key0Spec, vals)); err != nil {
		return err
	}
	wrapped := []byte(vals["wrapped_session_key"].(string))
	if ar.opts.PrivateKey == nil {
		return barerrors.Errorf(barerrors.KindConfig, "archive", "archive requires a private key to unwrap its session key")
	}
	key, err := crypt.UnwrapSessionKey(ar.opts.PrivateKey, wrapped)
	if err != nil {
		return err
	}
	stream, err := crypt.NewStream(ar.cipher, key, ar.salt)
	if err != nil {
		return err
	}
	ar.stream = stream
	return nil
}

func (ar *Reader) deriveSymmetricStream() error {
	if len(ar.opts.Password) == 0 {
		return barerrors.New(barerrors.KindPassword, "archive", crypt.ErrPasswordRequired)
	}
	key := crypt.DeriveKey(ar.opts.Password, ar.salt, ar.cipher.KeySize())
	stream, err := crypt.NewStream(ar.cipher, key, ar.salt)
	if err != nil {
		return err
	}
	ar.stream = stream
	return nil
}

// Next decodes the next top-level entry, or returns (nil, io.EOF) once
// IDX0/SIG0 (or end of stream) is reached. Content must be fully read
// (or discarded) before the next call to Next, mirroring chunk.Reader's
// own forward-only contract.
func (ar *Reader) Next() (*Entry, error) {
	for {
		// Snapshot the digest before consuming this chunk's header: if
		// it turns out to be SIG0, this is exactly the byte range the
		// writer signed (everything strictly before SIG0 itself).
		preDigest := ar.hr.digestSoFar()

		h, err := ar.cr.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, barerrors.New(barerrors.KindChunk, "archive", err)
		}
		switch h.ID {
		case chunk.IDIdx0:
			if err := ar.skipCatalog(); err != nil {
				return nil, err
			}
			continue
		case chunk.IDSig0:
			if err := ar.readAndVerifySignature(preDigest); err != nil {
				return nil, err
			}
			return nil, io.EOF
		case chunk.IDMeta:
			return ar.decodeMeta()
		case chunk.IDDire:
			return ar.decodeDirectory()
		case chunk.IDLink:
			return ar.decodeLink()
		case chunk.IDSpec:
			return ar.decodeSpecial()
		case chunk.IDFile:
			return ar.decodeFile(h)
		case chunk.IDHlnk:
			return ar.decodeHardlink(h)
		case chunk.IDImge:
			return ar.decodeImage(h)
		default:
			if err := ar.cr.SkipRemainder(); err != nil {
				return nil, err
			}
			continue
		}
	}
}

func (ar *Reader) decodeMeta() (*Entry, error) {
	vals, err := ar.cr.ReadFixed(metaSpec, false)
	if err != nil {
		return nil, err
	}
	if err := ar.cr.VerifyCRC(crcOfFixed(metaSpec, vals)); err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryMeta, Meta: &MetaRecord{Key: vals["key"].(string), Value: vals["value"].(string)}}, nil
}

func (ar *Reader) decodeDirectory() (*Entry, error) {
	vals, err := ar.cr.ReadFixed(direSpec, false)
	if err != nil {
		return nil, err
	}
	if err := ar.cr.VerifyCRC(crcOfFixed(direSpec, vals)); err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryDirectory, Directory: &DirectoryMeta{
		Path:        vals["path"].(string),
		Mtime:       time.Unix(int64(vals["mtime"].(uint64)), 0).UTC(),
		Owner:       vals["owner"].(uint32),
		Group:       vals["group"].(uint32),
		Permissions: vals["permissions"].(uint32),
		Attrs:       vals["attrs"].(uint32),
	}}, nil
}

func (ar *Reader) decodeLink() (*Entry, error) {
	vals, err := ar.cr.ReadFixed(linkSpec, false)
	if err != nil {
		return nil, err
	}
	if err := ar.cr.VerifyCRC(crcOfFixed(linkSpec, vals)); err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryLink, Link: &LinkMeta{
		Path:        vals["path"].(string),
		Destination: vals["destination"].(string),
		Owner:       vals["owner"].(uint32),
	}}, nil
}

func (ar *Reader) decodeSpecial() (*Entry, error) {
	vals, err := ar.cr.ReadFixed(specSpec, false)
	if err != nil {
		return nil, err
	}
	if err := ar.cr.VerifyCRC(crcOfFixed(specSpec, vals)); err != nil {
		return nil, err
	}
	return &Entry{Kind: EntrySpecial, Special: &SpecialMeta{
		Path:     vals["path"].(string),
		Kind:     SpecialKind(vals["kind"].(uint8)),
		DevMajor: vals["dev_major"].(uint32),
		DevMinor: vals["dev_minor"].(uint32),
	}}, nil
}

func (ar *Reader) decodeFile(h *chunk.Header) (*Entry, error) {
	vals, err := ar.cr.ReadFixed(fileSpec, false)
	if err != nil {
		return nil, err
	}
	meta := &FileMeta{
		Paths:       []string{vals["path"].(string)},
		Size:        vals["size"].(uint64),
		Mtime:       time.Unix(int64(vals["mtime"].(uint64)), 0).UTC(),
		Owner:       vals["owner"].(uint32),
		Group:       vals["group"].(uint32),
		Permissions: vals["permissions"].(uint32),
		Attrs:       vals["attrs"].(uint32),
		Partial:     vals["partial"].(uint8) != 0,
		Hash:        vals["hash"].([]byte),
	}
	containerEnd := h.Offset + 12 + int64(h.Size)
	content, err := ar.readFragmentStream(chunk.IDFrag, fragSpec, containerEnd, meta.Hash)
	if err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryFile, File: meta, Content: content}, nil
}

func (ar *Reader) decodeHardlink(h *chunk.Header) (*Entry, error) {
	raw, err := ar.cr.ReadPayload(2)
	if err != nil {
		return nil, err
	}
	count := int(raw[0])<<8 | int(raw[1])

	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, err := readLengthPrefixedPayload(ar.cr)
		if err != nil {
			return nil, err
		}
		paths = append(paths, s)
	}

	restSpec := hlnkSpec[1:]
	vals, err := ar.cr.ReadFixed(restSpec, false)
	if err != nil {
		return nil, err
	}

	meta := &FileMeta{
		Paths:       paths,
		Size:        vals["size"].(uint64),
		Mtime:       time.Unix(int64(vals["mtime"].(uint64)), 0).UTC(),
		Owner:       vals["owner"].(uint32),
		Group:       vals["group"].(uint32),
		Permissions: vals["permissions"].(uint32),
		Attrs:       vals["attrs"].(uint32),
		Partial:     vals["partial"].(uint8) != 0,
		Hash:        vals["hash"].([]byte),
	}
	containerEnd := h.Offset + 12 + int64(h.Size)
	content, err := ar.readFragmentStream(chunk.IDFrag, fragSpec, containerEnd, meta.Hash)
	if err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryHardlink, File: meta, Content: content}, nil
}

func (ar *Reader) decodeImage(h *chunk.Header) (*Entry, error) {
	vals, err := ar.cr.ReadFixed(imgeSpec, false)
	if err != nil {
		return nil, err
	}
	meta := &ImageMeta{
		DevicePath: vals["device_path"].(string),
		BlockSize:  vals["block_size"].(uint64),
		TotalSize:  vals["total_size"].(uint64),
	}
	containerEnd := h.Offset + 12 + int64(h.Size)
	content, err := ar.readFragmentStream(chunk.IDBfrg, bfrgSpec, containerEnd, nil)
	if err != nil {
		return nil, err
	}
	return &Entry{Kind: EntryImage, Image: meta, Content: content}, nil
}

// readFragmentStream eagerly decodes every FRAG/BFRG child up to
// containerEnd into one concatenated buffer. A fully lazy, pull-on-Read
// version is possible (each Read call advancing the shared chunk.Reader
// by exactly one fragment) but eager decoding keeps entry ordering and
// CRC verification straightforward for a teaching-grade reader.
// expectedHash, when non-empty, is the entry's FileMeta.Hash (§4.5
// "hash verification... raises HashMismatch if different"): on a
// mismatch the returned reader yields the content and then fails with
// ErrHashMismatch instead of io.EOF. IMAGE entries have no stored hash
// and pass nil to skip the check.
func (ar *Reader) readFragmentStream(fragID chunk.ID, spec chunk.Spec, containerEnd int64, expectedHash []byte) (io.Reader, error) {
	var out bytes.Buffer
	for {
		pos, err := ar.cr.Pos()
		if err != nil {
			return nil, err
		}
		if pos >= containerEnd {
			break
		}
		h, err := ar.cr.Next()
		if err != nil {
			return nil, barerrors.New(barerrors.KindChunk, "archive", err)
		}
		if h.ID != fragID {
			if err := ar.cr.SkipRemainder(); err != nil {
				return nil, err
			}
			continue
		}
		vals, err := ar.cr.ReadFixed(spec, false)
		if err != nil {
			return nil, err
		}
		compressedLength := vals["compressed_length"].(uint64)
		deltaHash := vals["delta_source_hash"].(string)
		alg := compress.Algorithm(vals["compress_alg"].(uint8))

		payloadLen := int(ar.cr.Remaining()) - 4
		if payloadLen < 0 {
			return nil, barerrors.Errorf(barerrors.KindChunk, "archive", "fragment payload shorter than trailing crc")
		}
		raw, err := ar.cr.ReadPayload(payloadLen)
		if err != nil {
			return nil, err
		}

		var fixedBuf bytes.Buffer
		if err := chunk.WriteFixed(&fixedBuf, spec, vals); err != nil {
			return nil, err
		}
		if err := ar.cr.VerifyCRC(crcOfBytes(append(fixedBuf.Bytes(), raw...))); err != nil {
			return nil, err
		}

		logical := raw
		if ar.stream != nil {
			logical, err = ar.stream.Decrypt(raw, ar.fragmentSeq())
			if err != nil {
				return nil, err
			}
		}
		if uint64(len(logical)) != compressedLength {
			return nil, barerrors.Errorf(barerrors.KindCompress, "archive", "decoded fragment length %d does not match declared %d", len(logical), compressedLength)
		}

		decompressed, err := decompressAll(alg, logical)
		if err != nil {
			return nil, err
		}

		if deltaHash != "" {
			if ar.opts.ResolveDeltaSource == nil {
				return nil, barerrors.Errorf(barerrors.KindEntry, "archive", "fragment references delta source %q but no resolver is configured", deltaHash)
			}
			source, err := ar.opts.ResolveDeltaSource(deltaHash)
			if err != nil {
				return nil, err
			}
			decompressed, err = compress.DecodeDelta(decompressed, source)
			if err != nil {
				return nil, err
			}
		}
		out.Write(decompressed)
	}
	if len(expectedHash) > 0 {
		got := sha256.Sum256(out.Bytes())
		if !bytes.Equal(got[:], expectedHash) {
			return io.MultiReader(&out, errReader{barerrors.New(barerrors.KindEntry, "archive",
				fmt.Errorf("%w: got %x want %x", ErrHashMismatch, got[:], expectedHash))}), nil
		}
	}
	return &out, nil
}

// errReader fails every Read with err; readFragmentStream appends it
// after an entry's content so a hash mismatch ends the stream.
type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// fragmentSeq assigns each decrypted fragment a monotonically
// increasing IV ordinal matching the writer's w.chunkSeq counter. Since
// fragments within one archive are read in the same order they were
// written, a Reader-scoped counter reproduces the writer's sequence.
func (ar *Reader) fragmentSeq() uint64 {
	ar.seq++
	return ar.seq - 1
}

func decompressAll(alg compress.Algorithm, data []byte) ([]byte, error) {
	r, err := compress.NewByteDecompressor(alg, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func (ar *Reader) skipCatalog() error {
	return ar.cr.SkipRemainder()
}

func (ar *Reader) readAndVerifySignature(preDigest []byte) error {
	vals, err := ar.cr.ReadFixed(sig0Spec, false)
	if err != nil {
		return err
	}
	if err := ar.cr.VerifyCRC(crcOfFixed(sig0Spec, vals)); err != nil {
		return err
	}
	if ar.opts.VerifyKey == nil {
		return nil
	}
	sig := []byte(vals["signature"].(string))
	return crypt.Verify(ar.opts.VerifyKey, preDigest, sig)
}

func readLengthPrefixedPayload(cr *chunk.Reader) (string, error) {
	lb, err := cr.ReadPayload(2)
	if err != nil {
		return "", err
	}
	n := int(lb[0])<<8 | int(lb[1])
	s, err := cr.ReadPayload(n)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func crcOfFixed(spec chunk.Spec, vals chunk.Values) uint32 {
	var buf bytes.Buffer
	chunk.WriteFixed(&buf, spec, vals)
	return crcOfBytes(buf.Bytes())
}

func crcOfBytes(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
