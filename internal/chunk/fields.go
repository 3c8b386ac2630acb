package chunk

import (
	"encoding/binary"
	"io"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// FieldKind enumerates the declarative fixed-field primitive types of
// §4.1: "uint8/16/32/64, string-with-u16-length, raw[N]".
type FieldKind int

const (
	FieldUint8 FieldKind = iota
	FieldUint16
	FieldUint32
	FieldUint64
	FieldString // u16 length prefix + UTF-8 bytes
	FieldRaw    // fixed-length raw bytes, length given by FieldSpec.Len
)

// FieldSpec describes one field of a chunk's fixed-field section.
type FieldSpec struct {
	Name string
	Kind FieldKind
	Len  int // only meaningful for FieldRaw
}

// Spec is an ordered fixed-field descriptor for one chunk type.
type Spec []FieldSpec

// Values is a decoded fixed-field record, keyed by FieldSpec.Name.
type Values map[string]interface{}

// size returns the exact encoded byte length of spec given values; a
// FieldString missing from v counts as an empty string. An unknown
// field kind is an error.
func (s Spec) size(v Values) (int, error) {
	n := 0
	for _, f := range s {
		switch f.Kind {
		case FieldUint8:
			n++
		case FieldUint16:
			n += 2
		case FieldUint32:
			n += 4
		case FieldUint64:
			n += 8
		case FieldRaw:
			n += f.Len
		case FieldString:
			str, _ := v[f.Name].(string)
			n += 2 + len(str)
		default:
			return 0, barerrors.Errorf(barerrors.KindInternal, "chunk", "unknown field kind %d for %q", f.Kind, f.Name)
		}
	}
	return n, nil
}

// WriteFixed emits spec's fields from v to w in declared order, always
// big-endian on disk (§4.1).
func WriteFixed(w io.Writer, spec Spec, v Values) error {
	for _, f := range spec {
		switch f.Kind {
		case FieldUint8:
			u, _ := v[f.Name].(uint8)
			if _, err := w.Write([]byte{u}); err != nil {
				return err
			}
		case FieldUint16:
			u, _ := v[f.Name].(uint16)
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], u)
			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		case FieldUint32:
			u, _ := v[f.Name].(uint32)
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], u)
			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		case FieldUint64:
			u, _ := v[f.Name].(uint64)
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], u)
			if _, err := w.Write(b[:]); err != nil {
				return err
			}
		case FieldString:
			str, _ := v[f.Name].(string)
			var lb [2]byte
			binary.BigEndian.PutUint16(lb[:], uint16(len(str)))
			if _, err := w.Write(lb[:]); err != nil {
				return err
			}
			if _, err := io.WriteString(w, str); err != nil {
				return err
			}
		case FieldRaw:
			raw, _ := v[f.Name].([]byte)
			if len(raw) != f.Len {
				raw = append(make([]byte, 0, f.Len), raw...)
				for len(raw) < f.Len {
					raw = append(raw, 0)
				}
				raw = raw[:f.Len]
			}
			if _, err := w.Write(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadFixed decodes spec's fields from r, validating each field's
// declared size against what is actually consumed. A short read yields
// TruncatedChunk; there is no "declared size" byte count to mismatch
// against for variable fields, so ReadFixed never returns
// FixedFieldMismatch; that comes from the size checks in
// ReadFixedChecked and Reader.ReadFixed.
func ReadFixed(r io.Reader, spec Spec) (Values, error) {
	v := make(Values, len(spec))
	for _, f := range spec {
		switch f.Kind {
		case FieldUint8:
			var b [1]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			v[f.Name] = b[0]
		case FieldUint16:
			var b [2]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			v[f.Name] = binary.BigEndian.Uint16(b[:])
		case FieldUint32:
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			v[f.Name] = binary.BigEndian.Uint32(b[:])
		case FieldUint64:
			var b [8]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			v[f.Name] = binary.BigEndian.Uint64(b[:])
		case FieldString:
			var lb [2]byte
			if _, err := io.ReadFull(r, lb[:]); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			n := binary.BigEndian.Uint16(lb[:])
			buf := make([]byte, n)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			v[f.Name] = string(buf)
		case FieldRaw:
			buf := make([]byte, f.Len)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrTruncatedChunk)
			}
			v[f.Name] = buf
		}
	}
	return v, nil
}

// ReadFixedChecked is ReadFixed plus the §4.1 FixedFieldMismatch check:
// declaredSize (the chunk header's payload size, or the portion of it
// reserved for fixed fields in a container chunk) must equal spec's
// actual on-disk size for the decoded values.
func ReadFixedChecked(r io.Reader, spec Spec, declaredSize uint64) (Values, error) {
	v, err := ReadFixed(r, spec)
	if err != nil {
		return nil, err
	}
	n, err := spec.size(v)
	if err != nil {
		return nil, err
	}
	if uint64(n) != declaredSize {
		return nil, barerrors.New(barerrors.KindChunk, "chunk", ErrFixedFieldMismatch)
	}
	return v, nil
}
