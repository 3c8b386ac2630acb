package archive

import "github.com/bar-archiver/bar/internal/chunk"

// Fixed-field layouts for each chunk id (§6.1), expressed with C1's
// declarative descriptor. Variable-length path lists (HARDLINK's set
// of paths) are encoded as a u16 count followed by that many
// FieldString-shaped entries, handled specially in writer.go/reader.go
// rather than through this table since Spec itself is flat.

var bar0Spec = chunk.Spec{
	{Name: "version", Kind: chunk.FieldUint32},
	{Name: "archive_type", Kind: chunk.FieldUint8},
	{Name: "crypt_type", Kind: chunk.FieldUint8},
	{Name: "cipher_algorithm", Kind: chunk.FieldUint8},
	{Name: "signature_algorithm", Kind: chunk.FieldUint8},
}

var saltSpec = chunk.Spec{
	{Name: "salt", Kind: chunk.FieldRaw, Len: 16},
}

var key0Spec = chunk.Spec{
	{Name: "wrapped_session_key", Kind: chunk.FieldString},
}

var metaSpec = chunk.Spec{
	{Name: "key", Kind: chunk.FieldString},
	{Name: "value", Kind: chunk.FieldString},
}

var fileSpec = chunk.Spec{
	{Name: "path", Kind: chunk.FieldString},
	{Name: "size", Kind: chunk.FieldUint64},
	{Name: "mtime", Kind: chunk.FieldUint64},
	{Name: "owner", Kind: chunk.FieldUint32},
	{Name: "group", Kind: chunk.FieldUint32},
	{Name: "permissions", Kind: chunk.FieldUint32},
	{Name: "attrs", Kind: chunk.FieldUint32},
	{Name: "partial", Kind: chunk.FieldUint8},
	{Name: "hash", Kind: chunk.FieldRaw, Len: 32},
}

var hlnkSpec = chunk.Spec{
	{Name: "path_count", Kind: chunk.FieldUint16},
	// followed by path_count FieldString-shaped path entries, appended
	// dynamically in writer.go.
	{Name: "size", Kind: chunk.FieldUint64},
	{Name: "mtime", Kind: chunk.FieldUint64},
	{Name: "owner", Kind: chunk.FieldUint32},
	{Name: "group", Kind: chunk.FieldUint32},
	{Name: "permissions", Kind: chunk.FieldUint32},
	{Name: "attrs", Kind: chunk.FieldUint32},
	{Name: "partial", Kind: chunk.FieldUint8},
	{Name: "hash", Kind: chunk.FieldRaw, Len: 32},
}

var imgeSpec = chunk.Spec{
	{Name: "device_path", Kind: chunk.FieldString},
	{Name: "block_size", Kind: chunk.FieldUint64},
	{Name: "total_size", Kind: chunk.FieldUint64},
}

var direSpec = chunk.Spec{
	{Name: "path", Kind: chunk.FieldString},
	{Name: "mtime", Kind: chunk.FieldUint64},
	{Name: "owner", Kind: chunk.FieldUint32},
	{Name: "group", Kind: chunk.FieldUint32},
	{Name: "permissions", Kind: chunk.FieldUint32},
	{Name: "attrs", Kind: chunk.FieldUint32},
}

var linkSpec = chunk.Spec{
	{Name: "path", Kind: chunk.FieldString},
	{Name: "destination", Kind: chunk.FieldString},
	{Name: "owner", Kind: chunk.FieldUint32},
}

var specSpec = chunk.Spec{
	{Name: "path", Kind: chunk.FieldString},
	{Name: "kind", Kind: chunk.FieldUint8},
	{Name: "dev_major", Kind: chunk.FieldUint32},
	{Name: "dev_minor", Kind: chunk.FieldUint32},
}

var fragSpec = chunk.Spec{
	{Name: "offset", Kind: chunk.FieldUint64},
	{Name: "length", Kind: chunk.FieldUint64},
	{Name: "delta_source_hash", Kind: chunk.FieldString},
	{Name: "compress_alg", Kind: chunk.FieldUint8},
	{Name: "compressed_length", Kind: chunk.FieldUint64},
}

// bfrgSpec mirrors fragSpec but is kept distinct so image block
// fragments and file fragments can diverge later without reshaping the
// FILE/HLNK fragment layout.
var bfrgSpec = fragSpec

var idx0EntrySpec = chunk.Spec{
	{Name: "name", Kind: chunk.FieldString},
	{Name: "offset", Kind: chunk.FieldUint64},
}

var sig0Spec = chunk.Spec{
	{Name: "offset", Kind: chunk.FieldUint64},
	{Name: "hash_algorithm", Kind: chunk.FieldUint8},
	{Name: "signature_algorithm", Kind: chunk.FieldUint8},
	{Name: "signature", Kind: chunk.FieldString},
}
