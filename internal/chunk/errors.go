package chunk

import "errors"

// Failure modes from §4.1.
var (
	// ErrUnknownChunk is returned by Next when strict mode is enabled and
	// an unrecognized chunk id is encountered; in non-strict mode the
	// chunk is skipped instead (I1).
	ErrUnknownChunk = errors.New("chunk: unknown chunk id")

	// ErrTruncatedChunk means the stream ended before a chunk's declared
	// size was fully consumed. Fatal to the current entry, recoverable
	// by seeking to the next top-level chunk.
	ErrTruncatedChunk = errors.New("chunk: truncated chunk")

	// ErrFixedFieldMismatch means the declared chunk spec disagrees with
	// the on-disk size of the decoded fixed fields: corruption.
	ErrFixedFieldMismatch = errors.New("chunk: fixed field size mismatch")

	// ErrCRCMismatch means a leaf chunk's trailing CRC32 did not match
	// its payload.
	ErrCRCMismatch = errors.New("chunk: payload crc mismatch")

	// ErrResyncFailed means the top-level linear scan exhausted its
	// 64 KiB budget without finding a recognizable chunk id.
	ErrResyncFailed = errors.New("chunk: resync scan exhausted without finding a known chunk")
)
