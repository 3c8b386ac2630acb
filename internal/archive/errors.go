package archive

import "errors"

// ErrHashMismatch is the §4.5 "Hash verification... raises HashMismatch
// if different" failure: a FILE/HARDLINK entry's reassembled content
// does not hash to its stored FileMeta.Hash.
var ErrHashMismatch = errors.New("archive: content hash mismatch")
