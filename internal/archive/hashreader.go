package archive

import (
	"crypto/sha256"
	"hash"
	"io"
)

// hashingReadSeeker wraps an io.ReadSeeker, digesting every byte
// returned by Read, and every byte a forward relative Seek skips, in
// stream order, so a Reader can recompute the SIG0 digest at the end
// of a part without a second pass over the input. A backward Seek does
// not un-hash bytes already digested; archive.Reader only moves
// forward.
type hashingReadSeeker struct {
	r io.ReadSeeker
	h hash.Hash
}

func newHashingReadSeeker(r io.ReadSeeker) *hashingReadSeeker {
	return &hashingReadSeeker{r: r, h: sha256.New()}
}

func (h *hashingReadSeeker) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

func (h *hashingReadSeeker) Seek(offset int64, whence int) (int64, error) {
	if whence == io.SeekCurrent && offset > 0 {
		if _, err := io.CopyN(h.h, h.r, offset); err != nil {
			return 0, err
		}
		return h.r.Seek(0, io.SeekCurrent)
	}
	return h.r.Seek(offset, whence)
}

func (h *hashingReadSeeker) digestSoFar() []byte {
	return h.h.Sum(nil)
}
