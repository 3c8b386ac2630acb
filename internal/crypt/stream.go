package crypt

import (
	"crypto/cipher"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// Stream is the §4.2 "Stream wraps transparently filter Write/Read"
// contract: a CBC block cipher keyed once per archive, with the IV
// re-derived for every chunk from (salt, chunk-offset) per invariant
// I3, so two chunks at different offsets never reuse an IV even though
// they share a key.
//
// BAR's wire format always encrypts whole chunks (never partial
// streaming writes spanning multiple Write calls), so this codec
// buffers a chunk's plaintext/ciphertext in one call rather than
// maintaining cross-call CBC chaining state -- simpler than a generic
// io.Writer filter and sufficient for the archive writer/reader's
// per-chunk encrypt/decrypt calls.
type Stream struct {
	alg  CipherAlgorithm
	key  []byte
	salt []byte
}

// NewStream builds a Stream for alg keyed by key, with salt the BAR0
// header's recorded salt (I3).
func NewStream(alg CipherAlgorithm, key, salt []byte) (*Stream, error) {
	if len(key) != alg.KeySize() {
		return nil, barerrors.Errorf(barerrors.KindCrypt, "crypt", "key length %d does not match %v (want %d)", len(key), alg, alg.KeySize())
	}
	return &Stream{alg: alg, key: key, salt: salt}, nil
}

// Key returns the symmetric key s was built with, needed by callers
// that must wrap it for a KEY0 chunk (the hybrid/asymmetric path).
func (s *Stream) Key() []byte { return s.key }

// Encrypt pads plain with PKCS#7-style padding to the cipher's block
// size and CBC-encrypts it with the IV derived for chunkOffset.
func (s *Stream) Encrypt(plain []byte, chunkOffset uint64) ([]byte, error) {
	block, err := NewBlock(s.alg, s.key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	iv := DeriveIV(s.salt, chunkOffset, bs)

	padded := pkcs7Pad(plain, bs)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt. A WrongPassword condition does not surface
// here (padding can coincidentally validate); callers detect it by
// comparing the chunk's expected CRC after decryption, per §4.2.
func (s *Stream) Decrypt(ciphertext []byte, chunkOffset uint64) ([]byte, error) {
	block, err := NewBlock(s.alg, s.key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(ciphertext)%bs != 0 || len(ciphertext) == 0 {
		return nil, barerrors.Errorf(barerrors.KindCrypt, "crypt", "ciphertext length %d not a multiple of block size %d", len(ciphertext), bs)
	}
	iv := DeriveIV(s.salt, chunkOffset, bs)

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, bs)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, barerrors.Errorf(barerrors.KindCrypt, "crypt", "invalid padded length %d", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, barerrors.Errorf(barerrors.KindCrypt, "crypt", "invalid pkcs7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, barerrors.Errorf(barerrors.KindCrypt, "crypt", "invalid pkcs7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
