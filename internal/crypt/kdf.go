package crypt

import (
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"
)

// kdfIterations matches no external standard; it is BAR's own fixed
// iteration count for both password-to-key derivation and per-chunk IV
// derivation, kept low enough that IV derivation (done once per chunk,
// §I3) does not dominate throughput.
const kdfIterations = 4096

// DeriveKey derives an n-byte symmetric key from password and salt
// (§4.2 "KDF(salt || chunk_offset)" reused here with an empty offset
// suffix for the top-level session key).
func DeriveKey(password, salt []byte, n int) []byte {
	return pbkdf2.Key(password, salt, kdfIterations, n, sha256.New)
}

// DeriveIV derives the per-chunk IV for invariant I3: "IVs are
// per-chunk derived from (salt, chunk-offset)". blockSize is the
// cipher's block size (8 for Blowfish/CAST5/3DES, 16 for AES/Twofish).
func DeriveIV(salt []byte, chunkOffset uint64, blockSize int) []byte {
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], chunkOffset)
	material := append(append([]byte{}, salt...), off[:]...)
	return pbkdf2.Key(material, salt, kdfIterations, blockSize, sha256.New)
}
