// Package crypt implements C2: symmetric/asymmetric stream encryption,
// key derivation, signatures and PEM key-file I/O (§4.2).
package crypt

// CipherAlgorithm enumerates the symmetric block ciphers named in §4.2.
// AES and 3DES come from the standard library; Twofish, Blowfish and
// CAST5 come from golang.org/x/crypto, all wrapped in CBC+CTS the same
// way regardless of origin.
type CipherAlgorithm int

const (
	CipherNone CipherAlgorithm = iota
	CipherAES128
	CipherAES192
	CipherAES256
	CipherTwofish128
	CipherTwofish256
	CipherBlowfish
	CipherCAST5
	CipherTripleDES
)

func (a CipherAlgorithm) String() string {
	switch a {
	case CipherNone:
		return "none"
	case CipherAES128:
		return "aes-128"
	case CipherAES192:
		return "aes-192"
	case CipherAES256:
		return "aes-256"
	case CipherTwofish128:
		return "twofish-128"
	case CipherTwofish256:
		return "twofish-256"
	case CipherBlowfish:
		return "blowfish"
	case CipherCAST5:
		return "cast5"
	case CipherTripleDES:
		return "3des"
	default:
		return "unknown"
	}
}

// KeySize returns the key length in bytes for a, or 0 if a has a
// fixed/variable size decided elsewhere (Blowfish accepts 32 here as
// BAR's configured default).
func (a CipherAlgorithm) KeySize() int {
	switch a {
	case CipherAES128, CipherTwofish128:
		return 16
	case CipherAES192:
		return 24
	case CipherAES256, CipherTwofish256:
		return 32
	case CipherBlowfish:
		return 32
	case CipherCAST5:
		return 16
	case CipherTripleDES:
		return 24
	default:
		return 0
	}
}

func (a CipherAlgorithm) BlockSize() int {
	switch a {
	case CipherBlowfish, CipherCAST5, CipherTripleDES:
		return 8
	default:
		return 16
	}
}

// CryptType distinguishes how the symmetric key is established, per the
// SPEC_FULL.md C2 supplement: none, a password-derived key, a public-key
// wrapped ("asymmetric") session key written into BAR0, or hybrid (both
// a password and a public key accepted, asymmetric wins).
type CryptType int

const (
	CryptTypeNone CryptType = iota
	CryptTypeSymmetric
	CryptTypeAsymmetric
	CryptTypeHybrid
)

// SignatureAlgorithm enumerates the asymmetric signature schemes usable
// for SIG0 (§3, §4.2). Kept orthogonal to CipherAlgorithm and to the
// hash algorithm used to digest the signed range, per the
// SPEC_FULL.md C2 supplement.
type SignatureAlgorithm int

const (
	SignatureNone SignatureAlgorithm = iota
	SignatureEd25519
	SignatureRSA
)

// HashAlgorithm enumerates the digest algorithms §4.2/§6.4 name for
// signature verification and entry hashing.
type HashAlgorithm int

const (
	HashNone HashAlgorithm = iota
	HashSHA256
)
