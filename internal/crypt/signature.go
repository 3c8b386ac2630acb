package crypt

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// Sign computes the §3/I4 signature over data (the caller passes
// sha256.Sum256 of the byte range [0 … SIG0.offset)) using kp's private
// half.
func Sign(kp *KeyPair, data []byte) ([]byte, error) {
	switch kp.Algorithm {
	case SignatureEd25519:
		if kp.Ed25519Private == nil {
			return nil, barerrors.Errorf(barerrors.KindSignature, "crypt", "no private key loaded")
		}
		return ed25519.Sign(kp.Ed25519Private, data), nil
	case SignatureRSA:
		if kp.RSAPrivate == nil {
			return nil, barerrors.Errorf(barerrors.KindSignature, "crypt", "no private key loaded")
		}
		digest := sha256.Sum256(data)
		sig, err := rsa.SignPSS(rand.Reader, kp.RSAPrivate, crypto.SHA256, digest[:], nil)
		if err != nil {
			return nil, barerrors.New(barerrors.KindSignature, "crypt", err)
		}
		return sig, nil
	default:
		return nil, barerrors.Errorf(barerrors.KindSignature, "crypt", "unsupported signature algorithm %v", kp.Algorithm)
	}
}

// Verify implements invariant I4: recomputes the hash of data and
// checks sig against it using kp's public half. Returns
// ErrSignatureMismatch (not a generic bool) so callers can
// distinguish "verification ran and failed" from a setup error.
func Verify(kp *KeyPair, data, sig []byte) error {
	switch kp.Algorithm {
	case SignatureEd25519:
		if kp.Ed25519Public == nil {
			return barerrors.Errorf(barerrors.KindSignature, "crypt", "no public key loaded")
		}
		if !ed25519.Verify(kp.Ed25519Public, data, sig) {
			return barerrors.New(barerrors.KindSignature, "crypt", ErrSignatureMismatch)
		}
		return nil
	case SignatureRSA:
		if kp.RSAPublic == nil {
			return barerrors.Errorf(barerrors.KindSignature, "crypt", "no public key loaded")
		}
		digest := sha256.Sum256(data)
		if err := rsa.VerifyPSS(kp.RSAPublic, crypto.SHA256, digest[:], sig, nil); err != nil {
			return barerrors.New(barerrors.KindSignature, "crypt", ErrSignatureMismatch)
		}
		return nil
	default:
		return barerrors.Errorf(barerrors.KindSignature, "crypt", "unsupported signature algorithm %v", kp.Algorithm)
	}
}
