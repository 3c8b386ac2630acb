package crypt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"

	"github.com/bar-archiver/bar/internal/barerrors"
)

// KeyPair is an asymmetric key, public half always present, private
// half present only when the key was loaded for signing/decryption
// rather than just verification/encryption.
type KeyPair struct {
	Algorithm SignatureAlgorithm

	Ed25519Public  ed25519.PublicKey
	Ed25519Private ed25519.PrivateKey

	RSAPublic  *rsa.PublicKey
	RSAPrivate *rsa.PrivateKey
}

// GenerateEd25519 creates a fresh Ed25519 key pair (cmd/bar
// generate-signature-keys, §6.3).
func GenerateEd25519() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
	}
	return &KeyPair{Algorithm: SignatureEd25519, Ed25519Public: pub, Ed25519Private: priv}, nil
}

// GenerateRSA creates a fresh RSA key pair of the given bit size
// (cmd/bar generate-encryption-keys, §6.3).
func GenerateRSA(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
	}
	return &KeyPair{Algorithm: SignatureRSA, RSAPublic: &priv.PublicKey, RSAPrivate: priv}, nil
}

const (
	pemBlockEd25519Public  = "BAR ED25519 PUBLIC KEY"
	pemBlockEd25519Private = "BAR ED25519 PRIVATE KEY"
	pemBlockRSAPublic      = "BAR RSA PUBLIC KEY"
	pemBlockRSAPrivate     = "BAR RSA PRIVATE KEY"

	// kdfHeader marks a private-key PEM block whose bytes are
	// PBKDF2-wrapped (encrypted with a password-derived key) rather
	// than raw PKCS#8, per §4.2 "PEM with an optional KDF-wrapped
	// private section".
	kdfHeader = "X-Bar-Kdf"
)

// SavePrivatePEM writes kp's private half to path, optionally wrapping
// it with a password-derived key when password != "".
func SavePrivatePEM(path string, kp *KeyPair, password string) error {
	var blockType string
	var der []byte
	var err error
	switch kp.Algorithm {
	case SignatureEd25519:
		blockType = pemBlockEd25519Private
		der = kp.Ed25519Private
	case SignatureRSA:
		blockType = pemBlockRSAPrivate
		der, err = x509.MarshalPKCS8PrivateKey(kp.RSAPrivate)
		if err != nil {
			return barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
	default:
		return barerrors.Errorf(barerrors.KindCrypt, "crypt", "unsupported key algorithm %v", kp.Algorithm)
	}

	headers := map[string]string{}
	if password != "" {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
		key := DeriveKey([]byte(password), salt, CipherAES256.KeySize())
		stream, err := NewStream(CipherAES256, key, salt)
		if err != nil {
			return err
		}
		der, err = stream.Encrypt(der, 0)
		if err != nil {
			return err
		}
		headers[kdfHeader] = "pbkdf2-sha256"
		headers["X-Bar-Salt"] = base64.StdEncoding.EncodeToString(salt)
	}

	block := &pem.Block{Type: blockType, Headers: headers, Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0600)
}

// LoadPrivatePEM reads and, if wrapped, decrypts path's private key.
func LoadPrivatePEM(path, password string) (*KeyPair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, barerrors.New(barerrors.KindIO, "crypt", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
	}

	der := block.Bytes
	if block.Headers[kdfHeader] != "" {
		saltB64 := block.Headers["X-Bar-Salt"]
		salt, err := base64.StdEncoding.DecodeString(saltB64)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
		if password == "" {
			return nil, barerrors.New(barerrors.KindPassword, "crypt", ErrPasswordRequired)
		}
		key := DeriveKey([]byte(password), salt, CipherAES256.KeySize())
		stream, err := NewStream(CipherAES256, key, salt)
		if err != nil {
			return nil, err
		}
		der, err = stream.Decrypt(der, 0)
		if err != nil {
			return nil, barerrors.New(barerrors.KindPassword, "crypt", ErrWrongPassword)
		}
	}

	switch block.Type {
	case pemBlockEd25519Private:
		if len(der) != ed25519.PrivateKeySize {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
		priv := ed25519.PrivateKey(der)
		return &KeyPair{Algorithm: SignatureEd25519, Ed25519Private: priv, Ed25519Public: priv.Public().(ed25519.PublicKey)}, nil
	case pemBlockRSAPrivate:
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
		return &KeyPair{Algorithm: SignatureRSA, RSAPrivate: rsaKey, RSAPublic: &rsaKey.PublicKey}, nil
	default:
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
	}
}

// SavePublicPEM writes kp's public half to path.
func SavePublicPEM(path string, kp *KeyPair) error {
	var blockType string
	var der []byte
	var err error
	switch kp.Algorithm {
	case SignatureEd25519:
		blockType = pemBlockEd25519Public
		der = kp.Ed25519Public
	case SignatureRSA:
		blockType = pemBlockRSAPublic
		der, err = x509.MarshalPKIXPublicKey(kp.RSAPublic)
		if err != nil {
			return barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
	default:
		return barerrors.Errorf(barerrors.KindCrypt, "crypt", "unsupported key algorithm %v", kp.Algorithm)
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), 0644)
}

// LoadPublicPEM reads a public key from either an on-disk PEM path or,
// if b64 is non-empty, base64-encoded PEM content embedded directly in
// configuration (§4.2 "loaders accept base64-in-config or on-disk
// paths").
func LoadPublicPEM(path, b64 string) (*KeyPair, error) {
	var raw []byte
	var err error
	if b64 != "" {
		raw, err = base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
	} else {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, barerrors.New(barerrors.KindIO, "crypt", err)
		}
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
	}
	switch block.Type {
	case pemBlockEd25519Public:
		return &KeyPair{Algorithm: SignatureEd25519, Ed25519Public: ed25519.PublicKey(block.Bytes)}, nil
	case pemBlockRSAPublic:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
		}
		return &KeyPair{Algorithm: SignatureRSA, RSAPublic: rsaPub}, nil
	default:
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", ErrKeyFormat)
	}
}

// WrapSessionKey RSA-OAEP-encrypts a symmetric session key for the
// BAR0 KEY0 chunk, the hybrid path of §4.2/§3.
func WrapSessionKey(pub *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
	}
	return out, nil
}

// UnwrapSessionKey reverses WrapSessionKey.
func UnwrapSessionKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
	}
	return out, nil
}
