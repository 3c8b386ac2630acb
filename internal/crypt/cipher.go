package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"

	"github.com/bar-archiver/bar/internal/barerrors"
	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/twofish"
)

// NewBlock constructs the cipher.Block for alg and key, dispatching to
// the standard library for AES/3DES and to golang.org/x/crypto for the
// non-stdlib ciphers §4.2 names.
func NewBlock(alg CipherAlgorithm, key []byte) (cipher.Block, error) {
	switch alg {
	case CipherAES128, CipherAES192, CipherAES256:
		b, err := aes.NewCipher(key)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
		return b, nil
	case CipherTripleDES:
		b, err := des.NewTripleDESCipher(key)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
		return b, nil
	case CipherTwofish128, CipherTwofish256:
		b, err := twofish.NewCipher(key)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
		return b, nil
	case CipherBlowfish:
		b, err := blowfish.NewCipher(key)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
		return b, nil
	case CipherCAST5:
		b, err := cast5.NewCipher(key)
		if err != nil {
			return nil, barerrors.New(barerrors.KindCrypt, "crypt", err)
		}
		return b, nil
	default:
		return nil, barerrors.Errorf(barerrors.KindCrypt, "crypt", "unsupported cipher algorithm %v", alg)
	}
}
