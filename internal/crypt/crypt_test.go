package crypt

import (
	"bytes"
	"testing"
)

func TestStreamRoundTrip(t *testing.T) {
	salt := []byte("0123456789abcdef")
	key := DeriveKey([]byte("pw"), salt, CipherAES256.KeySize())
	s, err := NewStream(CipherAES256, key, salt)
	if err != nil {
		t.Fatal(err)
	}

	plain := bytes.Repeat([]byte("deterministic content"), 1000)
	ct, err := s.Encrypt(plain, 12345)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := s.Decrypt(ct, 12345)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, plain) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(pt), len(plain))
	}
}

func TestStreamWrongOffsetCorruptsFirstBlock(t *testing.T) {
	// I3: the IV is derived per-chunk from (salt, chunk-offset), so
	// decrypting with the wrong offset must not reproduce the original
	// plaintext -- CBC decryption only garbles the first block when the
	// IV is wrong, so assert on content, not on Decrypt returning an
	// error (padding in later blocks is IV-independent and may still
	// validate).
	salt := []byte("0123456789abcdef")
	key := DeriveKey([]byte("pw"), salt, CipherAES256.KeySize())
	s, _ := NewStream(CipherAES256, key, salt)

	plain := bytes.Repeat([]byte("x"), 64)
	ct, err := s.Encrypt(plain, 0)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := s.Decrypt(ct, 1)
	if err == nil && bytes.Equal(pt, plain) {
		t.Fatal("expected decrypt with mismatched chunk offset (wrong IV) to corrupt the first block")
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	kp, err := GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("archive byte range [0, sig0.offset)")
	sig, err := Sign(kp, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(kp, data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	other, err := GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(other, data, sig); err == nil {
		t.Fatal("expected verification with an unrelated key to fail")
	}

	tampered := append([]byte{}, data...)
	tampered[0] ^= 0xFF
	if err := Verify(kp, tampered, sig); err == nil {
		t.Fatal("expected verification of tampered data to fail")
	}
}

func TestHybridSessionKey(t *testing.T) {
	kp, err := GenerateRSA(2048)
	if err != nil {
		t.Fatal(err)
	}
	sessionKey := DeriveKey([]byte("session"), []byte("salt1234salt5678"), CipherAES256.KeySize())

	wrapped, err := WrapSessionKey(kp.RSAPublic, sessionKey)
	if err != nil {
		t.Fatal(err)
	}
	unwrapped, err := UnwrapSessionKey(kp.RSAPrivate, wrapped)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(unwrapped, sessionKey) {
		t.Fatalf("session key round trip mismatch")
	}
}
