package crypt

import "errors"

// Failure modes from §4.2.
var (
	ErrPasswordRequired  = errors.New("crypt: password required")
	ErrWrongPassword     = errors.New("crypt: wrong password")
	ErrSignatureMismatch = errors.New("crypt: signature mismatch")
	ErrKeyFormat         = errors.New("crypt: invalid key format")
)
