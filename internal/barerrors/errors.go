// Package barerrors implements the error taxonomy of §7: a small set of
// typed errors that every component wraps its failures in, so that a
// caller can recover the taxonomy kind with errors.As regardless of how
// deep the original failure occurred.
package barerrors

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind is one of the taxonomy categories from §7.
type Kind int

const (
	KindConfig Kind = iota
	KindInvalidArgument
	KindIO
	KindNetwork
	KindAuthentication
	KindPassword
	KindCrypt
	KindSignature
	KindCompress
	KindChunk
	KindEntry
	KindStorage
	KindIndex
	KindAborted
	KindInterrupted
	KindNotSupported
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindInvalidArgument:
		return "invalid-argument"
	case KindIO:
		return "io"
	case KindNetwork:
		return "network"
	case KindAuthentication:
		return "authentication"
	case KindPassword:
		return "password"
	case KindCrypt:
		return "crypt"
	case KindSignature:
		return "signature"
	case KindCompress:
		return "compress"
	case KindChunk:
		return "chunk"
	case KindEntry:
		return "entry"
	case KindStorage:
		return "storage"
	case KindIndex:
		return "index"
	case KindAborted:
		return "aborted"
	case KindInterrupted:
		return "interrupted"
	case KindNotSupported:
		return "not-supported"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a taxonomy-tagged error. Component is the originating
// package ("chunk", "crypt", "storage.ftp", ...) for log correlation.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (via xerrors.Errorf so %w chains survive) as a taxonomy
// error of the given kind, tagged with component for log correlation.
func New(kind Kind, component string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:      kind,
		Component: component,
		Err:       xerrors.Errorf("%w", err),
	}
}

// Errorf is New with fmt.Sprintf-style message construction.
func Errorf(kind Kind, component, format string, args ...interface{}) error {
	return &Error{
		Kind:      kind,
		Component: component,
		Err:       xerrors.Errorf(format, args...),
	}
}

// Is reports whether err carries the given taxonomy kind anywhere in its
// wrap chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if xe, ok := err.(*Error); ok {
			e = xe
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode maps the outermost taxonomy kind of err to the §6.3 process
// exit code. A nil err maps to 0 (OK).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if xerrors.As(err, &e) {
		switch e.Kind {
		case KindInvalidArgument:
			return 5
		case KindConfig:
			return 6
		case KindNotSupported:
			return 127
		default:
			return 1
		}
	}
	return 1
}
