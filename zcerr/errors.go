// Package zcerr defines the error taxonomy shared by the zcstream
// decrypter and encrypter state machines.
//
// Callers should compare errors with errors.Is against the sentinels
// below; a failed transformer wraps the sentinel together with the
// byte offset and record where the failure was detected.
package zcerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Each except ErrClosed corresponds to one entry of the
// taxonomy in the specification's error handling section.
var (
	// ErrNotEncrypted is returned by the decrypter when a local file
	// header's general-purpose bit 0 is clear.
	ErrNotEncrypted = errors.New("zcstream: entry is not encrypted")

	// ErrAlreadyEncrypted is returned by the encrypter when an input
	// local file header already has bit 0 set. Central file header flags
	// are not checked.
	ErrAlreadyEncrypted = errors.New("zcstream: entry is already encrypted")

	// ErrStrongEncryptionUnsupported is returned by either transformer
	// when a header's bit 6 (strong encryption) is set.
	ErrStrongEncryptionUnsupported = errors.New("zcstream: strong encryption is not supported")

	// ErrMalformedArchive covers unrecognized signatures at a record
	// boundary, a zero-length file name, and input that is truncated
	// before a state can complete.
	ErrMalformedArchive = errors.New("zcstream: malformed zip archive")

	// ErrPasswordCheckFailed is returned by the decrypter in strict mode
	// when the 12th recovered header byte disagrees with the captured
	// check byte. It is advisory everywhere else.
	ErrPasswordCheckFailed = errors.New("zcstream: password check failed")

	// ErrClosed is returned by ReadByte/WriteByte once a transformer has
	// already been closed.
	ErrClosed = errors.New("zcstream: transformer is closed")
)

// StateError augments a sentinel with the record and byte position of
// the state machine at the time the error was detected. Op names the
// record or field being parsed ("flags", "payload", "data descriptor",
// "central file header", ...).
type StateError struct {
	Op     string
	Offset int64
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("zcstream: %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// wrap builds a *StateError, or returns nil if err is nil.
func wrap(op string, offset int64, err error) error {
	if err == nil {
		return nil
	}
	return &StateError{Op: op, Offset: offset, Err: err}
}

// Wrap attaches record/offset context to a sentinel or other error.
// IO errors from the underlying source/sink should not be passed
// through Wrap: they are returned to the caller unmodified so that
// errors.Is(err, io.EOF) and similar checks keep working.
func Wrap(op string, offset int64, err error) error {
	return wrap(op, offset, err)
}
