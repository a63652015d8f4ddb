package xfs

import (
	"golang.org/x/xerrors"
)

// Kind classifies a decode-time failure the way spec §7 taxonomizes them:
// by what a caller should do about it, not by where in the decoder it
// originated.
type Kind int

const (
	// KindIo is an underlying read failure; surfaced verbatim.
	KindIo Kind = iota
	// KindBadImage is a magic/version/CRC/self-check mismatch. Fatal at
	// mount; an I/O error to a caller elsewhere.
	KindBadImage
	// KindNotFound is a missing name, attribute, or lseek(DATA) past EOF.
	KindNotFound
	// KindNotSupported is a v4 image, realtime inode, reflink, or unknown
	// format tag.
	KindNotSupported
	// KindInvalid is a negative seek or malformed caller input.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindIo:
		return "io"
	case KindBadImage:
		return "bad-image"
	case KindNotFound:
		return "not-found"
	case KindNotSupported:
		return "not-supported"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error wraps a decode failure with its Kind. The core never retries; a
// caller may inspect Kind to decide the right errno to surface.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, err: xerrors.Errorf(format, args...)}
}

func wrapErr(kind Kind, err error, context string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: xerrors.Errorf("%s: %w", context, err)}
}

// ErrKind returns the Kind attached to err, or KindIo if err carries none —
// an unclassified failure reading a disk image is an I/O failure by default.
func ErrKind(err error) Kind {
	if err == nil {
		return KindIo
	}
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return KindIo
}

// IsNotFound reports whether err is (or wraps) a KindNotFound error.
func IsNotFound(err error) bool { return ErrKind(err) == KindNotFound }
