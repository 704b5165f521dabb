// Package nxerr defines the error taxonomy shared by every layer of the
// content-archive engine, so callers can branch on failure class with
// errors.As instead of string matching.
package nxerr

import "fmt"

// Kind classifies a failure. None of these are retried internally;
// callers decide whether to retry.
type Kind int

const (
	InvalidNca Kind = iota
	CorruptNca
	MissingKey
	UnsupportedNca
	InvalidPfs
	InvalidRomfs
	InvalidCnmt
	InvalidTicket
	InvalidNacp
	NotFound
	SinkUnavailable
	SinkIoError
	FileTooLargeForFilesystem
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidNca:
		return "InvalidNca"
	case CorruptNca:
		return "CorruptNca"
	case MissingKey:
		return "MissingKey"
	case UnsupportedNca:
		return "UnsupportedNca"
	case InvalidPfs:
		return "InvalidPfs"
	case InvalidRomfs:
		return "InvalidRomfs"
	case InvalidCnmt:
		return "InvalidCnmt"
	case InvalidTicket:
		return "InvalidTicket"
	case InvalidNacp:
		return "InvalidNacp"
	case NotFound:
		return "NotFound"
	case SinkUnavailable:
		return "SinkUnavailable"
	case SinkIoError:
		return "SinkIoError"
	case FileTooLargeForFilesystem:
		return "FileTooLargeForFilesystem"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with an operation name and a Kind so
// it can be matched with errors.As into a *nxerr.Error variable.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &nxerr.Error{Kind: k}) style comparisons by
// kind alone, satisfied when both sides are *Error with equal Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return 0, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
