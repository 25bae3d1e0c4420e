// Package errs defines the error-kind taxonomy shared by every core
// package (C1-C6). Stage executors, the artifact store, and the stage
// resolver all return errors wrapped with one of these kinds so that the
// HTTP collaborator (internal/api) can map them onto status codes without
// re-deriving the classification (§7 Error Handling Design).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// Internal covers unexpected kernel or I/O failure.
	Internal Kind = iota
	// NotFound covers a missing entity: image, run, artifact, or file.
	NotFound
	// InvalidInput covers schema/enum violations, bad base64, size
	// mismatches, non-binary masks, and out-of-bound params.
	InvalidInput
	// PrerequisiteUnmet covers a required predecessor stage with no
	// committed artifact, or an unreadable calibration.
	PrerequisiteUnmet
	// Conflict covers a concurrent version collision.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidInput:
		return "invalid_input"
	case PrerequisiteUnmet:
		return "prerequisite_unmet"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// StatusCode maps a Kind onto the HTTP status the API layer should use.
func (k Kind) StatusCode() int {
	switch k {
	case NotFound:
		return 404
	case InvalidInput:
		return 422
	case PrerequisiteUnmet:
		return 409
	case Conflict:
		return 409
	default:
		return 500
	}
}

// Error is a classified error carrying a Kind plus a human-readable
// message. InvalidInput messages raised by internal/params normalization
// are Korean-localized per the original UI's convention (spec §7,
// SPEC_FULL §4.7); those raised by other packages are in English.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not_found error.
func NotFoundf(format string, args ...any) *Error { return newf(NotFound, format, args...) }

// InvalidInputf builds an invalid_input error.
func InvalidInputf(format string, args ...any) *Error { return newf(InvalidInput, format, args...) }

// PrerequisiteUnmetf builds a prerequisite_unmet error.
func PrerequisiteUnmetf(format string, args ...any) *Error {
	return newf(PrerequisiteUnmet, format, args...)
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error { return newf(Conflict, format, args...) }

// Internalf builds an internal error wrapping a lower-level cause.
func Internalf(cause error, format string, args ...any) *Error {
	e := newf(Internal, format, args...)
	e.Err = cause
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
