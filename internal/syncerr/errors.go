// Package syncerr defines the tagged error type shared by every layer of
// the sync engine, so callers can distinguish failure kinds with errors.As
// instead of string-matching.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of a *Error.
type Kind int

const (
	// KindValidation covers malformed input: bad UUIDs, names too long,
	// content over the size cap, tag cycles.
	KindValidation Kind = iota
	// KindStorage covers local I/O failures and schema mismatches.
	KindStorage
	// KindSync covers handshake/protocol-level failures against a peer.
	KindSync
	// KindNetwork covers connection refused, timeout, and transport-level
	// failures reaching a peer.
	KindNetwork
	// KindTLS covers fingerprint mismatches, missing certificate files,
	// and malformed PEM.
	KindTLS
	// KindNotFound covers a missing entity.
	KindNotFound
	// KindConflict covers an expected divergent-write outcome.
	KindConflict
	// KindOther covers anything that does not fit the above.
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindSync:
		return "sync"
	case KindNetwork:
		return "network"
	case KindTLS:
		return "tls"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "other"
	}
}

// Error is the single error type returned across package boundaries in this
// module. Field is only populated for KindValidation.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Kind == KindValidation && e.Field != "" {
		return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation builds a field-scoped validation error.
func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// Validationf builds a field-scoped validation error with a formatted message.
func Validationf(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a storage-layer failure.
func Storage(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// Sync builds a protocol-level sync error.
func Sync(message string) *Error {
	return &Error{Kind: KindSync, Message: message}
}

// Network wraps a transport-level failure reaching a peer.
func Network(message string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Cause: cause}
}

// TLS builds a TOFU/certificate-related error.
func TLS(message string) *Error {
	return &Error{Kind: KindTLS, Message: message}
}

// NotFound builds a not-found error naming the missing entity.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict builds a conflict-outcome error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Other builds a catch-all error.
func Other(message string, cause error) *Error {
	return &Error{Kind: KindOther, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, or KindOther if err is nil or
// not one of this package's errors — used by metrics labels that need a
// stable reason string regardless of error shape.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}
