// Package errors defines the error taxonomy shared by every contract in
// this chaincode. All errors cross the chaincode boundary unchanged; the
// invoking service keys its retry behaviour off the Kind, and only
// KindConflict is retryable.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a contract error.
type Kind uint8

const (
	// KindValidation marks malformed, missing, or out-of-range input,
	// always caught before any ledger write.
	KindValidation Kind = iota + 1
	// KindNotFound marks a referenced key absent from the ledger.
	KindNotFound
	// KindUnauthorized marks a missing grant, wrong permission, or
	// expired grant.
	KindUnauthorized
	// KindConflict marks a version or state mismatch detected during
	// read-modify-write. Retryable by the external caller.
	KindConflict
	// KindCrypto marks an encryption or decryption failure.
	KindCrypto
	// KindSizeLimit marks a payload over the encrypted-data bound.
	KindSizeLimit
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindCrypto:
		return "crypto"
	case KindSizeLimit:
		return "size limit exceeded"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every contract function.
// Field is set for validation failures so the caller sees which input was
// rejected.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a field-specific validation error.
func Validation(field, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns an absent-key error.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Unauthorized returns an authorization failure.
func Unauthorized(format string, args ...interface{}) *Error {
	return &Error{Kind: KindUnauthorized, Msg: fmt.Sprintf(format, args...)}
}

// Conflict returns a state/version mismatch error.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Crypto wraps a cipher construction or authentication failure.
func Crypto(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindCrypto, Msg: fmt.Sprintf(format, args...), Err: err}
}

// SizeLimit returns a payload-too-large error.
func SizeLimit(format string, args ...interface{}) *Error {
	return &Error{Kind: KindSizeLimit, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates err under the given kind, typically for ledger
// round-trip failures that surface through a contract function.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is, or wraps, an Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
