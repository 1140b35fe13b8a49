package authcore

import (
	"errors"
	"fmt"
)

// VerifyErrorKind is a stable tag callers can map to an HTTP status without
// string-matching error text.
type VerifyErrorKind string

// Token verification failure kinds.
const (
	VerifyUnknownIssuer     VerifyErrorKind = "unknown_issuer"
	VerifyInvalidSignature  VerifyErrorKind = "invalid_signature"
	VerifyExpired           VerifyErrorKind = "expired"
	VerifyInvalidClaims     VerifyErrorKind = "invalid_claims"
	VerifyInsufficientScope VerifyErrorKind = "insufficient_scope"
)

// VerifyError is a typed token verification failure. It is always surfaced to
// the caller as an authentication failure and never retried internally.
type VerifyError struct {
	Kind VerifyErrorKind
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authcore: token verification failed: %s", e.Kind)
	}
	return fmt.Sprintf("authcore: token verification failed: %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// NewVerifyError builds a VerifyError with an optional cause.
func NewVerifyError(kind VerifyErrorKind, err error) *VerifyError {
	return &VerifyError{Kind: kind, Err: err}
}

// VerifyKind extracts the failure kind from err, or "" if err is not a
// verification failure.
func VerifyKind(err error) VerifyErrorKind {
	var ve *VerifyError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}

// Local auth failures. Login deliberately collapses "no such email" and
// "wrong password" into the single ErrInvalidCredentials.
var (
	ErrInvalidCredentials = errors.New("authcore: invalid credentials")
	ErrEmailTaken         = errors.New("authcore: email already registered")
)

// Store contract errors. Repository implementations return these so the core
// can distinguish absence from infrastructure failure, and a uniqueness
// violation from anything else.
var (
	ErrNotFound  = errors.New("authcore: not found")
	ErrDuplicate = errors.New("authcore: duplicate")
)

// Admin state machine errors.
var (
	ErrPasswordChangeRequired = errors.New("authcore: password change required")
	ErrWeakPassword           = errors.New("authcore: password does not meet policy")
)
