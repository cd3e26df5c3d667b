package auth

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAuthInvalid is wrapped by every rejection caused by the token itself.
	ErrAuthInvalid = errors.New("unauthorized")

	// ErrAuthServiceUnavailable means the token could not be checked at all
	// (key set or denylist backend unreachable). Never wraps ErrAuthInvalid.
	ErrAuthServiceUnavailable = errors.New("authorization service unavailable")

	ErrMissingToken     = fmt.Errorf("%w: missing bearer token", ErrAuthInvalid)
	ErrInvalidSignature = fmt.Errorf("%w: invalid token signature", ErrAuthInvalid)
	ErrTokenExpired     = fmt.Errorf("%w: token has expired", ErrAuthInvalid)
	ErrIssuerMismatch   = fmt.Errorf("%w: token issuer is invalid", ErrAuthInvalid)
	ErrAudienceMismatch = fmt.Errorf("%w: token audience is invalid", ErrAuthInvalid)
	ErrTokenRevoked     = fmt.Errorf("%w: token has been revoked", ErrAuthInvalid)

	// ErrKeyNotFound is returned by a KeySource that has no key for a kid.
	ErrKeyNotFound = errors.New("signing key not found")
)
