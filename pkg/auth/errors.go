package auth

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUpstreamUnavailable marks a failed key set fetch. It is not an
// authentication failure: callers must surface it as a 503, never a 401,
// because the token could not be checked at all.
var ErrUpstreamUnavailable = errors.New("key set endpoint unavailable")

// Reason is the coarse-grained cause of a verification failure. Reasons are
// safe to expose to clients; the wrapped cause is for logs only.
type Reason string

const (
	ReasonMissingToken      Reason = "missing bearer token"
	ReasonMalformedToken    Reason = "malformed token"
	ReasonMissingKeyID      Reason = "token has no key id"
	ReasonUnknownKey        Reason = "unknown key id"
	ReasonAlgorithmMismatch Reason = "token algorithm does not match key"
	ReasonInvalidSignature  Reason = "invalid signature"
	ReasonTokenExpired      Reason = "token expired"
	ReasonTokenNotYetValid  Reason = "token not yet valid"
	ReasonClaimMismatch     Reason = "audience or issuer mismatch"
)

// VerificationError is any failure that maps to 401.
type VerificationError struct {
	Reason Reason
	cause  error
}

func newVerificationError(reason Reason, cause error) *VerificationError {
	return &VerificationError{
		Reason: reason,
		cause:  cause,
	}
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *VerificationError) Unwrap() error {
	return e.cause
}
