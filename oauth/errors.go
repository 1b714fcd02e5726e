package oauth

import (
	"errors"
	"fmt"
)

// Package-level errors
var (
	// ErrNotInitialized indicates the service hasn't been initialized
	ErrNotInitialized = errors.New("oauth service not initialized")

	// ErrNoToken indicates no cached token is available
	ErrNoToken = errors.New("no token available")

	// ErrNoRefreshToken indicates no refresh token is available
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// ErrorKind classifies an operation failure so callers and the resilience
// pipeline can branch on it without string matching.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown ErrorKind = iota

	// KindConfiguration is a missing or unusable configuration value.
	// Fatal to the calling operation, never retryable.
	KindConfiguration

	// KindValidation is caller input rejected before any network call.
	KindValidation

	// KindTransientNetwork is a connection failure, timeout, or 503/504.
	// Retryable within the resilience pipeline.
	KindTransientNetwork

	// KindPermanentProvider is a terminal provider rejection, typically an
	// HTTP 400 on refresh. Requires re-authorization; never retried.
	KindPermanentProvider

	// KindCircuitOpen means the circuit breaker refused the call without
	// touching the network.
	KindCircuitOpen

	// KindCanceled means the caller's context was canceled mid-operation.
	KindCanceled

	// KindPersistence is a disk write or encryption failure. Non-fatal:
	// operation degrades to in-memory-only.
	KindPersistence
)

// String returns the kind name for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindTransientNetwork:
		return "transient_network"
	case KindPermanentProvider:
		return "permanent_provider"
	case KindCircuitOpen:
		return "circuit_open"
	case KindCanceled:
		return "canceled"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a classified OAuth failure. Expected provider failures flow
// through values of this type rather than panics, so the pipeline and
// callers can branch on Kind.
type Error struct {
	Kind       ErrorKind
	Op         string // operation that failed: "exchange", "refresh", "revoke", ...
	StatusCode int    // provider HTTP status, when one was received
	Body       string // raw provider response body, for diagnostics
	Err        error  // underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("oauth %s: %s: provider returned %d: %s", e.Op, e.Kind, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("oauth %s: %s: provider returned %d", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("oauth %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("oauth %s: %s", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may be retried by the resilience pipeline.
// Only transient network failures qualify; everything else is terminal.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientNetwork
}
