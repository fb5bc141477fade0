package gateway

import (
	"errors"
	"net/http"
	"time"
)

// Kind identifies why the gateway refused a request. Each kind is
// independently distinguishable so callers can render a precise response.
type Kind string

const (
	KindInvalidCredential    Kind = "invalid_credential"
	KindKeyInactiveOrExpired Kind = "key_inactive_or_expired"
	KindIPNotAllowed         Kind = "ip_not_allowed"
	KindInsufficientScope    Kind = "insufficient_scope"
	KindRateLimited          Kind = "rate_limited"
	KindResourceNotFound     Kind = "resource_not_found"
	KindOwnershipMismatch    Kind = "ownership_mismatch"
)

// Error is a terminal gateway failure. The gateway never retries; retry
// policy belongs to the caller.
type Error struct {
	Kind    Kind
	Message string

	// Populated for insufficient-scope failures.
	RequiredScope string

	// Populated for rate-limit failures.
	RetryAfter   time.Duration
	RemainingRPM int
	RemainingRPD int
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// HTTPStatus maps the failure kind to the HTTP status the caller should
// return.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidCredential, KindKeyInactiveOrExpired:
		return http.StatusUnauthorized
	case KindIPNotAllowed, KindInsufficientScope, KindOwnershipMismatch:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindResourceNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// AsError unwraps err into a gateway *Error if it is one.
func AsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
