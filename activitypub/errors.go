package activitypub

import (
	"errors"
	"net/http"

	"github.com/deemkeen/agora/domain"
)

var (
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrLocalOriginRejected = errors.New("activity originates from this instance")
	ErrActorUnresolvable   = errors.New("actor unresolvable")
	ErrFetchLimitExceeded  = errors.New("fetch limit exceeded")
	ErrDomainMismatch      = errors.New("domain mismatch")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrNotFound            = domain.ErrNotFound
	ErrKindMismatch        = errors.New("object has unexpected kind")

	// ErrAlreadyProcessed is not a failure: the activity was seen before
	// and processing stopped without side effects.
	ErrAlreadyProcessed = errors.New("activity already processed")
)

// StatusCode maps an inbox processing result to the HTTP status returned to the peer.
func StatusCode(err error) int {
	switch {
	case err == nil, errors.Is(err, ErrAlreadyProcessed):
		return http.StatusOK
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrFetchLimitExceeded):
		return http.StatusBadRequest
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrLocalOriginRejected), errors.Is(err, ErrNotAuthorized), errors.Is(err, ErrDomainMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrActorUnresolvable), errors.Is(err, ErrKindMismatch):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
