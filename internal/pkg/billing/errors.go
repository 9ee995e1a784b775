package billing

import "errors"

// Validation errors reject the request outright, no state change.
var (
	ErrUnknownPlan      = errors.New("billing: unknown plan id")
	ErrInvalidPeriod    = errors.New("billing: billing period end must be after start")
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
)

// Conflict/state errors are surfaced distinctly so callers can act on them.
var (
	ErrSubscriptionNotFound = errors.New("billing: no subscription for gateway subscription id")
	ErrInsufficientCredits  = errors.New("billing: insufficient credits")
	ErrInsufficientQuota    = errors.New("billing: insufficient quota")
	ErrUserNotFound         = errors.New("billing: user not found")
)

// IsValidationError reports whether err maps to a 4xx-style rejection.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrUnknownPlan) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidSignature)
}

// IsConflictError reports whether err is a state conflict the caller can
// resolve (e.g. prompt an upgrade), as opposed to a transient failure.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrInsufficientQuota) ||
		errors.Is(err, ErrUserNotFound)
}
