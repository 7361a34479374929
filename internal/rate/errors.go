package rate

import "errors"

var (
	// ErrRateLimited is returned by [Limiter.Gate] when the request exceeded its budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrLockedOut is returned by [Limiter.Gate] while a lockout marker is present.
	ErrLockedOut = errors.New("locked out")
	// ErrRedisUnavailable wraps transport failures from the backing store.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for non-positive limits or windows.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
