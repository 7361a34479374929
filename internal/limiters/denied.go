package limiters

import (
	"fmt"
	"time"
)

// Denied reports which scope refused a request and how long the caller
// should wait. Err is [rate.ErrRateLimited] or [rate.ErrLockedOut].
type Denied struct {
	Scope      string
	RetryAfter time.Duration
	Err        error
}

func (d *Denied) Error() string {
	return fmt.Sprintf("%s: %v (retry after %s)", d.Scope, d.Err, d.RetryAfter.Round(time.Second))
}

func (d *Denied) Unwrap() error {
	return d.Err
}
