package resilience

import "errors"

// ErrStopped is returned by [Policy.Wait] when the stop channel closes before
// the backoff delay elapses.
var ErrStopped = errors.New("resilience: stopped during backoff")
