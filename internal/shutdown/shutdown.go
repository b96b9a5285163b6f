// Package shutdown provides a single-fire latch that fans a stop request out
// to every long-running loop in the process.
package shutdown

import "sync"

// Coordinator is a one-shot stop latch. The zero value is not usable; create
// one with [New]. Request is idempotent and safe for concurrent use.
type Coordinator struct {
	once sync.Once
	done chan struct{}
}

// New returns a Coordinator ready to be shared across goroutines.
func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Request fires the latch. Subsequent calls are no-ops.
func (c *Coordinator) Request() {
	c.once.Do(func() { close(c.done) })
}

// Requested reports whether Request has been called.
func (c *Coordinator) Requested() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once Request has been called.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}
