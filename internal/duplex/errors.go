package duplex

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send when no WebSocket connection is open.
var ErrNotConnected = errors.New("duplex: not connected")

// ErrConnecting is returned by Connect when another call already has a dial
// in flight. The caller can treat the pending dial's outcome as its own.
var ErrConnecting = errors.New("duplex: connect in progress")

// ErrConnectionLost is returned by Monitor when the retry budget is spent
// without re-establishing the connection.
var ErrConnectionLost = errors.New("duplex: connection lost, retries exhausted")

// ConnectError reports a failed connection attempt, preserving the HTTP
// status and a short body preview of the rejected upgrade when one was
// received.
type ConnectError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("duplex: connect %s: HTTP %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("duplex: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
