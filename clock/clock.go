// Package clock provides the deadline bookkeeping used by every blocking
// read in the transport layer, the way xsnet.Conn wraps net.Conn's
// SetDeadline/SetReadDeadline/SetWriteDeadline (xsnet/net.go) — generalized
// here into a small value the packet layer holds for every read/write
// deadline. The dial path does not use a Clock: the TCP dial applies the
// configured timeout directly, and the KCP dial applies none.
package clock

import (
	"time"
)

// DefaultTimeout is the default deadline applied to a blocking read
// when the caller hasn't overridden it.
const DefaultTimeout = 30 * time.Second

// Clock produces an absolute deadline for each blocking operation.
type Clock struct {
	timeout time.Duration
}

// New returns a Clock with the given timeout. A non-positive timeout
// falls back to DefaultTimeout.
func New(timeout time.Duration) *Clock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Clock{timeout: timeout}
}

// DeadlineTime returns an absolute deadline suitable for net.Conn's
// SetDeadline family, anchored at the given start time.
func (c *Clock) DeadlineTime(start time.Time) time.Time {
	return start.Add(c.timeout)
}
