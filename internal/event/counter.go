package event

import "sync/atomic"

// counter is a process-wide monotonic counter used to make boundary IDs
// readable and ordered within a session without requiring coordination.
type counter struct {
	n atomic.Int64
}

func newCounter() *counter { return &counter{} }

func (c *counter) next() int64 { return c.n.Add(1) }
