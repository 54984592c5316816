// Package queue provides signal delivery: an in-memory queue with deferred
// scheduling and per-job serialization, and a worker pool that drains it
// into the engine.
package queue

import (
	"context"

	conversion "github.com/goliatone/go-conversion"
)

// Queue is the signal transport. Implementations must serialize delivery per
// job id: a dequeued signal blocks further dequeues for the same job until
// it is acked.
type Queue interface {
	Enqueue(ctx context.Context, sig *conversion.Signal) error
	// Dequeue blocks until a deliverable signal is available or ctx ends.
	Dequeue(ctx context.Context) (*conversion.Signal, error)
	// Ack releases the job lock taken by Dequeue.
	Ack(sig *conversion.Signal)
	Len() int
}

// Dispatcher applies one signal to its job; satisfied by engine.Engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, sig *conversion.Signal) error
}
