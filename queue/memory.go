package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	conversion "github.com/goliatone/go-conversion"
)

// Memory is the in-process Queue. Ready signals drain in FIFO order; deferred
// signals sit in a min-heap keyed by delivery time and promote when due. A
// job with an inflight signal is skipped until the worker acks.
type Memory struct {
	mu       sync.Mutex
	ready    []*conversion.Signal
	deferred deferredHeap
	inflight map[string]bool
	notify   chan struct{}
	now      func() time.Time
}

// MemoryOption customizes the in-memory queue.
type MemoryOption func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty queue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		inflight: make(map[string]bool),
		notify:   make(chan struct{}, 1),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Memory) Enqueue(_ context.Context, sig *conversion.Signal) error {
	if sig == nil || sig.JobID == "" || sig.Name == "" {
		return conversion.CloneError(conversion.ErrPrecondition, "signal requires job id and name", nil, nil)
	}
	m.mu.Lock()
	sig.EnqueuedAt = m.now()
	if sig.Due(sig.EnqueuedAt) {
		m.ready = append(m.ready, sig)
	} else {
		heap.Push(&m.deferred, sig)
	}
	m.mu.Unlock()
	m.wake()
	return nil
}

// Dequeue returns the next deliverable signal, promoting due deferred signals
// first. It blocks on a timer for the earliest deferred delivery, a notify
// from Enqueue/Ack, or ctx cancellation.
func (m *Memory) Dequeue(ctx context.Context) (*conversion.Signal, error) {
	for {
		m.mu.Lock()
		m.promote()
		sig := m.takeReady()
		var timer *time.Timer
		var wait <-chan time.Time
		if sig == nil && len(m.deferred) > 0 {
			timer = time.NewTimer(m.deferred[0].DeliverOn.Sub(m.now()))
			wait = timer.C
		}
		m.mu.Unlock()

		if sig != nil {
			return sig, nil
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-m.notify:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (m *Memory) Ack(sig *conversion.Signal) {
	if sig == nil {
		return
	}
	m.mu.Lock()
	delete(m.inflight, sig.JobID)
	m.mu.Unlock()
	m.wake()
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready) + len(m.deferred)
}

// promote moves due deferred signals to the ready list. Caller holds mu.
func (m *Memory) promote() {
	now := m.now()
	for len(m.deferred) > 0 && m.deferred[0].Due(now) {
		m.ready = append(m.ready, heap.Pop(&m.deferred).(*conversion.Signal))
	}
}

// takeReady pops the first ready signal whose job is not inflight and marks
// the job inflight. Caller holds mu.
func (m *Memory) takeReady() *conversion.Signal {
	for i, sig := range m.ready {
		if m.inflight[sig.JobID] {
			continue
		}
		m.inflight[sig.JobID] = true
		m.ready = append(m.ready[:i], m.ready[i+1:]...)
		return sig
	}
	return nil
}

func (m *Memory) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

type deferredHeap []*conversion.Signal

func (h deferredHeap) Len() int { return len(h) }

func (h deferredHeap) Less(i, j int) bool {
	return h[i].DeliverOn.Before(*h[j].DeliverOn)
}

func (h deferredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deferredHeap) Push(x any) {
	*h = append(*h, x.(*conversion.Signal))
}

func (h *deferredHeap) Pop() any {
	old := *h
	n := len(old)
	sig := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return sig
}
