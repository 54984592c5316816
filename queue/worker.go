package queue

import (
	"context"
	"sync"
	"time"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
)

// WorkerState describes the worker pool lifecycle.
type WorkerState string

const (
	WorkerIdle    WorkerState = "idle"
	WorkerRunning WorkerState = "running"
	WorkerStopped WorkerState = "stopped"
)

// Status is a snapshot of the worker pool counters.
type Status struct {
	State     WorkerState
	Processed int
	Dropped   int
	Failed    int
	LastError error
	LastRunAt time.Time
}

// Worker drains a Queue into a Dispatcher with a fixed number of goroutines.
// Late duplicates for finished jobs are dropped; a signal that is illegal for
// a live job, or that the dispatcher no longer recognizes, escalates the job
// to abort with the rejection as its diagnostic.
type Worker struct {
	queue      Queue
	dispatcher Dispatcher
	logger     conversion.Logger
	workers    int
	now        func() time.Time

	mu     sync.Mutex
	status Status
}

// WorkerOption customizes the worker pool.
type WorkerOption func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger conversion.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = conversion.NormalizeLogger(logger)
	}
}

// WithWorkers sets the pool size; per-job ordering is preserved by the queue
// regardless of pool size.
func WithWorkers(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithWorkerClock overrides the time source.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker builds a worker pool over a queue and dispatcher.
func NewWorker(q Queue, d Dispatcher, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:      q,
		dispatcher: d,
		logger:     conversion.NormalizeLogger(nil),
		workers:    1,
		now:        func() time.Time { return time.Now().UTC() },
		status:     Status{State: WorkerIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run blocks draining the queue until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(WorkerRunning)
	defer w.setState(WorkerStopped)

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				sig, err := w.queue.Dequeue(ctx)
				if err != nil {
					return
				}
				w.process(ctx, sig)
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// ProcessOne dequeues and processes a single signal; used by tests and
// single-step drivers.
func (w *Worker) ProcessOne(ctx context.Context) error {
	sig, err := w.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	return w.process(ctx, sig)
}

// Status returns a snapshot of the pool counters.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) process(ctx context.Context, sig *conversion.Signal) error {
	defer w.queue.Ack(sig)

	err := w.dispatcher.Dispatch(ctx, sig)
	w.mu.Lock()
	w.status.LastRunAt = w.now()
	w.mu.Unlock()

	if err == nil {
		w.count(func(s *Status) { s.Processed++ })
		return nil
	}

	logger := conversion.LoggerWithFields(w.logger, map[string]any{
		"job_id": sig.JobID,
		"signal": sig.Name,
	})

	switch conversion.ErrorCode(err) {
	case conversion.ErrCodeJobFinished:
		// late duplicate; the job already completed
		logger.Debug("dropping signal: %v", err)
		w.count(func(s *Status) { s.Dropped++ })
		return nil
	case conversion.ErrCodeInvalidTransition, conversion.ErrCodeUnknownSignal:
		// the signal flow and the transition table drifted out of sync on a
		// live job; abort it so it still reaches a terminal state
		logger.Error("signal not legal for job, aborting: %v", err)
		w.count(func(s *Status) { s.Failed++; s.LastError = err })
		abort := conversion.NewSignal(sig.JobID, engine.SignalAbort, "unroutable signal "+sig.Name+": "+err.Error(), string(conversion.StatusError))
		abort.Routing = sig.Routing
		if qerr := w.queue.Enqueue(ctx, abort); qerr != nil {
			logger.Error("failed to schedule abort: %v", qerr)
			return qerr
		}
		return err
	default:
		logger.Error("signal processing failed: %v", err)
		w.count(func(s *Status) { s.Failed++; s.LastError = err })
		return err
	}
}

func (w *Worker) count(apply func(*Status)) {
	w.mu.Lock()
	apply(&w.status)
	w.mu.Unlock()
}

func (w *Worker) setState(state WorkerState) {
	w.mu.Lock()
	w.status.State = state
	w.mu.Unlock()
}
