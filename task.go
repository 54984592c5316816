package conversion

import "sync"

// Task is the owning-task collaborator: the entity that holds the job's
// aggregate progress, its user-facing options, and the cancellation flags.
// Storage behind it is opaque to the engine.
type Task interface {
	// Progress returns the current aggregate; implementations return a copy
	// the caller may mutate before handing it back to UpdateProgress.
	Progress() *Aggregate
	UpdateProgress(agg *Aggregate) error

	// Cancel records an out-of-band cancellation request.
	Cancel()
	CancelRequested() bool
	// Canceling acknowledges the request; teardown has started.
	Canceling()
	IsCanceling() bool
	// Canceled marks teardown complete.
	Canceled()
	IsCanceled() bool

	GetOption(key string) (any, bool)
	SetOption(key string, value any)
}

// TaskLocator resolves the owning task for a job id.
type TaskLocator interface {
	TaskFor(jobID string) (Task, error)
}

// TaskLocatorFunc adapts a function to a TaskLocator.
type TaskLocatorFunc func(jobID string) (Task, error)

func (f TaskLocatorFunc) TaskFor(jobID string) (Task, error) {
	return f(jobID)
}

// MemoryTask is the in-process Task reference implementation.
type MemoryTask struct {
	mu              sync.RWMutex
	progress        *Aggregate
	options         map[string]any
	cancelRequested bool
	canceling       bool
	canceled        bool
}

// NewMemoryTask returns an empty in-memory task.
func NewMemoryTask() *MemoryTask {
	return &MemoryTask{
		progress: NewAggregate(),
		options:  make(map[string]any),
	}
}

func (t *MemoryTask) Progress() *Aggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress.Clone()
}

func (t *MemoryTask) UpdateProgress(agg *Aggregate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progress = agg.Clone()
	return nil
}

func (t *MemoryTask) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelRequested = true
}

func (t *MemoryTask) CancelRequested() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelRequested
}

func (t *MemoryTask) Canceling() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceling = true
}

func (t *MemoryTask) IsCanceling() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canceling
}

func (t *MemoryTask) Canceled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.canceled = true
}

func (t *MemoryTask) IsCanceled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canceled
}

func (t *MemoryTask) GetOption(key string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.options[key]
	return v, ok
}

func (t *MemoryTask) SetOption(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.options[key] = value
}
