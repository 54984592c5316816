package conversion

import (
	"context"
	"sync"
	"time"
)

// JobStore persists jobs with optimistic locking. SaveIfVersion with
// expectedVersion 0 creates the record.
type JobStore interface {
	Load(ctx context.Context, id string) (*Job, error)
	SaveIfVersion(ctx context.Context, job *Job, expectedVersion int) (newVersion int, err error)
}

// JobLister is the optional enumeration surface used by maintenance sweeps.
type JobLister interface {
	Jobs(ctx context.Context) ([]*Job, error)
}

// InMemoryJobStore keeps jobs in memory; the reference store for tests and
// single-process workers.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewInMemoryJobStore constructs an empty store.
func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{jobs: make(map[string]*Job)}
}

func (s *InMemoryJobStore) Load(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

func (s *InMemoryJobStore) SaveIfVersion(_ context.Context, job *Job, expectedVersion int) (int, error) {
	if job == nil {
		return 0, CloneError(ErrPrecondition, "job required", nil, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	if existing, ok := s.jobs[job.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return 0, CloneError(ErrVersionConflict, "", nil, map[string]any{
			"job_id":           job.ID,
			"expected_version": expectedVersion,
			"current_version":  current,
		})
	}

	cp := job.Clone()
	cp.Version = current + 1
	cp.UpdatedOn = time.Now().UTC()
	s.jobs[job.ID] = cp
	return cp.Version, nil
}

func (s *InMemoryJobStore) Jobs(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}
