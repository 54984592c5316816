package conversion

import (
	"time"

	"github.com/google/uuid"
)

// Status is the coarse outcome flag carried by a job and its progress records.
type Status string

const (
	StatusOk    Status = "ok"
	StatusError Status = "error"
)

// Job is one orchestration instance. Every mutation happens inside a signal
// handler invocation; between invocations the job lives in a JobStore.
type Job struct {
	ID        string      `json:"id" yaml:"id"`
	State     string      `json:"state" yaml:"state"`
	Status    Status      `json:"status" yaml:"status"`
	Context   *JobContext `json:"context" yaml:"context"`
	StartedOn time.Time   `json:"started_on" yaml:"started_on"`
	UpdatedOn time.Time   `json:"updated_on" yaml:"updated_on"`

	// Version is the optimistic-lock counter managed by the JobStore.
	Version int `json:"version" yaml:"version"`
}

// NewJob creates a job in the given initial state. An empty id gets a
// generated one.
func NewJob(id, initialState string) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		State:     initialState,
		Status:    StatusOk,
		Context:   NewJobContext(),
		StartedOn: now,
		UpdatedOn: now,
	}
}

// Clone returns a deep copy safe to hand across store boundaries.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Context = j.Context.Clone()
	return &cp
}

// JobContext is the durable per-job scratch space. Retry counters are keyed
// by state name; handler scratch values are namespaced by phase or state to
// avoid collisions.
type JobContext struct {
	Retries map[string]int `json:"retries" yaml:"retries"`
	Scratch map[string]any `json:"scratch" yaml:"scratch"`
}

// NewJobContext returns an empty, initialized context.
func NewJobContext() *JobContext {
	return &JobContext{
		Retries: make(map[string]int),
		Scratch: make(map[string]any),
	}
}

// RetryCount returns the persisted retry counter for state.
func (c *JobContext) RetryCount(state string) int {
	if c == nil || c.Retries == nil {
		return 0
	}
	return c.Retries[state]
}

// IncrementRetry bumps and returns the retry counter for state.
func (c *JobContext) IncrementRetry(state string) int {
	if c.Retries == nil {
		c.Retries = make(map[string]int)
	}
	c.Retries[state]++
	return c.Retries[state]
}

// Get reads a scratch value.
func (c *JobContext) Get(key string) (any, bool) {
	if c == nil || c.Scratch == nil {
		return nil, false
	}
	v, ok := c.Scratch[key]
	return v, ok
}

// GetString reads a scratch value as string, returning "" when absent or of
// another type.
func (c *JobContext) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set writes a scratch value.
func (c *JobContext) Set(key string, value any) {
	if c.Scratch == nil {
		c.Scratch = make(map[string]any)
	}
	c.Scratch[key] = value
}

// Clone returns a deep copy of the context.
func (c *JobContext) Clone() *JobContext {
	if c == nil {
		return NewJobContext()
	}
	cp := NewJobContext()
	for k, v := range c.Retries {
		cp.Retries[k] = v
	}
	for k, v := range c.Scratch {
		cp.Scratch[k] = v
	}
	return cp
}
