package conversion

import (
	"time"

	"github.com/google/uuid"
)

// Routing carries the dispatch-layer affinity hints for a signal. The core
// never interprets them; they ride along for the external queue.
type Routing struct {
	Zone string `json:"zone,omitempty" yaml:"zone,omitempty"`
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

// Signal is the queue payload: apply the named signal to the target job,
// immediately or at DeliverOn.
type Signal struct {
	ID         string     `json:"id" yaml:"id"`
	JobID      string     `json:"job_id" yaml:"job_id"`
	Name       string     `json:"name" yaml:"name"`
	Args       []any      `json:"args,omitempty" yaml:"args,omitempty"`
	DeliverOn  *time.Time `json:"deliver_on,omitempty" yaml:"deliver_on,omitempty"`
	Routing    Routing    `json:"routing,omitempty" yaml:"routing,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at" yaml:"enqueued_at"`
}

// NewSignal builds an immediate signal for a job.
func NewSignal(jobID, name string, args ...any) *Signal {
	return &Signal{
		ID:    uuid.NewString(),
		JobID: jobID,
		Name:  name,
		Args:  args,
	}
}

// Deferred returns the signal with delivery scheduled at or after at.
func (s *Signal) Deferred(at time.Time) *Signal {
	at = at.UTC()
	s.DeliverOn = &at
	return s
}

// DeferredBy returns the signal with delivery scheduled after delay.
func (s *Signal) DeferredBy(delay time.Duration) *Signal {
	return s.Deferred(time.Now().UTC().Add(delay))
}

// WithRouting sets the affinity hints.
func (s *Signal) WithRouting(zone, role string) *Signal {
	s.Routing = Routing{Zone: zone, Role: role}
	return s
}

// ArgString returns the positional argument at idx as a string.
func (s *Signal) ArgString(idx int) string {
	if s == nil || idx < 0 || idx >= len(s.Args) {
		return ""
	}
	v, _ := s.Args[idx].(string)
	return v
}

// Due reports whether the signal is deliverable at now.
func (s *Signal) Due(now time.Time) bool {
	return s.DeliverOn == nil || !s.DeliverOn.After(now)
}
