package conversion

import "time"

// RecordState is the lifecycle of one per-state progress record.
type RecordState string

const (
	RecordActive   RecordState = "active"
	RecordFinished RecordState = "finished"
)

// ProgressRecord tracks one state actually entered during a job's run.
type ProgressRecord struct {
	State     RecordState `json:"state" yaml:"state"`
	Status    Status      `json:"status" yaml:"status"`
	Percent   float64     `json:"percent" yaml:"percent"`
	Message   string      `json:"message,omitempty" yaml:"message,omitempty"`
	StartedOn time.Time   `json:"started_on" yaml:"started_on"`
	UpdatedOn time.Time   `json:"updated_on" yaml:"updated_on"`
}

// Clone returns a copy of the record.
func (r *ProgressRecord) Clone() *ProgressRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Aggregate is the weighted progress view owned by the job's task.
type Aggregate struct {
	CurrentState       string                     `json:"current_state" yaml:"current_state"`
	CurrentDescription string                     `json:"current_description" yaml:"current_description"`
	Percent            float64                    `json:"percent" yaml:"percent"`
	States             map[string]*ProgressRecord `json:"states" yaml:"states"`
}

// NewAggregate returns an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{States: make(map[string]*ProgressRecord)}
}

// Record returns the record for state, or nil.
func (a *Aggregate) Record(state string) *ProgressRecord {
	if a == nil || a.States == nil {
		return nil
	}
	return a.States[state]
}

// Clone returns a deep copy of the aggregate.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return NewAggregate()
	}
	cp := &Aggregate{
		CurrentState:       a.CurrentState,
		CurrentDescription: a.CurrentDescription,
		Percent:            a.Percent,
		States:             make(map[string]*ProgressRecord, len(a.States)),
	}
	for k, v := range a.States {
		cp.States[k] = v.Clone()
	}
	return cp
}

// StateDescriptor is the static metadata for one meaningful state.
type StateDescriptor struct {
	// Description is the human-readable label surfaced in progress views.
	Description string `json:"description" yaml:"description"`
	// Weight is the state's relative contribution (0-100) to overall job
	// completion. Zero-weight states do not move the aggregate percent.
	Weight float64 `json:"weight" yaml:"weight"`
	// MaxRetries bounds retry attempts before the state is declared timed
	// out. Zero means the state never times out.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// DescriptorTable maps state names to their descriptors.
type DescriptorTable map[string]StateDescriptor

// Lookup returns the descriptor for state.
func (t DescriptorTable) Lookup(state string) (StateDescriptor, bool) {
	d, ok := t[state]
	return d, ok
}

// Validate checks weights are sane and, when any state carries weight, that
// the weighted states sum to exactly 100.
func (t DescriptorTable) Validate() error {
	total := 0.0
	weighted := false
	for state, d := range t {
		if d.Weight < 0 || d.Weight > 100 {
			return CloneError(ErrPrecondition, "state weight out of range", nil, map[string]any{
				"state":  state,
				"weight": d.Weight,
			})
		}
		if d.MaxRetries < 0 {
			return CloneError(ErrPrecondition, "state max retries cannot be negative", nil, map[string]any{
				"state":       state,
				"max_retries": d.MaxRetries,
			})
		}
		if d.Weight > 0 {
			weighted = true
			total += d.Weight
		}
	}
	if weighted && total != 100 {
		return CloneError(ErrPrecondition, "state weights must sum to 100", nil, map[string]any{
			"total": total,
		})
	}
	return nil
}

// BudgetRetries converts a wall-clock allowance into a retry budget given the
// polling interval. A non-positive allowance or interval yields no budget
// (never times out).
func BudgetRetries(allowance, interval time.Duration) int {
	if allowance <= 0 || interval <= 0 {
		return 0
	}
	n := int(allowance / interval)
	if n < 1 {
		n = 1
	}
	return n
}
