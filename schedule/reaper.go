package schedule

import (
	"context"
	"fmt"
	"time"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
)

// Reaper aborts jobs that exceed the overall wall-clock deadline. Per-state
// retry budgets bound individual states; the reaper is the independent
// backstop for jobs that leak time across many states or stall between
// signals.
type Reaper struct {
	store    conversion.JobLister
	enqueuer engine.Enqueuer
	deadline time.Duration
	exempt   map[string]bool
	logger   conversion.Logger
	now      func() time.Time
}

// ReaperOption customizes the reaper.
type ReaperOption func(*Reaper)

// WithReaperLogger sets the reaper logger.
func WithReaperLogger(logger conversion.Logger) ReaperOption {
	return func(r *Reaper) {
		r.logger = conversion.NormalizeLogger(logger)
	}
}

// WithExemptStates excludes states from the sweep, terminal and overlay
// states typically.
func WithExemptStates(states ...string) ReaperOption {
	return func(r *Reaper) {
		for _, state := range states {
			r.exempt[state] = true
		}
	}
}

// WithReaperClock overrides the time source.
func WithReaperClock(now func() time.Time) ReaperOption {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReaper builds a reaper over a listable job store.
func NewReaper(store conversion.JobLister, enqueuer engine.Enqueuer, deadline time.Duration, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:    store,
		enqueuer: enqueuer,
		deadline: deadline,
		exempt:   make(map[string]bool),
		logger:   conversion.NormalizeLogger(nil),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Sweep enqueues an abort for every non-exempt job past its deadline and
// returns the number of jobs flagged.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	jobs, err := r.store.Jobs(ctx)
	if err != nil {
		return 0, conversion.CloneError(conversion.ErrPrecondition, "failed to list jobs", err, nil)
	}

	now := r.now()
	reaped := 0
	for _, job := range jobs {
		if r.exempt[job.State] {
			continue
		}
		age := now.Sub(job.StartedOn)
		if age <= r.deadline {
			continue
		}
		r.logger.Warn("job %s exceeded deadline in state %s (age %s, deadline %s)", job.ID, job.State, age.Round(time.Second), r.deadline)
		diagnostic := fmt.Sprintf("job exceeded deadline of %s in state %s", r.deadline, job.State)
		sig := conversion.NewSignal(job.ID, engine.SignalAbort, diagnostic, string(conversion.StatusError))
		if err := r.enqueuer.Enqueue(ctx, sig); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

// Register installs the sweep on a scheduler under the given cron expression.
func (r *Reaper) Register(s *Scheduler, expr string) (int, error) {
	return s.Every(expr, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, err := r.Sweep(ctx)
		return err
	})
}
