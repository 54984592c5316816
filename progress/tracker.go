// Package progress maintains per-state progress records and the weighted
// aggregate view persisted to the job's owning task.
package progress

import (
	"context"
	"time"

	conversion "github.com/goliatone/go-conversion"
)

// Update is an explicit progress payload supplied by a handler on retry.
type Update struct {
	Message string
	Percent *float64
}

// Tracker operates on the current state's progress record for one handler
// invocation. Hooks recompute the weighted aggregate, persist it through the
// owning task, and surface out-of-band cancellation requests as
// conversion.ErrCancelRequested.
type Tracker struct {
	job         *conversion.Job
	task        conversion.Task
	descriptors conversion.DescriptorTable
	logger      conversion.Logger
	now         func() time.Time
}

// Option customizes tracker behavior.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker binds a tracker to one job and its owning task.
func NewTracker(job *conversion.Job, task conversion.Task, descriptors conversion.DescriptorTable, logger conversion.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		job:         job,
		task:        task,
		descriptors: descriptors,
		logger:      conversion.NormalizeLogger(logger),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// OnEntry ensures a record exists for the current state. Re-entry keeps the
// existing record untouched so retries never reset started_on or accumulated
// percent.
func (t *Tracker) OnEntry(ctx context.Context) error {
	agg := t.task.Progress()
	rec := agg.Record(t.job.State)
	if rec == nil {
		rec = t.newRecord()
		agg.States[t.job.State] = rec
	}
	agg.CurrentState = t.job.State
	if desc, ok := t.descriptors.Lookup(t.job.State); ok {
		agg.CurrentDescription = desc.Description
	} else {
		agg.CurrentDescription = t.job.State
	}
	return t.flush(ctx, agg)
}

// OnRetry refreshes the current record. An explicit update overwrites message
// and percent; otherwise percent is derived from the consumed retry budget
// and never regresses.
func (t *Tracker) OnRetry(ctx context.Context, update *Update) error {
	agg := t.task.Progress()
	rec := t.ensure(agg)
	if update != nil {
		if update.Message != "" {
			rec.Message = update.Message
		}
		if update.Percent != nil {
			rec.Percent = *update.Percent
		}
	} else if desc, ok := t.descriptors.Lookup(t.job.State); ok && desc.MaxRetries > 0 {
		pct := float64(t.job.Context.RetryCount(t.job.State)) / float64(desc.MaxRetries) * 100
		if pct > 100 {
			pct = 100
		}
		if pct > rec.Percent {
			rec.Percent = pct
		}
	}
	rec.UpdatedOn = t.now()
	return t.flush(ctx, agg)
}

// OnExit finishes the current record at 100 percent, status unchanged.
func (t *Tracker) OnExit(ctx context.Context) error {
	agg := t.task.Progress()
	rec := t.ensure(agg)
	rec.State = conversion.RecordFinished
	rec.Percent = 100
	rec.UpdatedOn = t.now()
	return t.flush(ctx, agg)
}

// OnCancel finishes the current record where a cancellation request
// interrupted the state, status and percent left as last reported. It never
// re-raises the cancellation it is recording.
func (t *Tracker) OnCancel(ctx context.Context) error {
	agg := t.task.Progress()
	rec := t.ensure(agg)
	rec.State = conversion.RecordFinished
	rec.UpdatedOn = t.now()
	return t.persist(agg)
}

// OnError finishes the current record with error status, percent left at the
// last reported value.
func (t *Tracker) OnError(ctx context.Context, message string) error {
	agg := t.task.Progress()
	rec := t.ensure(agg)
	rec.State = conversion.RecordFinished
	rec.Status = conversion.StatusError
	if message != "" {
		rec.Message = message
	}
	rec.UpdatedOn = t.now()
	t.job.Status = conversion.StatusError
	return t.flush(ctx, agg)
}

func (t *Tracker) ensure(agg *conversion.Aggregate) *conversion.ProgressRecord {
	rec := agg.Record(t.job.State)
	if rec == nil {
		rec = t.newRecord()
		agg.States[t.job.State] = rec
	}
	return rec
}

func (t *Tracker) newRecord() *conversion.ProgressRecord {
	now := t.now()
	return &conversion.ProgressRecord{
		State:     conversion.RecordActive,
		Status:    conversion.StatusOk,
		Percent:   0,
		StartedOn: now,
		UpdatedOn: now,
	}
}

// flush persists the aggregate and observes cooperative cancellation.
func (t *Tracker) flush(ctx context.Context, agg *conversion.Aggregate) error {
	if err := t.persist(agg); err != nil {
		return err
	}

	if t.task.CancelRequested() && !t.task.IsCanceling() {
		t.logger.WithContext(ctx).Info("cancellation requested for job %s in state %s", t.job.ID, t.job.State)
		return conversion.CloneError(conversion.ErrCancelRequested, "", nil, map[string]any{
			"job_id": t.job.ID,
			"state":  t.job.State,
		})
	}
	return nil
}

// persist recomputes the weighted aggregate percent and stores it through the
// owning task.
func (t *Tracker) persist(agg *conversion.Aggregate) error {
	total := 0.0
	for state, rec := range agg.States {
		desc, ok := t.descriptors.Lookup(state)
		if !ok || desc.Weight <= 0 {
			continue
		}
		total += rec.Percent * desc.Weight / 100
	}
	if total > 100 {
		total = 100
	}
	agg.Percent = total

	if err := t.task.UpdateProgress(agg); err != nil {
		return conversion.CloneError(conversion.ErrPrecondition, "failed to persist progress", err, map[string]any{
			"job_id": t.job.ID,
			"state":  t.job.State,
		})
	}
	return nil
}
