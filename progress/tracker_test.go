package progress

import (
	"context"
	"testing"
	"time"

	conversion "github.com/goliatone/go-conversion"
)

func trackerDescriptors() conversion.DescriptorTable {
	return conversion.DescriptorTable{
		"copying":   {Description: "Copying disks", Weight: 60, MaxRetries: 10},
		"finishing": {Description: "Finishing up", Weight: 40, MaxRetries: 4},
	}
}

func newTestTracker(state string) (*Tracker, *conversion.Job, *conversion.MemoryTask) {
	job := conversion.NewJob("job-1", state)
	task := conversion.NewMemoryTask()
	tracker := NewTracker(job, task, trackerDescriptors(), nil)
	return tracker, job, task
}

func TestOnEntryCreatesRecordOnce(t *testing.T) {
	tracker, job, task := newTestTracker("copying")
	ctx := context.Background()

	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("on entry: %v", err)
	}
	agg := task.Progress()
	rec := agg.Record("copying")
	if rec == nil || rec.State != conversion.RecordActive || rec.Percent != 0 {
		t.Fatalf("expected fresh active record, got %+v", rec)
	}
	if agg.CurrentState != "copying" || agg.CurrentDescription != "Copying disks" {
		t.Fatalf("expected current state surfaced, got %s / %s", agg.CurrentState, agg.CurrentDescription)
	}
	started := rec.StartedOn

	// re-entry after a retry must not reset the record
	job.Context.IncrementRetry("copying")
	pct := 42.0
	if err := tracker.OnRetry(ctx, &Update{Percent: &pct}); err != nil {
		t.Fatalf("on retry: %v", err)
	}
	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("re-entry: %v", err)
	}
	rec = task.Progress().Record("copying")
	if rec.Percent != 42 {
		t.Fatalf("re-entry reset percent to %.1f", rec.Percent)
	}
	if !rec.StartedOn.Equal(started) {
		t.Fatal("re-entry reset started_on")
	}
}

func TestOnRetryDerivesPercentFromBudget(t *testing.T) {
	tracker, job, task := newTestTracker("finishing")
	ctx := context.Background()

	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("on entry: %v", err)
	}
	job.Context.IncrementRetry("finishing")
	if err := tracker.OnRetry(ctx, nil); err != nil {
		t.Fatalf("on retry: %v", err)
	}
	rec := task.Progress().Record("finishing")
	if rec.Percent != 25 {
		t.Fatalf("expected 1 of 4 retries to yield 25%%, got %.1f", rec.Percent)
	}

	// derived percent never regresses below an explicit report
	pct := 90.0
	if err := tracker.OnRetry(ctx, &Update{Percent: &pct}); err != nil {
		t.Fatalf("explicit retry: %v", err)
	}
	job.Context.IncrementRetry("finishing")
	if err := tracker.OnRetry(ctx, nil); err != nil {
		t.Fatalf("derived retry: %v", err)
	}
	rec = task.Progress().Record("finishing")
	if rec.Percent != 90 {
		t.Fatalf("derived percent regressed explicit report, got %.1f", rec.Percent)
	}
}

func TestWeightedAggregate(t *testing.T) {
	tracker, job, task := newTestTracker("copying")
	ctx := context.Background()

	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("on entry: %v", err)
	}
	pct := 50.0
	if err := tracker.OnRetry(ctx, &Update{Percent: &pct}); err != nil {
		t.Fatalf("on retry: %v", err)
	}
	// 50% of a 60-weight state contributes 30 points
	if agg := task.Progress(); agg.Percent != 30 {
		t.Fatalf("expected aggregate 30, got %.1f", agg.Percent)
	}

	if err := tracker.OnExit(ctx); err != nil {
		t.Fatalf("on exit: %v", err)
	}
	job.State = "finishing"
	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("second entry: %v", err)
	}
	if err := tracker.OnExit(ctx); err != nil {
		t.Fatalf("second exit: %v", err)
	}
	if agg := task.Progress(); agg.Percent != 100 {
		t.Fatalf("expected aggregate 100 after both states, got %.1f", agg.Percent)
	}
}

func TestOnErrorFinishesRecordWithErrorStatus(t *testing.T) {
	tracker, job, task := newTestTracker("copying")
	ctx := context.Background()

	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("on entry: %v", err)
	}
	if err := tracker.OnError(ctx, "disk conversion failed"); err != nil {
		t.Fatalf("on error: %v", err)
	}
	rec := task.Progress().Record("copying")
	if rec.State != conversion.RecordFinished || rec.Status != conversion.StatusError {
		t.Fatalf("expected finished error record, got %+v", rec)
	}
	if rec.Message != "disk conversion failed" {
		t.Fatalf("expected message preserved, got %q", rec.Message)
	}
	if job.Status != conversion.StatusError {
		t.Fatalf("expected job flagged error, got %s", job.Status)
	}
}

func TestOnCancelClosesRecordWithoutError(t *testing.T) {
	tracker, job, task := newTestTracker("copying")
	ctx := context.Background()

	if err := tracker.OnEntry(ctx); err != nil {
		t.Fatalf("on entry: %v", err)
	}
	pct := 40.0
	if err := tracker.OnRetry(ctx, &Update{Percent: &pct}); err != nil {
		t.Fatalf("on retry: %v", err)
	}

	// a cancellation lands mid-state; closing the record must not re-raise it
	task.Cancel()
	if err := tracker.OnCancel(ctx); err != nil {
		t.Fatalf("on cancel: %v", err)
	}
	rec := task.Progress().Record("copying")
	if rec.State != conversion.RecordFinished || rec.Status != conversion.StatusOk {
		t.Fatalf("expected record closed without error, got %+v", rec)
	}
	if rec.Percent != 40 {
		t.Fatalf("expected percent left as last reported, got %.1f", rec.Percent)
	}
	if job.Status != conversion.StatusOk {
		t.Fatalf("cancellation must not flag the job, got %s", job.Status)
	}
}

func TestFlushSurfacesCancellationOnce(t *testing.T) {
	tracker, _, task := newTestTracker("copying")
	ctx := context.Background()

	task.Cancel()
	err := tracker.OnEntry(ctx)
	if !conversion.IsCancelRequested(err) {
		t.Fatalf("expected cancel requested, got %v", err)
	}

	// once teardown is acknowledged the hooks go quiet again
	task.Canceling()
	if err := tracker.OnRetry(ctx, nil); err != nil {
		t.Fatalf("expected no error during teardown, got %v", err)
	}
}

func TestTrackerClockOption(t *testing.T) {
	job := conversion.NewJob("job-1", "copying")
	task := conversion.NewMemoryTask()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker := NewTracker(job, task, trackerDescriptors(), nil, WithClock(func() time.Time { return fixed }))

	if err := tracker.OnEntry(context.Background()); err != nil {
		t.Fatalf("on entry: %v", err)
	}
	rec := task.Progress().Record("copying")
	if !rec.StartedOn.Equal(fixed) || !rec.UpdatedOn.Equal(fixed) {
		t.Fatalf("expected injected clock on record, got %+v", rec)
	}
}
