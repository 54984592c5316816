package schedule

import (
	"context"
	"testing"
	"time"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
)

type captureEnqueuer struct {
	sigs []*conversion.Signal
}

func (c *captureEnqueuer) Enqueue(_ context.Context, sig *conversion.Signal) error {
	c.sigs = append(c.sigs, sig)
	return nil
}

func seedJob(t *testing.T, store *conversion.InMemoryJobStore, id, state string, age time.Duration, now time.Time) {
	t.Helper()
	job := conversion.NewJob(id, state)
	job.StartedOn = now.Add(-age)
	if _, err := store.SaveIfVersion(context.Background(), job, 0); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestReaperSweepsOverdueJobs(t *testing.T) {
	store := conversion.NewInMemoryJobStore()
	sink := &captureEnqueuer{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedJob(t, store, "fresh", "transforming_vm", time.Hour, now)
	seedJob(t, store, "overdue", "transforming_vm", 40*time.Hour, now)
	seedJob(t, store, "done", "finished", 40*time.Hour, now)

	reaper := NewReaper(store, sink, 36*time.Hour,
		WithExemptStates("finished"),
		WithReaperClock(func() time.Time { return now }),
	)

	reaped, err := reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 1 {
		t.Fatalf("expected 1 reaped job, got %d", reaped)
	}
	if len(sink.sigs) != 1 {
		t.Fatalf("expected 1 abort signal, got %d", len(sink.sigs))
	}
	sig := sink.sigs[0]
	if sig.JobID != "overdue" || sig.Name != engine.SignalAbort {
		t.Fatalf("unexpected signal %s for job %s", sig.Name, sig.JobID)
	}
	if sig.ArgString(0) == "" {
		t.Fatal("expected diagnostic message in abort args")
	}
}

func TestReaperIgnoresJobsWithinDeadline(t *testing.T) {
	store := conversion.NewInMemoryJobStore()
	sink := &captureEnqueuer{}
	now := time.Now().UTC()

	seedJob(t, store, "young", "started", time.Minute, now)

	reaper := NewReaper(store, sink, time.Hour, WithReaperClock(func() time.Time { return now }))
	reaped, err := reaper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 0 || len(sink.sigs) != 0 {
		t.Fatalf("expected no action, reaped=%d signals=%d", reaped, len(sink.sigs))
	}
}

func TestReaperRegistersOnScheduler(t *testing.T) {
	store := conversion.NewInMemoryJobStore()
	sink := &captureEnqueuer{}
	reaper := NewReaper(store, sink, time.Hour)
	scheduler := NewScheduler()

	id, err := reaper.Register(scheduler, "@every 1m")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == 0 {
		t.Fatal("expected handle id")
	}
	scheduler.Remove(id)

	if _, err := reaper.Register(scheduler, "not a cron expression"); err == nil {
		t.Fatal("expected invalid expression to fail")
	}
}
