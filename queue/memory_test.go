package queue

import (
	"context"
	"testing"
	"time"

	conversion "github.com/goliatone/go-conversion"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		if err := q.Enqueue(ctx, conversion.NewSignal("job-"+name, name)); err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		sig, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if sig.Name != want {
			t.Fatalf("expected %s, got %s", want, sig.Name)
		}
		q.Ack(sig)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestMemoryQueueRejectsIncompleteSignal(t *testing.T) {
	q := NewMemory()
	if err := q.Enqueue(context.Background(), &conversion.Signal{Name: "orphan"}); err == nil {
		t.Fatal("expected rejection of signal without job id")
	}
}

func TestMemoryQueueDeferredDelivery(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	deferred := conversion.NewSignal("job-1", "later").DeferredBy(40 * time.Millisecond)
	if err := q.Enqueue(ctx, deferred); err != nil {
		t.Fatalf("enqueue deferred: %v", err)
	}
	if err := q.Enqueue(ctx, conversion.NewSignal("job-2", "now")); err != nil {
		t.Fatalf("enqueue immediate: %v", err)
	}

	sig, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if sig.Name != "now" {
		t.Fatalf("immediate signal should win, got %s", sig.Name)
	}
	q.Ack(sig)

	start := time.Now()
	sig, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue deferred: %v", err)
	}
	if sig.Name != "later" {
		t.Fatalf("expected deferred signal, got %s", sig.Name)
	}
	if waited := time.Since(start); waited < 20*time.Millisecond {
		t.Fatalf("deferred signal delivered too early, waited %s", waited)
	}
	q.Ack(sig)
}

func TestMemoryQueueDeferredOrdering(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, conversion.NewSignal("job-b", "second").Deferred(now.Add(30*time.Millisecond))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, conversion.NewSignal("job-a", "first").Deferred(now.Add(10*time.Millisecond))); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	for _, want := range []string{"first", "second"} {
		sig, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if sig.Name != want {
			t.Fatalf("deferred signals out of order: expected %s, got %s", want, sig.Name)
		}
		q.Ack(sig)
	}
}

func TestMemoryQueueSerializesPerJob(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	if err := q.Enqueue(ctx, conversion.NewSignal("job-1", "one")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, conversion.NewSignal("job-1", "two")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, conversion.NewSignal("job-2", "other")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first.Name != "one" {
		t.Fatalf("expected job-1 one, got %s", first.Name)
	}

	// job-1 is inflight, so the next dequeue skips to job-2
	second, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if second.JobID != "job-2" {
		t.Fatalf("expected job-2 while job-1 inflight, got %s/%s", second.JobID, second.Name)
	}
	q.Ack(second)

	// job-1 two only becomes available after ack
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	if _, err := q.Dequeue(waitCtx); err == nil {
		t.Fatal("expected dequeue to block while job-1 inflight")
	}
	cancel()

	q.Ack(first)
	third, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue after ack: %v", err)
	}
	if third.Name != "two" {
		t.Fatalf("expected job-1 two after ack, got %s", third.Name)
	}
	q.Ack(third)
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected context deadline on empty queue")
	}
}
