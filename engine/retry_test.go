package engine

import (
	"testing"

	conversion "github.com/goliatone/go-conversion"
)

func TestCheckTimeoutConsumesBudget(t *testing.T) {
	descriptors := conversion.DescriptorTable{
		"polling": {Description: "Polling", MaxRetries: 3},
	}
	job := conversion.NewJob("job-1", "polling")

	for i := 1; i <= 3; i++ {
		if CheckTimeout(job, descriptors) {
			t.Fatalf("attempt %d should be within budget", i)
		}
	}
	if !CheckTimeout(job, descriptors) {
		t.Fatal("attempt 4 should exhaust a budget of 3")
	}
	if got := job.Context.RetryCount("polling"); got != 4 {
		t.Fatalf("expected durable counter at 4, got %d", got)
	}
}

func TestCheckTimeoutCountersAreIndependentPerState(t *testing.T) {
	descriptors := conversion.DescriptorTable{
		"first":  {MaxRetries: 1},
		"second": {MaxRetries: 1},
	}
	job := conversion.NewJob("job-1", "first")

	if CheckTimeout(job, descriptors) {
		t.Fatal("first attempt in first state should pass")
	}
	job.State = "second"
	if CheckTimeout(job, descriptors) {
		t.Fatal("first attempt in second state should pass despite first state's counter")
	}
}

func TestCheckTimeoutWithoutBudgetNeverFires(t *testing.T) {
	descriptors := conversion.DescriptorTable{
		"unbounded": {Description: "No budget"},
	}
	job := conversion.NewJob("job-1", "unbounded")

	for i := 0; i < 100; i++ {
		if CheckTimeout(job, descriptors) {
			t.Fatalf("state without budget timed out on attempt %d", i+1)
		}
	}

	job.State = "undescribed"
	if CheckTimeout(job, descriptors) {
		t.Fatal("state without descriptor should never time out")
	}
}
