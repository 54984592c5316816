package engine

import (
	conversion "github.com/goliatone/go-conversion"
)

// CheckTimeout increments the durable retry counter for the job's current
// state and reports whether the post-increment count exceeds the state's
// retry budget. A budget of N permits N polling attempts; the (N+1)th call
// reports timeout. States without a budget never time out.
//
// The counter lives in the job context and survives process restarts; the
// engine persists the job after every handler invocation.
func CheckTimeout(job *conversion.Job, descriptors conversion.DescriptorTable) bool {
	count := job.Context.IncrementRetry(job.State)
	desc, ok := descriptors.Lookup(job.State)
	if !ok || desc.MaxRetries <= 0 {
		return false
	}
	return count > desc.MaxRetries
}
