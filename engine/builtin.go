package engine

import (
	"context"

	conversion "github.com/goliatone/go-conversion"
)

// installBuiltins registers the overlay handlers for any built-in signal the
// domain table declares and the caller did not override.
func (e *Engine) installBuiltins() {
	builtins := map[string]Handler{
		SignalInitializing: HandlerFunc(e.handleInitializing),
		SignalFinish:       HandlerFunc(e.handleFinish),
		SignalAbort:        HandlerFunc(e.handleAbort),
		SignalCancel:       HandlerFunc(e.handleCancel),
		SignalError:        HandlerFunc(e.handleError),
	}
	for name, handler := range builtins {
		if !e.table.HasSignal(name) {
			continue
		}
		if _, ok := e.handlers[name]; ok {
			continue
		}
		e.handlers[name] = handler
	}
}

func (e *Engine) handleInitializing(ctx context.Context, run *Run) (*Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	if e.startSignal == "" {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "no start signal configured", nil, map[string]any{
			"job_id": run.Job.ID,
		})
	}
	run.Logger.Info("job initialized, starting with %q", e.startSignal)
	if err := run.Progress.OnExit(ctx); err != nil && !conversion.IsCancelRequested(err) {
		return nil, err
	}
	return &Next{Signal: e.startSignal}, nil
}

func (e *Engine) handleFinish(ctx context.Context, run *Run) (*Next, error) {
	if run.Task.IsCanceling() {
		run.Task.Canceled()
		run.Logger.Info("job %s canceled", run.Job.ID)
	} else if run.Job.Status == conversion.StatusError {
		run.Logger.Warn("job %s finished with errors", run.Job.ID)
	} else {
		run.Logger.Info("job %s finished", run.Job.ID)
	}
	return nil, nil
}

// handleAbort records the failure on the current state's progress record and
// routes to finish. Cancellation noticed here is ignored; the job is already
// on its way out.
func (e *Engine) handleAbort(ctx context.Context, run *Run) (*Next, error) {
	message := "job aborted"
	if m := run.Signal.ArgString(0); m != "" {
		message = m
	}
	run.Job.Status = conversion.StatusError
	run.Logger.Error("aborting job %s: %s", run.Job.ID, message)

	if err := run.Progress.OnEntry(ctx); err != nil && !conversion.IsCancelRequested(err) {
		return nil, err
	}
	if err := run.Progress.OnError(ctx, message); err != nil && !conversion.IsCancelRequested(err) {
		return nil, err
	}
	return &Next{Signal: SignalFinish}, nil
}

func (e *Engine) handleCancel(ctx context.Context, run *Run) (*Next, error) {
	run.Task.Canceling()
	run.Logger.Info("canceling job %s, teardown via %q", run.Job.ID, e.cancelFollowUp)
	return &Next{Signal: e.cancelFollowUp}, nil
}

// handleError flags the job without changing state; the signal's transition
// entry is wildcard to wildcard so the state machine stays put.
func (e *Engine) handleError(ctx context.Context, run *Run) (*Next, error) {
	message := "error raised"
	if m := run.Signal.ArgString(0); m != "" {
		message = m
	}
	run.Job.Status = conversion.StatusError
	run.Logger.Error("error reported for job %s in state %s: %s", run.Job.ID, run.Job.State, message)
	if err := run.Progress.OnError(ctx, message); err != nil && !conversion.IsCancelRequested(err) {
		return nil, err
	}
	return nil, nil
}
