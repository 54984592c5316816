// Package engine implements the durable orchestration core: a transition
// table with overlay signals, per-state retry budgets, and a dispatch loop
// that invokes one handler per signal and schedules the handler's next
// signal, immediate or deferred.
package engine

import (
	"context"
	"time"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/progress"
)

// Enqueuer schedules the next signal for a job. The queue implementation
// guarantees at-most-one concurrent handler invocation per job id.
type Enqueuer interface {
	Enqueue(ctx context.Context, sig *conversion.Signal) error
}

// Next is a handler's choice of follow-up signal. A Delay above zero defers
// delivery, freeing the worker instead of blocking it.
type Next struct {
	Signal string
	Args   []any
	Delay  time.Duration
}

// Run is the invocation context handed to a handler: the loaded job, the
// triggering signal, the owning task, and the progress tracker bound to the
// current state.
type Run struct {
	Job      *conversion.Job
	Signal   *conversion.Signal
	Task     conversion.Task
	Progress *progress.Tracker
	Logger   conversion.Logger

	descriptors conversion.DescriptorTable
}

// CheckTimeout consumes one attempt from the current state's retry budget
// and reports whether the budget is exhausted.
func (r *Run) CheckTimeout() bool {
	return CheckTimeout(r.Job, r.descriptors)
}

// Descriptor returns the current state's descriptor.
func (r *Run) Descriptor() (conversion.StateDescriptor, bool) {
	return r.descriptors.Lookup(r.Job.State)
}

// Handler executes the domain work bound to one signal name. Contract: call
// Progress.OnEntry before doing work, exactly one of OnExit/OnError/OnRetry
// before returning, and return the unique next signal (nil only at terminal
// or overlay states).
type Handler interface {
	Handle(ctx context.Context, run *Run) (*Next, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, run *Run) (*Next, error)

func (f HandlerFunc) Handle(ctx context.Context, run *Run) (*Next, error) {
	return f(ctx, run)
}

// Engine validates transitions, persists state changes, invokes handlers and
// schedules follow-up signals. It performs no in-process waiting; suspension
// is always a deferred signal.
type Engine struct {
	table          TransitionTable
	descriptors    conversion.DescriptorTable
	handlers       map[string]Handler
	store          conversion.JobStore
	tasks          conversion.TaskLocator
	enqueuer       Enqueuer
	logger         conversion.Logger
	terminal       string
	startSignal    string
	cancelFollowUp string
	zone           string
	role           string
	now            func() time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger conversion.Logger) Option {
	return func(e *Engine) {
		e.logger = conversion.NormalizeLogger(logger)
	}
}

// WithEnqueuer sets the signal scheduler.
func WithEnqueuer(q Enqueuer) Option {
	return func(e *Engine) {
		e.enqueuer = q
	}
}

// WithStartSignal names the signal the built-in initializing handler emits.
func WithStartSignal(name string) Option {
	return func(e *Engine) {
		e.startSignal = normalizeName(name)
	}
}

// WithCancelFollowUp names the domain teardown signal the built-in cancel
// handler emits after acknowledging the request; defaults to finish.
func WithCancelFollowUp(name string) Option {
	return func(e *Engine) {
		e.cancelFollowUp = normalizeName(name)
	}
}

// WithRouting attaches affinity hints to every scheduled signal.
func WithRouting(zone, role string) Option {
	return func(e *Engine) {
		e.zone = zone
		e.role = role
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New builds an engine from static configuration. Handler registration is
// checked against the transition table here, at construction: an unregistered
// table signal or a handler for an undeclared signal is a build error, not a
// dispatch-time surprise.
func New(
	table TransitionTable,
	descriptors conversion.DescriptorTable,
	handlers map[string]Handler,
	store conversion.JobStore,
	tasks conversion.TaskLocator,
	opts ...Option,
) (*Engine, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if err := descriptors.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "job store required", nil, nil)
	}
	if tasks == nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "task locator required", nil, nil)
	}

	e := &Engine{
		table:       table,
		descriptors: descriptors,
		handlers:    make(map[string]Handler, len(table)),
		store:       store,
		tasks:       tasks,
		logger:      conversion.NormalizeLogger(nil),
		terminal:    table.Terminal(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = conversion.NormalizeLogger(e.logger)
	if e.cancelFollowUp == "" {
		e.cancelFollowUp = SignalFinish
	}

	for name, handler := range handlers {
		name = normalizeName(name)
		if handler == nil {
			return nil, conversion.CloneError(conversion.ErrPrecondition, "nil handler registered", nil, map[string]any{
				"signal": name,
			})
		}
		if !table.HasSignal(name) {
			return nil, conversion.CloneError(conversion.ErrUnknownSignal, "handler registered for signal missing from transition table", nil, map[string]any{
				"signal": name,
			})
		}
		e.handlers[name] = handler
	}
	e.installBuiltins()

	for _, name := range table.Signals() {
		if _, ok := e.handlers[name]; !ok {
			return nil, conversion.CloneError(conversion.ErrPrecondition, "transition table signal has no handler", nil, map[string]any{
				"signal": name,
			})
		}
	}

	if e.startSignal != "" && !table.HasSignal(e.startSignal) {
		return nil, conversion.CloneError(conversion.ErrUnknownSignal, "start signal missing from transition table", nil, map[string]any{
			"signal": e.startSignal,
		})
	}
	if !table.HasSignal(e.cancelFollowUp) {
		return nil, conversion.CloneError(conversion.ErrUnknownSignal, "cancel follow-up signal missing from transition table", nil, map[string]any{
			"signal": e.cancelFollowUp,
		})
	}
	return e, nil
}

// Terminal returns the terminal state name.
func (e *Engine) Terminal() string {
	return e.terminal
}

// Submit persists a new job and schedules its initializing signal.
func (e *Engine) Submit(ctx context.Context, job *conversion.Job) error {
	if job == nil {
		return conversion.CloneError(conversion.ErrPrecondition, "job required", nil, nil)
	}
	version, err := e.store.SaveIfVersion(ctx, job, job.Version)
	if err != nil {
		return err
	}
	job.Version = version
	return e.enqueueNext(ctx, job, &Next{Signal: SignalInitializing})
}

// Dispatch applies one signal to its job: validate the transition, persist
// the state change, invoke the bound handler, then schedule the handler's
// next signal. Invalid transitions are rejected without mutating the job so
// duplicate deliveries are never double-applied.
func (e *Engine) Dispatch(ctx context.Context, sig *conversion.Signal) error {
	if sig == nil || sig.JobID == "" || sig.Name == "" {
		return conversion.CloneError(conversion.ErrPrecondition, "signal requires job id and name", nil, nil)
	}
	fields := map[string]any{
		"job_id":    sig.JobID,
		"signal":    sig.Name,
		"signal_id": sig.ID,
	}
	logger := conversion.LoggerWithFields(e.logger.WithContext(ctx), fields)

	job, err := e.store.Load(ctx, sig.JobID)
	if err != nil {
		return conversion.CloneError(conversion.ErrPrecondition, "failed to load job", err, fields)
	}
	if job == nil {
		return conversion.CloneError(conversion.ErrJobNotFound, "", nil, fields)
	}
	if job.State == e.terminal {
		return conversion.CloneError(conversion.ErrJobFinished, "", nil, fields)
	}

	handler, ok := e.handlers[normalizeName(sig.Name)]
	if !ok {
		return conversion.CloneError(conversion.ErrUnknownSignal, "signal has no registered handler", nil, fields)
	}

	next, err := e.table.Resolve(sig.Name, job.State)
	if err != nil {
		logger.Warn("signal rejected: %v", err)
		return err
	}

	previous := job.State
	job.State = next
	if err := e.saveJob(ctx, job); err != nil {
		return err
	}
	logger.Debug("signal accepted state=%s next=%s", previous, job.State)

	task, err := e.tasks.TaskFor(job.ID)
	if err != nil {
		return conversion.CloneError(conversion.ErrPrecondition, "failed to locate owning task", err, fields)
	}

	run := &Run{
		Job:         job,
		Signal:      sig,
		Task:        task,
		Progress:    progress.NewTracker(job, task, e.descriptors, logger),
		Logger:      logger,
		descriptors: e.descriptors,
	}

	res, herr := handler.Handle(ctx, run)
	if herr != nil {
		return e.processFailure(ctx, logger, run, herr)
	}
	if err := e.saveJob(ctx, job); err != nil {
		return err
	}

	if res == nil {
		if job.State != e.terminal && normalizeName(sig.Name) != SignalError {
			logger.Warn("handler for %q left job %s without a next signal in state %s", sig.Name, job.ID, job.State)
		}
		return nil
	}
	return e.enqueueNext(ctx, job, res)
}

// processFailure is the escalation backstop for handler errors. The failing
// state's progress record is always closed first so the aggregate shows
// exactly which state stopped the job. Cancellation requests then route to
// the cancel overlay without flagging the job; everything else flags error
// status and escalates to abort, or straight to finish for fatal failures and
// failures already inside the overlay path.
func (e *Engine) processFailure(ctx context.Context, logger conversion.Logger, run *Run, herr error) error {
	job := run.Job
	if conversion.IsCancelRequested(herr) {
		logger.Info("cancellation observed, routing to cancel overlay")
		if perr := run.Progress.OnCancel(ctx); perr != nil {
			logger.Warn("failed to close interrupted progress record: %v", perr)
		}
		if err := e.saveJob(ctx, job); err != nil {
			return err
		}
		return e.enqueueNext(ctx, job, &Next{Signal: SignalCancel})
	}

	job.Status = conversion.StatusError
	logger.Error("handler failed: %v", herr)
	if perr := run.Progress.OnError(ctx, herr.Error()); perr != nil && !conversion.IsCancelRequested(perr) {
		logger.Warn("failed to record failed state: %v", perr)
	}

	name := normalizeName(run.Signal.Name)
	if name == SignalFinish {
		// the terminal handler itself failed; force the terminal state so
		// the job still completes
		job.State = e.terminal
		if err := e.saveJob(ctx, job); err != nil {
			return err
		}
		return herr
	}

	if err := e.saveJob(ctx, job); err != nil {
		return err
	}

	if conversion.IsFatal(herr) || name == SignalAbort || name == SignalCancel || name == e.cancelFollowUp {
		if err := e.enqueueNext(ctx, job, &Next{Signal: SignalFinish}); err != nil {
			return err
		}
		return herr
	}
	if err := e.enqueueNext(ctx, job, &Next{Signal: SignalAbort, Args: []any{herr.Error(), string(conversion.StatusError)}}); err != nil {
		return err
	}
	return herr
}

func (e *Engine) saveJob(ctx context.Context, job *conversion.Job) error {
	version, err := e.store.SaveIfVersion(ctx, job, job.Version)
	if err != nil {
		return err
	}
	job.Version = version
	return nil
}

func (e *Engine) enqueueNext(ctx context.Context, job *conversion.Job, next *Next) error {
	if e.enqueuer == nil {
		return conversion.CloneError(conversion.ErrPrecondition, "signal scheduler not configured", nil, nil)
	}
	sig := conversion.NewSignal(job.ID, next.Signal, next.Args...).WithRouting(e.zone, e.role)
	if next.Delay > 0 {
		sig.Deferred(e.now().Add(next.Delay))
	}
	return e.enqueuer.Enqueue(ctx, sig)
}
