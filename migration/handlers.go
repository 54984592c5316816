package migration

import (
	"context"
	"time"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
	"github.com/goliatone/go-conversion/progress"
)

// Durable scratch keys. The playbook request id is namespaced by phase so the
// post run never observes the pre run's request.
const (
	keySourceVM    = "source_vm_id"
	keyDestVM      = "destination_vm_id"
	keyPhase       = "migration_phase"
	keyPlaybookReq = "playbook_request_"
)

// Handlers binds the migration signal handlers to their providers.
type Handlers struct {
	Source    Source
	Converter Converter
	Playbooks PlaybookService
	Inventory Inventory
	Dest      Destination

	// PollInterval spaces the deferred polling signals.
	PollInterval time.Duration
}

// Map returns the handler for every domain signal in the transition table.
// Overlay signals are handled by the engine; the cancel follow-up is
// abort_virtv2v so an in-flight conversion is torn down before rollback.
func (h *Handlers) Map() map[string]engine.Handler {
	return map[string]engine.Handler{
		SignalStart:                engine.HandlerFunc(h.start),
		SignalRemoveSnapshots:      engine.HandlerFunc(h.removeSnapshots),
		SignalPollRemoveSnapshots:  engine.HandlerFunc(h.pollRemoveSnapshots),
		SignalWaitForIP:            engine.HandlerFunc(h.waitForIP),
		SignalRunPlaybook:          engine.HandlerFunc(h.runPlaybook),
		SignalPollPlaybookComplete: engine.HandlerFunc(h.pollPlaybook),
		SignalShutdownVM:           engine.HandlerFunc(h.shutdownVM),
		SignalPollShutdownComplete: engine.HandlerFunc(h.pollShutdown),
		SignalTransformVM:          engine.HandlerFunc(h.transformVM),
		SignalPollTransformVM:      engine.HandlerFunc(h.pollTransformVM),
		SignalPollInventoryRefresh: engine.HandlerFunc(h.pollInventoryRefresh),
		SignalApplyRightSizing:     engine.HandlerFunc(h.applyRightSizing),
		SignalRestoreVMAttributes:  engine.HandlerFunc(h.restoreVMAttributes),
		SignalPowerOnVM:            engine.HandlerFunc(h.powerOnVM),
		SignalPollPowerOnComplete:  engine.HandlerFunc(h.pollPowerOn),
		SignalMarkVMMigrated:       engine.HandlerFunc(h.markVMMigrated),
		SignalAbortVirtV2V:         engine.HandlerFunc(h.abortVirtV2V),
	}
}

func (h *Handlers) poll(signal string) *engine.Next {
	return &engine.Next{Signal: signal, Delay: h.PollInterval}
}

// phase returns the current playbook phase, defaulting to pre.
func phase(job *conversion.Job) string {
	if p := job.Context.GetString(keyPhase); p != "" {
		return p
	}
	return PhasePre
}

// vmForPhase picks the VM the phase operates on: the source VM before
// conversion, the destination VM after.
func vmForPhase(job *conversion.Job) string {
	if phase(job) == PhasePost {
		return job.Context.GetString(keyDestVM)
	}
	return job.Context.GetString(keySourceVM)
}

func retryExhausted(run *engine.Run) error {
	return conversion.CloneError(conversion.ErrRetryExhausted, "", nil, map[string]any{
		"job_id": run.Job.ID,
		"state":  run.Job.State,
	})
}

func (h *Handlers) start(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	sourceVM := run.Job.Context.GetString(keySourceVM)
	if sourceVM == "" {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "job has no source vm", nil, map[string]any{
			"job_id": run.Job.ID,
		})
	}
	run.Job.Context.Set(keyPhase, PhasePre)
	run.Logger.Info("starting migration of vm %s", sourceVM)
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalRemoveSnapshots}, nil
}

func (h *Handlers) removeSnapshots(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	vmID := run.Job.Context.GetString(keySourceVM)
	has, err := h.Source.HasSnapshots(ctx, vmID)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to inspect snapshots", err, nil)
	}
	if !has {
		if err := run.Progress.OnExit(ctx); err != nil {
			return nil, err
		}
		return &engine.Next{Signal: SignalWaitForIP}, nil
	}
	if err := h.Source.RemoveSnapshots(ctx, vmID); err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to start snapshot removal", err, nil)
	}
	run.Logger.Info("removing snapshots from vm %s", vmID)
	return h.poll(SignalPollRemoveSnapshots), nil
}

func (h *Handlers) pollRemoveSnapshots(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if run.CheckTimeout() {
		return nil, retryExhausted(run)
	}
	vmID := run.Job.Context.GetString(keySourceVM)
	has, err := h.Source.HasSnapshots(ctx, vmID)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to inspect snapshots", err, nil)
	}
	if has {
		if err := run.Progress.OnRetry(ctx, nil); err != nil {
			return nil, err
		}
		return h.poll(SignalPollRemoveSnapshots), nil
	}
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalWaitForIP}, nil
}

// waitForIP polls for the VM address needed to run the playbook. It serves
// both phases: the source VM before conversion and the destination VM after
// power on.
func (h *Handlers) waitForIP(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	if run.CheckTimeout() {
		return nil, retryExhausted(run)
	}

	vmID := vmForPhase(run.Job)
	var (
		ip  string
		err error
	)
	if phase(run.Job) == PhasePost {
		ip, err = h.Dest.IPAddress(ctx, vmID)
	} else {
		ip, err = h.Source.IPAddress(ctx, vmID)
	}
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to read vm ip address", err, nil)
	}
	if ip == "" {
		if err := run.Progress.OnRetry(ctx, nil); err != nil {
			return nil, err
		}
		return h.poll(SignalWaitForIP), nil
	}
	run.Logger.Info("vm %s reachable at %s", vmID, ip)
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalRunPlaybook}, nil
}

// runPlaybook launches the phase playbook. A pre playbook failure aborts the
// migration; a post playbook failure is logged and the job proceeds, the VM
// is already migrated at that point.
func (h *Handlers) runPlaybook(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	p := phase(run.Job)
	vmID := vmForPhase(run.Job)
	reqID, err := h.Playbooks.Launch(ctx, vmID, p)
	if err != nil {
		if p == PhasePost {
			run.Logger.Warn("post migration playbook failed to launch: %v", err)
			if perr := run.Progress.OnExit(ctx); perr != nil {
				return nil, perr
			}
			return &engine.Next{Signal: SignalMarkVMMigrated}, nil
		}
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to launch migration playbook", err, map[string]any{
			"phase": p,
		})
	}
	run.Job.Context.Set(keyPlaybookReq+p, reqID)
	run.Logger.Info("launched %s migration playbook, request %s", p, reqID)
	return h.poll(SignalPollPlaybookComplete), nil
}

func (h *Handlers) pollPlaybook(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	p := phase(run.Job)
	if run.CheckTimeout() {
		if p == PhasePost {
			run.Logger.Warn("post migration playbook timed out, continuing")
			if err := run.Progress.OnExit(ctx); err != nil {
				return nil, err
			}
			return &engine.Next{Signal: SignalMarkVMMigrated}, nil
		}
		return nil, retryExhausted(run)
	}

	reqID := run.Job.Context.GetString(keyPlaybookReq + p)
	result, err := h.Playbooks.Status(ctx, reqID)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to read playbook status", err, nil)
	}
	if !result.Finished {
		if err := run.Progress.OnRetry(ctx, nil); err != nil {
			return nil, err
		}
		return h.poll(SignalPollPlaybookComplete), nil
	}

	if !result.Succeeded {
		if p == PhasePost {
			run.Logger.Warn("post migration playbook failed: %s", result.Message)
		} else {
			return nil, conversion.CloneError(conversion.ErrPrecondition, "migration playbook failed", nil, map[string]any{
				"phase":   p,
				"message": result.Message,
			})
		}
	}
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	if p == PhasePost {
		return &engine.Next{Signal: SignalMarkVMMigrated}, nil
	}
	return &engine.Next{Signal: SignalShutdownVM}, nil
}

func (h *Handlers) shutdownVM(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	vmID := run.Job.Context.GetString(keySourceVM)
	state, err := h.Source.PowerState(ctx, vmID)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to read power state", err, nil)
	}
	if state == PowerOff {
		if err := run.Progress.OnExit(ctx); err != nil {
			return nil, err
		}
		return &engine.Next{Signal: SignalTransformVM}, nil
	}
	if err := h.Source.Shutdown(ctx, vmID); err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to shut down vm", err, nil)
	}
	run.Logger.Info("shutting down vm %s", vmID)
	return h.poll(SignalPollShutdownComplete), nil
}

func (h *Handlers) pollShutdown(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if run.CheckTimeout() {
		return nil, retryExhausted(run)
	}
	vmID := run.Job.Context.GetString(keySourceVM)
	state, err := h.Source.PowerState(ctx, vmID)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to read power state", err, nil)
	}
	if state != PowerOff {
		if err := run.Progress.OnRetry(ctx, nil); err != nil {
			return nil, err
		}
		return h.poll(SignalPollShutdownComplete), nil
	}
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalTransformVM}, nil
}

func (h *Handlers) transformVM(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	vmID := run.Job.Context.GetString(keySourceVM)
	if err := h.Converter.Start(ctx, vmID); err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to start disk conversion", err, nil)
	}
	run.Logger.Info("disk conversion started for vm %s", vmID)
	return h.poll(SignalPollTransformVM), nil
}

func (h *Handlers) pollTransformVM(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if run.CheckTimeout() {
		return nil, retryExhausted(run)
	}
	vmID := run.Job.Context.GetString(keySourceVM)
	status, err := h.Converter.Progress(ctx, vmID)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to read conversion progress", err, nil)
	}
	if !status.Done {
		pct := status.Percent
		if err := run.Progress.OnRetry(ctx, &progress.Update{Message: status.Message, Percent: &pct}); err != nil {
			return nil, err
		}
		return h.poll(SignalPollTransformVM), nil
	}
	if status.DestinationVMID != "" {
		run.Job.Context.Set(keyDestVM, status.DestinationVMID)
	}
	run.Logger.Info("disk conversion complete for vm %s", vmID)
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalPollInventoryRefresh}, nil
}

func (h *Handlers) pollInventoryRefresh(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	if run.CheckTimeout() {
		return nil, retryExhausted(run)
	}
	sourceVM := run.Job.Context.GetString(keySourceVM)
	destVM, ok, err := h.Inventory.Refreshed(ctx, sourceVM)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to query destination inventory", err, nil)
	}
	if !ok {
		if err := run.Progress.OnRetry(ctx, nil); err != nil {
			return nil, err
		}
		return h.poll(SignalPollInventoryRefresh), nil
	}
	if destVM != "" {
		run.Job.Context.Set(keyDestVM, destVM)
	}
	run.Logger.Info("destination vm %s visible in inventory", run.Job.Context.GetString(keyDestVM))
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalApplyRightSizing}, nil
}

// applyRightSizing is best effort; a failure leaves the VM at its original
// sizing and the migration proceeds.
func (h *Handlers) applyRightSizing(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	destVM := run.Job.Context.GetString(keyDestVM)
	if err := h.Dest.ApplyRightSizing(ctx, destVM); err != nil {
		run.Logger.Warn("right-sizing failed for vm %s: %v", destVM, err)
	}
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalRestoreVMAttributes}, nil
}

// restoreVMAttributes carries tags, custom attributes and ownership from the
// source VM onto its replacement; best effort like right-sizing.
func (h *Handlers) restoreVMAttributes(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	sourceVM := run.Job.Context.GetString(keySourceVM)
	destVM := run.Job.Context.GetString(keyDestVM)
	attrs, err := h.Source.Attributes(ctx, sourceVM)
	if err != nil {
		run.Logger.Warn("failed to read attributes from vm %s: %v", sourceVM, err)
	} else if err := h.Dest.SetAttributes(ctx, destVM, attrs); err != nil {
		run.Logger.Warn("failed to restore attributes onto vm %s: %v", destVM, err)
	}
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalPowerOnVM}, nil
}

// powerOnVM powers on the destination VM on the happy path. When the job is
// canceling it arrived here from the conversion teardown and instead powers
// the source VM back on before finishing.
func (h *Handlers) powerOnVM(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if run.Task.IsCanceling() {
		sourceVM := run.Job.Context.GetString(keySourceVM)
		run.Logger.Info("restarting source vm %s after cancellation", sourceVM)
		if err := h.Source.PowerOn(ctx, sourceVM); err != nil {
			run.Logger.Warn("failed to restart source vm %s: %v", sourceVM, err)
		}
		return &engine.Next{Signal: engine.SignalFinish}, nil
	}

	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	destVM := run.Job.Context.GetString(keyDestVM)
	if err := h.Dest.PowerOn(ctx, destVM); err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to power on destination vm", err, nil)
	}
	run.Logger.Info("powering on vm %s", destVM)
	return h.poll(SignalPollPowerOnComplete), nil
}

// pollPowerOn waits for the destination VM to come up. Exhausting the budget
// here is fatal rather than abortable: the conversion already happened and
// tearing the job down would not bring the source VM back.
func (h *Handlers) pollPowerOn(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if run.CheckTimeout() {
		return nil, conversion.CloneError(conversion.ErrFatal, "destination vm did not power on in time", nil, map[string]any{
			"job_id": run.Job.ID,
			"vm_id":  run.Job.Context.GetString(keyDestVM),
		})
	}
	destVM := run.Job.Context.GetString(keyDestVM)
	state, err := h.Dest.PowerState(ctx, destVM)
	if err != nil {
		return nil, conversion.CloneError(conversion.ErrPrecondition, "failed to read power state", err, nil)
	}
	if state != PowerOn {
		if err := run.Progress.OnRetry(ctx, nil); err != nil {
			return nil, err
		}
		return h.poll(SignalPollPowerOnComplete), nil
	}
	run.Job.Context.Set(keyPhase, PhasePost)
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: SignalWaitForIP}, nil
}

// markVMMigrated flags the source inventory record; a failure here is logged
// and the migration still completes, the VM itself already moved.
func (h *Handlers) markVMMigrated(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	if err := run.Progress.OnEntry(ctx); err != nil {
		return nil, err
	}
	sourceVM := run.Job.Context.GetString(keySourceVM)
	if err := h.Source.MarkMigrated(ctx, sourceVM); err != nil {
		run.Logger.Warn("failed to mark source vm %s migrated: %v", sourceVM, err)
	} else {
		run.Logger.Info("vm %s marked as migrated", sourceVM)
	}
	if err := run.Progress.OnExit(ctx); err != nil {
		return nil, err
	}
	return &engine.Next{Signal: engine.SignalFinish}, nil
}

// abortVirtV2V tears down an in-flight disk conversion after cancellation:
// soft aborts until the teardown budget runs out, then kills the process.
// Either way the job rejoins at power_on_vm to restart the source VM.
func (h *Handlers) abortVirtV2V(ctx context.Context, run *engine.Run) (*engine.Next, error) {
	vmID := run.Job.Context.GetString(keySourceVM)
	running, err := h.Converter.Running(ctx, vmID)
	if err != nil {
		run.Logger.Warn("failed to check conversion status for vm %s: %v", vmID, err)
		running = false
	}
	if !running {
		return &engine.Next{Signal: SignalPowerOnVM}, nil
	}
	if run.CheckTimeout() {
		run.Logger.Warn("conversion for vm %s ignored soft abort, killing it", vmID)
		if err := h.Converter.HardKill(ctx, vmID); err != nil {
			run.Logger.Warn("failed to kill conversion for vm %s: %v", vmID, err)
		}
		return &engine.Next{Signal: SignalPowerOnVM}, nil
	}
	if err := h.Converter.SoftAbort(ctx, vmID); err != nil {
		run.Logger.Warn("soft abort failed for vm %s: %v", vmID, err)
	}
	return h.poll(SignalAbortVirtV2V), nil
}
