// Package migration is the VM migration workflow built on the engine: the
// transition table, state descriptors, provider interfaces and the signal
// handlers that drive one virtual machine from its source provider to its
// destination.
package migration

import (
	"time"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
)

// Workflow states, in happy-path order.
const (
	StateInitialize         = "initialize"
	StateWaitingToStart     = "waiting_to_start"
	StateStarted            = "started"
	StateRemovingSnapshots  = "removing_snapshots"
	StateWaitingForIP       = "waiting_for_ip_address"
	StateRunningPlaybook    = "running_migration_playbook"
	StateShuttingDownVM     = "shutting_down_vm"
	StateTransformingVM     = "transforming_vm"
	StateWaitingForRefresh  = "waiting_for_inventory_refresh"
	StateApplyingRightSize  = "applying_right_sizing"
	StateRestoringVM        = "restoring_vm_attributes"
	StatePoweringOnVM       = "powering_on_vm"
	StateMarkingVMMigrated  = "marking_vm_migrated"
	StateCanceling          = "canceling"
	StateAborting           = "aborting"
	StateAbortingVirtV2V    = "aborting_virtv2v"
	StateFinished           = "finished"
)

// Domain signals. Built-in overlay signals (initializing, finish, abort,
// cancel, error) come from the engine package.
const (
	SignalStart                = "start"
	SignalRemoveSnapshots      = "remove_snapshots"
	SignalPollRemoveSnapshots  = "poll_remove_snapshots_complete"
	SignalWaitForIP            = "wait_for_ip_address"
	SignalRunPlaybook          = "run_migration_playbook"
	SignalPollPlaybookComplete = "poll_run_migration_playbook_complete"
	SignalShutdownVM           = "shutdown_vm"
	SignalPollShutdownComplete = "poll_shutdown_vm_complete"
	SignalTransformVM          = "transform_vm"
	SignalPollTransformVM      = "poll_transform_vm_complete"
	SignalPollInventoryRefresh = "poll_inventory_refresh"
	SignalApplyRightSizing     = "apply_right_sizing"
	SignalRestoreVMAttributes  = "restore_vm_attributes"
	SignalPowerOnVM            = "power_on_vm"
	SignalPollPowerOnComplete  = "poll_power_on_vm_complete"
	SignalMarkVMMigrated       = "mark_vm_migrated"
	SignalAbortVirtV2V         = "abort_virtv2v"
)

// Playbook phases. The pre phase runs on the source VM before conversion,
// the post phase on the destination VM after power on.
const (
	PhasePre  = "pre"
	PhasePost = "post"
)

// Transitions returns the migration transition table: the linear happy path,
// self-loops for every polling signal, the post-migration rejoin edges out of
// powering_on_vm, and the cancel, abort, finish and error overlays.
func Transitions() engine.TransitionTable {
	return engine.TransitionTable{
		engine.SignalInitializing: {StateInitialize: StateWaitingToStart},
		SignalStart:               {StateWaitingToStart: StateStarted},
		SignalRemoveSnapshots:     {StateStarted: StateRemovingSnapshots},
		SignalPollRemoveSnapshots: {StateRemovingSnapshots: StateRemovingSnapshots},
		SignalWaitForIP: {
			StateRemovingSnapshots: StateWaitingForIP,
			StateWaitingForIP:      StateWaitingForIP,
			StatePoweringOnVM:      StateWaitingForIP,
		},
		SignalRunPlaybook:          {StateWaitingForIP: StateRunningPlaybook},
		SignalPollPlaybookComplete: {StateRunningPlaybook: StateRunningPlaybook},
		SignalShutdownVM:           {StateRunningPlaybook: StateShuttingDownVM},
		SignalPollShutdownComplete: {StateShuttingDownVM: StateShuttingDownVM},
		SignalTransformVM:          {StateShuttingDownVM: StateTransformingVM},
		SignalPollTransformVM:      {StateTransformingVM: StateTransformingVM},
		SignalPollInventoryRefresh: {
			StateTransformingVM:    StateWaitingForRefresh,
			StateWaitingForRefresh: StateWaitingForRefresh,
		},
		SignalApplyRightSizing:    {StateWaitingForRefresh: StateApplyingRightSize},
		SignalRestoreVMAttributes: {StateApplyingRightSize: StateRestoringVM},
		SignalPowerOnVM: {
			StateRestoringVM:     StatePoweringOnVM,
			StateAbortingVirtV2V: StatePoweringOnVM,
		},
		SignalPollPowerOnComplete: {StatePoweringOnVM: StatePoweringOnVM},
		SignalMarkVMMigrated:      {StateRunningPlaybook: StateMarkingVMMigrated},
		SignalAbortVirtV2V: {
			StateCanceling:       StateAbortingVirtV2V,
			StateAbortingVirtV2V: StateAbortingVirtV2V,
		},
		engine.SignalCancel: {engine.Wildcard: StateCanceling},
		engine.SignalAbort:  {engine.Wildcard: StateAborting},
		engine.SignalFinish: {engine.Wildcard: StateFinished},
		engine.SignalError:  {engine.Wildcard: engine.Wildcard},
	}
}

// Default per-state wall-clock allowances, converted into retry budgets at
// the configured poll interval.
var defaultBudgets = map[string]time.Duration{
	StateRemovingSnapshots: 4 * time.Hour,
	StateWaitingForIP:      1 * time.Hour,
	StateRunningPlaybook:   6 * time.Hour,
	StateShuttingDownVM:    15 * time.Minute,
	StateTransformingVM:    24 * time.Hour,
	StateWaitingForRefresh: 1 * time.Hour,
	StatePoweringOnVM:      15 * time.Minute,
	StateAbortingVirtV2V:   5 * time.Minute,
}

// Descriptors returns the state metadata table: descriptions, progress
// weights summing to 100, and retry budgets derived from the per-state
// allowances at the given poll interval. budgetFor resolves a state's
// effective allowance from its default; conversion.Config.BudgetFor fits, nil
// keeps the defaults.
func Descriptors(pollInterval time.Duration, budgetFor func(state string, fallback time.Duration) time.Duration) conversion.DescriptorTable {
	budget := func(state string) int {
		allowance := defaultBudgets[state]
		if budgetFor != nil {
			allowance = budgetFor(state, allowance)
		}
		return conversion.BudgetRetries(allowance, pollInterval)
	}
	return conversion.DescriptorTable{
		StateInitialize:        {Description: "Initializing migration"},
		StateWaitingToStart:    {Description: "Waiting to start"},
		StateStarted:           {Description: "Migration started"},
		StateRemovingSnapshots: {Description: "Removing snapshots", Weight: 5, MaxRetries: budget(StateRemovingSnapshots)},
		StateWaitingForIP:      {Description: "Waiting for VM IP address", Weight: 2, MaxRetries: budget(StateWaitingForIP)},
		StateRunningPlaybook:   {Description: "Running migration playbook", Weight: 15, MaxRetries: budget(StateRunningPlaybook)},
		StateShuttingDownVM:    {Description: "Shutting down virtual machine", Weight: 2, MaxRetries: budget(StateShuttingDownVM)},
		StateTransformingVM:    {Description: "Converting disks", Weight: 60, MaxRetries: budget(StateTransformingVM)},
		StateWaitingForRefresh: {Description: "Identifying destination VM", Weight: 5, MaxRetries: budget(StateWaitingForRefresh)},
		StateApplyingRightSize: {Description: "Applying right-sizing", Weight: 3},
		StateRestoringVM:       {Description: "Restoring VM attributes", Weight: 3},
		StatePoweringOnVM:      {Description: "Powering on virtual machine", Weight: 3, MaxRetries: budget(StatePoweringOnVM)},
		StateMarkingVMMigrated: {Description: "Marking source as migrated", Weight: 2},
		StateCanceling:         {Description: "Canceling migration"},
		StateAborting:          {Description: "Aborting migration"},
		StateAbortingVirtV2V:   {Description: "Aborting disk conversion", MaxRetries: budget(StateAbortingVirtV2V)},
		StateFinished:          {Description: "Migration complete"},
	}
}

// NewJob creates a migration job for a source VM.
func NewJob(id, sourceVMID string) *conversion.Job {
	job := conversion.NewJob(id, StateInitialize)
	job.Context.Set(keySourceVM, sourceVMID)
	return job
}
