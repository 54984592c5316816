package migration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conversion "github.com/goliatone/go-conversion"
	"github.com/goliatone/go-conversion/engine"
)

func TestTransitionsAreValid(t *testing.T) {
	table := Transitions()
	require.NoError(t, table.Validate())
	assert.Equal(t, StateFinished, table.Terminal())
}

func TestDescriptorsAreValid(t *testing.T) {
	descriptors := Descriptors(time.Minute, nil)
	require.NoError(t, descriptors.Validate())

	total := 0.0
	for _, d := range descriptors {
		total += d.Weight
	}
	assert.Equal(t, 100.0, total, "state weights must cover the whole migration")
}

func TestDescriptorsDeriveRetryBudgets(t *testing.T) {
	descriptors := Descriptors(time.Minute, nil)

	tests := []struct {
		state string
		want  int
	}{
		{StateTransformingVM, 24 * 60},
		{StateShuttingDownVM, 15},
		{StateAbortingVirtV2V, 5},
		{StateApplyingRightSize, 0},
		{StateFinished, 0},
	}
	for _, tt := range tests {
		d, ok := descriptors.Lookup(tt.state)
		require.True(t, ok, tt.state)
		assert.Equal(t, tt.want, d.MaxRetries, tt.state)
	}
}

func TestDescriptorsHonorConfiguredBudgets(t *testing.T) {
	cfg := conversion.Config{
		Budgets: map[string]conversion.Duration{
			StateTransformingVM: conversion.Duration(10 * time.Minute),
		},
	}
	descriptors := Descriptors(time.Minute, cfg.BudgetFor)

	d, ok := descriptors.Lookup(StateTransformingVM)
	require.True(t, ok)
	assert.Equal(t, 10, d.MaxRetries)

	// states the config does not name keep their default allowance
	d, ok = descriptors.Lookup(StateShuttingDownVM)
	require.True(t, ok)
	assert.Equal(t, 15, d.MaxRetries)
}

func TestEverySignalHasAHandler(t *testing.T) {
	builtins := map[string]bool{
		engine.SignalInitializing: true,
		engine.SignalFinish:       true,
		engine.SignalAbort:        true,
		engine.SignalCancel:       true,
		engine.SignalError:        true,
	}
	handlers := (&Handlers{}).Map()
	for _, signal := range Transitions().Signals() {
		if builtins[signal] {
			continue
		}
		assert.Contains(t, handlers, signal)
	}
}

func TestOverlaySignalsLegalFromEveryActiveState(t *testing.T) {
	table := Transitions()
	active := []string{
		StateInitialize, StateWaitingToStart, StateStarted, StateRemovingSnapshots,
		StateWaitingForIP, StateRunningPlaybook, StateShuttingDownVM, StateTransformingVM,
		StateWaitingForRefresh, StateApplyingRightSize, StateRestoringVM,
		StatePoweringOnVM, StateMarkingVMMigrated, StateCanceling, StateAborting,
		StateAbortingVirtV2V,
	}
	for _, state := range active {
		for signal, want := range map[string]string{
			engine.SignalCancel: StateCanceling,
			engine.SignalAbort:  StateAborting,
			engine.SignalFinish: StateFinished,
		} {
			got, err := table.Resolve(signal, state)
			require.NoError(t, err, "%s from %s", signal, state)
			assert.Equal(t, want, got, "%s from %s", signal, state)
		}
		got, err := table.Resolve(engine.SignalError, state)
		require.NoError(t, err)
		assert.Equal(t, state, got, "error overlay must stay in %s", state)
	}
}

func TestPowerOnRejoinEdges(t *testing.T) {
	table := Transitions()

	// after power on the flow rejoins the ip wait for the post phase
	got, err := table.Resolve(SignalWaitForIP, StatePoweringOnVM)
	require.NoError(t, err)
	assert.Equal(t, StateWaitingForIP, got)

	// conversion teardown rolls back through power on
	got, err = table.Resolve(SignalPowerOnVM, StateAbortingVirtV2V)
	require.NoError(t, err)
	assert.Equal(t, StatePoweringOnVM, got)
}
