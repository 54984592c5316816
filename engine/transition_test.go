package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conversion "github.com/goliatone/go-conversion"
)

func testTable() TransitionTable {
	return TransitionTable{
		SignalInitializing: {"new": "pending"},
		"advance":          {"pending": "active"},
		"poll":             {"active": "active"},
		SignalCancel:       {Wildcard: "canceling"},
		SignalAbort:        {Wildcard: "failing"},
		SignalFinish:       {Wildcard: "done"},
		SignalError:        {Wildcard: Wildcard},
	}
}

func TestTransitionTableResolve(t *testing.T) {
	table := testTable()

	tests := []struct {
		name    string
		signal  string
		current string
		want    string
		errCode string
	}{
		{name: "exact match", signal: "advance", current: "pending", want: "active"},
		{name: "self loop", signal: "poll", current: "active", want: "active"},
		{name: "wildcard source", signal: "cancel", current: "active", want: "canceling"},
		{name: "wildcard target stays put", signal: "error", current: "pending", want: "pending"},
		{name: "case and space insensitive", signal: " Advance ", current: " PENDING ", want: "active"},
		{name: "unknown signal", signal: "bogus", current: "pending", errCode: conversion.ErrCodeUnknownSignal},
		{name: "illegal from state", signal: "advance", current: "active", errCode: conversion.ErrCodeInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.Resolve(tt.signal, tt.current)
			if tt.errCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errCode, conversion.ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransitionTableValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(TransitionTable)
		wantErr bool
	}{
		{name: "valid table", mutate: func(TransitionTable) {}},
		{name: "missing finish overlay", mutate: func(tb TransitionTable) {
			delete(tb, SignalFinish)
		}, wantErr: true},
		{name: "finish without wildcard", mutate: func(tb TransitionTable) {
			tb[SignalFinish] = map[string]string{"active": "done"}
		}, wantErr: true},
		{name: "edge out of terminal", mutate: func(tb TransitionTable) {
			tb["resurrect"] = map[string]string{"done": "pending"}
		}, wantErr: true},
		{name: "error overlay must stay put", mutate: func(tb TransitionTable) {
			tb[SignalError] = map[string]string{Wildcard: "failing"}
		}, wantErr: true},
		{name: "wildcard target needs wildcard source", mutate: func(tb TransitionTable) {
			tb["weird"] = map[string]string{"pending": Wildcard}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := testTable()
			tt.mutate(table)
			err := table.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransitionTableTerminal(t *testing.T) {
	assert.Equal(t, "done", testTable().Terminal())
	assert.Equal(t, "", TransitionTable{}.Terminal())
}
