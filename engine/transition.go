package engine

import (
	"strings"

	conversion "github.com/goliatone/go-conversion"
)

// Wildcard matches any source state; as a target it means "stay put".
const Wildcard = "*"

// Built-in overlay signals, layered over the domain transition graph. They
// are implemented once by the engine; domain tables only declare them.
const (
	SignalInitializing = "initializing"
	SignalFinish       = "finish"
	SignalAbort        = "abort"
	SignalCancel       = "cancel"
	SignalError        = "error"
)

// TransitionTable maps signal name to {source state => target state}.
// Lookup is exact match first, wildcard source second.
type TransitionTable map[string]map[string]string

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// HasSignal reports whether the signal exists in the table.
func (t TransitionTable) HasSignal(name string) bool {
	_, ok := t[normalizeName(name)]
	return ok
}

// Terminal returns the target of the finish overlay, the single state with no
// outgoing edges.
func (t TransitionTable) Terminal() string {
	entries, ok := t[SignalFinish]
	if !ok {
		return ""
	}
	return entries[Wildcard]
}

// Resolve returns the target state for applying signal in current state.
// A wildcard target resolves to the current state (no-op transition).
func (t TransitionTable) Resolve(signal, current string) (string, error) {
	signal = normalizeName(signal)
	current = normalizeName(current)

	entries, ok := t[signal]
	if !ok {
		return "", conversion.CloneError(conversion.ErrUnknownSignal, "", nil, map[string]any{
			"signal": signal,
		})
	}
	to, ok := entries[current]
	if !ok {
		to, ok = entries[Wildcard]
	}
	if !ok {
		return "", conversion.CloneError(conversion.ErrInvalidTransition, "", nil, map[string]any{
			"signal": signal,
			"state":  current,
		})
	}
	if to == Wildcard {
		return current, nil
	}
	return to, nil
}

// Validate checks the table is internally consistent: a finish overlay with a
// concrete terminal target, no edges out of the terminal state, and an error
// overlay (when declared) that never changes state.
func (t TransitionTable) Validate() error {
	if len(t) == 0 {
		return conversion.CloneError(conversion.ErrPrecondition, "transition table is empty", nil, nil)
	}

	finish, ok := t[SignalFinish]
	if !ok {
		return conversion.CloneError(conversion.ErrPrecondition, "transition table requires a finish overlay", nil, nil)
	}
	terminal, ok := finish[Wildcard]
	if !ok || terminal == "" || terminal == Wildcard {
		return conversion.CloneError(conversion.ErrPrecondition, "finish overlay requires a wildcard source and concrete target", nil, nil)
	}

	for signal, entries := range t {
		if strings.TrimSpace(signal) == "" {
			return conversion.CloneError(conversion.ErrPrecondition, "transition table has empty signal name", nil, nil)
		}
		if len(entries) == 0 {
			return conversion.CloneError(conversion.ErrPrecondition, "signal has no transitions", nil, map[string]any{
				"signal": signal,
			})
		}
		for from, to := range entries {
			if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
				return conversion.CloneError(conversion.ErrPrecondition, "transition has empty state name", nil, map[string]any{
					"signal": signal,
				})
			}
			if from == normalizeName(terminal) || from == terminal {
				return conversion.CloneError(conversion.ErrPrecondition, "terminal state cannot have outgoing transitions", nil, map[string]any{
					"signal": signal,
					"state":  terminal,
				})
			}
			if to == Wildcard && from != Wildcard {
				return conversion.CloneError(conversion.ErrPrecondition, "wildcard target requires wildcard source", nil, map[string]any{
					"signal": signal,
				})
			}
		}
	}

	if errEntries, ok := t[SignalError]; ok {
		if to, ok := errEntries[Wildcard]; !ok || to != Wildcard {
			return conversion.CloneError(conversion.ErrPrecondition, "error overlay must be wildcard source and wildcard target", nil, nil)
		}
	}
	return nil
}

// Signals returns the signal names declared by the table.
func (t TransitionTable) Signals() []string {
	out := make([]string, 0, len(t))
	for name := range t {
		out = append(out, name)
	}
	return out
}
