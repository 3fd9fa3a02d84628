package service

import (
	"fmt"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

func stateOf(cur *core.EntityState) string {
	if cur == nil {
		return ""
	}
	return cur.State
}

func attrsOf(cur *core.EntityState) map[string]any {
	if cur == nil || cur.Attributes == nil {
		return map[string]any{}
	}
	return core.CloneMap(cur.Attributes)
}

// keep leaves state and attributes as they are.
func keep(cur *core.EntityState) Transition {
	return Transition{State: stateOf(cur), Attributes: attrsOf(cur)}
}

// mergeInto overlays updates on a copy of the current attributes.
func mergeInto(cur *core.EntityState, updates map[string]any) map[string]any {
	attrs := attrsOf(cur)
	for k, v := range updates {
		attrs[k] = core.CloneValue(v)
	}
	return attrs
}

// to sets a fixed state and preserves attributes.
func to(state string) EntityHandler {
	return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
		return Transition{State: state, Attributes: attrsOf(cur)}, nil
	}
}

// toMerged sets a fixed state and merges call data into attributes.
func toMerged(state string) EntityHandler {
	return func(cur *core.EntityState, data map[string]any) (Transition, error) {
		return Transition{State: state, Attributes: mergeInto(cur, data)}, nil
	}
}

// attr copies one data field into an attribute and keeps the state.
func attr(field, attribute string) EntityHandler {
	return func(cur *core.EntityState, data map[string]any) (Transition, error) {
		v, ok := data[field]
		if !ok {
			return Transition{}, missingField(field)
		}
		return Transition{State: stateOf(cur), Attributes: mergeInto(cur, map[string]any{attribute: v})}, nil
	}
}

func skip(*core.EntityState, map[string]any) (Transition, error) {
	return Transition{Skip: true}, nil
}

// toggle flips between on and off states; anything other than on counts as off.
func toggle(on, off string) EntityHandler {
	return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
		next := on
		if stateOf(cur) == on {
			next = off
		}
		return Transition{State: next, Attributes: attrsOf(cur)}, nil
	}
}

func missingField(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidData, field)
}

func number(data map[string]any, field string) (float64, error) {
	v, ok := data[field]
	if !ok {
		return 0, missingField(field)
	}
	f, ok := core.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidData, field)
	}
	return f, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// genericHandler is the fallback for domains without their own table.
func genericHandler(service string) EntityHandler {
	switch service {
	case ServiceTurnOn:
		return to(core.StateOn)
	case ServiceTurnOff:
		return to(core.StateOff)
	case ServiceToggle:
		return toggle(core.StateOn, core.StateOff)
	}
	return nil
}
