package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// ReproduceOptions controls Reproduce.
type ReproduceOptions struct {
	// CreateMissing creates entities that are not in the store yet.
	CreateMissing bool
}

// Reproduce drives one entity to a desired state and attribute set.
//
// The desired state is mapped to the domain's own service (lock → lock.lock,
// cover with a position → set_cover_position, light on → light.turn_on with the
// attributes as data, ...) so domain attribute rules apply, then the desired
// state is forced and the given attributes are merged on top. Repeating the
// call with the same arguments yields the same record.
//
// Returns core.ErrNotFound if the entity is absent and CreateMissing is false.
func (r *Registry) Reproduce(ctx context.Context, entityID, desired string, attrs map[string]any, opts ReproduceOptions) (core.EntityState, error) {
	domain := core.Domain(entityID)

	var missing bool
	var herr error
	change, err := r.store.Update(ctx, entityID, func(cur *core.EntityState) (string, map[string]any, bool) {
		if cur == nil && !opts.CreateMissing {
			missing = true
			return "", nil, false
		}
		next, nextAttrs, err := r.reproduce(domain, cur, desired, attrs)
		if err != nil {
			herr = err
			return "", nil, false
		}
		return next, nextAttrs, true
	})
	switch {
	case err != nil:
		return core.EntityState{}, err
	case herr != nil:
		return core.EntityState{}, fmt.Errorf("%s: %w", entityID, herr)
	case missing:
		return core.EntityState{}, core.ErrNotFound
	}
	return *change.New, nil
}

func (r *Registry) reproduce(domain string, cur *core.EntityState, desired string, attrs map[string]any) (string, map[string]any, error) {
	target := desired
	if target == "" {
		target = stateOf(cur)
	}
	if target == "" {
		target = core.StateUnknown
	}

	result := keep(cur)
	if service, data := reproduceService(domain, target, attrs); service != "" {
		if h := r.entityHandler(domain, service); h != nil {
			tr, err := h(cur, data)
			if err != nil {
				return "", nil, err
			}
			if !tr.Skip {
				result = tr
			}
		}
	}

	out := result.Attributes
	if out == nil {
		out = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		out[k] = core.CloneValue(v)
	}
	return target, out, nil
}

func (r *Registry) entityHandler(domain, service string) EntityHandler {
	if reg, ok := r.lookup(domain, service); ok && reg.entity != nil {
		return reg.entity
	}
	return genericHandler(service)
}

// reproduceService picks the service that moves an entity of domain into state.
// An empty name means the state is written directly.
func reproduceService(domain, state string, attrs map[string]any) (string, map[string]any) {
	s := lower(state)
	data := core.CloneMap(attrs)
	if data == nil {
		data = map[string]any{}
	}

	switch domain {
	case "lock":
		switch s {
		case stateLocked:
			return "lock", data
		case stateUnlocked:
			return "unlock", data
		case stateOpen:
			return "open", data
		}
		return "", nil

	case "cover", "valve":
		if pos, ok := attrs["current_position"]; ok {
			return "set_" + domain + "_position", map[string]any{"position": pos}
		}
		switch s {
		case stateOpen:
			return "open_" + domain, data
		case stateClosed:
			return "close_" + domain, data
		}
		return "", nil

	case "alarm_control_panel":
		switch {
		case strings.HasPrefix(s, "armed_"):
			return "alarm_arm_" + strings.TrimPrefix(s, "armed_"), data
		case s == "disarmed":
			return "alarm_disarm", data
		case s == "triggered":
			return "alarm_trigger", data
		}
		return "", nil

	case "media_player":
		switch s {
		case statePlaying:
			return "media_play", data
		case statePaused:
			return "media_pause", data
		case stateIdle:
			return "media_stop", data
		}

	case "vacuum":
		switch s {
		case stateCleaning:
			return "start", data
		case statePaused:
			return "pause", data
		case stateIdle:
			return "stop", data
		case stateReturning:
			return "return_to_base", data
		}

	case "climate":
		if s == core.StateOff {
			return ServiceTurnOff, data
		}
		return "set_hvac_mode", map[string]any{"hvac_mode": state}

	case "input_number", "number", "input_text", "text":
		return "set_value", map[string]any{"value": state}

	case "counter":
		return "set_value", map[string]any{"value": state}

	case "input_select", "select":
		return "select_option", map[string]any{"option": state}
	}

	switch s {
	case core.StateOn:
		return ServiceTurnOn, data
	case core.StateOff:
		return ServiceTurnOff, data
	}
	return "", nil
}
