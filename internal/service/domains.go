package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Service names shared by many domains.
const (
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
	ServiceToggle  = "toggle"
	ServiceReload  = "reload"
)

// DomainHomeAssistant is the cross-domain service namespace.
const DomainHomeAssistant = "homeassistant"

// Entity states used by the built-in tables.
const (
	stateOpen      = "open"
	stateClosed    = "closed"
	stateOpening   = "opening"
	stateLocked    = "locked"
	stateUnlocked  = "unlocked"
	statePlaying   = "playing"
	statePaused    = "paused"
	stateIdle      = "idle"
	stateActive    = "active"
	stateCleaning  = "cleaning"
	stateReturning = "returning"
)

type table map[string]map[string]EntityHandler

// RegisterBuiltins installs the per-domain transition tables and the
// homeassistant cross-domain services.
func RegisterBuiltins(r *Registry) {
	onOff := map[string]EntityHandler{
		ServiceTurnOn:  to(core.StateOn),
		ServiceTurnOff: to(core.StateOff),
		ServiceToggle:  toggle(core.StateOn, core.StateOff),
	}

	tables := table{
		"light":               lightTable(),
		"switch":              onOff,
		"input_boolean":       onOff,
		"fan":                 fanTable(),
		"siren":               sirenTable(),
		"humidifier":          humidifierTable(),
		"cover":               coverTable(),
		"valve":               valveTable(),
		"lock":                lockTable(),
		"alarm_control_panel": alarmTable(),
		"counter":             counterTable(),
		"climate":             climateTable(),
		"water_heater":        waterHeaterTable(),
		"media_player":        mediaPlayerTable(),
		"input_number":        numberTable(true),
		"number":              numberTable(false),
		"input_text":          textTable(),
		"text":                textTable(),
		"input_select":        selectTable(true),
		"select":              selectTable(false),
		"input_button":        buttonTable(r),
		"button":              buttonTable(r),
		"input_datetime":      datetimeTable(),
		"vacuum":              vacuumTable(),
		"timer":               timerTable(),
	}

	for domain, services := range tables {
		for name, h := range services {
			if err := r.RegisterEntity(domain, name, h); err != nil {
				panic(fmt.Sprintf("registering %s.%s: %v", domain, name, err))
			}
		}
	}

	for _, name := range []string{ServiceTurnOn, ServiceTurnOff, ServiceToggle} {
		_ = r.Register(DomainHomeAssistant, name, r.crossDomain(name))
	}
	_ = r.Register(DomainHomeAssistant, "update_entity", func(context.Context, *ServiceCall) (Result, error) {
		return Result{}, nil
	})
}

// crossDomain forwards homeassistant.<service> to each target's own domain.
func (r *Registry) crossDomain(service string) Handler {
	return func(ctx context.Context, call *ServiceCall) (Result, error) {
		byDomain := make(map[string][]string)
		var order []string
		for _, id := range call.Targets {
			d := core.Domain(id)
			if d == DomainHomeAssistant {
				continue
			}
			if _, seen := byDomain[d]; !seen {
				order = append(order, d)
			}
			byDomain[d] = append(byDomain[d], id)
		}

		var res Result
		var firstErr error
		for _, d := range order {
			sub, err := r.Call(ctx, d, service, byDomain[d], call.Data)
			res.merge(sub)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return res, firstErr
	}
}

// ─── Lights, fans, sirens, humidifiers ──────────────────────────────

func lightTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		ServiceTurnOn:  lightTurnOn,
		ServiceTurnOff: to(core.StateOff),
		ServiceToggle: func(cur *core.EntityState, data map[string]any) (Transition, error) {
			if stateOf(cur) == core.StateOn {
				return Transition{State: core.StateOff, Attributes: attrsOf(cur)}, nil
			}
			return lightTurnOn(cur, data)
		},
	}
}

func lightTurnOn(cur *core.EntityState, data map[string]any) (Transition, error) {
	updates := make(map[string]any, len(data))
	current, _ := core.ToFloat(attrsOf(cur)["brightness"])

	for k, v := range data {
		switch k {
		case "transition", "flash", "profile":
		case "brightness_pct":
			pct, ok := core.ToFloat(v)
			if !ok {
				return Transition{}, fmt.Errorf("%w: brightness_pct must be a number", ErrInvalidData)
			}
			updates["brightness"] = math.Round(clamp(pct, 0, 100) * 255 / 100)
		case "brightness_step":
			step, ok := core.ToFloat(v)
			if !ok {
				return Transition{}, fmt.Errorf("%w: brightness_step must be a number", ErrInvalidData)
			}
			updates["brightness"] = current + step
		case "brightness_step_pct":
			step, ok := core.ToFloat(v)
			if !ok {
				return Transition{}, fmt.Errorf("%w: brightness_step_pct must be a number", ErrInvalidData)
			}
			updates["brightness"] = current + math.Round(step*255/100)
		default:
			updates[k] = v
		}
	}

	if v, ok := updates["brightness"]; ok {
		b, ok := core.ToFloat(v)
		if !ok {
			return Transition{}, fmt.Errorf("%w: brightness must be a number", ErrInvalidData)
		}
		brightness := int(clamp(b, 0, 255))
		if brightness == 0 {
			return Transition{State: core.StateOff, Attributes: attrsOf(cur)}, nil
		}
		updates["brightness"] = brightness
	}
	return Transition{State: core.StateOn, Attributes: mergeInto(cur, updates)}, nil
}

func fanTable() map[string]EntityHandler {
	setPercentage := func(cur *core.EntityState, data map[string]any) (Transition, error) {
		pct, err := number(data, "percentage")
		if err != nil {
			return Transition{}, err
		}
		p := int(clamp(pct, 0, 100))
		next := core.StateOn
		if p == 0 {
			next = core.StateOff
		}
		return Transition{State: next, Attributes: mergeInto(cur, map[string]any{"percentage": p})}, nil
	}
	turnOn := func(cur *core.EntityState, data map[string]any) (Transition, error) {
		updates := core.CloneMap(data)
		if _, ok := data["percentage"]; ok {
			tr, err := setPercentage(cur, data)
			if err != nil || tr.State == core.StateOff {
				return tr, err
			}
			updates["percentage"] = tr.Attributes["percentage"]
		}
		return Transition{State: core.StateOn, Attributes: mergeInto(cur, updates)}, nil
	}
	return map[string]EntityHandler{
		ServiceTurnOn:    turnOn,
		ServiceTurnOff:   to(core.StateOff),
		ServiceToggle:    toggle(core.StateOn, core.StateOff),
		"set_percentage": setPercentage,
		"set_preset_mode": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			mode, ok := data["preset_mode"]
			if !ok {
				return Transition{}, missingField("preset_mode")
			}
			return Transition{State: core.StateOn, Attributes: mergeInto(cur, map[string]any{"preset_mode": mode})}, nil
		},
		"oscillate":     attr("oscillating", "oscillating"),
		"set_direction": attr("direction", "direction"),
	}
}

func sirenTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		ServiceTurnOn:  toMerged(core.StateOn),
		ServiceTurnOff: to(core.StateOff),
		ServiceToggle:  toggle(core.StateOn, core.StateOff),
	}
}

func humidifierTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		ServiceTurnOn:  to(core.StateOn),
		ServiceTurnOff: to(core.StateOff),
		ServiceToggle:  toggle(core.StateOn, core.StateOff),
		"set_humidity": attr("humidity", "humidity"),
		"set_mode":     attr("mode", "mode"),
	}
}

// ─── Covers, valves, locks, alarms ──────────────────────────────────

// positioned sets the open/closed state from a 0..100 position attribute.
func positioned(cur *core.EntityState, key string, pos float64) Transition {
	p := int(clamp(pos, 0, 100))
	next := stateOpen
	if p == 0 {
		next = stateClosed
	}
	return Transition{State: next, Attributes: mergeInto(cur, map[string]any{key: p})}
}

func positionFrom(field string) EntityHandler {
	return func(cur *core.EntityState, data map[string]any) (Transition, error) {
		pos, err := number(data, field)
		if err != nil {
			return Transition{}, err
		}
		return positioned(cur, "current_position", pos), nil
	}
}

func fixedPosition(pos float64) EntityHandler {
	return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
		return positioned(cur, "current_position", pos), nil
	}
}

func openCloseToggle(cur *core.EntityState, _ map[string]any) (Transition, error) {
	switch stateOf(cur) {
	case stateOpen, stateOpening:
		return positioned(cur, "current_position", 0), nil
	default:
		return positioned(cur, "current_position", 100), nil
	}
}

func tilt(pos float64) EntityHandler {
	return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
		return Transition{State: stateOf(cur), Attributes: mergeInto(cur, map[string]any{"current_tilt_position": int(pos)})}, nil
	}
}

func coverTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"open_cover":         fixedPosition(100),
		"close_cover":        fixedPosition(0),
		"stop_cover":         skip,
		"set_cover_position": positionFrom("position"),
		ServiceToggle:        openCloseToggle,
		"open_cover_tilt":    tilt(100),
		"close_cover_tilt":   tilt(0),
		"stop_cover_tilt":    skip,
		"set_cover_tilt_position": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			pos, err := number(data, "tilt_position")
			if err != nil {
				return Transition{}, err
			}
			return tilt(clamp(pos, 0, 100))(cur, data)
		},
		"toggle_cover_tilt": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			if t, _ := core.ToFloat(attrsOf(cur)["current_tilt_position"]); t > 0 {
				return tilt(0)(cur, data)
			}
			return tilt(100)(cur, data)
		},
	}
}

func valveTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"open_valve":         fixedPosition(100),
		"close_valve":        fixedPosition(0),
		"stop_valve":         skip,
		"set_valve_position": positionFrom("position"),
		ServiceToggle:        openCloseToggle,
	}
}

func lockTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"lock":   to(stateLocked),
		"unlock": to(stateUnlocked),
		"open":   to(stateOpen),
	}
}

func alarmTable() map[string]EntityHandler {
	t := make(map[string]EntityHandler)
	for _, mode := range []string{"home", "away", "night", "vacation", "custom_bypass"} {
		h := to("armed_" + mode)
		t["alarm_arm_"+mode] = h
		t["arm_"+mode] = h
	}
	t["alarm_disarm"] = to("disarmed")
	t["disarm"] = to("disarmed")
	t["alarm_trigger"] = to("triggered")
	t["trigger"] = to("triggered")
	return t
}

// ─── Counters and numeric helpers ───────────────────────────────────

// counterValue reads the current count; unparseable states count as zero.
func counterValue(cur *core.EntityState) int {
	n, ok := core.ToInt(stateOf(cur))
	if !ok {
		return 0
	}
	return n
}

func counterStep(cur *core.EntityState, data map[string]any) int {
	if s, ok := core.ToInt(data["step"]); ok {
		return s
	}
	if s, ok := core.ToInt(attrsOf(cur)["step"]); ok {
		return s
	}
	return 1
}

func counterTable() map[string]EntityHandler {
	adjust := func(sign int) EntityHandler {
		return func(cur *core.EntityState, data map[string]any) (Transition, error) {
			next := counterValue(cur) + sign*counterStep(cur, data)
			return Transition{State: strconv.Itoa(next), Attributes: attrsOf(cur)}, nil
		}
	}
	return map[string]EntityHandler{
		"increment": adjust(1),
		"decrement": adjust(-1),
		"reset": func(cur *core.EntityState, _ map[string]any) (Transition, error) {
			initial, _ := core.ToInt(attrsOf(cur)["initial"])
			return Transition{State: strconv.Itoa(initial), Attributes: attrsOf(cur)}, nil
		},
		"set_value": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			v, err := number(data, "value")
			if err != nil {
				return Transition{}, err
			}
			return Transition{State: strconv.Itoa(int(v)), Attributes: attrsOf(cur)}, nil
		},
	}
}

// numberBounds returns min/max attributes, defaulting to an unbounded range.
func numberBounds(cur *core.EntityState) (lo, hi float64) {
	attrs := attrsOf(cur)
	lo, hi = math.Inf(-1), math.Inf(1)
	if v, ok := core.ToFloat(attrs["min"]); ok {
		lo = v
	}
	if v, ok := core.ToFloat(attrs["max"]); ok {
		hi = v
	}
	return lo, hi
}

func numberTable(helper bool) map[string]EntityHandler {
	t := map[string]EntityHandler{
		"set_value": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			v, err := number(data, "value")
			if err != nil {
				return Transition{}, err
			}
			lo, hi := numberBounds(cur)
			if v < lo || v > hi {
				return Transition{}, fmt.Errorf("%w: value %s outside %s..%s",
					ErrInvalidData, core.FormatNumber(v), core.FormatNumber(lo), core.FormatNumber(hi))
			}
			return Transition{State: core.FormatNumber(v), Attributes: attrsOf(cur)}, nil
		},
	}
	if !helper {
		return t
	}

	adjust := func(sign float64) EntityHandler {
		return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
			value, _ := core.ToFloat(stateOf(cur))
			step, ok := core.ToFloat(attrsOf(cur)["step"])
			if !ok || step == 0 {
				step = 1
			}
			lo, hi := numberBounds(cur)
			next := clamp(value+sign*step, lo, hi)
			return Transition{State: core.FormatNumber(next), Attributes: attrsOf(cur)}, nil
		}
	}
	t["increment"] = adjust(1)
	t["decrement"] = adjust(-1)
	return t
}

func textTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"set_value": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			v, ok := data["value"]
			if !ok {
				return Transition{}, missingField("value")
			}
			s := fmt.Sprint(v)
			if maxLen, ok := core.ToInt(attrsOf(cur)["max"]); ok && len(s) > maxLen {
				return Transition{}, fmt.Errorf("%w: value longer than %d", ErrInvalidData, maxLen)
			}
			return Transition{State: s, Attributes: attrsOf(cur)}, nil
		},
	}
}

// ─── Selects, buttons, date/time ────────────────────────────────────

func selectTable(helper bool) map[string]EntityHandler {
	optionsOf := func(cur *core.EntityState) []string {
		return core.ToStringList(attrsOf(cur)["options"])
	}
	step := func(delta int) EntityHandler {
		return func(cur *core.EntityState, data map[string]any) (Transition, error) {
			opts := optionsOf(cur)
			if len(opts) == 0 {
				return Transition{Skip: true}, nil
			}
			cycle := true
			if c, ok := data["cycle"].(bool); ok {
				cycle = c
			}
			i := slices.Index(opts, stateOf(cur)) + delta
			switch {
			case i >= len(opts) && cycle:
				i = 0
			case i >= len(opts):
				i = len(opts) - 1
			case i < 0 && cycle:
				i = len(opts) - 1
			case i < 0:
				i = 0
			}
			return Transition{State: opts[i], Attributes: attrsOf(cur)}, nil
		}
	}
	edge := func(last bool) EntityHandler {
		return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
			opts := optionsOf(cur)
			if len(opts) == 0 {
				return Transition{Skip: true}, nil
			}
			if last {
				return Transition{State: opts[len(opts)-1], Attributes: attrsOf(cur)}, nil
			}
			return Transition{State: opts[0], Attributes: attrsOf(cur)}, nil
		}
	}

	t := map[string]EntityHandler{
		"select_option": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			option, ok := data["option"].(string)
			if !ok {
				return Transition{}, missingField("option")
			}
			if opts := optionsOf(cur); len(opts) > 0 && !slices.Contains(opts, option) {
				return Transition{}, fmt.Errorf("%w: invalid option %q", ErrInvalidData, option)
			}
			return Transition{State: option, Attributes: attrsOf(cur)}, nil
		},
		"select_next":     step(1),
		"select_previous": step(-1),
		"select_first":    edge(false),
		"select_last":     edge(true),
	}
	if helper {
		t["set_options"] = func(cur *core.EntityState, data map[string]any) (Transition, error) {
			opts := core.ToStringList(data["options"])
			if len(opts) == 0 {
				return Transition{}, missingField("options")
			}
			next := stateOf(cur)
			if !slices.Contains(opts, next) {
				next = opts[0]
			}
			return Transition{State: next, Attributes: mergeInto(cur, map[string]any{"options": opts})}, nil
		}
	}
	return t
}

func buttonTable(r *Registry) map[string]EntityHandler {
	return map[string]EntityHandler{
		"press": func(cur *core.EntityState, _ map[string]any) (Transition, error) {
			return Transition{State: core.FormatTime(r.now()), Attributes: attrsOf(cur)}, nil
		},
	}
}

func datetimeTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"set_datetime": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			date, _ := data["date"].(string)
			tod, _ := data["time"].(string)
			var next string
			switch {
			case data["datetime"] != nil:
				next = fmt.Sprint(data["datetime"])
			case date != "" && tod != "":
				next = date + " " + tod
			case date != "":
				next = date
			case tod != "":
				next = tod
			default:
				return Transition{}, missingField("datetime, date or time")
			}
			return Transition{State: next, Attributes: attrsOf(cur)}, nil
		},
	}
}

// ─── Climate and water heaters ──────────────────────────────────────

func climateTable() map[string]EntityHandler {
	turnOn := func(cur *core.EntityState, _ map[string]any) (Transition, error) {
		if s := stateOf(cur); s != "" && s != core.StateOff && s != core.StateUnknown {
			return keep(cur), nil
		}
		next := "heat"
		for _, m := range core.ToStringList(attrsOf(cur)["hvac_modes"]) {
			if m != core.StateOff {
				next = m
				break
			}
		}
		return Transition{State: next, Attributes: attrsOf(cur)}, nil
	}
	return map[string]EntityHandler{
		"set_temperature": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			updates := make(map[string]any)
			for _, k := range []string{"temperature", "target_temp_high", "target_temp_low"} {
				if v, ok := data[k]; ok {
					updates[k] = v
				}
			}
			if len(updates) == 0 {
				return Transition{}, missingField("temperature")
			}
			next := stateOf(cur)
			if mode, ok := data["hvac_mode"].(string); ok && mode != "" {
				next = mode
			}
			return Transition{State: next, Attributes: mergeInto(cur, updates)}, nil
		},
		"set_hvac_mode": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			mode, ok := data["hvac_mode"].(string)
			if !ok || mode == "" {
				return Transition{}, missingField("hvac_mode")
			}
			return Transition{State: mode, Attributes: attrsOf(cur)}, nil
		},
		"set_fan_mode":    attr("fan_mode", "fan_mode"),
		"set_preset_mode": attr("preset_mode", "preset_mode"),
		"set_swing_mode":  attr("swing_mode", "swing_mode"),
		"set_humidity":    attr("humidity", "humidity"),
		ServiceTurnOn:     turnOn,
		ServiceTurnOff:    to(core.StateOff),
		ServiceToggle: func(cur *core.EntityState, data map[string]any) (Transition, error) {
			if s := stateOf(cur); s != "" && s != core.StateOff {
				return Transition{State: core.StateOff, Attributes: attrsOf(cur)}, nil
			}
			return turnOn(cur, data)
		},
	}
}

func waterHeaterTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"set_temperature": attr("temperature", "temperature"),
		"set_operation_mode": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			mode, ok := data["operation_mode"].(string)
			if !ok || mode == "" {
				return Transition{}, missingField("operation_mode")
			}
			return Transition{State: mode, Attributes: mergeInto(cur, map[string]any{"operation_mode": mode})}, nil
		},
		"set_away_mode": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			away, ok := data["away_mode"].(bool)
			if !ok {
				return Transition{}, missingField("away_mode")
			}
			v := core.StateOff
			if away {
				v = core.StateOn
			}
			return Transition{State: stateOf(cur), Attributes: mergeInto(cur, map[string]any{"away_mode": v})}, nil
		},
		ServiceTurnOn: func(cur *core.EntityState, _ map[string]any) (Transition, error) {
			mode, _ := attrsOf(cur)["operation_mode"].(string)
			if mode == "" || mode == core.StateOff {
				mode = "eco"
			}
			return Transition{State: mode, Attributes: attrsOf(cur)}, nil
		},
		ServiceTurnOff: to(core.StateOff),
	}
}

// ─── Media players, vacuums, timers ─────────────────────────────────

func mediaPlayerTable() map[string]EntityHandler {
	volumeStep := func(delta float64) EntityHandler {
		return func(cur *core.EntityState, _ map[string]any) (Transition, error) {
			v, _ := core.ToFloat(attrsOf(cur)["volume_level"])
			next := math.Round(clamp(v+delta, 0, 1)*100) / 100
			return Transition{State: stateOf(cur), Attributes: mergeInto(cur, map[string]any{"volume_level": next})}, nil
		}
	}
	return map[string]EntityHandler{
		ServiceTurnOn:          to(core.StateOn),
		ServiceTurnOff:         to(core.StateOff),
		ServiceToggle:          toggle(core.StateOn, core.StateOff),
		"media_play":           to(statePlaying),
		"media_pause":          to(statePaused),
		"media_stop":           to(stateIdle),
		"media_play_pause":     toggle(statePlaying, statePaused),
		"media_next_track":     skip,
		"media_previous_track": skip,
		"media_seek":           attr("seek_position", "media_position"),
		"volume_set": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			v, err := number(data, "volume_level")
			if err != nil {
				return Transition{}, err
			}
			return Transition{State: stateOf(cur), Attributes: mergeInto(cur, map[string]any{"volume_level": clamp(v, 0, 1)})}, nil
		},
		"volume_mute":       attr("is_volume_muted", "is_volume_muted"),
		"volume_up":         volumeStep(0.1),
		"volume_down":       volumeStep(-0.1),
		"select_source":     attr("source", "source"),
		"select_sound_mode": attr("sound_mode", "sound_mode"),
		"shuffle_set":       attr("shuffle", "shuffle"),
		"repeat_set":        attr("repeat", "repeat"),
		"play_media": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			id, ok := data["media_content_id"]
			if !ok {
				return Transition{}, missingField("media_content_id")
			}
			return Transition{State: statePlaying, Attributes: mergeInto(cur, map[string]any{
				"media_content_id":   id,
				"media_content_type": data["media_content_type"],
			})}, nil
		},
	}
}

func vacuumTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"start":          to(stateCleaning),
		"pause":          to(statePaused),
		"stop":           to(stateIdle),
		"return_to_base": to(stateReturning),
		"clean_spot":     to(stateCleaning),
		"start_pause":    toggle(stateCleaning, statePaused),
		"locate":         skip,
		"set_fan_speed":  attr("fan_speed", "fan_speed"),
		ServiceTurnOn:    to(core.StateOn),
		ServiceTurnOff:   to(core.StateOff),
	}
}

func timerTable() map[string]EntityHandler {
	return map[string]EntityHandler{
		"start": func(cur *core.EntityState, data map[string]any) (Transition, error) {
			attrs := attrsOf(cur)
			if d, ok := data["duration"]; ok {
				attrs["duration"] = fmt.Sprint(d)
				attrs["remaining"] = fmt.Sprint(d)
			}
			return Transition{State: stateActive, Attributes: attrs}, nil
		},
		"pause":  to(statePaused),
		"cancel": to(stateIdle),
		"finish": to(stateIdle),
		"change": skip,
	}
}

// lower normalises free-form state strings used in reproduction.
func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
