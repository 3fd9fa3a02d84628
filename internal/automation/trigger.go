package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/template"
)

// matchEvent checks every trigger of a against a bus event and returns the
// trigger variables of the first match.
func (e *Engine) matchEvent(a *automation, ev core.Event) (map[string]any, string, bool) {
	for i := range a.cfg.Triggers {
		t := &a.cfg.Triggers[i]
		var vars map[string]any
		var source string
		var ok bool

		switch t.Platform {
		case PlatformState:
			vars, source, ok = matchState(t, ev)
		case PlatformNumericState:
			vars, source, ok = matchNumericState(t, ev)
		case PlatformEvent:
			vars, source, ok = matchEventType(t, ev)
		case PlatformHomeAssistant:
			vars, source, ok = matchHomeAssistant(t, ev)
		case PlatformTemplate:
			vars, source, ok = e.matchTemplate(a, i, t, ev)
		}
		if ok {
			vars["id"] = triggerID(t, i)
			vars["idx"] = strconv.Itoa(i)
			vars["platform"] = t.Platform
			return map[string]any{"trigger": vars}, source, true
		}
	}
	return nil, "", false
}

// matchState matches on the state (or attribute) value of the new record,
// not on whether it changed.
func matchState(t *Trigger, ev core.Event) (map[string]any, string, bool) {
	change, ok := ev.StateChange()
	if !ok || change.New == nil || !contains(t.EntityIDs, change.EntityID) {
		return nil, "", false
	}

	if len(t.To) > 0 && !contains(t.To, stateValue(change.New, t.Attribute)) {
		return nil, "", false
	}
	if len(t.From) > 0 && (change.Old == nil || !contains(t.From, stateValue(change.Old, t.Attribute))) {
		return nil, "", false
	}

	return stateVars(change, ev, t.Attribute), "state of " + change.EntityID, true
}

// matchNumericState fires when the value crosses into the above/below range.
func matchNumericState(t *Trigger, ev core.Event) (map[string]any, string, bool) {
	change, ok := ev.StateChange()
	if !ok || change.New == nil || !contains(t.EntityIDs, change.EntityID) {
		return nil, "", false
	}

	v, ok := numericValue(change.New, t.Attribute)
	if !ok || !inRange(v, t.Above, t.Below) {
		return nil, "", false
	}
	if change.Old != nil {
		if old, ok := numericValue(change.Old, t.Attribute); ok && inRange(old, t.Above, t.Below) {
			return nil, "", false
		}
	}

	vars := stateVars(change, ev, t.Attribute)
	if t.Above != nil {
		vars["above"] = *t.Above
	}
	if t.Below != nil {
		vars["below"] = *t.Below
	}
	return vars, "numeric state of " + change.EntityID, true
}

// matchEventType compares event types exactly; dots are literal.
func matchEventType(t *Trigger, ev core.Event) (map[string]any, string, bool) {
	if !contains(t.EventType, ev.EventType) {
		return nil, "", false
	}
	if len(t.EventData) > 0 && !subset(ev.Data, t.EventData) {
		return nil, "", false
	}
	return map[string]any{"event": eventVars(ev)}, fmt.Sprintf("event %s", ev.EventType), true
}

func matchHomeAssistant(t *Trigger, ev core.Event) (map[string]any, string, bool) {
	want := core.EventHubStart
	if t.Event == "shutdown" {
		want = core.EventHubStop
	}
	if ev.EventType != want {
		return nil, "", false
	}
	return map[string]any{"event": t.Event}, "Home Assistant " + t.Event, true
}

// matchTemplate fires when the template turns true after a state change.
// The last rendered value is remembered per trigger.
func (e *Engine) matchTemplate(a *automation, idx int, t *Trigger, ev core.Event) (map[string]any, string, bool) {
	change, ok := ev.StateChange()
	if !ok {
		return nil, "", false
	}

	result, err := e.renderer.RenderBool(t.ValueTemplate, nil)
	if err != nil {
		e.logger.Warn("template trigger failed", "automation", a.entityID, "error", err)
		result = false
	}

	a.mu.Lock()
	was := a.templateState[idx]
	a.templateState[idx] = result
	a.mu.Unlock()

	if !result || was {
		return nil, "", false
	}
	return stateVars(change, ev, ""), "template", true
}

// ─── Scheduled triggers ─────────────────────────────────────────────

// matchTime checks the clock-driven triggers of a for the second at.
func (e *Engine) matchTime(a *automation, at time.Time) (map[string]any, string, bool) {
	local := at.In(e.loc)
	for i := range a.cfg.Triggers {
		t := &a.cfg.Triggers[i]
		var ok bool
		source := t.Platform

		switch t.Platform {
		case PlatformTime:
			for _, when := range t.At {
				if d := e.timeOfDay(when); d >= 0 && d == sinceMidnight(local) {
					ok = true
					source = "time " + when
					break
				}
			}
		case PlatformTimePattern:
			ok = t.pattern != nil && t.pattern.matches(local)
		case PlatformSun:
			ok = e.matchSun(t, at)
			source = "sun " + t.Event
		}

		if ok {
			vars := map[string]any{
				"id":       triggerID(t, i),
				"idx":      strconv.Itoa(i),
				"platform": t.Platform,
				"now":      core.FormatTime(local),
			}
			if t.Platform == PlatformSun {
				vars["event"] = t.Event
				vars["offset"] = t.offset.String()
			}
			return map[string]any{"trigger": vars}, source, true
		}
	}
	return nil, "", false
}

func (e *Engine) matchSun(t *Trigger, at time.Time) bool {
	if e.sun == nil {
		return false
	}
	base := at.Add(-t.offset)
	when, ok := e.sun.EventTime(t.Event, base)
	if !ok {
		return false
	}
	return when.Add(t.offset).Truncate(time.Second).Equal(at.Truncate(time.Second))
}

// timeOfDay resolves "HH:MM[:SS]" or an input_datetime style entity whose
// state ends in a time. Unresolvable values return -1.
func (e *Engine) timeOfDay(value string) time.Duration {
	if d, err := parseTimeOfDay(value); err == nil {
		return d
	}
	st, err := e.states.Get(value)
	if err != nil {
		return -1
	}
	value = st.State
	if i := strings.LastIndex(value, " "); i >= 0 {
		value = value[i+1:]
	}
	d, err := parseTimeOfDay(value)
	if err != nil {
		return -1
	}
	return d
}

// ─── Helpers ────────────────────────────────────────────────────────

func triggerID(t *Trigger, idx int) string {
	if t.ID != "" {
		return t.ID
	}
	return strconv.Itoa(idx)
}

func stateVars(change core.StateChange, ev core.Event, attribute string) map[string]any {
	vars := map[string]any{
		"entity_id":  change.EntityID,
		"from_state": template.StateVars(change.Old),
		"to_state":   template.StateVars(change.New),
		"event":      eventVars(ev),
	}
	if attribute != "" {
		vars["attribute"] = attribute
	}
	return vars
}

func eventVars(ev core.Event) map[string]any {
	return map[string]any{
		"event_type": ev.EventType,
		"data":       ev.Data,
		"origin":     string(ev.Origin),
		"time_fired": core.FormatTime(ev.TimeFired),
		"context":    map[string]any{"id": ev.Context.ID, "parent_id": ev.Context.ParentID},
	}
}

// stateValue is the state, or the stringified attribute when one is named.
func stateValue(st *core.EntityState, attribute string) string {
	if attribute == "" {
		return st.State
	}
	v, ok := st.Attr(attribute)
	if !ok || v == nil {
		return ""
	}
	if f, ok := core.ToFloat(v); ok {
		if _, isString := v.(string); !isString {
			return core.FormatNumber(f)
		}
	}
	return fmt.Sprint(v)
}

func numericValue(st *core.EntityState, attribute string) (float64, bool) {
	if attribute == "" {
		return core.ToFloat(st.State)
	}
	v, ok := st.Attr(attribute)
	if !ok {
		return 0, false
	}
	return core.ToFloat(v)
}

func inRange(v float64, above, below *float64) bool {
	if above != nil && v <= *above {
		return false
	}
	if below != nil && v >= *below {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// subset reports whether every key of want is in have with an equal value.
// Nested maps are compared recursively; scalars by their printed form.
func subset(have, want map[string]any) bool {
	for k, w := range want {
		h, ok := have[k]
		if !ok {
			return false
		}
		wm, wIsMap := w.(map[string]any)
		hm, hIsMap := h.(map[string]any)
		switch {
		case wIsMap && hIsMap:
			if !subset(hm, wm) {
				return false
			}
		case wIsMap != hIsMap:
			return false
		case fmt.Sprint(h) != fmt.Sprint(w):
			return false
		}
	}
	return true
}
