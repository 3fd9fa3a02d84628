package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/sun"
)

// checkConditions ANDs conds against the current state. An empty list is
// true. A condition that cannot be evaluated counts as false and is logged.
func (e *Engine) checkConditions(entityID string, conds []Condition, vars map[string]any) bool {
	for i := range conds {
		ok, err := e.check(&conds[i], vars)
		if err != nil {
			e.logger.Warn("condition error", "automation", entityID, "condition", conds[i].Condition, "error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func (e *Engine) check(c *Condition, vars map[string]any) (bool, error) {
	switch c.Condition {
	case ConditionState:
		return e.checkState(c)
	case ConditionNumericState:
		return e.checkNumericState(c)
	case ConditionTemplate:
		ok, err := e.renderer.RenderBool(c.ValueTemplate, vars)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrConditionFailed, err)
		}
		return ok, nil
	case ConditionTime:
		return e.checkTime(c)
	case ConditionSun:
		return e.checkSun(c)
	case ConditionTrigger:
		trig, _ := vars["trigger"].(map[string]any)
		id, _ := trig["id"].(string)
		return contains(c.TriggerIDs, id), nil
	case ConditionAnd:
		for i := range c.Conditions {
			ok, err := e.check(&c.Conditions[i], vars)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ConditionOr:
		var firstErr error
		for i := range c.Conditions {
			ok, err := e.check(&c.Conditions[i], vars)
			if ok {
				return true, nil
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return false, firstErr
	case ConditionNot:
		for i := range c.Conditions {
			ok, err := e.check(&c.Conditions[i], vars)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown condition %q", ErrConditionFailed, c.Condition)
}

// checkState requires every entity to be in one of the listed states.
func (e *Engine) checkState(c *Condition) (bool, error) {
	for _, id := range c.EntityIDs {
		st, err := e.states.Get(id)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrConditionFailed, id, err)
		}
		if !contains(c.State, stateValue(&st, c.Attribute)) {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) checkNumericState(c *Condition) (bool, error) {
	for _, id := range c.EntityIDs {
		st, err := e.states.Get(id)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %v", ErrConditionFailed, id, err)
		}
		v, ok := numericValue(&st, c.Attribute)
		if !ok {
			return false, fmt.Errorf("%w: %s: value %q is not numeric", ErrConditionFailed, id, st.State)
		}
		if !inRange(v, c.Above, c.Below) {
			return false, nil
		}
	}
	return true, nil
}

// checkTime handles ranges that wrap midnight (after 22:00, before 06:00).
func (e *Engine) checkTime(c *Condition) (bool, error) {
	now := e.now().In(e.loc)

	if len(c.Weekday) > 0 {
		match := false
		for _, d := range c.Weekday {
			if weekdays[strings.ToLower(d)] == now.Weekday() {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}

	cur := sinceMidnight(now)
	after, before := time.Duration(0), 24*time.Hour
	if c.After != "" {
		if after = e.timeOfDay(c.After); after < 0 {
			return false, fmt.Errorf("%w: cannot resolve after %q", ErrConditionFailed, c.After)
		}
	}
	if c.Before != "" {
		if before = e.timeOfDay(c.Before); before < 0 {
			return false, fmt.Errorf("%w: cannot resolve before %q", ErrConditionFailed, c.Before)
		}
	}

	if after <= before {
		return cur >= after && cur < before, nil
	}
	return cur >= after || cur < before, nil
}

// checkSun treats "after sunset, before sunrise" as the night spanning midnight.
func (e *Engine) checkSun(c *Condition) (bool, error) {
	if e.sun == nil {
		return false, fmt.Errorf("%w: no site location configured", ErrConditionFailed)
	}
	now := e.now()

	var afterAt, beforeAt time.Time
	if c.After != "" {
		t, ok := e.sun.EventTime(c.After, now)
		if !ok {
			return false, nil
		}
		afterAt = t.Add(c.afterOffset)
	}
	if c.Before != "" {
		t, ok := e.sun.EventTime(c.Before, now)
		if !ok {
			return false, nil
		}
		beforeAt = t.Add(c.beforeOffset)
	}

	switch {
	case c.After != "" && c.Before != "":
		if c.After == sun.EventSunset && c.Before == sun.EventSunrise {
			return now.After(afterAt) || now.Before(beforeAt), nil
		}
		return now.After(afterAt) && now.Before(beforeAt), nil
	case c.After != "":
		return now.After(afterAt), nil
	default:
		return now.Before(beforeAt), nil
	}
}
