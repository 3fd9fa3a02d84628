package automation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/sun"
	"github.com/nerrad567/gray-logic-hub/internal/template"
)

type rawConfig struct {
	ID           string `mapstructure:"id"`
	Alias        string `mapstructure:"alias"`
	Description  string `mapstructure:"description"`
	Mode         string `mapstructure:"mode"`
	Max          int    `mapstructure:"max"`
	InitialState *bool  `mapstructure:"initial_state"`
}

// Decode parses one automation definition in Home Assistant form. Both the
// singular and plural keys are accepted (trigger/triggers, condition/conditions,
// action/actions), as is "platform" or "trigger" for the trigger type.
func Decode(raw map[string]any) (*Config, error) {
	var rc rawConfig
	if err := decode(raw, &rc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := &Config{
		ID:           rc.ID,
		Alias:        rc.Alias,
		Description:  rc.Description,
		Mode:         Mode(rc.Mode),
		Max:          rc.Max,
		InitialState: rc.InitialState,
		Raw:          core.CloneMap(raw),
	}
	if cfg.Name() == "" {
		return nil, fmt.Errorf("%w: id or alias is required", ErrInvalidConfig)
	}

	switch cfg.Mode {
	case "":
		cfg.Mode = ModeSingle
	case ModeSingle, ModeRestart, ModeQueued, ModeParallel:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultMax
	}

	var err error
	if cfg.Triggers, err = parseTriggers(pick(raw, "triggers", "trigger")); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
	}
	if cfg.Conditions, err = parseConditions(pick(raw, "conditions", "condition")); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
	}
	if cfg.Actions, err = parseActions(pick(raw, "actions", "action")); err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Name(), err)
	}
	if len(cfg.Actions) == 0 {
		return nil, fmt.Errorf("%w: %s: no actions", ErrInvalidConfig, cfg.Name())
	}
	return cfg, nil
}

// DecodeAll parses every definition. Definitions that fail are skipped and
// their errors joined; the rest are returned.
func DecodeAll(raws []map[string]any) ([]*Config, error) {
	configs := make([]*Config, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		cfg, err := Decode(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("automation %d: %w", i, err))
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, errors.Join(errs...)
}

// ─── Triggers ───────────────────────────────────────────────────────

func parseTriggers(raw any) ([]Trigger, error) {
	items := asList(raw)
	triggers := make([]Trigger, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: trigger %d is not a map", ErrInvalidConfig, i)
		}
		t, err := parseTrigger(m)
		if err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

func parseTrigger(m map[string]any) (Trigger, error) {
	var t Trigger
	if err := decode(m, &t); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if t.Platform == "" {
		t.Platform, _ = m["trigger"].(string)
	}

	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s trigger: %s", ErrInvalidConfig, t.Platform, fmt.Sprintf(format, args...))
	}

	switch t.Platform {
	case PlatformState:
		if len(t.EntityIDs) == 0 {
			return t, invalid("entity_id is required")
		}
	case PlatformNumericState:
		if len(t.EntityIDs) == 0 {
			return t, invalid("entity_id is required")
		}
		if t.Above == nil && t.Below == nil {
			return t, invalid("above or below is required")
		}
	case PlatformEvent:
		if len(t.EventType) == 0 {
			return t, invalid("event_type is required")
		}
	case PlatformTime:
		if len(t.At) == 0 {
			return t, invalid("at is required")
		}
		for _, at := range t.At {
			if _, err := parseTimeOfDay(at); err != nil && !core.ValidEntityID(at) {
				return t, invalid("at %q: %v", at, err)
			}
		}
	case PlatformTimePattern:
		p, err := parseTimePattern(t.Hours, t.Minutes, t.Seconds)
		if err != nil {
			return t, invalid("%v", err)
		}
		t.pattern = p
	case PlatformWebhook:
		if t.WebhookID == "" {
			return t, invalid("webhook_id is required")
		}
	case PlatformHomeAssistant:
		if t.Event != "start" && t.Event != "shutdown" {
			return t, invalid("event must be start or shutdown")
		}
	case PlatformTemplate:
		if t.ValueTemplate == "" {
			return t, invalid("value_template is required")
		}
	case PlatformSun:
		if t.Event != sun.EventSunrise && t.Event != sun.EventSunset {
			return t, invalid("event must be sunrise or sunset")
		}
		d, err := parseDuration(t.Offset)
		if err != nil {
			return t, invalid("offset: %v", err)
		}
		t.offset = d
	default:
		return t, fmt.Errorf("%w: unknown trigger platform %q", ErrInvalidConfig, t.Platform)
	}
	return t, nil
}

// ─── Conditions ─────────────────────────────────────────────────────

func parseConditions(raw any) ([]Condition, error) {
	items := asList(raw)
	conds := make([]Condition, 0, len(items))
	for i, item := range items {
		c, err := parseCondition(item)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func parseCondition(raw any) (Condition, error) {
	var c Condition

	// A bare string is template shorthand.
	if s, ok := raw.(string); ok {
		c.Condition = ConditionTemplate
		c.ValueTemplate = s
		return c, nil
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return c, fmt.Errorf("%w: condition must be a map or template string", ErrInvalidConfig)
	}

	nested := m["conditions"]
	if _, has := m["condition"]; !has {
		// Shorthand: {and: [...]}, {or: [...]}, {not: [...]}.
		for _, kind := range []string{ConditionAnd, ConditionOr, ConditionNot} {
			if v, ok := m[kind]; ok {
				c.Condition = kind
				nested = v
			}
		}
		if c.Condition == "" {
			return c, fmt.Errorf("%w: condition type is required", ErrInvalidConfig)
		}
	} else if err := decode(m, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s condition: %s", ErrInvalidConfig, c.Condition, msg)
	}

	switch c.Condition {
	case ConditionState:
		if len(c.EntityIDs) == 0 || len(c.State) == 0 {
			return c, invalid("entity_id and state are required")
		}
	case ConditionNumericState:
		if len(c.EntityIDs) == 0 {
			return c, invalid("entity_id is required")
		}
		if c.Above == nil && c.Below == nil {
			return c, invalid("above or below is required")
		}
	case ConditionTemplate:
		if c.ValueTemplate == "" {
			return c, invalid("value_template is required")
		}
	case ConditionTime:
		if c.After == "" && c.Before == "" && len(c.Weekday) == 0 {
			return c, invalid("after, before or weekday is required")
		}
		for _, v := range []string{c.After, c.Before} {
			if v == "" || core.ValidEntityID(v) {
				continue
			}
			if _, err := parseTimeOfDay(v); err != nil {
				return c, invalid(err.Error())
			}
		}
		for _, d := range c.Weekday {
			if _, ok := weekdays[strings.ToLower(d)]; !ok {
				return c, invalid(fmt.Sprintf("unknown weekday %q", d))
			}
		}
	case ConditionSun:
		if c.After == "" && c.Before == "" {
			return c, invalid("after or before is required")
		}
		for _, v := range []string{c.After, c.Before} {
			if v != "" && v != sun.EventSunrise && v != sun.EventSunset {
				return c, invalid(fmt.Sprintf("%q is not sunrise or sunset", v))
			}
		}
		var err error
		if c.afterOffset, err = parseDuration(c.AfterOffset); err != nil {
			return c, invalid(err.Error())
		}
		if c.beforeOffset, err = parseDuration(c.BeforeOffset); err != nil {
			return c, invalid(err.Error())
		}
	case ConditionTrigger:
		if len(c.TriggerIDs) == 0 {
			return c, invalid("id is required")
		}
	case ConditionAnd, ConditionOr, ConditionNot:
		sub, err := parseConditions(nested)
		if err != nil {
			return c, err
		}
		c.Conditions = sub
	default:
		return c, fmt.Errorf("%w: unknown condition %q", ErrInvalidConfig, c.Condition)
	}
	return c, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ─── Actions ────────────────────────────────────────────────────────

func parseActions(raw any) ([]Action, error) {
	items := asList(raw)
	actions := make([]Action, 0, len(items))
	for i, item := range items {
		a, err := parseAction(item)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func parseAction(raw any) (Action, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Action{}, fmt.Errorf("%w: action must be a map", ErrInvalidConfig)
	}

	a := Action{}
	a.Alias, _ = m["alias"].(string)
	a.ContinueOnError, _ = m["continue_on_error"].(bool)

	if svc, ok := pick(m, "action", "service", "call_service").(string); ok {
		if !template.IsTemplate(svc) {
			if _, _, ok := splitService(svc); !ok {
				return a, fmt.Errorf("%w: service %q is not domain.service", ErrInvalidConfig, svc)
			}
		}
		a.Kind = ActionService
		a.Service = svc
		a.Target = m["target"]
		a.EntityID = m["entity_id"]
		a.Data = mergeMaps(m["data"], m["data_template"])
		return a, nil
	}

	switch {
	case m["event"] != nil:
		a.Kind = ActionEvent
		a.EventType, _ = m["event"].(string)
		if a.EventType == "" {
			return a, fmt.Errorf("%w: event must be a string", ErrInvalidConfig)
		}
		a.EventData = mergeMaps(m["event_data"], m["event_data_template"])

	case m["delay"] != nil:
		a.Kind = ActionDelay
		a.Delay = m["delay"]
		if s, ok := a.Delay.(string); !ok || !template.IsTemplate(s) {
			if _, err := parseDuration(a.Delay); err != nil {
				return a, fmt.Errorf("%w: delay: %v", ErrInvalidConfig, err)
			}
		}

	case m["scene"] != nil:
		a.Kind = ActionScene
		a.Scene, _ = m["scene"].(string)
		if !core.ValidEntityID(a.Scene) && !template.IsTemplate(a.Scene) {
			return a, fmt.Errorf("%w: scene %q is not an entity id", ErrInvalidConfig, a.Scene)
		}

	case m["condition"] != nil:
		c, err := parseCondition(m)
		if err != nil {
			return a, err
		}
		a.Kind = ActionCondition
		a.Condition = &c

	case m["stop"] != nil:
		a.Kind = ActionStop
		a.StopReason = fmt.Sprint(m["stop"])
		a.StopError, _ = m["error"].(bool)

	case m["choose"] != nil:
		a.Kind = ActionChoose
		for i, item := range asList(m["choose"]) {
			opt, ok := item.(map[string]any)
			if !ok {
				return a, fmt.Errorf("%w: choose option %d is not a map", ErrInvalidConfig, i)
			}
			conds, err := parseConditions(pick(opt, "conditions", "condition"))
			if err != nil {
				return a, fmt.Errorf("choose option %d: %w", i, err)
			}
			seq, err := parseActions(opt["sequence"])
			if err != nil {
				return a, fmt.Errorf("choose option %d: %w", i, err)
			}
			a.Choose = append(a.Choose, ChooseOption{Conditions: conds, Sequence: seq})
		}
		def, err := parseActions(m["default"])
		if err != nil {
			return a, fmt.Errorf("choose default: %w", err)
		}
		a.Default = def

	case m["parallel"] != nil:
		a.Kind = ActionParallel
		for i, item := range asList(m["parallel"]) {
			var branch []Action
			var err error
			if bm, ok := item.(map[string]any); ok && len(bm) == 1 && bm["sequence"] != nil {
				branch, err = parseActions(bm["sequence"])
			} else {
				var step Action
				step, err = parseAction(item)
				branch = []Action{step}
			}
			if err != nil {
				return a, fmt.Errorf("parallel branch %d: %w", i, err)
			}
			a.Branches = append(a.Branches, branch)
		}

	default:
		return a, fmt.Errorf("%w: unknown action", ErrInvalidConfig)
	}
	return a, nil
}

// ─── Durations and times ────────────────────────────────────────────

// parseDuration accepts "HH:MM", "HH:MM:SS(.fff)", Go durations ("90s"),
// a number of seconds, or a map of days/hours/minutes/seconds/milliseconds.
// A leading "-" negates string forms.
func parseDuration(v any) (time.Duration, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return parseDurationString(val)
	case map[string]any:
		units := map[string]time.Duration{
			"days": 24 * time.Hour, "hours": time.Hour, "minutes": time.Minute,
			"seconds": time.Second, "milliseconds": time.Millisecond,
		}
		var total time.Duration
		for k, item := range val {
			unit, ok := units[k]
			if !ok {
				return 0, fmt.Errorf("unknown unit %q", k)
			}
			f, ok := core.ToFloat(item)
			if !ok {
				return 0, fmt.Errorf("%s: not a number", k)
			}
			total += time.Duration(f * float64(unit))
		}
		return total, nil
	}
	if f, ok := core.ToFloat(v); ok {
		return time.Duration(f * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("unsupported duration %T", v)
}

func parseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var d time.Duration
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			d = time.Duration(f * float64(time.Second))
			break
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = parsed
	case 2, 3:
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec := 0.0
		var err3 error
		if len(parts) == 3 {
			sec, err3 = strconv.ParseFloat(parts[2], 64)
		}
		if err1 != nil || err2 != nil || err3 != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec*float64(time.Second))
	default:
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if neg {
		d = -d
	}
	return d, nil
}

// parseTimeOfDay parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func parseTimeOfDay(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	limits := []int{23, 59, 59}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}

// sinceMidnight returns how far t is into its day, to the second.
func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// timePattern matches clock fields: "*" any, "/n" every n, "n" exactly n.
type timePattern struct {
	hours, minutes, seconds patternField
}

type patternField struct {
	any   bool
	every int
	value int
}

func (f patternField) matches(n int) bool {
	switch {
	case f.any:
		return true
	case f.every > 0:
		return n%f.every == 0
	}
	return n == f.value
}

func (p *timePattern) matches(t time.Time) bool {
	return p.hours.matches(t.Hour()) && p.minutes.matches(t.Minute()) && p.seconds.matches(t.Second())
}

// parseTimePattern fills unset fields the way Home Assistant does: smaller
// units than the largest one given default to 0, larger ones to "*".
func parseTimePattern(hours, minutes, seconds string) (*timePattern, error) {
	if hours == "" && minutes == "" && seconds == "" {
		return nil, errors.New("hours, minutes or seconds is required")
	}
	if minutes == "" {
		minutes = "*"
		if hours != "" {
			minutes = "0"
		}
	}
	if seconds == "" {
		seconds = "*"
		if hours != "" || minutes != "*" {
			seconds = "0"
		}
	}
	if hours == "" {
		hours = "*"
	}

	var p timePattern
	for _, f := range []struct {
		raw string
		max int
		out *patternField
	}{{hours, 23, &p.hours}, {minutes, 59, &p.minutes}, {seconds, 59, &p.seconds}} {
		field, err := parsePatternField(f.raw, f.max)
		if err != nil {
			return nil, err
		}
		*f.out = field
	}
	return &p, nil
}

func parsePatternField(s string, maxValue int) (patternField, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return patternField{any: true}, nil
	}
	if rest, ok := strings.CutPrefix(s, "/"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 || n > maxValue {
			return patternField{}, fmt.Errorf("invalid interval %q", s)
		}
		return patternField{every: n}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > maxValue {
		return patternField{}, fmt.Errorf("invalid value %q", s)
	}
	return patternField{value: n}, nil
}

// ─── Helpers ────────────────────────────────────────────────────────

// decode maps a loose config map onto a tagged struct. Single values are
// promoted to lists, numbers to strings, and booleans to "on"/"off".
func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncKind(boolToState),
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	return dec.Decode(in)
}

func boolToState(from, to reflect.Kind, data any) (any, error) {
	if from == reflect.Bool && to == reflect.String {
		if data.(bool) {
			return core.StateOn, nil
		}
		return core.StateOff, nil
	}
	return data, nil
}

// pick returns the first of keys present in m.
func pick(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// asList normalises a single item or list into a list.
func asList(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	}
	return []any{raw}
}

func mergeMaps(maps ...any) map[string]any {
	out := map[string]any{}
	for _, m := range maps {
		if mm, ok := m.(map[string]any); ok {
			for k, v := range mm {
				out[k] = core.CloneValue(v)
			}
		}
	}
	return out
}
