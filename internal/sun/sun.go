package sun

import (
	"context"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// EntityID is the entity the Tracker maintains.
const EntityID = "sun.sun"

// Entity states.
const (
	StateAboveHorizon = "above_horizon"
	StateBelowHorizon = "below_horizon"
)

// Sun events usable in triggers and conditions.
const (
	EventSunrise = "sunrise"
	EventSunset  = "sunset"
)

// searchDays bounds Next when the sun does not rise or set (polar day/night).
const searchDays = 3

// Calculator answers sun questions for one location. It is immutable and
// safe for concurrent use.
type Calculator struct {
	latitude  float64
	longitude float64
	loc       *time.Location
}

// New creates a calculator. A nil loc means UTC.
func New(latitude, longitude float64, loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{latitude: latitude, longitude: longitude, loc: loc}
}

// Location returns the calculator's time zone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Times returns sunrise and sunset for the local day containing t.
// ok is false when the sun neither rises nor sets that day.
func (c *Calculator) Times(t time.Time) (rise, set time.Time, ok bool) {
	d := t.In(c.loc)
	rise, set = sunrise.SunriseSunset(c.latitude, c.longitude, d.Year(), d.Month(), d.Day())
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return rise.In(c.loc), set.In(c.loc), true
}

// EventTime returns the time of event (EventSunrise or EventSunset) on the
// local day containing day.
func (c *Calculator) EventTime(event string, day time.Time) (time.Time, bool) {
	rise, set, ok := c.Times(day)
	if !ok {
		return time.Time{}, false
	}
	switch event {
	case EventSunrise:
		return rise, true
	case EventSunset:
		return set, true
	}
	return time.Time{}, false
}

// Next returns the first occurrence of event strictly after t.
func (c *Calculator) Next(event string, t time.Time) (time.Time, bool) {
	day := t.In(c.loc)
	for i := 0; i <= searchDays; i++ {
		at, ok := c.EventTime(event, day.AddDate(0, 0, i))
		if ok && at.After(t) {
			return at, true
		}
	}
	return time.Time{}, false
}

// IsUp reports whether the sun is above the horizon at t.
func (c *Calculator) IsUp(t time.Time) bool {
	rise, set, ok := c.Times(t)
	if !ok {
		return false
	}
	return !t.Before(rise) && t.Before(set)
}

// ─── Tracker ────────────────────────────────────────────────────────

// StateWriter is the subset of the state store the tracker writes to.
type StateWriter interface {
	Set(ctx context.Context, entityID, state string, attrs map[string]any) (core.EntityState, bool, error)
}

// Logger defines the logging interface used by the Tracker.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// maxSleep caps the wait between updates so clock jumps are picked up.
const maxSleep = time.Hour

// Tracker keeps sun.sun in the state store.
type Tracker struct {
	calc   *Calculator
	states StateWriter
	logger Logger
	now    func() time.Time
}

// NewTracker creates a tracker writing to states.
func NewTracker(calc *Calculator, states StateWriter) *Tracker {
	return &Tracker{calc: calc, states: states, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the tracker.
func (t *Tracker) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// SetClock overrides the time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Update writes the current sun state and returns when it next changes.
// The time is zero when the sun neither rises nor sets in the search window.
func (t *Tracker) Update(ctx context.Context) (time.Time, error) {
	now := t.now()
	state := StateBelowHorizon
	if t.calc.IsUp(now) {
		state = StateAboveHorizon
	}

	attrs := map[string]any{"friendly_name": "Sun"}
	var next time.Time
	if rising, ok := t.calc.Next(EventSunrise, now); ok {
		attrs["next_rising"] = core.FormatTime(rising)
		next = rising
	}
	if setting, ok := t.calc.Next(EventSunset, now); ok {
		attrs["next_setting"] = core.FormatTime(setting)
		if next.IsZero() || setting.Before(next) {
			next = setting
		}
	}

	if _, _, err := t.states.Set(ctx, EntityID, state, attrs); err != nil {
		return next, err
	}
	return next, nil
}

// Run updates sun.sun at every sunrise and sunset until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	for {
		next, err := t.Update(ctx)
		if err != nil {
			t.logger.Warn("updating sun state failed", "error", err)
		}

		wait := time.Until(next) + time.Second
		if next.IsZero() || wait > maxSleep || wait <= 0 {
			wait = maxSleep
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
