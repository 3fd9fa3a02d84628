package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/internal/sun"
	"github.com/nerrad567/gray-logic-hub/internal/template"
)

const (
	waitFor  = 2 * time.Second
	pollTick = 10 * time.Millisecond
	quiet    = 250 * time.Millisecond
)

type fixture struct {
	bus      *eventbus.Bus
	store    *state.Store
	services *service.Registry
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	store := state.New(bus)
	services := service.NewRegistry(store, bus)
	service.RegisterBuiltins(services)

	engine := NewEngine(store, services, bus, template.New(store))
	engine.SetLocation(time.UTC)
	require.NoError(t, engine.RegisterServices(services))
	t.Cleanup(engine.Stop)

	return &fixture{bus: bus, store: store, services: services, engine: engine}
}

// load parses a YAML list of automations and loads them.
func (f *fixture) load(t *testing.T, doc string) {
	t.Helper()
	var raws []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &raws))
	configs, err := DecodeAll(raws)
	require.NoError(t, err)
	f.engine.Load(context.Background(), configs)
}

func (f *fixture) set(t *testing.T, entityID, value string) {
	t.Helper()
	_, _, err := f.store.Set(context.Background(), entityID, value, nil)
	require.NoError(t, err)
}

func (f *fixture) state(entityID string) string {
	st, err := f.store.Get(entityID)
	if err != nil {
		return ""
	}
	return st.State
}

func (f *fixture) eventually(t *testing.T, entityID, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return f.state(entityID) == want }, waitFor, pollTick,
		"%s never became %q (is %q)", entityID, want, f.state(entityID))
}

func (f *fixture) never(t *testing.T, entityID, value string) {
	t.Helper()
	assert.Never(t, func() bool { return f.state(entityID) == value }, quiet, pollTick,
		"%s unexpectedly became %q", entityID, value)
}

// idle waits until the automation has no active or queued run.
func (f *fixture) idle(t *testing.T, entityID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := f.engine.Get(entityID)
		return err == nil && info.Current == 0
	}, waitFor, pollTick)
}

const smokeAutomation = `
- id: smoke_unlock
  alias: Unlock on smoke
  triggers:
    - platform: state
      entity_id: binary_sensor.smoke
      to: "on"
  actions:
    - call_service: lock.unlock
      target: lock.front_door
`

func TestEngine_SmokeUnlocksFrontDoor(t *testing.T) {
	f := newFixture(t)
	f.set(t, "lock.front_door", "locked")
	f.set(t, "binary_sensor.smoke", "off")
	f.load(t, smokeAutomation)
	f.engine.Start()

	f.set(t, "binary_sensor.smoke", "on")
	f.eventually(t, "lock.front_door", "unlocked")
}

func TestEngine_OtherValuesDoNotUnlock(t *testing.T) {
	f := newFixture(t)
	f.set(t, "lock.front_door", "locked")
	f.set(t, "binary_sensor.smoke", "off")
	f.load(t, smokeAutomation)
	f.engine.Start()

	for _, v := range []string{"detected", "unavailable", "off", "ON"} {
		f.set(t, "binary_sensor.smoke", v)
	}
	f.never(t, "lock.front_door", "unlocked")
}

func TestEngine_PublishesAutomationEntity(t *testing.T) {
	f := newFixture(t)
	f.load(t, smokeAutomation)

	st, err := f.store.Get("automation.unlock_on_smoke")
	require.NoError(t, err)
	assert.Equal(t, core.StateOn, st.State)
	assert.Equal(t, "smoke_unlock", st.Attributes["id"])
	assert.Equal(t, "Unlock on smoke", st.Attributes["friendly_name"])
	assert.Equal(t, "single", st.Attributes["mode"])
	assert.EqualValues(t, 0, st.Attributes["current"])
	assert.Nil(t, st.Attributes["last_triggered"])
}

func TestEngine_FromFilter(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "switch.a", "unavailable")
	f.load(t, `
- id: from_off
  triggers:
    - platform: state
      entity_id: switch.a
      from: "off"
      to: "on"
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.set(t, "switch.a", "on") // from unavailable
	f.set(t, "switch.a", "off")
	f.set(t, "switch.a", "on")

	f.eventually(t, "counter.runs", "1")
	f.never(t, "counter.runs", "2")
}

func TestEngine_DisabledAutomationNeverRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.set(t, "binary_sensor.smoke", "off")
	f.load(t, `
- id: count_smoke
  triggers:
    - platform: state
      entity_id: binary_sensor.smoke
      to: "on"
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	require.NoError(t, f.engine.Disable(ctx, "automation.count_smoke"))
	assert.Equal(t, core.StateOff, f.state("automation.count_smoke"))

	f.set(t, "binary_sensor.smoke", "on")
	f.never(t, "counter.runs", "1")

	require.NoError(t, f.engine.Enable(ctx, "automation.count_smoke"))
	assert.Equal(t, core.StateOn, f.state("automation.count_smoke"))

	f.set(t, "binary_sensor.smoke", "off")
	f.set(t, "binary_sensor.smoke", "on")
	f.eventually(t, "counter.runs", "1")
}

func TestEngine_UnrelatedEventsLeaveStateAlone(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: watcher
  triggers:
    - platform: state
      entity_id: binary_sensor.smoke
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.set(t, "binary_sensor.other", "on")
	f.bus.Fire(context.Background(), "something_happened", map[string]any{"entity_id": "binary_sensor.smoke"}, core.OriginLocal)
	f.never(t, "counter.runs", "1")
}

func TestEngine_FailedStepAbortsOnlyItsOwnRun(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.a", "0")
	f.set(t, "counter.b", "0")
	f.set(t, "switch.trigger", "off")
	f.load(t, `
- id: broken
  triggers:
    - platform: state
      entity_id: switch.trigger
      to: "on"
  actions:
    - service: lock.unlock
      target: lock.does_not_exist
    - service: counter.increment
      target: counter.a
- id: healthy
  triggers:
    - platform: state
      entity_id: switch.trigger
      to: "on"
  actions:
    - service: counter.increment
      target: counter.b
`)
	f.engine.Start()

	f.set(t, "switch.trigger", "on")
	f.eventually(t, "counter.b", "1")
	f.never(t, "counter.a", "1")

	f.idle(t, "automation.broken")
	info, err := f.engine.Get("automation.broken")
	require.NoError(t, err)
	assert.Nil(t, info.LastTriggered)
	assert.True(t, info.Enabled)
}

func TestEngine_ContinueOnError(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: tolerant
  actions:
    - service: lock.unlock
      target: lock.does_not_exist
      continue_on_error: true
    - service: counter.increment
      target: counter.runs
`)
	require.NoError(t, f.engine.Trigger(context.Background(), "automation.tolerant", nil, false))
	f.eventually(t, "counter.runs", "1")
}

func TestEngine_TriggeredEventAndLastTriggered(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.engine.SetClock(func() time.Time { return fixed })
	f.set(t, "lock.front_door", "locked")
	f.set(t, "binary_sensor.smoke", "off")
	f.load(t, smokeAutomation)

	sub := f.bus.Subscribe(core.EventAutomationTriggered)
	defer sub.Close()
	f.engine.Start()

	f.set(t, "binary_sensor.smoke", "on")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "Unlock on smoke", ev.Data["name"])
		assert.Equal(t, "automation.unlock_on_smoke", ev.Data["entity_id"])
		assert.Equal(t, "state of binary_sensor.smoke", ev.Data["source"])
	case <-time.After(waitFor):
		t.Fatal("automation_triggered was not fired")
	}

	require.Eventually(t, func() bool {
		st, err := f.store.Get("automation.unlock_on_smoke")
		return err == nil && st.Attributes["last_triggered"] == core.FormatTime(fixed)
	}, waitFor, pollTick)

	info, err := f.engine.Get("automation.unlock_on_smoke")
	require.NoError(t, err)
	require.NotNil(t, info.LastTriggered)
	assert.True(t, info.LastTriggered.Equal(fixed))
}

func TestEngine_ConditionsGateActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.set(t, "input_boolean.guard", "off")
	f.load(t, `
- id: guarded
  conditions:
    - condition: state
      entity_id: input_boolean.guard
      state: "on"
  actions:
    - service: counter.increment
      target: counter.runs
`)

	require.NoError(t, f.engine.Trigger(ctx, "automation.guarded", nil, false))
	f.idle(t, "automation.guarded")
	assert.Equal(t, "0", f.state("counter.runs"))

	require.NoError(t, f.engine.Trigger(ctx, "automation.guarded", nil, true))
	f.eventually(t, "counter.runs", "1")

	f.set(t, "input_boolean.guard", "on")
	require.NoError(t, f.engine.Trigger(ctx, "automation.guarded", nil, false))
	f.eventually(t, "counter.runs", "2")
}

func TestEngine_TemplateConditionSeesTriggerVariables(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "sensor.mode", "idle")
	f.load(t, `
- id: templated
  triggers:
    - platform: state
      entity_id: sensor.mode
  conditions:
    - "{{ trigger.to_state.state == 'away' }}"
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.set(t, "sensor.mode", "home")
	f.set(t, "sensor.mode", "away")
	f.eventually(t, "counter.runs", "1")
	f.never(t, "counter.runs", "2")
}

func TestEngine_NumericStateFiresOnCrossing(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "sensor.temp", "20")
	f.load(t, `
- id: hot
  triggers:
    - platform: numeric_state
      entity_id: sensor.temp
      above: 25
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.set(t, "sensor.temp", "26")
	f.eventually(t, "counter.runs", "1")

	f.set(t, "sensor.temp", "27") // still above: no crossing
	f.set(t, "sensor.temp", "20")
	f.set(t, "sensor.temp", "30")
	f.eventually(t, "counter.runs", "2")
	f.never(t, "counter.runs", "3")
}

func TestEngine_EventTriggerMatchesTypeExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: on_event
  triggers:
    - platform: event
      event_type: my.event
      event_data:
        kind: test
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.bus.Fire(ctx, "myXevent", map[string]any{"kind": "test"}, core.OriginLocal)
	f.bus.Fire(ctx, "my.event", map[string]any{"kind": "other"}, core.OriginLocal)
	f.bus.Fire(ctx, "my.event", map[string]any{"kind": "test", "extra": 1}, core.OriginRemote)

	f.eventually(t, "counter.runs", "1")
	f.never(t, "counter.runs", "2")
}

func TestEngine_HomeAssistantStartTrigger(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: boot
  triggers:
    - platform: homeassistant
      event: start
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.bus.Fire(context.Background(), core.EventHubStart, nil, core.OriginLocal)
	f.eventually(t, "counter.runs", "1")
}

func TestEngine_TemplateTriggerFiresOnRisingEdge(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "switch.a", "off")
	f.load(t, `
- id: edge
  triggers:
    - platform: template
      value_template: "{{ is_state('switch.a', 'on') }}"
  actions:
    - service: counter.increment
      target: counter.runs
`)
	f.engine.Start()

	f.set(t, "switch.a", "on")
	f.eventually(t, "counter.runs", "1")

	_, _, err := f.store.Set(context.Background(), "switch.a", "on", map[string]any{"note": "still on"})
	require.NoError(t, err)
	f.never(t, "counter.runs", "2")

	// The template reads live state, so let the engine see "off" first.
	f.set(t, "switch.a", "off")
	time.Sleep(quiet)
	f.set(t, "switch.a", "on")
	f.eventually(t, "counter.runs", "2")
}

// ─── Modes ──────────────────────────────────────────────────────────

func modeAutomation(mode string, extra string) string {
	return `
- id: slow
  mode: ` + mode + extra + `
  actions:
    - service: counter.increment
      target: counter.runs
    - delay: 0.2
`
}

func TestEngine_ModeSingleDropsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.load(t, modeAutomation("single", ""))

	require.NoError(t, f.engine.Trigger(ctx, "automation.slow", nil, false))
	require.NoError(t, f.engine.Trigger(ctx, "automation.slow", nil, false))

	f.eventually(t, "counter.runs", "1")
	f.idle(t, "automation.slow")
	assert.Equal(t, "1", f.state("counter.runs"))
}

func TestEngine_ModeQueuedRunsEveryTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.load(t, modeAutomation("queued", ""))

	for range 3 {
		require.NoError(t, f.engine.Trigger(ctx, "automation.slow", nil, false))
	}
	f.eventually(t, "counter.runs", "3")
}

func TestEngine_ModeQueuedHonoursMax(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.load(t, modeAutomation("queued", "\n  max: 2"))

	for range 4 {
		require.NoError(t, f.engine.Trigger(ctx, "automation.slow", nil, false))
	}
	f.eventually(t, "counter.runs", "2")
	f.idle(t, "automation.slow")
	assert.Equal(t, "2", f.state("counter.runs"))
}

func TestEngine_ModeRestartCancelsActiveRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: restarter
  mode: restart
  actions:
    - delay: 0.3
    - service: counter.increment
      target: counter.runs
`)

	require.NoError(t, f.engine.Trigger(ctx, "automation.restarter", nil, false))
	require.NoError(t, f.engine.Trigger(ctx, "automation.restarter", nil, false))

	f.eventually(t, "counter.runs", "1")
	f.idle(t, "automation.restarter")
	assert.Equal(t, "1", f.state("counter.runs"))
}

func TestEngine_DelayDoesNotBlockOtherAutomations(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.a", "0")
	f.set(t, "counter.b", "0")
	f.set(t, "switch.go", "off")
	f.load(t, `
- id: sleepy
  triggers:
    - platform: state
      entity_id: switch.go
      to: "on"
  actions:
    - delay: "00:00:30"
    - service: counter.increment
      target: counter.a
- id: quick
  triggers:
    - platform: state
      entity_id: switch.go
      to: "on"
  actions:
    - service: counter.increment
      target: counter.b
`)
	f.engine.Start()

	f.set(t, "switch.go", "on")
	f.eventually(t, "counter.b", "1")
	assert.Equal(t, "0", f.state("counter.a"))
}

// ─── Control flow ───────────────────────────────────────────────────

func TestEngine_StopEndsSequenceCleanly(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: stopper
  actions:
    - service: counter.increment
      target: counter.runs
    - stop: enough
    - service: counter.increment
      target: counter.runs
`)

	require.NoError(t, f.engine.Trigger(context.Background(), "automation.stopper", nil, false))
	require.Eventually(t, func() bool {
		info, err := f.engine.Get("automation.stopper")
		return err == nil && info.LastTriggered != nil
	}, waitFor, pollTick)
	assert.Equal(t, "1", f.state("counter.runs"))
}

func TestEngine_ConditionActionEndsSequence(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "input_boolean.guard", "off")
	f.load(t, `
- id: gated_step
  actions:
    - service: counter.increment
      target: counter.runs
    - condition: state
      entity_id: input_boolean.guard
      state: "on"
    - service: counter.increment
      target: counter.runs
`)

	require.NoError(t, f.engine.Trigger(context.Background(), "automation.gated_step", nil, false))
	f.eventually(t, "counter.runs", "1")
	f.idle(t, "automation.gated_step")
	assert.Equal(t, "1", f.state("counter.runs"))
}

func TestEngine_ChooseAndParallel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"counter.fast", "counter.slow", "counter.p1", "counter.p2"} {
		f.set(t, id, "0")
	}
	f.load(t, `
- id: branching
  mode: queued
  actions:
    - choose:
        - conditions: "{{ speed == 'fast' }}"
          sequence:
            - service: counter.increment
              target: counter.fast
      default:
        - service: counter.increment
          target: counter.slow
    - parallel:
        - service: counter.increment
          target: counter.p1
        - sequence:
            - delay: 0.05
            - service: counter.increment
              target: counter.p2
`)

	require.NoError(t, f.engine.Trigger(ctx, "automation.branching", map[string]any{"speed": "fast"}, false))
	require.NoError(t, f.engine.Trigger(ctx, "automation.branching", map[string]any{"speed": "slow"}, false))

	f.eventually(t, "counter.fast", "1")
	f.eventually(t, "counter.slow", "1")
	f.eventually(t, "counter.p1", "2")
	f.eventually(t, "counter.p2", "2")
}

// ─── Clock triggers ─────────────────────────────────────────────────

func at(h, m, s int) time.Time {
	return time.Date(2026, 3, 1, h, m, s, 0, time.UTC)
}

func TestEngine_TimeTrigger(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "input_datetime.alarm", "2026-03-01 06:15:00")
	f.load(t, `
- id: wake
  mode: queued
  triggers:
    - platform: time
      at:
        - "07:30:00"
        - input_datetime.alarm
  actions:
    - service: counter.increment
      target: counter.runs
`)

	f.engine.tick(at(6, 14, 59))
	f.engine.tick(at(6, 15, 0))
	f.eventually(t, "counter.runs", "1")

	f.engine.tick(at(7, 29, 59))
	f.engine.tick(at(7, 30, 0))
	f.engine.tick(at(7, 30, 0))
	f.eventually(t, "counter.runs", "2")
	f.idle(t, "automation.wake")
	assert.Equal(t, "2", f.state("counter.runs"))
}

func TestEngine_TimeTriggerCatchesUpMissedSeconds(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: catch_up
  triggers:
    - platform: time
      at: "08:00:00"
  actions:
    - service: counter.increment
      target: counter.runs
`)

	f.engine.tick(at(7, 59, 55))
	f.engine.tick(at(8, 0, 3))
	f.eventually(t, "counter.runs", "1")
}

func TestEngine_TimePatternTrigger(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: quarterly
  triggers:
    - platform: time_pattern
      minutes: "/15"
  actions:
    - service: counter.increment
      target: counter.runs
`)

	f.engine.tick(at(10, 14, 59))
	f.engine.tick(at(10, 15, 0))
	f.eventually(t, "counter.runs", "1")

	f.engine.tick(at(10, 15, 5))
	f.engine.tick(at(10, 30, 0))
	f.eventually(t, "counter.runs", "2")
	f.never(t, "counter.runs", "3")
}

func TestEngine_SunTriggerWithOffset(t *testing.T) {
	f := newFixture(t)
	calc := sun.New(51.5074, -0.1278, time.UTC)
	f.engine.SetSun(calc)
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: dusk
  triggers:
    - platform: sun
      event: sunset
      offset: "-00:30:00"
  actions:
    - service: counter.increment
      target: counter.runs
`)

	sunset, ok := calc.EventTime(sun.EventSunset, time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC))
	require.True(t, ok)
	fire := sunset.Add(-30 * time.Minute).Truncate(time.Second)

	f.engine.tick(fire.Add(-time.Second))
	f.never(t, "counter.runs", "1")

	f.engine.tick(fire)
	f.eventually(t, "counter.runs", "1")
}

func TestEngine_Webhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "input_text.visitor", "nobody")
	f.load(t, `
- id: doorbell
  triggers:
    - platform: webhook
      webhook_id: doorbell-secret
  actions:
    - service: input_text.set_value
      target: input_text.visitor
      data:
        value: "{{ trigger.json.name }}"
`)

	assert.False(t, f.engine.HandleWebhook(ctx, "unknown", WebhookRequest{}))
	assert.True(t, f.engine.HandleWebhook(ctx, "doorbell-secret", WebhookRequest{
		Method: "POST",
		JSON:   map[string]any{"name": "Sam"},
	}))
	f.eventually(t, "input_text.visitor", "Sam")
}

// ─── Loading and services ───────────────────────────────────────────

func TestEngine_LoadKeepsEnabledState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.load(t, smokeAutomation)
	require.NoError(t, f.engine.Disable(ctx, "automation.unlock_on_smoke"))

	f.load(t, smokeAutomation)
	info, err := f.engine.Get("automation.unlock_on_smoke")
	require.NoError(t, err)
	assert.False(t, info.Enabled)

	f.load(t, `
- id: smoke_unlock
  alias: Unlock on smoke
  initial_state: true
  actions:
    - event: noop
`)
	info, err = f.engine.Get("automation.unlock_on_smoke")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
}

func TestEngine_EntityIDCollisionsGetSuffix(t *testing.T) {
	f := newFixture(t)
	f.load(t, `
- id: first
  alias: Same Name
  actions: [{event: a}]
- id: second
  alias: Same Name
  actions: [{event: b}]
`)

	infos := f.engine.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "automation.same_name", infos[0].EntityID)
	assert.Equal(t, "automation.same_name_2", infos[1].EntityID)
}

func TestEngine_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Get("automation.nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.engine.Enable(ctx, "automation.nope"), ErrNotFound)
	assert.ErrorIs(t, f.engine.Trigger(ctx, "automation.nope", nil, false), ErrNotFound)
}

func TestEngine_ReloadFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store := NewFileStore(t.TempDir() + "/automations.yaml")
	f.engine.SetStore(store)

	_, err := store.Put("a", map[string]any{"alias": "Alpha", "actions": []any{map[string]any{"event": "a"}}})
	require.NoError(t, err)
	_, err = store.Put("b", map[string]any{"alias": "Beta", "actions": []any{map[string]any{"event": "b"}}})
	require.NoError(t, err)

	sub := f.bus.Subscribe(core.EventAutomationReloaded)
	defer sub.Close()

	require.NoError(t, f.engine.Reload(ctx))
	assert.Equal(t, 2, f.engine.Count())
	select {
	case <-sub.Events():
	case <-time.After(waitFor):
		t.Fatal("automation_reloaded was not fired")
	}

	require.NoError(t, f.engine.Disable(ctx, "automation.alpha"))
	require.NoError(t, store.Delete("b"))
	require.NoError(t, f.engine.Reload(ctx))

	assert.Equal(t, 1, f.engine.Count())
	assert.Equal(t, core.StateOff, f.state("automation.alpha"))
	assert.False(t, f.store.Has("automation.beta"))
}

func TestEngine_Services(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.set(t, "counter.runs", "0")
	f.load(t, `
- id: never_passes
  conditions: "{{ false }}"
  actions:
    - service: counter.increment
      target: counter.runs
`)
	const id = "automation.never_passes"

	res, err := f.services.Call(ctx, Domain, service.ServiceTurnOff, []string{id}, nil)
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, core.StateOff, f.state(id))

	_, err = f.services.Call(ctx, Domain, service.ServiceToggle, []string{id}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateOn, f.state(id))

	_, err = f.services.Call(ctx, Domain, "trigger", []string{id}, nil)
	require.NoError(t, err)
	f.idle(t, id)
	assert.Equal(t, "0", f.state("counter.runs"))

	_, err = f.services.Call(ctx, Domain, "trigger", []string{id}, map[string]any{"skip_condition": true})
	require.NoError(t, err)
	f.eventually(t, "counter.runs", "1")

	res, err = f.services.Call(ctx, Domain, service.ServiceTurnOn, []string{"automation.ghost"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"automation.ghost"}, res.Missing)
}

func TestEngine_HomeAssistantTurnOffReachesAutomations(t *testing.T) {
	f := newFixture(t)
	f.load(t, smokeAutomation)

	_, err := f.services.Call(context.Background(), service.DomainHomeAssistant, service.ServiceTurnOff,
		[]string{"automation.unlock_on_smoke"}, nil)
	require.NoError(t, err)
	assert.Equal(t, core.StateOff, f.state("automation.unlock_on_smoke"))
}

func TestEngine_StopSilencesEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.load(t, smokeAutomation)
	f.engine.Start()
	f.engine.Stop()
	f.engine.Stop()

	require.True(t, f.store.Delete(ctx, "automation.unlock_on_smoke"))
	require.NoError(t, f.engine.Disable(ctx, "automation.unlock_on_smoke"))
	assert.False(t, f.store.Has("automation.unlock_on_smoke"))
}

func TestEngine_ReloadFromOwnAction(t *testing.T) {
	f := newFixture(t)
	store := NewFileStore(t.TempDir() + "/automations.yaml")
	f.engine.SetStore(store)

	var raws []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(smokeAutomation+`
- id: reloader
  triggers:
    - platform: state
      entity_id: input_boolean.go
      to: "on"
  actions:
    - call_service: automation.reload
    - service: counter.increment
      target: counter.reloads
`), &raws))
	for _, raw := range raws {
		id, _ := raw["id"].(string)
		_, err := store.Put(id, raw)
		require.NoError(t, err)
	}

	f.set(t, "counter.reloads", "0")
	f.set(t, "input_boolean.go", "off")
	f.set(t, "lock.front_door", "locked")
	f.set(t, "binary_sensor.smoke", "off")
	require.NoError(t, f.engine.Reload(context.Background()))
	f.engine.Start()

	sub := f.bus.Subscribe(core.EventAutomationReloaded)
	defer sub.Close()

	f.set(t, "input_boolean.go", "on")
	select {
	case <-sub.Events():
	case <-time.After(waitFor):
		t.Fatal("automation_reloaded was not fired")
	}

	// The run that reloaded was cancelled along with its automation.
	f.never(t, "counter.reloads", "1")
	f.idle(t, "automation.reloader")

	f.set(t, "binary_sensor.smoke", "on")
	f.eventually(t, "lock.front_door", "unlocked")
}

func TestEngine_ModeSingleFailedConditionKeepsSlotFree(t *testing.T) {
	f := newFixture(t)
	f.set(t, "counter.runs", "0")
	f.set(t, "sensor.mode", "idle")
	f.load(t, `
- id: single_guarded
  mode: single
  triggers:
    - platform: state
      entity_id: sensor.mode
  conditions:
    - "{{ trigger.to_state.state == 'away' }}"
  actions:
    - service: counter.increment
      target: counter.runs
    - delay: 0.2
`)
	f.engine.Start()

	for range 3 {
		f.set(t, "sensor.mode", "home")
		f.set(t, "sensor.mode", "away")
		f.eventually(t, "counter.runs", "1")
		f.idle(t, "automation.single_guarded")
		f.set(t, "counter.runs", "0")
	}
}

func TestEngine_LookupByConfiguredID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.load(t, smokeAutomation)

	info, err := f.engine.Get("automation.smoke_unlock")
	require.NoError(t, err)
	assert.Equal(t, "automation.unlock_on_smoke", info.EntityID)

	res, err := f.services.Call(ctx, Domain, service.ServiceTurnOff, []string{"automation.smoke_unlock"}, nil)
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.Equal(t, "automation.unlock_on_smoke", res.Changed[0].EntityID)
	assert.Equal(t, core.StateOff, f.state("automation.unlock_on_smoke"))

	_, err = f.engine.Get("automation.")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_TimeOfDayFromEntity(t *testing.T) {
	f := newFixture(t)
	f.set(t, "input_datetime.alarm", "2026-10-17 06:30:00")
	f.set(t, "input_datetime.wake", "07:15")
	f.set(t, "input_datetime.broken", "soon")

	assert.Equal(t, 6*time.Hour+30*time.Minute, f.engine.timeOfDay("input_datetime.alarm"))
	assert.Equal(t, 7*time.Hour+15*time.Minute, f.engine.timeOfDay("input_datetime.wake"))
	assert.Equal(t, 22*time.Hour, f.engine.timeOfDay("22:00"))
	assert.Equal(t, time.Duration(-1), f.engine.timeOfDay("input_datetime.broken"))
	assert.Equal(t, time.Duration(-1), f.engine.timeOfDay("input_datetime.missing"))
}
