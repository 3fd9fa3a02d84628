package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/logbook"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
)

const testAutomations = `
- id: boot
  alias: Count boots
  triggers:
    - platform: homeassistant
      event: start
  actions:
    - service: counter.increment
      target: counter.boots
`

const testScenes = `
- name: Evening
  entities:
    light.lounge:
      state: "on"
      brightness: 90
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	automations := filepath.Join(dir, "automations.yaml")
	scenes := filepath.Join(dir, "scenes.yaml")
	require.NoError(t, os.WriteFile(automations, []byte(testAutomations), 0o600))
	require.NoError(t, os.WriteFile(scenes, []byte(testScenes), 0o600))

	cfg := config.Default()
	cfg.Database.Path = database.MemoryPath
	cfg.Site.Timezone = "Europe/London"
	cfg.Site.Location.Latitude = 51.5
	cfg.Site.Location.Longitude = -0.12
	cfg.MQTT.Enabled = false
	cfg.InfluxDB.Enabled = false
	cfg.Automation.File = automations
	cfg.Scenes.File = scenes
	return cfg
}

func newTestHub(t *testing.T, cfg *config.Config) *Hub {
	t.Helper()
	h, err := New(context.Background(), Options{Config: cfg, Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestNew_RejectsUnknownTimeZone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Site.Timezone = "Mars/Olympus_Mons"
	_, err := New(context.Background(), Options{Config: cfg})
	assert.Error(t, err)
}

func TestHub_StartRunsBootAutomations(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, testConfig(t))

	_, _, err := h.States.Set(ctx, "counter.boots", "0", nil)
	require.NoError(t, err)

	require.NoError(t, h.Start(ctx))
	assert.ErrorIs(t, h.Start(ctx), ErrAlreadyStarted)

	assert.Eventually(t, func() bool {
		st, err := h.States.Get("counter.boots")
		return err == nil && st.State == "1"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, h.Automations.Count())
	assert.True(t, h.States.Has("automation.count_boots"))
	assert.True(t, h.States.Has("scene.evening"))
	assert.True(t, h.States.Has("sun.sun"))
}

func TestHub_SceneServiceIsRegistered(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, testConfig(t))
	_, _, err := h.States.Set(ctx, "light.lounge", "off", nil)
	require.NoError(t, err)
	require.NoError(t, h.Start(ctx))

	_, err = h.Services.Call(ctx, "scene", "turn_on", []string{"scene.evening"}, nil)
	require.NoError(t, err)

	st, err := h.States.Get("light.lounge")
	require.NoError(t, err)
	assert.Equal(t, "on", st.State)
	assert.Equal(t, 90, st.Attributes["brightness"])
}

func TestHub_RecordsHistory(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t, testConfig(t))
	require.NotNil(t, h.Recorder)
	require.NoError(t, h.Start(ctx))

	_, _, err := h.States.Set(ctx, "sensor.temp", "21.5", map[string]any{"unit_of_measurement": "°C"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rows, err := h.Recorder.History(ctx, recorder.Query{
			EntityIDs: []string{"sensor.temp"},
			Start:     time.Now().Add(-time.Hour),
		})
		return err == nil && len(rows) == 1 && len(rows[0]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NotNil(t, h.Logbook)
	assert.Eventually(t, func() bool {
		entries, err := h.Logbook.Entries(ctx, logbook.Filter{Start: time.Now().Add(-time.Hour)})
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.Message == "started" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RecorderDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recorder.Enabled = false
	h := newTestHub(t, cfg)
	assert.Nil(t, h.Recorder)
	assert.Nil(t, h.Logbook)
	require.NoError(t, h.Start(context.Background()))
}

func TestHub_HealthCheck(t *testing.T) {
	h := newTestHub(t, testConfig(t))
	assert.NoError(t, h.HealthCheck(context.Background()))
}

func TestHub_RunStopsWithContext(t *testing.T) {
	h := newTestHub(t, testConfig(t))
	require.NoError(t, h.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHub_CloseFiresStopAndIsIdempotent(t *testing.T) {
	h, err := New(context.Background(), Options{Config: testConfig(t)})
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))

	sub := h.Bus.Subscribe("homeassistant_stop")
	require.NoError(t, h.Close())

	var fired bool
	for range sub.Events() {
		fired = true
	}
	assert.True(t, fired)
	assert.NoError(t, h.Close())
}
