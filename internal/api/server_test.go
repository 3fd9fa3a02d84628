package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/scene"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/internal/template"
)

const (
	testToken  = "static-test-token"
	testSecret = "jwt-test-secret"
)

type testEnv struct {
	bus         *eventbus.Bus
	store       *state.Store
	services    *service.Registry
	automations *automation.Engine
	scenes      *scene.Engine
	server      *Server
	http        *httptest.Server
}

// newTestEnv builds a server; opts adjust the deps before New.
func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	store := state.New(bus)
	services := service.NewRegistry(store, bus)
	service.RegisterBuiltins(services)
	renderer := template.New(store)

	automations := automation.NewEngine(store, services, bus, renderer)
	automations.SetStore(automation.NewFileStore(filepath.Join(t.TempDir(), "automations.yaml")))
	require.NoError(t, automations.RegisterServices(services))
	t.Cleanup(automations.Stop)

	scenes := scene.NewEngine(scene.NewRegistry(nil), services, store, bus)
	require.NoError(t, scenes.RegisterServices(services))

	validator, err := auth.NewValidator(testSecret, []string{testToken})
	require.NoError(t, err)

	deps := Deps{
		Site:        config.SiteConfig{Name: "Test Home", Timezone: "Europe/London", UnitSystem: "metric"},
		Logger:      logging.Discard(),
		Auth:        validator,
		States:      store,
		Bus:         bus,
		Services:    services,
		Renderer:    renderer,
		Automations: automations,
		Scenes:      scenes,
		Version:     "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := New(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		bus:         bus,
		store:       store,
		services:    services,
		automations: automations,
		scenes:      scenes,
		server:      srv,
		http:        ts,
	}
}

// do sends a request with the static token unless token is "-".
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	if token == "" {
		token = testToken
	}
	if token != "-" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) set(t *testing.T, entityID, value string, attrs map[string]any) {
	t.Helper()
	_, _, err := e.store.Set(context.Background(), entityID, value, attrs)
	require.NoError(t, err)
}

// ─── Server construction ────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{Logger: logging.Discard()})
	assert.Error(t, err)

	validator, err := auth.NewValidator("", nil)
	require.NoError(t, err)
	_, err = New(Deps{Logger: logging.Discard(), Auth: validator})
	assert.Error(t, err)
}

func TestWithWSDefaults(t *testing.T) {
	cfg := withWSDefaults(config.WebSocketConfig{PingInterval: 5})
	assert.Equal(t, 1<<20, cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.PingInterval)
	assert.Equal(t, 10, cfg.PongTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
}

// ─── Auth ───────────────────────────────────────────────────────────

func TestAuth_Required(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/states", "-", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/states", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/states", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_AcceptsJWT(t *testing.T) {
	e := newTestEnv(t)
	token, err := auth.GenerateAccessToken("user-1", "Sam", testSecret, time.Minute)
	require.NoError(t, err)

	resp := e.do(t, http.MethodGet, "/api/", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "API running.", decodeBody[map[string]string](t, resp)["message"])

	other, err := auth.GenerateAccessToken("user-1", "Sam", "another-secret", time.Minute)
	require.NoError(t, err)
	resp = e.do(t, http.MethodGet, "/api/", other, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth_NoAuth(t *testing.T) {
	e := newTestEnv(t)
	e.set(t, "sensor.temp", "21", nil)

	resp := e.do(t, http.MethodGet, "/api/health", "-", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["entities"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPut, "/api/states/light.kitchen", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORS_Preflight(t *testing.T) {
	e := newTestEnv(t)

	req, err := http.NewRequest(http.MethodOptions, e.http.URL+"/api/states", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://panel.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://panel.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

// ─── Config ─────────────────────────────────────────────────────────

func TestConfig(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/config", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)

	assert.Equal(t, "Test Home", body["location_name"])
	assert.Equal(t, "Europe/London", body["time_zone"])
	assert.Equal(t, "RUNNING", body["state"])
	assert.Equal(t, "°C", body["unit_system"].(map[string]any)["temperature"])
	assert.Contains(t, body["components"], "light")
	assert.Contains(t, body["components"], "automation")
}

// ─── States ─────────────────────────────────────────────────────────

func TestStates_Lifecycle(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/states/sensor.temp", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/states/sensor.temp", "", map[string]any{
		"state":      "21.5",
		"attributes": map[string]any{"unit_of_measurement": "°C"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/api/states/sensor.temp", resp.Header.Get("Location"))
	created := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "21.5", created["state"])
	assert.Equal(t, "°C", created["attributes"].(map[string]any)["unit_of_measurement"])

	resp = e.do(t, http.MethodPost, "/api/states/sensor.temp", "", map[string]any{"state": "22"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "22", decodeBody[map[string]any](t, resp)["state"])

	resp = e.do(t, http.MethodGet, "/api/states", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[[]map[string]any](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, "sensor.temp", list[0]["entity_id"])

	resp = e.do(t, http.MethodDelete, "/api/states/sensor.temp", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.store.Has("sensor.temp"))

	resp = e.do(t, http.MethodDelete, "/api/states/sensor.temp", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStates_Rejects(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"invalid entity id", "/api/states/NotAnEntity", map[string]any{"state": "on"}, http.StatusBadRequest},
		{"missing state", "/api/states/light.kitchen", map[string]any{"attributes": map[string]any{}}, http.StatusBadRequest},
		{"invalid json", "/api/states/light.kitchen", "{not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, e.store.Count())
}

// ─── Services ───────────────────────────────────────────────────────

func TestServices_ListAndCall(t *testing.T) {
	e := newTestEnv(t)
	e.set(t, "light.kitchen", "off", nil)

	resp := e.do(t, http.MethodGet, "/api/services", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	domains := decodeBody[[]service.DomainServices](t, resp)
	found := false
	for _, d := range domains {
		if d.Domain == "light" {
			_, found = d.Services["turn_on"]
		}
	}
	assert.True(t, found, "light.turn_on should be listed")

	resp = e.do(t, http.MethodPost, "/api/services/light/turn_on", "", map[string]any{
		"entity_id":  "light.kitchen",
		"brightness": 200,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	changed := decodeBody[[]map[string]any](t, resp)
	require.Len(t, changed, 1)
	assert.Equal(t, "on", changed[0]["state"])

	st, err := e.store.Get("light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "on", st.State)
}

func TestServices_InvalidData(t *testing.T) {
	e := newTestEnv(t)
	e.set(t, "light.kitchen", "off", nil)

	resp := e.do(t, http.MethodPost, "/api/services/light/turn_on", "", map[string]any{
		"entity_id":  "light.kitchen",
		"brightness": "bright",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	st, err := e.store.Get("light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "off", st.State)
}

func TestServices_UnknownServiceIsIgnored(t *testing.T) {
	e := newTestEnv(t)
	e.set(t, "light.kitchen", "off", nil)

	resp := e.do(t, http.MethodPost, "/api/services/light/explode", "", map[string]any{"entity_id": "light.kitchen"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]map[string]any](t, resp))
}

func TestServices_CallWithoutTargetsReturnsEmptyList(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/services/light/turn_on", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]map[string]any](t, resp))
}

// ─── Events ─────────────────────────────────────────────────────────

func TestEvents_Fire(t *testing.T) {
	e := newTestEnv(t)
	sub := e.bus.Subscribe("doorbell")
	defer sub.Close()

	resp := e.do(t, http.MethodPost, "/api/events/doorbell", "", map[string]any{"door": "front"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Event doorbell fired.", decodeBody[map[string]string](t, resp)["message"])

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "front", ev.Data["door"])
		assert.Equal(t, core.OriginRemote, ev.Origin)
		assert.Equal(t, "static", ev.Context.UserID)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}

	resp = e.do(t, http.MethodGet, "/api/events", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listeners := decodeBody[[]listenerCount](t, resp)
	var doorbell int
	for _, l := range listeners {
		if l.Event == "doorbell" {
			doorbell = l.ListenerCount
		}
	}
	assert.Equal(t, 1, doorbell)
}

func TestEvents_StateChangedIsReserved(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/events/state_changed", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Templates ──────────────────────────────────────────────────────

func TestTemplate_Render(t *testing.T) {
	e := newTestEnv(t)
	e.set(t, "sensor.temp", "21.5", nil)

	resp := e.do(t, http.MethodPost, "/api/template", "", map[string]any{
		"template": "It is {{ states('sensor.temp') }} degrees",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "It is 21.5 degrees", string(body))

	resp = e.do(t, http.MethodPost, "/api/template", "", map[string]any{"template": "{{ broken"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── History ────────────────────────────────────────────────────────

func TestHistory_Unavailable(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/history/period", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseTimestamp("2026-04-01T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	// A '+' decoded as a space from the query string.
	got, err = parseTimestamp("2026-04-01T13:00:00 01:00")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = parseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestMinimize(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	history := [][]core.EntityState{{
		{EntityID: "sensor.temp", State: "20", LastChanged: at, LastUpdated: at},
		{EntityID: "sensor.temp", State: "21", LastChanged: at.Add(time.Minute), LastUpdated: at.Add(time.Minute)},
	}}

	out := minimize(history)
	require.Len(t, out, 1)
	require.Len(t, out[0], 2)
	assert.IsType(t, core.EntityState{}, out[0][0])
	assert.Equal(t, minimalState{State: "21", LastChanged: core.FormatTime(at.Add(time.Minute))}, out[0][1])
}

// ─── Webhooks ───────────────────────────────────────────────────────

func TestWebhook_TriggersAutomation(t *testing.T) {
	e := newTestEnv(t)
	e.set(t, "input_text.visitor", "nobody", nil)

	cfg, err := automation.Decode(map[string]any{
		"id":       "doorbell",
		"triggers": []any{map[string]any{"platform": "webhook", "webhook_id": "ring"}},
		"actions": []any{map[string]any{
			"service": "input_text.set_value",
			"target":  "input_text.visitor",
			"data":    map[string]any{"value": "{{ trigger.json.name }}"},
		}},
	})
	require.NoError(t, err)
	e.automations.Load(context.Background(), []*automation.Config{cfg})

	resp := e.do(t, http.MethodPost, "/api/webhook/unknown", "-", map[string]any{"name": "Nobody"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/webhook/ring", "-", map[string]any{"name": "Sam"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool {
		st, err := e.store.Get("input_text.visitor")
		return err == nil && st.State == "Sam"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookRequest_Decoding(t *testing.T) {
	form := httptest.NewRequest(http.MethodPost, "/api/webhook/x?source=panel", bytes.NewBufferString("a=1&b=2"))
	form.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req := webhookRequest(form)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, map[string]any{"a": "1", "b": "2"}, req.Data)
	assert.Equal(t, map[string]any{"source": "panel"}, req.Query)
	assert.Nil(t, req.JSON)

	plain := httptest.NewRequest(http.MethodPost, "/api/webhook/x", bytes.NewBufferString("hello"))
	req = webhookRequest(plain)
	assert.Equal(t, map[string]any{"body": "hello"}, req.Data)

	js := httptest.NewRequest(http.MethodPut, "/api/webhook/x", bytes.NewBufferString(`{"n":1}`))
	req = webhookRequest(js)
	assert.Equal(t, map[string]any{"n": float64(1)}, req.JSON)
}

// ─── Automation config ──────────────────────────────────────────────

func TestAutomationConfig_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	path := "/api/config/automation/config/night_light"

	resp := e.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPost, path, "", map[string]any{
		"alias":    "Night light",
		"triggers": []any{map[string]any{"platform": "state", "entity_id": "binary_sensor.hall", "to": "on"}},
		"actions":  []any{map[string]any{"service": "light.turn_on", "target": map[string]any{"entity_id": "light.hall"}}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, resp)["result"])

	info, err := e.automations.Get("automation.night_light")
	require.NoError(t, err)
	assert.True(t, info.Enabled)

	resp = e.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "night_light", raw["id"])
	assert.Equal(t, "Night light", raw["alias"])

	resp = e.do(t, http.MethodDelete, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err = e.automations.Get("automation.night_light")
	assert.Error(t, err)

	resp = e.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAutomationConfig_RejectsInvalid(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/config/automation/config/broken", "", map[string]any{
		"triggers": []any{map[string]any{"platform": "teleport"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/config/automation/config/broken", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ─── Scene config ───────────────────────────────────────────────────

func TestSceneConfig_Lifecycle(t *testing.T) {
	e := newTestEnv(t)
	path := "/api/config/scene/config/movie"

	resp := e.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = e.do(t, http.MethodPost, path, "", map[string]any{
		"name": "Movie",
		"entities": map[string]any{
			"light.lounge": map[string]any{"state": "on", "brightness": 40},
			"cover.lounge": "closed",
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, e.store.Has("scene.movie"))

	resp = e.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "movie", body["id"])
	assert.Equal(t, "Movie", body["name"])
	entities := body["entities"].(map[string]any)
	assert.Equal(t, "closed", entities["cover.lounge"].(map[string]any)["state"])
	assert.Equal(t, float64(40), entities["light.lounge"].(map[string]any)["brightness"])

	resp = e.do(t, http.MethodDelete, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, e.store.Has("scene.movie"))

	resp = e.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSceneConfig_RejectsEmptyScene(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/config/scene/config/empty", "", map[string]any{"name": "Empty"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── Frontend ───────────────────────────────────────────────────────

func TestFrontend_ServedOutsideAPI(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<!DOCTYPE html>hub"), 0o600))
	e := newTestEnv(t, func(d *Deps) { d.Config.FrontendDir = dir })

	resp := e.do(t, http.MethodGet, "/lovelace/0", "-", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hub")

	resp = e.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFrontend_MissingDirFailsNew(t *testing.T) {
	validator, err := auth.NewValidator(testSecret, []string{testToken})
	require.NoError(t, err)
	bus := eventbus.New()
	defer bus.Close()
	store := state.New(bus)

	_, err = New(Deps{
		Config:   config.APIConfig{FrontendDir: filepath.Join(t.TempDir(), "missing")},
		Logger:   logging.Discard(),
		Auth:     validator,
		States:   store,
		Bus:      bus,
		Services: service.NewRegistry(store, bus),
	})
	assert.Error(t, err)
}
