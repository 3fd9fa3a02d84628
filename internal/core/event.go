package core

import (
	"encoding/json"
	"time"
)

// Origin says where an event entered the hub.
type Origin string

const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// Event types fired by the hub itself.
const (
	EventStateChanged        = "state_changed"
	EventCallService         = "call_service"
	EventAutomationTriggered = "automation_triggered"
	EventAutomationReloaded  = "automation_reloaded"
	EventSceneReloaded       = "scene_reloaded"
	EventHubStart            = "homeassistant_start"
	EventHubStarted          = "homeassistant_started"
	EventHubStop             = "homeassistant_stop"
)

// Event is a transient bus message. Data values must be JSON-serialisable.
type Event struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Origin    Origin         `json:"origin"`
	TimeFired time.Time      `json:"time_fired"`
	Context   Context        `json:"context"`
}

// MarshalJSON renders time_fired in TimeFormat.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(struct {
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
		Origin    Origin         `json:"origin"`
		TimeFired string         `json:"time_fired"`
		Context   Context        `json:"context"`
	}{
		EventType: e.EventType,
		Data:      data,
		Origin:    e.Origin,
		TimeFired: FormatTime(e.TimeFired),
		Context:   e.Context,
	})
}

// StateChange is the typed payload of a state_changed event.
// Old is nil on creation; New is nil on removal.
type StateChange struct {
	EntityID string
	Old      *EntityState
	New      *EntityState
}

// NewStateChangedEvent builds the state_changed event for a write.
func NewStateChangedEvent(change StateChange, ctx Context, at time.Time) Event {
	return Event{
		EventType: EventStateChanged,
		Data: map[string]any{
			"entity_id": change.EntityID,
			"old_state": change.Old,
			"new_state": change.New,
		},
		Origin:    OriginLocal,
		TimeFired: at,
		Context:   ctx,
	}
}

// StateChange extracts the typed payload of a state_changed event.
func (e Event) StateChange() (StateChange, bool) {
	if e.EventType != EventStateChanged {
		return StateChange{}, false
	}
	id, _ := e.Data["entity_id"].(string)
	if id == "" {
		return StateChange{}, false
	}
	old, _ := e.Data["old_state"].(*EntityState)
	cur, _ := e.Data["new_state"].(*EntityState)
	return StateChange{EntityID: id, Old: old, New: cur}, true
}
