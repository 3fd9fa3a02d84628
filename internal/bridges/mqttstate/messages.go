package mqttstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Command payload keywords.
const (
	payloadOn     = "ON"
	payloadOff    = "OFF"
	payloadToggle = "TOGGLE"
)

// StateMessage is a decoded state topic payload.
type StateMessage struct {
	State string

	// Attributes is nil when the payload carried none, meaning keep the current ones.
	Attributes map[string]any
}

// CommandMessage is a decoded command topic payload.
type CommandMessage struct {
	Domain  string         `json:"-"`
	Service string         `json:"service"`
	Data    map[string]any `json:"data,omitempty"`
}

// ParseState decodes a state payload. A JSON object must carry a "state" key;
// anything else is taken verbatim as the state.
func ParseState(payload []byte) (StateMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return StateMessage{}, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	if trimmed[0] != '{' {
		return StateMessage{State: string(trimmed)}, nil
	}

	var raw struct {
		State      any             `json:"state"`
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return StateMessage{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw.State == nil {
		return StateMessage{}, fmt.Errorf("%w: missing state", ErrInvalidPayload)
	}

	msg := StateMessage{State: stateString(raw.State)}
	if len(raw.Attributes) > 0 {
		msg.Attributes = map[string]any{}
		if !bytes.Equal(raw.Attributes, []byte("null")) {
			if err := json.Unmarshal(raw.Attributes, &msg.Attributes); err != nil {
				return StateMessage{}, fmt.Errorf("%w: attributes: %v", ErrInvalidPayload, err)
			}
		}
	}
	return msg, nil
}

// ParseCommand decodes a command payload for an entity in domain.
// A service written as "light.turn_on" overrides the topic's domain.
func ParseCommand(domain string, payload []byte) (CommandMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return CommandMessage{}, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}

	if trimmed[0] != '{' {
		switch strings.ToUpper(string(trimmed)) {
		case payloadOn:
			return CommandMessage{Domain: domain, Service: "turn_on"}, nil
		case payloadOff:
			return CommandMessage{Domain: domain, Service: "turn_off"}, nil
		case payloadToggle:
			return CommandMessage{Domain: domain, Service: "toggle"}, nil
		default:
			return CommandMessage{}, fmt.Errorf("%w: unknown command %q", ErrInvalidPayload, trimmed)
		}
	}

	var cmd CommandMessage
	if err := json.Unmarshal(trimmed, &cmd); err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if cmd.Service == "" {
		return CommandMessage{}, fmt.Errorf("%w: missing service", ErrInvalidPayload)
	}

	cmd.Domain = domain
	if d, s, ok := strings.Cut(cmd.Service, "."); ok {
		cmd.Domain, cmd.Service = d, s
	}
	return cmd, nil
}

// stateString renders a JSON state the way HA stores it.
func stateString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		if s {
			return "on"
		}
		return "off"
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}
