package mqtt

import "strings"

// Topic levels under the configured prefix.
const (
	levelState       = "state"
	levelSet         = "set"
	levelStatestream = "statestream"
	levelStatus      = "status"

	// entityTopicLevels is {prefix}/{domain}/{object_id}/{kind}.
	entityTopicLevels = 4
)

// Topics builds the hub's MQTT topics under one prefix.
//
//	topics := mqtt.NewTopics("home")
//	topics.EntityState("light", "kitchen") // "home/light/kitchen/state"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix; an empty prefix defaults to "home".
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "home"
	}
	return Topics{prefix: prefix}
}

// Prefix returns the first topic level.
func (t Topics) Prefix() string {
	return t.prefix
}

// EntityState is where devices report state: {prefix}/{domain}/{object_id}/state.
func (t Topics) EntityState(domain, objectID string) string {
	return t.prefix + "/" + domain + "/" + objectID + "/" + levelState
}

// EntityCommand is where clients send commands: {prefix}/{domain}/{object_id}/set.
func (t Topics) EntityCommand(domain, objectID string) string {
	return t.prefix + "/" + domain + "/" + objectID + "/" + levelSet
}

// AllEntityStates subscribes to every entity state topic.
func (t Topics) AllEntityStates() string {
	return t.prefix + "/+/+/" + levelState
}

// AllEntityCommands subscribes to every entity command topic.
func (t Topics) AllEntityCommands() string {
	return t.prefix + "/+/+/" + levelSet
}

// Statestream is where the hub republishes state changes.
func (t Topics) Statestream(domain, objectID string) string {
	return t.prefix + "/" + levelStatestream + "/" + domain + "/" + objectID + "/" + levelState
}

// Status is the hub availability topic ("online"/"offline", retained).
func (t Topics) Status() string {
	return t.prefix + "/" + levelStatus
}

// EntityTopic is a parsed {prefix}/{domain}/{object_id}/{kind} topic.
type EntityTopic struct {
	Domain   string
	ObjectID string
	Kind     string
}

// EntityID joins domain and object id.
func (e EntityTopic) EntityID() string {
	return e.Domain + "." + e.ObjectID
}

// ParseEntityTopic splits an entity topic. It rejects any other shape,
// including the statestream tree so republished states never loop back.
func (t Topics) ParseEntityTopic(topic string) (EntityTopic, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != entityTopicLevels || parts[0] != t.prefix {
		return EntityTopic{}, false
	}
	if parts[1] == levelStatestream || parts[1] == "" || parts[2] == "" {
		return EntityTopic{}, false
	}
	if parts[3] != levelState && parts[3] != levelSet {
		return EntityTopic{}, false
	}
	return EntityTopic{Domain: parts[1], ObjectID: parts[2], Kind: parts[3]}, true
}
