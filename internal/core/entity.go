package core

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// TimeFormat renders timestamps the way Home Assistant does: microseconds and a numeric UTC offset.
const TimeFormat = "2006-01-02T15:04:05.000000-07:00"

// Common state strings.
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnknown     = "unknown"
	StateUnavailable = "unavailable"
)

var entityIDPattern = regexp.MustCompile(`^[a-z0-9_]+\.[a-z0-9_]+$`)

// EntityState is one complete record in the state store.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     Context        `json:"context"`
}

// Domain returns the part of the entity id before the first dot.
func (s *EntityState) Domain() string {
	return Domain(s.EntityID)
}

// ObjectID returns the part of the entity id after the first dot.
func (s *EntityState) ObjectID() string {
	_, obj, _ := SplitEntityID(s.EntityID)
	return obj
}

// Attr returns one attribute value.
func (s *EntityState) Attr(key string) (any, bool) {
	if s == nil || s.Attributes == nil {
		return nil, false
	}
	v, ok := s.Attributes[key]
	return v, ok
}

// Clone returns a deep copy safe to mutate.
func (s *EntityState) Clone() *EntityState {
	if s == nil {
		return nil
	}
	c := *s
	c.Attributes = CloneMap(s.Attributes)
	return &c
}

// FormatTime renders t in TimeFormat (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

type entityStateJSON struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
	Context     Context        `json:"context"`
}

// MarshalJSON renders timestamps in TimeFormat and attributes as {} when empty.
func (s EntityState) MarshalJSON() ([]byte, error) {
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	return json.Marshal(entityStateJSON{
		EntityID:    s.EntityID,
		State:       s.State,
		Attributes:  attrs,
		LastChanged: FormatTime(s.LastChanged),
		LastUpdated: FormatTime(s.LastUpdated),
		Context:     s.Context,
	})
}

// SplitEntityID splits "domain.object_id" at the first dot.
func SplitEntityID(entityID string) (domain, objectID string, ok bool) {
	domain, objectID, ok = strings.Cut(entityID, ".")
	if !ok || domain == "" || objectID == "" {
		return "", "", false
	}
	return domain, objectID, true
}

// Domain returns the domain of an entity id, or "" when malformed.
func Domain(entityID string) string {
	domain, _, _ := SplitEntityID(entityID)
	return domain
}

// ValidEntityID reports whether id is lowercase domain.object_id.
func ValidEntityID(entityID string) bool {
	return entityIDPattern.MatchString(entityID)
}

// Slugify turns free text into an object id: lowercase, runs of other characters become "_".
func Slugify(text string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return StateUnknown
	}
	return b.String()
}
