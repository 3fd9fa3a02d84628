package logbook

import (
	"errors"
	"time"
)

// Entry is one logbook line.
type Entry struct {
	ID        string    `json:"-"`
	When      time.Time `json:"when"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Domain    string    `json:"domain,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	State     string    `json:"state,omitempty"`
	EventType string    `json:"context_event_type,omitempty"`
	ContextID string    `json:"context_id,omitempty"`
	UserID    string    `json:"context_user_id,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// Filter selects entries. Start is inclusive, End exclusive; a zero End means now.
type Filter struct {
	Start    time.Time
	End      time.Time
	EntityID string
	Limit    int // default 500, max 5000
}

// Event types the logbook reacts to besides state_changed and automation runs.
const (
	EventLogbookEntry = "logbook_entry"
	Domain            = "logbook"
)

var (
	// ErrInvalidFilter is returned for an inverted time range or a bad entity id.
	ErrInvalidFilter = errors.New("logbook: invalid filter")

	// ErrAlreadyStarted is returned by Start on a running logbook.
	ErrAlreadyStarted = errors.New("logbook: already started")
)
