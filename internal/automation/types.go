package automation

import (
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// Domain is the entity domain of automation entities.
const Domain = "automation"

// Mode controls what happens when an automation triggers while a run is active.
type Mode string

const (
	ModeSingle   Mode = "single"   // drop the new trigger
	ModeRestart  Mode = "restart"  // cancel the active run, start again
	ModeQueued   Mode = "queued"   // run after the active one, up to Max pending
	ModeParallel Mode = "parallel" // served as queued: one sequence at a time
)

// defaultMax is the queue bound for queued and parallel automations.
const defaultMax = 10

// Config is one parsed automation definition.
type Config struct {
	ID           string
	Alias        string
	Description  string
	Mode         Mode
	Max          int
	InitialState *bool

	Triggers   []Trigger
	Conditions []Condition
	Actions    []Action

	// Raw is the definition as loaded, returned by the config API.
	Raw map[string]any
}

// Name is the alias, falling back to the id.
func (c *Config) Name() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.ID
}

// ObjectID is the object id of the automation's entity.
func (c *Config) ObjectID() string {
	return core.Slugify(c.Name())
}

// Trigger platforms.
const (
	PlatformState         = "state"
	PlatformNumericState  = "numeric_state"
	PlatformEvent         = "event"
	PlatformTime          = "time"
	PlatformTimePattern   = "time_pattern"
	PlatformWebhook       = "webhook"
	PlatformHomeAssistant = "homeassistant"
	PlatformTemplate      = "template"
	PlatformSun           = "sun"
)

// Trigger is one trigger of an automation. Which fields apply depends on Platform.
type Trigger struct {
	Platform string `mapstructure:"platform"`
	ID       string `mapstructure:"id"`

	// state, numeric_state
	EntityIDs []string `mapstructure:"entity_id"`
	Attribute string   `mapstructure:"attribute"`
	From      []string `mapstructure:"from"`
	To        []string `mapstructure:"to"`
	Above     *float64 `mapstructure:"above"`
	Below     *float64 `mapstructure:"below"`

	// event
	EventType []string       `mapstructure:"event_type"`
	EventData map[string]any `mapstructure:"event_data"`

	// time, time_pattern
	At      []string `mapstructure:"at"`
	Hours   string   `mapstructure:"hours"`
	Minutes string   `mapstructure:"minutes"`
	Seconds string   `mapstructure:"seconds"`

	// webhook
	WebhookID string `mapstructure:"webhook_id"`

	// homeassistant (start, shutdown), sun (sunrise, sunset)
	Event  string `mapstructure:"event"`
	Offset string `mapstructure:"offset"`

	// template
	ValueTemplate string `mapstructure:"value_template"`

	offset  time.Duration
	pattern *timePattern
}

// Condition types.
const (
	ConditionState        = "state"
	ConditionNumericState = "numeric_state"
	ConditionTemplate     = "template"
	ConditionTime         = "time"
	ConditionSun          = "sun"
	ConditionTrigger      = "trigger"
	ConditionAnd          = "and"
	ConditionOr           = "or"
	ConditionNot          = "not"
)

// Condition is one condition; and/or/not nest further conditions.
type Condition struct {
	Condition string `mapstructure:"condition"`

	EntityIDs []string `mapstructure:"entity_id"`
	Attribute string   `mapstructure:"attribute"`
	State     []string `mapstructure:"state"`
	Above     *float64 `mapstructure:"above"`
	Below     *float64 `mapstructure:"below"`

	ValueTemplate string `mapstructure:"value_template"`

	After        string   `mapstructure:"after"`
	Before       string   `mapstructure:"before"`
	AfterOffset  string   `mapstructure:"after_offset"`
	BeforeOffset string   `mapstructure:"before_offset"`
	Weekday      []string `mapstructure:"weekday"`

	TriggerIDs []string `mapstructure:"id"`

	Conditions []Condition `mapstructure:"-"`

	afterOffset  time.Duration
	beforeOffset time.Duration
}

// ActionKind identifies what an action does.
type ActionKind string

const (
	ActionService   ActionKind = "service"
	ActionEvent     ActionKind = "event"
	ActionDelay     ActionKind = "delay"
	ActionScene     ActionKind = "scene"
	ActionCondition ActionKind = "condition"
	ActionStop      ActionKind = "stop"
	ActionChoose    ActionKind = "choose"
	ActionParallel  ActionKind = "parallel"
)

// Action is one step of an action sequence.
type Action struct {
	Kind            ActionKind
	Alias           string
	ContinueOnError bool

	// service: Service is "domain.service"; Target, EntityID and Data may hold templates.
	Service  string
	Target   any
	EntityID any
	Data     map[string]any

	// event
	EventType string
	EventData map[string]any

	// delay: string, number of seconds or {hours, minutes, ...}; may be a template.
	Delay any

	// scene
	Scene string

	// condition
	Condition *Condition

	// stop
	StopReason string
	StopError  bool

	// choose
	Choose  []ChooseOption
	Default []Action

	// parallel: each branch runs its own sequence.
	Branches [][]Action
}

// ChooseOption is one branch of a choose action.
type ChooseOption struct {
	Conditions []Condition
	Sequence   []Action
}

// Info is the runtime view of one automation.
type Info struct {
	EntityID      string     `json:"entity_id"`
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Mode          Mode       `json:"mode"`
	Enabled       bool       `json:"enabled"`
	Current       int        `json:"current"`
	LastTriggered *time.Time `json:"last_triggered"`
}

// WebhookRequest is the part of an HTTP request a webhook trigger exposes
// as trigger.method, trigger.json, trigger.data and trigger.query.
type WebhookRequest struct {
	Method string
	JSON   any
	Data   map[string]any
	Query  map[string]any
}

func splitService(s string) (domain, service string, ok bool) {
	domain, service, ok = strings.Cut(strings.TrimSpace(s), ".")
	if !ok || domain == "" || service == "" {
		return "", "", false
	}
	return domain, service, true
}
