// Package rule holds the automation rule model shared by the engine, the
// loaders and the HTTP API.
package rule

import (
	"fmt"
	"time"
)

// ConditionType selects which state accessor family resolves a condition field.
type ConditionType string

const (
	ConditionScene  ConditionType = "scene"
	ConditionSource ConditionType = "source"
	ConditionStream ConditionType = "stream"
	ConditionCustom ConditionType = "custom"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// ActionType selects the sink an action is executed against.
type ActionType string

const (
	ActionOBS         ActionType = "obs"
	ActionStreamerBot ActionType = "streamerbot"
)

// Rule is a user-authored automation unit: a trigger, ANDed conditions and
// ordered actions.
type Rule struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Trigger     Trigger     `json:"trigger" yaml:"trigger"`
	Conditions  []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty" validate:"dive"`
	Actions     []Action    `json:"actions" yaml:"actions" validate:"required,min=1,dive"`
	// Cooldown is the minimum number of seconds between two executions.
	Cooldown      int        `json:"cooldown,omitempty" yaml:"cooldown,omitempty" validate:"gte=0"`
	CreatedAt     time.Time  `json:"createdAt" yaml:"createdAt,omitempty"`
	LastTriggered *time.Time `json:"lastTriggered,omitempty" yaml:"lastTriggered,omitempty"`
	TriggerCount  int        `json:"triggerCount" yaml:"triggerCount,omitempty" validate:"gte=0"`
}

// Trigger selects the events a rule considers.
type Trigger struct {
	EventName string `json:"eventName" yaml:"eventName" validate:"required"`
	// EventData is a partial-match filter against the event payload.
	EventData map[string]interface{} `json:"eventData,omitempty" yaml:"eventData,omitempty"`
}

// Condition is a single boolean test against OBS state or the event payload.
type Condition struct {
	ID          string        `json:"id" yaml:"id"`
	Type        ConditionType `json:"type" yaml:"type" validate:"required,oneof=scene source stream custom"`
	Field       string        `json:"field" yaml:"field" validate:"required"`
	Operator    Operator      `json:"operator" yaml:"operator" validate:"required,oneof=equals not_equals contains greater_than less_than"`
	Value       interface{}   `json:"value" yaml:"value"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// String renders the condition the way dry-run reasons and logs show it.
func (c Condition) String() string {
	return fmt.Sprintf("%s.%s %s %v", c.Type, c.Field, c.Operator, c.Value)
}

// Action is a single effect executed when a rule fires. Data is kept raw and
// decoded on demand by ObsAction or StreamerBotAction.
type Action struct {
	ID          string                 `json:"id" yaml:"id"`
	Type        ActionType             `json:"type" yaml:"type" validate:"required,oneof=obs streamerbot"`
	Data        map[string]interface{} `json:"data" yaml:"data"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
}

// CoolingDown reports whether the rule executed less than Cooldown seconds before now.
func (r *Rule) CoolingDown(now time.Time) bool {
	if r.Cooldown <= 0 || r.LastTriggered == nil {
		return false
	}
	return now.Sub(*r.LastTriggered) < time.Duration(r.Cooldown)*time.Second
}

// MarkTriggered records a completed execution. LastTriggered never moves backwards.
func (r *Rule) MarkTriggered(now time.Time) {
	if r.LastTriggered != nil && now.Before(*r.LastTriggered) {
		now = *r.LastTriggered
	}
	t := now
	r.LastTriggered = &t
	r.TriggerCount++
}

// Clone returns a deep copy that shares no bookkeeping, slices or payload
// maps with r.
func (r *Rule) Clone() Rule {
	out := *r
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		out.LastTriggered = &t
	}
	out.Trigger.EventData = cloneMap(r.Trigger.EventData)
	out.Conditions = append([]Condition(nil), r.Conditions...)
	for i := range out.Conditions {
		out.Conditions[i].Value = cloneValue(out.Conditions[i].Value)
	}
	out.Actions = make([]Action, len(r.Actions))
	for i, a := range r.Actions {
		a.Data = cloneMap(a.Data)
		out.Actions[i] = a
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the maps and slices decoded payloads are built from.
func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		if t == nil {
			return t
		}
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// ValidationError is a single problem found in a rule definition.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
