package rule

import (
	"time"

	"github.com/google/uuid"
)

// Template is a ready-made rule shape users start from.
type Template struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Trigger     Trigger     `json:"trigger"`
	Conditions  []Condition `json:"conditions,omitempty"`
	Actions     []Action    `json:"actions"`
}

// Templates returns the built-in rule templates.
func Templates() []Template {
	return []Template{
		{
			Name:        "Stream Started Notification",
			Description: "Send Streamer.bot action when stream starts",
			Trigger: Trigger{
				EventName: "StreamStateChanged",
				EventData: map[string]interface{}{"outputState": "OBS_WEBSOCKET_OUTPUT_STARTED"},
			},
			Actions: []Action{{
				Type:        ActionStreamerBot,
				Data:        map[string]interface{}{"actionName": "Stream Started", "args": map[string]interface{}{}},
				Description: "Trigger Stream Started action in Streamer.bot",
			}},
		},
		{
			Name:        "Gaming Scene Auto-Setup",
			Description: "When switching to Gaming scene, enable game capture and adjust audio",
			Trigger: Trigger{
				EventName: "CurrentProgramSceneChanged",
				EventData: map[string]interface{}{"sceneName": "Gaming"},
			},
			Actions: []Action{
				{
					Type: ActionOBS,
					Data: map[string]interface{}{
						"type":             "setSceneItemEnabled",
						"sceneName":        "Gaming",
						"sourceName":       "Game Capture",
						"sceneItemEnabled": true,
					},
					Description: "Enable Game Capture source",
				},
				{
					Type: ActionOBS,
					Data: map[string]interface{}{
						"type":           "setInputVolume",
						"inputName":      "Desktop Audio",
						"inputVolumeMul": 0.8,
					},
					Description: "Lower desktop audio volume",
				},
			},
		},
		{
			Name:        "Mute Alert",
			Description: "Show alert when microphone is muted",
			Trigger: Trigger{
				EventName: "InputMuteStateChanged",
				EventData: map[string]interface{}{"inputMuted": true},
			},
			Conditions: []Condition{{
				ID:          "condition-1",
				Type:        ConditionSource,
				Field:       "inputName",
				Operator:    OpContains,
				Value:       "Mic",
				Description: `Input name contains "Mic"`,
			}},
			Actions: []Action{{
				Type: ActionOBS,
				Data: map[string]interface{}{
					"type":             "setSceneItemEnabled",
					"sceneName":        "current",
					"sourceName":       "Muted Alert",
					"sceneItemEnabled": true,
				},
				Description: "Show muted alert overlay",
			}},
		},
	}
}

// NewFromTemplate builds an enabled rule from t with fresh IDs.
func NewFromTemplate(t Template, now time.Time) *Rule {
	r := &Rule{
		ID:          uuid.NewString(),
		Name:        t.Name,
		Description: t.Description,
		Enabled:     true,
		Trigger: Trigger{
			EventName: t.Trigger.EventName,
			EventData: cloneMap(t.Trigger.EventData),
		},
		CreatedAt: now,
	}
	for _, c := range t.Conditions {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		r.Conditions = append(r.Conditions, c)
	}
	for _, a := range t.Actions {
		a.ID = uuid.NewString()
		a.Data = cloneMap(a.Data)
		r.Actions = append(r.Actions, a)
	}
	return r
}
