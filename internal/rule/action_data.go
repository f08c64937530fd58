package rule

import (
	"fmt"
)

// ObsAction is an OBS command: the "type" key names the command in lower camel
// case (setCurrentProgramScene, setInputMute, ...) and every other key is a
// request parameter.
type ObsAction map[string]interface{}

// Type returns the command name.
func (a ObsAction) Type() string {
	s, _ := a["type"].(string)
	return s
}

// Params returns the command parameters without the "type" key.
func (a ObsAction) Params() map[string]interface{} {
	out := make(map[string]interface{}, len(a))
	for k, v := range a {
		if k == "type" {
			continue
		}
		out[k] = v
	}
	return out
}

// String returns a string parameter.
func (a ObsAction) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// StreamerBotAction names a Streamer.bot action and its arguments. Either the
// action name or its GUID identifies it.
type StreamerBotAction struct {
	ActionName string                 `json:"actionName,omitempty"`
	ActionID   string                 `json:"actionId,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

// Identifier returns the name, or the id when no name is set.
func (a StreamerBotAction) Identifier() string {
	if a.ActionName != "" {
		return a.ActionName
	}
	return a.ActionID
}

// ObsAction decodes the payload of an obs action.
func (a Action) ObsAction() (ObsAction, error) {
	if a.Type != ActionOBS {
		return nil, fmt.Errorf("action %s: type %q is not %q", a.ID, a.Type, ActionOBS)
	}
	out := ObsAction(cloneMap(a.Data))
	if out.Type() == "" {
		return nil, fmt.Errorf("action %s: obs data requires a string \"type\"", a.ID)
	}
	return out, nil
}

// StreamerBotAction decodes the payload of a streamerbot action.
func (a Action) StreamerBotAction() (StreamerBotAction, error) {
	if a.Type != ActionStreamerBot {
		return StreamerBotAction{}, fmt.Errorf("action %s: type %q is not %q", a.ID, a.Type, ActionStreamerBot)
	}
	var out StreamerBotAction
	out.ActionName, _ = a.Data["actionName"].(string)
	out.ActionID, _ = a.Data["actionId"].(string)
	if out.Identifier() == "" {
		return StreamerBotAction{}, fmt.Errorf("action %s: streamerbot data requires actionName or actionId", a.ID)
	}
	switch args := a.Data["args"].(type) {
	case nil:
		out.Args = map[string]interface{}{}
	case map[string]interface{}:
		out.Args = cloneMap(args)
	default:
		return StreamerBotAction{}, fmt.Errorf("action %s: streamerbot args must be an object, got %T", a.ID, args)
	}
	return out, nil
}
