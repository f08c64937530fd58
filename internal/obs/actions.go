package obs

import (
	"context"
	"fmt"
	"strings"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// StateReader exposes the latest snapshot. *Tracker implements it.
type StateReader interface {
	Snapshot() Snapshot
}

// currentScene is the scene name placeholder for the live program scene.
const currentScene = "current"

// aliases maps command names that do not follow the request-name convention.
var aliases = map[string]string{
	"switch_scene":        "setCurrentProgramScene",
	"switchScene":         "setCurrentProgramScene",
	"transition_to_scene": "setCurrentProgramScene",
	"set_volume":          "setInputVolume",
	"toggle_mute":         "toggleInputMute",
	"set_source_settings": "setInputSettings",
	"toggle_filter":       "setSourceFilterEnabled",
	"set_filter":          "setSourceFilterSettings",
}

// sceneItemCommands address a scene item by id, resolved from sourceName when absent.
var sceneItemCommands = map[string]bool{
	"setSceneItemEnabled":   true,
	"setSceneItemTransform": true,
	"setSceneItemBlendMode": true,
	"setSceneItemLocked":    true,
	"setSceneItemIndex":     true,
	"removeSceneItem":       true,
}

// ActionHandler executes OBS commands produced by automation rules.
type ActionHandler struct {
	caller Caller
	state  StateReader
	log    *logger.Logger
}

// NewActionHandler creates a handler issuing requests through caller. state
// may be nil, in which case the "current" scene placeholder cannot resolve.
func NewActionHandler(caller Caller, state StateReader, log *logger.Logger) *ActionHandler {
	return &ActionHandler{caller: caller, state: state, log: log.With("component", "obs_actions")}
}

// RequestType maps a command name to its obs-websocket request type.
func RequestType(command string) string {
	if alias, ok := aliases[command]; ok {
		command = alias
	}
	if command == "" {
		return ""
	}
	return strings.ToUpper(command[:1]) + command[1:]
}

// HandleObsAction executes a and returns a human-readable outcome.
func (h *ActionHandler) HandleObsAction(ctx context.Context, a rule.ObsAction) (string, error) {
	command := a.Type()
	if alias, ok := aliases[command]; ok {
		command = alias
	}
	params := a.Params()

	if scene, ok := params["sceneName"].(string); ok && scene == currentScene {
		resolved, err := h.currentScene()
		if err != nil {
			return "", err
		}
		params["sceneName"] = resolved
	}

	switch command {
	case "setInputVolume", "toggleInputMute", "setInputMute", "setInputSettings":
		if _, ok := params["inputName"]; !ok {
			if src, ok := params["sourceName"]; ok {
				params["inputName"] = src
				delete(params, "sourceName")
			}
		}
		// set_volume carries the level under "volume" in dB.
		if v, ok := params["volume"]; ok && command == "setInputVolume" {
			params["inputVolumeDb"] = v
			delete(params, "volume")
		}
	case "createInput":
		// A missing target scene falls back to the program scene.
		if scene, ok := params["sceneName"].(string); ok && h.state != nil {
			snap := h.state.Snapshot()
			if _, found := snap.Scene(scene); !found && snap.CurrentProgramScene != "" {
				params["sceneName"] = snap.CurrentProgramScene
			}
		}
	}

	if sceneItemCommands[command] {
		if err := h.resolveSceneItem(ctx, params); err != nil {
			return "", err
		}
		if command == "setSceneItemEnabled" {
			if _, ok := params["sceneItemEnabled"]; !ok {
				enabled, _ := params["enabled"].(bool)
				params["sceneItemEnabled"] = enabled
			}
			delete(params, "enabled")
		}
	}

	reqType := RequestType(command)
	if _, err := h.caller.Call(ctx, reqType, params); err != nil {
		return "", fmt.Errorf("%s: %w", command, err)
	}
	msg := describe(command, params)
	h.log.Debug("OBS action executed", "request", reqType, "message", msg)
	return msg, nil
}

func (h *ActionHandler) currentScene() (string, error) {
	if h.state == nil {
		return "", fmt.Errorf("cannot resolve %q scene: no OBS state", currentScene)
	}
	name := h.state.Snapshot().CurrentProgramScene
	if name == "" {
		return "", fmt.Errorf("cannot resolve %q scene: program scene unknown", currentScene)
	}
	return name, nil
}

func (h *ActionHandler) resolveSceneItem(ctx context.Context, params map[string]interface{}) error {
	if _, ok := params["sceneItemId"]; ok {
		delete(params, "sourceName")
		return nil
	}
	scene, _ := params["sceneName"].(string)
	source, _ := params["sourceName"].(string)
	if scene == "" || source == "" {
		return fmt.Errorf("sceneName and sourceName are required to locate a scene item")
	}
	resp, err := h.caller.Call(ctx, "GetSceneItemId", map[string]interface{}{"sceneName": scene, "sourceName": source})
	if err != nil {
		return fmt.Errorf("source %q not found in scene %q: %w", source, scene, err)
	}
	id, ok := num(resp, "sceneItemId")
	if !ok {
		return fmt.Errorf("source %q not found in scene %q", source, scene)
	}
	params["sceneItemId"] = int(id)
	delete(params, "sourceName")
	return nil
}

func describe(command string, p map[string]interface{}) string {
	switch command {
	case "setCurrentProgramScene":
		return fmt.Sprintf("Switched to scene %q", p["sceneName"])
	case "setSceneItemEnabled":
		verb := "Disabled"
		if b, _ := p["sceneItemEnabled"].(bool); b {
			verb = "Enabled"
		}
		return fmt.Sprintf("%s item %v in scene %q", verb, p["sceneItemId"], p["sceneName"])
	case "setInputMute":
		verb := "Unmuted"
		if b, _ := p["inputMuted"].(bool); b {
			verb = "Muted"
		}
		return fmt.Sprintf("%s input %q", verb, p["inputName"])
	case "setInputVolume":
		return fmt.Sprintf("Set volume for input %q", p["inputName"])
	}
	return fmt.Sprintf("Executed %s", RequestType(command))
}
