package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

func TestRequestType(t *testing.T) {
	tests := map[string]string{
		"setCurrentProgramScene": "SetCurrentProgramScene",
		"switch_scene":           "SetCurrentProgramScene",
		"toggle_mute":            "ToggleInputMute",
		"startStream":            "StartStream",
		"":                       "",
	}
	for in, want := range tests {
		assert.Equal(t, want, RequestType(in), in)
	}
}

func TestHandleObsAction(t *testing.T) {
	state := NewTracker(Snapshot{
		CurrentProgramScene: "Gaming",
		Scenes:              []SceneSnapshot{{Name: "Gaming"}},
	})

	t.Run("passthrough", func(t *testing.T) {
		fc := &fakeCaller{responses: map[string]map[string]interface{}{"SetCurrentProgramScene": {}}}
		h := NewActionHandler(fc, state, logger.Nop())

		msg, err := h.HandleObsAction(context.Background(), rule.ObsAction{"type": "switch_scene", "sceneName": "BRB"})
		require.NoError(t, err)
		assert.Equal(t, `Switched to scene "BRB"`, msg)
		assert.Equal(t, []string{"SetCurrentProgramScene"}, fc.calls)
		assert.Equal(t, map[string]interface{}{"sceneName": "BRB"}, fc.params[0])
	})

	t.Run("scene item lookup with current scene", func(t *testing.T) {
		fc := &fakeCaller{responses: map[string]map[string]interface{}{
			"GetSceneItemId":      {"sceneItemId": float64(7)},
			"SetSceneItemEnabled": {},
		}}
		h := NewActionHandler(fc, state, logger.Nop())

		_, err := h.HandleObsAction(context.Background(), rule.ObsAction{
			"type":             "setSceneItemEnabled",
			"sceneName":        "current",
			"sourceName":       "Muted Alert",
			"sceneItemEnabled": true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"GetSceneItemId", "SetSceneItemEnabled"}, fc.calls)
		assert.Equal(t, map[string]interface{}{"sceneName": "Gaming", "sourceName": "Muted Alert"}, fc.params[0])
		assert.Equal(t, map[string]interface{}{"sceneName": "Gaming", "sceneItemId": 7, "sceneItemEnabled": true}, fc.params[1])
	})

	t.Run("missing scene item", func(t *testing.T) {
		fc := &fakeCaller{responses: map[string]map[string]interface{}{}}
		h := NewActionHandler(fc, state, logger.Nop())

		_, err := h.HandleObsAction(context.Background(), rule.ObsAction{
			"type": "setSceneItemEnabled", "sceneName": "Gaming", "sourceName": "Ghost", "sceneItemEnabled": true,
		})
		assert.ErrorContains(t, err, `source "Ghost" not found in scene "Gaming"`)
		assert.Equal(t, []string{"GetSceneItemId"}, fc.calls)
	})

	t.Run("current scene without state", func(t *testing.T) {
		h := NewActionHandler(&fakeCaller{}, nil, logger.Nop())
		_, err := h.HandleObsAction(context.Background(), rule.ObsAction{"type": "setCurrentProgramScene", "sceneName": "current"})
		assert.Error(t, err)
	})

	t.Run("set_volume alias", func(t *testing.T) {
		fc := &fakeCaller{responses: map[string]map[string]interface{}{"SetInputVolume": {}}}
		h := NewActionHandler(fc, state, logger.Nop())

		_, err := h.HandleObsAction(context.Background(), rule.ObsAction{"type": "set_volume", "sourceName": "Desktop Audio", "volume": -10})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"inputName": "Desktop Audio", "inputVolumeDb": -10}, fc.params[0])
	})

	t.Run("request failure", func(t *testing.T) {
		h := NewActionHandler(&fakeCaller{}, state, logger.Nop())
		_, err := h.HandleObsAction(context.Background(), rule.ObsAction{"type": "startStream"})
		assert.ErrorContains(t, err, "startStream")
	})
}
