package obs

import (
	"context"
	"fmt"
	"sync"
)

// Caller issues a single obs-websocket request. *Client implements it.
type Caller interface {
	Call(ctx context.Context, requestType string, data map[string]interface{}) (map[string]interface{}, error)
}

// Tracker folds OBS events into a Snapshot and publishes every new value.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	onChange []func(Snapshot)
}

// NewTracker creates a Tracker seeded with initial.
func NewTracker(initial Snapshot) *Tracker {
	return &Tracker{snap: initial.Clone()}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Clone()
}

// OnChange registers a callback invoked with every published snapshot.
func (t *Tracker) OnChange(fn func(Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// Reset replaces the state wholesale and publishes it.
func (t *Tracker) Reset(s Snapshot) {
	t.publish(s.Clone())
}

// Apply reduces one OBS event into the state. It reports whether the event
// was one the tracker understands; unknown events leave the state untouched.
func (t *Tracker) Apply(eventName string, data map[string]interface{}) bool {
	t.mu.RLock()
	next := t.snap.Clone()
	t.mu.RUnlock()

	if !reduce(&next, eventName, data) {
		return false
	}
	t.publish(next)
	return true
}

func (t *Tracker) publish(s Snapshot) {
	t.mu.Lock()
	t.snap = s
	callbacks := make([]func(Snapshot), len(t.onChange))
	copy(callbacks, t.onChange)
	t.mu.Unlock()
	for _, fn := range callbacks {
		fn(s.Clone())
	}
}

func reduce(s *Snapshot, eventName string, d map[string]interface{}) bool {
	switch eventName {
	case "CurrentProgramSceneChanged":
		s.CurrentProgramScene = str(d, "sceneName")
	case "CurrentPreviewSceneChanged":
		s.CurrentPreviewScene = str(d, "sceneName")
	case "SceneListChanged":
		scenes, _ := d["scenes"].([]interface{})
		prev := make(map[string][]string, len(s.Scenes))
		for _, sc := range s.Scenes {
			prev[sc.Name] = sc.Sources
		}
		s.Scenes = s.Scenes[:0]
		for _, raw := range scenes {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			name := str(m, "sceneName")
			idx, _ := num(m, "sceneIndex")
			s.Scenes = append(s.Scenes, SceneSnapshot{Name: name, Index: int(idx), Sources: prev[name]})
		}
	case "SceneCreated":
		if b, _ := d["isGroup"].(bool); b {
			return true
		}
		name := str(d, "sceneName")
		if _, ok := s.Scene(name); !ok {
			s.Scenes = append(s.Scenes, SceneSnapshot{Name: name, Index: len(s.Scenes)})
		}
	case "SceneRemoved":
		name := str(d, "sceneName")
		out := s.Scenes[:0]
		for _, sc := range s.Scenes {
			if sc.Name != name {
				out = append(out, sc)
			}
		}
		s.Scenes = out
	case "SceneNameChanged":
		old, name := str(d, "oldSceneName"), str(d, "sceneName")
		for i := range s.Scenes {
			if s.Scenes[i].Name == old {
				s.Scenes[i].Name = name
			}
		}
		if s.CurrentProgramScene == old {
			s.CurrentProgramScene = name
		}
		if s.CurrentPreviewScene == old {
			s.CurrentPreviewScene = name
		}
	case "SceneItemCreated":
		scene, source := str(d, "sceneName"), str(d, "sourceName")
		for i := range s.Scenes {
			if s.Scenes[i].Name == scene && !containsString(s.Scenes[i].Sources, source) {
				s.Scenes[i].Sources = append(s.Scenes[i].Sources, source)
			}
		}
	case "SceneItemRemoved":
		scene, source := str(d, "sceneName"), str(d, "sourceName")
		for i := range s.Scenes {
			if s.Scenes[i].Name == scene {
				s.Scenes[i].Sources = removeString(s.Scenes[i].Sources, source)
			}
		}
	case "InputCreated":
		name := str(d, "inputName")
		if _, ok := s.Source(name); !ok {
			s.Sources = append(s.Sources, SourceSnapshot{Name: name, Kind: str(d, "inputKind"), VolumeMul: 1})
		}
	case "InputRemoved":
		name := str(d, "inputName")
		out := s.Sources[:0]
		for _, src := range s.Sources {
			if src.Name != name {
				out = append(out, src)
			}
		}
		s.Sources = out
		for i := range s.Scenes {
			s.Scenes[i].Sources = removeString(s.Scenes[i].Sources, name)
		}
	case "InputNameChanged":
		old, name := str(d, "oldInputName"), str(d, "inputName")
		for i := range s.Sources {
			if s.Sources[i].Name == old {
				s.Sources[i].Name = name
			}
		}
		for i := range s.Scenes {
			for j, src := range s.Scenes[i].Sources {
				if src == old {
					s.Scenes[i].Sources[j] = name
				}
			}
		}
	case "InputMuteStateChanged":
		s.updateSource(str(d, "inputName"), func(src *SourceSnapshot) {
			src.Muted, _ = d["inputMuted"].(bool)
		})
	case "InputActiveStateChanged":
		s.updateSource(str(d, "inputName"), func(src *SourceSnapshot) {
			src.Active, _ = d["videoActive"].(bool)
		})
	case "InputShowStateChanged":
		s.updateSource(str(d, "inputName"), func(src *SourceSnapshot) {
			src.Showing, _ = d["videoShowing"].(bool)
		})
	case "InputVolumeChanged":
		s.updateSource(str(d, "inputName"), func(src *SourceSnapshot) {
			if v, ok := num(d, "inputVolumeMul"); ok {
				src.VolumeMul = v
			}
			if v, ok := num(d, "inputVolumeDb"); ok {
				src.VolumeDb = v
			}
		})
	case "StreamStateChanged":
		active, _ := d["outputActive"].(bool)
		state := str(d, "outputState")
		if active && !s.Stream.Active {
			s.Stream.DurationMs = 0
			s.Stream.Bytes = 0
		}
		s.Stream.Active = active
		s.Stream.Reconnecting = state == "OBS_WEBSOCKET_OUTPUT_RECONNECTING"
	case "RecordStateChanged":
		active, _ := d["outputActive"].(bool)
		state := str(d, "outputState")
		if active && !s.Record.Active {
			s.Record.DurationMs = 0
		}
		s.Record.Active = active
		switch state {
		case "OBS_WEBSOCKET_OUTPUT_PAUSED":
			s.Record.Paused = true
		case "OBS_WEBSOCKET_OUTPUT_RESUMED", "OBS_WEBSOCKET_OUTPUT_STARTED", "OBS_WEBSOCKET_OUTPUT_STOPPED":
			s.Record.Paused = false
		}
	default:
		return false
	}
	return true
}

// updateSource applies fn to the named source, creating it if OBS reports
// state for an input the snapshot has not seen yet.
func (s *Snapshot) updateSource(name string, fn func(*SourceSnapshot)) {
	if name == "" {
		return
	}
	for i := range s.Sources {
		if s.Sources[i].Name == name {
			fn(&s.Sources[i])
			return
		}
	}
	src := SourceSnapshot{Name: name, VolumeMul: 1}
	fn(&src)
	s.Sources = append(s.Sources, src)
}

// Sync fetches the full state from OBS and publishes it. It is called after
// every (re)connect so the snapshot never depends on events missed while
// disconnected.
func (t *Tracker) Sync(ctx context.Context, c Caller) error {
	var s Snapshot

	scenes, err := c.Call(ctx, "GetSceneList", nil)
	if err != nil {
		return fmt.Errorf("sync scenes: %w", err)
	}
	s.CurrentProgramScene = str(scenes, "currentProgramSceneName")
	s.CurrentPreviewScene = str(scenes, "currentPreviewSceneName")
	list, _ := scenes["scenes"].([]interface{})
	for _, raw := range list {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		sc := SceneSnapshot{Name: str(m, "sceneName")}
		if idx, ok := num(m, "sceneIndex"); ok {
			sc.Index = int(idx)
		}
		items, err := c.Call(ctx, "GetSceneItemList", map[string]interface{}{"sceneName": sc.Name})
		if err != nil {
			return fmt.Errorf("sync scene items %s: %w", sc.Name, err)
		}
		rawItems, _ := items["sceneItems"].([]interface{})
		for _, ri := range rawItems {
			if item, ok := ri.(map[string]interface{}); ok {
				sc.Sources = append(sc.Sources, str(item, "sourceName"))
			}
		}
		s.Scenes = append(s.Scenes, sc)
	}

	inputs, err := c.Call(ctx, "GetInputList", nil)
	if err != nil {
		return fmt.Errorf("sync inputs: %w", err)
	}
	rawInputs, _ := inputs["inputs"].([]interface{})
	for _, ri := range rawInputs {
		m, ok := ri.(map[string]interface{})
		if !ok {
			continue
		}
		src := SourceSnapshot{Name: str(m, "inputName"), Kind: str(m, "inputKind"), VolumeMul: 1}
		// Inputs without audio reject these requests; keep their defaults.
		if mute, err := c.Call(ctx, "GetInputMute", map[string]interface{}{"inputName": src.Name}); err == nil {
			src.Muted, _ = mute["inputMuted"].(bool)
		}
		if vol, err := c.Call(ctx, "GetInputVolume", map[string]interface{}{"inputName": src.Name}); err == nil {
			if v, ok := num(vol, "inputVolumeMul"); ok {
				src.VolumeMul = v
			}
			if v, ok := num(vol, "inputVolumeDb"); ok {
				src.VolumeDb = v
			}
		}
		s.Sources = append(s.Sources, src)
	}

	stream, err := c.Call(ctx, "GetStreamStatus", nil)
	if err != nil {
		return fmt.Errorf("sync stream status: %w", err)
	}
	s.Stream.Active, _ = stream["outputActive"].(bool)
	s.Stream.Reconnecting, _ = stream["outputReconnecting"].(bool)
	s.Stream.Timecode = str(stream, "outputTimecode")
	if v, ok := num(stream, "outputDuration"); ok {
		s.Stream.DurationMs = int64(v)
	}
	if v, ok := num(stream, "outputBytes"); ok {
		s.Stream.Bytes = int64(v)
	}

	record, err := c.Call(ctx, "GetRecordStatus", nil)
	if err != nil {
		return fmt.Errorf("sync record status: %w", err)
	}
	s.Record.Active, _ = record["outputActive"].(bool)
	s.Record.Paused, _ = record["outputPaused"].(bool)
	s.Record.Timecode = str(record, "outputTimecode")
	if v, ok := num(record, "outputDuration"); ok {
		s.Record.DurationMs = int64(v)
	}

	t.publish(s)
	return nil
}

func str(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]interface{}, key string) (float64, bool) {
	switch n := m[key].(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
