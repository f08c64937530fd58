package condition

import (
	"strconv"
	"strings"

	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
)

func resolveScene(field string, in Input) (interface{}, bool) {
	s := in.Snapshot
	switch field {
	case "name", "currentProgramScene", "sceneName":
		return s.CurrentProgramScene, true
	case "previewName", "currentPreviewScene":
		return s.CurrentPreviewScene, true
	case "count":
		return len(s.Scenes), true
	case "index":
		sc, ok := s.Scene(s.CurrentProgramScene)
		if !ok {
			return nil, false
		}
		return sc.Index, true
	case "sources":
		sc, ok := s.Scene(s.CurrentProgramScene)
		if !ok {
			return nil, false
		}
		return append([]string{}, sc.Sources...), true
	}
	return nil, false
}

// resolveSource addresses "<sourceName>.<property>". A bare property refers
// to the input named by the event payload, and is read from the payload
// itself when the payload carries it.
func resolveSource(field string, in Input) (interface{}, bool) {
	name, prop := "", field
	if i := strings.LastIndex(field, "."); i >= 0 {
		name, prop = field[:i], field[i+1:]
	} else {
		if v, ok := in.Event[prop]; ok {
			return v, true
		}
		name = eventSourceName(in.Event)
		if isNameProperty(prop) {
			return name, name != ""
		}
	}
	if name == "" {
		return nil, false
	}
	src, ok := in.Snapshot.Source(name)
	if !ok {
		return nil, false
	}
	return sourceProperty(src, prop)
}

func eventSourceName(ev map[string]interface{}) string {
	for _, k := range []string{"inputName", "sourceName"} {
		if s, ok := ev[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func isNameProperty(p string) bool {
	return p == "name" || p == "inputName" || p == "sourceName"
}

func sourceProperty(src obs.SourceSnapshot, prop string) (interface{}, bool) {
	switch prop {
	case "name", "inputName", "sourceName":
		return src.Name, true
	case "kind", "inputKind":
		return src.Kind, true
	case "muted", "inputMuted":
		return src.Muted, true
	case "active", "inputActive", "videoActive":
		return src.Active, true
	case "visible", "showing", "videoShowing":
		return src.Showing, true
	case "volume", "inputVolumeMul":
		return src.VolumeMul, true
	case "volumeDb", "inputVolumeDb":
		return src.VolumeDb, true
	}
	return nil, false
}

func resolveStream(field string, in Input) (interface{}, bool) {
	st, rec := in.Snapshot.Stream, in.Snapshot.Record
	switch field {
	case "active", "streamActive":
		return st.Active, true
	case "reconnecting":
		return st.Reconnecting, true
	case "duration":
		return float64(st.DurationMs) / 1000, true
	case "timecode":
		return st.Timecode, true
	case "bytes":
		return st.Bytes, true
	case "recordActive":
		return rec.Active, true
	case "recordPaused":
		return rec.Paused, true
	case "recordDuration":
		return float64(rec.DurationMs) / 1000, true
	case "recordTimecode":
		return rec.Timecode, true
	}
	return nil, false
}

// resolveCustom walks a dotted path into the event payload. A key that
// itself contains dots is matched before the path is split.
func resolveCustom(field string, in Input) (interface{}, bool) {
	if v, ok := in.Event[field]; ok {
		return v, true
	}
	var cur interface{} = in.Event
	for _, part := range strings.Split(field, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []interface{}:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
