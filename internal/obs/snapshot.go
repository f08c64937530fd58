// Package obs talks to OBS Studio over obs-websocket v5 and keeps a typed
// snapshot of the state automation conditions read.
package obs

// Snapshot is the most recently observed OBS state. It is passed around by
// value; the slices are never mutated after a snapshot is published.
type Snapshot struct {
	CurrentProgramScene string           `json:"currentProgramScene"`
	CurrentPreviewScene string           `json:"currentPreviewScene,omitempty"`
	Scenes              []SceneSnapshot  `json:"scenes"`
	Sources             []SourceSnapshot `json:"sources"`
	Stream              StreamSnapshot   `json:"stream"`
	Record              RecordSnapshot   `json:"record"`
}

// SceneSnapshot is a scene and the names of the sources it contains.
type SceneSnapshot struct {
	Name    string   `json:"name"`
	Index   int      `json:"index"`
	Sources []string `json:"sources,omitempty"`
}

// SourceSnapshot is an input as OBS reports it.
type SourceSnapshot struct {
	Name      string  `json:"name"`
	Kind      string  `json:"kind,omitempty"`
	Muted     bool    `json:"muted"`
	Active    bool    `json:"active"`
	Showing   bool    `json:"showing"`
	VolumeMul float64 `json:"volumeMul"`
	VolumeDb  float64 `json:"volumeDb"`
}

// StreamSnapshot is the streaming output status.
type StreamSnapshot struct {
	Active       bool   `json:"active"`
	Reconnecting bool   `json:"reconnecting"`
	DurationMs   int64  `json:"durationMs"`
	Timecode     string `json:"timecode,omitempty"`
	Bytes        int64  `json:"bytes"`
}

// RecordSnapshot is the recording output status.
type RecordSnapshot struct {
	Active     bool   `json:"active"`
	Paused     bool   `json:"paused"`
	DurationMs int64  `json:"durationMs"`
	Timecode   string `json:"timecode,omitempty"`
}

// Scene returns the named scene.
func (s *Snapshot) Scene(name string) (SceneSnapshot, bool) {
	for _, sc := range s.Scenes {
		if sc.Name == name {
			return sc, true
		}
	}
	return SceneSnapshot{}, false
}

// Source returns the named source.
func (s *Snapshot) Source(name string) (SourceSnapshot, bool) {
	for _, src := range s.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceSnapshot{}, false
}

// Clone returns a copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Scenes = make([]SceneSnapshot, len(s.Scenes))
	for i, sc := range s.Scenes {
		sc.Sources = append([]string(nil), sc.Sources...)
		out.Scenes[i] = sc
	}
	out.Sources = append([]SourceSnapshot(nil), s.Sources...)
	return out
}
