package rule

// FieldKind describes the value type a trigger key or condition field carries.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindNumber  FieldKind = "number"
	KindBoolean FieldKind = "boolean"
	KindSelect  FieldKind = "select"
)

// FieldOption documents a known trigger filter key or condition field.
type FieldOption struct {
	Field       string    `json:"field"`
	Label       string    `json:"label,omitempty"`
	Kind        FieldKind `json:"kind"`
	Options     []string  `json:"options,omitempty"`
	Description string    `json:"description,omitempty"`
}

var outputStates = []string{
	"OBS_WEBSOCKET_OUTPUT_STARTING",
	"OBS_WEBSOCKET_OUTPUT_STARTED",
	"OBS_WEBSOCKET_OUTPUT_STOPPING",
	"OBS_WEBSOCKET_OUTPUT_STOPPED",
}

// EventDataFields lists the trigger filter keys known per OBS event name.
func EventDataFields() map[string][]FieldOption {
	return map[string][]FieldOption{
		"StreamStateChanged": {
			{Field: "outputState", Kind: KindSelect, Options: outputStates, Description: "Stream state to trigger on"},
		},
		"RecordStateChanged": {
			{Field: "outputState", Kind: KindSelect, Options: outputStates, Description: "Record state to trigger on"},
		},
		"CurrentProgramSceneChanged": {
			{Field: "sceneName", Kind: KindString, Description: "Specific scene name to trigger on (leave empty for any scene)"},
		},
		"InputMuteStateChanged": {
			{Field: "inputName", Kind: KindString, Description: "Specific input name (leave empty for any input)"},
			{Field: "inputMuted", Kind: KindBoolean, Description: "Mute state to trigger on"},
		},
		"SceneItemEnableStateChanged": {
			{Field: "sceneName", Kind: KindString, Description: "Scene name (leave empty for any scene)"},
			{Field: "sceneItemEnabled", Kind: KindBoolean, Description: "Enable state to trigger on"},
		},
	}
}

// ConditionFields lists the documented fields per condition type.
func ConditionFields() map[ConditionType][]FieldOption {
	return map[ConditionType][]FieldOption{
		ConditionScene: {
			{Field: "currentProgramScene", Label: "Current Program Scene", Kind: KindString, Description: "The currently active scene"},
			{Field: "currentPreviewScene", Label: "Current Preview Scene", Kind: KindString, Description: "The currently previewed scene (Studio Mode)"},
			{Field: "index", Label: "Scene Index", Kind: KindNumber, Description: "Position of the program scene in the scene list"},
			{Field: "sources", Label: "Scene Sources", Kind: KindString, Description: "Source names in the program scene (use contains)"},
		},
		ConditionSource: {
			{Field: "inputMuted", Label: "Input Muted", Kind: KindBoolean, Description: "Whether the event's input is muted; prefix with \"<source>.\" to address a named source"},
			{Field: "inputActive", Label: "Input Active", Kind: KindBoolean, Description: "Whether the event's input is active"},
			{Field: "inputName", Label: "Input Name", Kind: KindString, Description: "Name of the input carried by the event"},
			{Field: "volumeDb", Label: "Input Volume (dB)", Kind: KindNumber, Description: "Input volume in decibels"},
		},
		ConditionStream: {
			{Field: "streamActive", Label: "Stream Active", Kind: KindBoolean, Description: "Whether streaming is currently active"},
			{Field: "recordActive", Label: "Recording Active", Kind: KindBoolean, Description: "Whether recording is currently active"},
			{Field: "duration", Label: "Stream Duration", Kind: KindNumber, Description: "Seconds since the stream started"},
		},
		ConditionCustom: {
			{Field: "<payload.path>", Label: "Event Payload", Kind: KindString, Description: "Dotted path into the triggering event payload"},
		},
	}
}
