package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

const rulesYAML = `
version: "1"
rules:
  - id: go-live
    name: Go live
    enabled: true
    cooldown: 10
    trigger:
      eventName: StreamStateChanged
      eventData:
        outputState: OBS_WEBSOCKET_OUTPUT_STARTED
    conditions:
      - type: stream
        field: active
        operator: equals
        value: true
    actions:
      - type: obs
        data:
          type: switch_scene
          sceneName: Live
      - type: streamerbot
        data:
          actionName: Stream Started
`

func writeRules(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseRules(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rs, err := ParseRules([]byte(rulesYAML), now)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)

	r := rs.Rules[0]
	assert.Equal(t, "go-live", r.ID)
	assert.Equal(t, 10, r.Cooldown)
	assert.Equal(t, now, r.CreatedAt)
	assert.Equal(t, rule.ConditionStream, r.Conditions[0].Type)
	assert.Equal(t, true, r.Conditions[0].Value)
	assert.NotEmpty(t, r.Conditions[0].ID, "missing ids are generated")
	require.Len(t, r.Actions, 2)
	assert.Equal(t, "Live", r.Actions[0].Data["sceneName"])
}

func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad yaml", body: "rules: [", wantErr: "parse:"},
		{name: "missing version", body: "rules: []", wantErr: "version is required"},
		{
			name:    "invalid rule",
			body:    "version: \"1\"\nrules:\n  - name: x\n    trigger: {eventName: A}\n    actions: []\n",
			wantErr: "Actions:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.body), time.Now())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRulesLoaderReload(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, rulesYAML)

	l, err := NewRulesLoader(path, logger.Nop())
	require.NoError(t, err)
	require.Len(t, l.RuleSet().Rules, 1)

	var got atomic.Pointer[RuleSet]
	l.OnChange(func(rs *RuleSet) { got.Store(rs) })

	// A broken file keeps the previous rules and skips callbacks.
	writeRules(t, dir, "version: \"1\"\nrules: [")
	_, err = l.Reload()
	require.Error(t, err)
	assert.Nil(t, got.Load())
	assert.Equal(t, "go-live", l.RuleSet().Rules[0].ID)

	writeRules(t, dir, `version: "2"
rules: []
`)
	rs, err := l.Reload()
	require.NoError(t, err)
	assert.Equal(t, "2", rs.Version)
	assert.Same(t, rs, got.Load())
	assert.Same(t, rs, l.RuleSet())
}

func TestRulesLoaderKeepsDerivedIDs(t *testing.T) {
	body := `version: "1"
rules:
  - name: Mic muted
    trigger: {eventName: InputMuteStateChanged}
    conditions:
      - {type: source, field: inputMuted, operator: equals, value: true}
    actions:
      - type: obs
        data: {type: setInputMute, inputName: Mic, inputMuted: false}
`
	dir := t.TempDir()
	path := writeRules(t, dir, body)

	l, err := NewRulesLoader(path, logger.Nop())
	require.NoError(t, err)
	first := l.RuleSet().Rules[0]
	require.NotEmpty(t, first.ID)

	rs, err := l.Reload()
	require.NoError(t, err)
	again := rs.Rules[0]
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Conditions[0].ID, again.Conditions[0].ID)
	assert.Equal(t, first.Actions[0].ID, again.Actions[0].ID)
}

func TestRulesLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, rulesYAML)

	l, err := NewRulesLoader(path, logger.Nop())
	require.NoError(t, err)

	changed := make(chan *RuleSet, 4)
	l.OnChange(func(rs *RuleSet) { changed <- rs })

	stop, err := l.Watch()
	require.NoError(t, err)
	defer stop()

	writeRules(t, dir, `version: "3"
rules: []
`)

	select {
	case rs := <-changed:
		assert.Equal(t, "3", rs.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the rules file")
	}
	stop()
	stop()
}

func TestNewRulesLoaderMissingFile(t *testing.T) {
	_, err := NewRulesLoader(filepath.Join(t.TempDir(), "nope.yaml"), logger.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read rules")
}

func TestShippedRulesFileIsValid(t *testing.T) {
	rs, err := LoadRules(filepath.Join("..", "..", "configs", "rules.yaml"))
	require.NoError(t, err)
	assert.Len(t, rs.Rules, 2)
}
