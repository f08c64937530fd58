package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

func snapshot() obs.Snapshot {
	return obs.Snapshot{
		CurrentProgramScene: "Gaming",
		CurrentPreviewScene: "BRB",
		Scenes: []obs.SceneSnapshot{
			{Name: "BRB", Index: 0},
			{Name: "Gaming", Index: 1, Sources: []string{"Game Capture", "Mic/Aux"}},
		},
		Sources: []obs.SourceSnapshot{
			{Name: "Mic/Aux", Muted: true, VolumeDb: -3},
			{Name: "Game Capture", Active: true, Showing: true},
		},
		Stream: obs.StreamSnapshot{Active: true, DurationMs: 90000},
		Record: obs.RecordSnapshot{Active: false},
	}
}

func cond(id string, typ rule.ConditionType, field string, op rule.Operator, value interface{}) rule.Condition {
	return rule.Condition{ID: id, Type: typ, Field: field, Operator: op, Value: value}
}

func TestEvaluateOne(t *testing.T) {
	in := Input{
		Snapshot: snapshot(),
		Event: map[string]interface{}{
			"inputName": "Mic/Aux",
			"user":      map[string]interface{}{"name": "alice", "badges": []interface{}{"vip", "sub"}},
			"bits":      float64(500),
		},
	}
	e := NewEvaluator()

	cases := []struct {
		name string
		c    rule.Condition
		want bool
	}{
		{"scene name", cond("c", rule.ConditionScene, "currentProgramScene", rule.OpEquals, "Gaming"), true},
		{"scene preview", cond("c", rule.ConditionScene, "previewName", rule.OpEquals, "BRB"), true},
		{"scene index", cond("c", rule.ConditionScene, "index", rule.OpEquals, 1), true},
		{"scene count", cond("c", rule.ConditionScene, "count", rule.OpGreaterThan, 1), true},
		{"scene sources", cond("c", rule.ConditionScene, "sources", rule.OpContains, "Game Capture"), true},
		{"scene unknown field", cond("c", rule.ConditionScene, "weather", rule.OpNotEquals, "x"), false},

		{"event input name", cond("c", rule.ConditionSource, "inputName", rule.OpContains, "Mic"), true},
		{"event input muted from snapshot", cond("c", rule.ConditionSource, "inputMuted", rule.OpEquals, true), true},
		{"addressed source", cond("c", rule.ConditionSource, "Game Capture.visible", rule.OpEquals, true), true},
		{"addressed source with slash", cond("c", rule.ConditionSource, "Mic/Aux.volumeDb", rule.OpLessThan, 0), true},
		{"missing source", cond("c", rule.ConditionSource, "Webcam.active", rule.OpNotEquals, true), false},

		{"stream active", cond("c", rule.ConditionStream, "streamActive", rule.OpEquals, true), true},
		{"stream duration seconds", cond("c", rule.ConditionStream, "duration", rule.OpGreaterThan, 60), true},
		{"record active", cond("c", rule.ConditionStream, "recordActive", rule.OpEquals, false), true},

		{"custom top level", cond("c", rule.ConditionCustom, "bits", rule.OpGreaterThan, "100"), true},
		{"custom nested", cond("c", rule.ConditionCustom, "user.name", rule.OpEquals, "alice"), true},
		{"custom array index", cond("c", rule.ConditionCustom, "user.badges.0", rule.OpEquals, "vip"), true},
		{"custom array contains", cond("c", rule.ConditionCustom, "user.badges", rule.OpContains, "sub"), true},
		{"custom missing is false for not_equals", cond("c", rule.ConditionCustom, "user.age", rule.OpNotEquals, 3), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.EvaluateOne(tc.c, in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateShortCircuits(t *testing.T) {
	calls := 0
	spy := ResolverFunc(func(field string, in Input) (interface{}, bool) {
		calls++
		return field == "yes", true
	})
	e := NewEvaluator(WithResolver(rule.ConditionCustom, spy))

	conds := []rule.Condition{
		cond("c1", rule.ConditionCustom, "yes", rule.OpEquals, true),
		cond("c2", rule.ConditionCustom, "no", rule.OpEquals, true),
		cond("c3", rule.ConditionCustom, "yes", rule.OpEquals, true),
	}
	v := e.Evaluate(conds, Input{})

	assert.False(t, v.Passed)
	require.NotNil(t, v.Failed)
	assert.Equal(t, "c2", v.Failed.ID)
	assert.Equal(t, 2, calls, "evaluation must stop at the first failing condition")
}

func TestEvaluateEmptyPasses(t *testing.T) {
	v := NewEvaluator().Evaluate(nil, Input{})
	assert.True(t, v.Passed)
	assert.Nil(t, v.Failed)
}

func TestEvaluateRecoversPanics(t *testing.T) {
	boom := ResolverFunc(func(string, Input) (interface{}, bool) { panic("resolver exploded") })
	e := NewEvaluator(WithResolver(rule.ConditionScene, boom))

	var v Verdict
	assert.NotPanics(t, func() {
		v = e.Evaluate([]rule.Condition{cond("c1", rule.ConditionScene, "name", rule.OpEquals, "x")}, Input{})
	})
	assert.False(t, v.Passed)
	assert.ErrorContains(t, v.Err, "resolver exploded")
}

func TestEvaluateUnknownType(t *testing.T) {
	ok, err := NewEvaluator().EvaluateOne(cond("c1", "weather", "temp", rule.OpEquals, 1), Input{})
	assert.False(t, ok)
	assert.Error(t, err)
}
