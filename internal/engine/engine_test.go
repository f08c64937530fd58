package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/myrqyry/obs-copilot-sub005/internal/action"
	"github.com/myrqyry/obs-copilot-sub005/internal/condition"
	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/feedback"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// fakeObs records every OBS command. "fail" always fails, "slow" sleeps
// before succeeding and "requireSlow" fails unless "slow" already completed.
type fakeObs struct {
	mu    sync.Mutex
	calls []rule.ObsAction
	done  map[string]bool
}

func (f *fakeObs) HandleObsAction(_ context.Context, a rule.ObsAction) (string, error) {
	if a.Type() == "slow" {
		time.Sleep(50 * time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	if f.done == nil {
		f.done = map[string]bool{}
	}
	switch a.Type() {
	case "fail":
		return "", errors.New("OBS rejected the request")
	case "requireSlow":
		if !f.done["slow"] {
			return "", errors.New("slow action has not completed")
		}
	}
	f.done[a.Type()] = true
	return "ok", nil
}

func (f *fakeObs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBot struct {
	mu    sync.Mutex
	calls int
}

func (b *fakeBot) IsConnected() bool { return true }

func (b *fakeBot) DoAction(context.Context, string, map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return nil
}

type harness struct {
	eng     *Engine
	obs     *fakeObs
	bot     *fakeBot
	history *feedback.History
}

func newHarness(t *testing.T, conf config.EngineConf, opts ...Option) *harness {
	t.Helper()
	log := logger.Wrap(zaptest.NewLogger(t))
	h := &harness{obs: &fakeObs{}, bot: &fakeBot{}, history: feedback.NewHistory(50)}

	reg := action.NewRegistry(action.NewObsSink(h.obs), action.NewStreamerBotSink(h.bot))
	exec := action.NewExecutor(reg, action.Config{MaxRetries: 3, RetryDelay: time.Millisecond, ActionTimeout: time.Second}, log)

	ctx, cancel := context.WithCancel(context.Background())
	h.eng = New(ctx, conf, exec, h.history, log, opts...)
	t.Cleanup(func() {
		h.eng.Shutdown()
		cancel()
	})
	return h
}

func obsAction(id, typ string, params ...interface{}) rule.Action {
	data := map[string]interface{}{"type": typ}
	for i := 0; i+1 < len(params); i += 2 {
		data[params[i].(string)] = params[i+1]
	}
	return rule.Action{ID: id, Type: rule.ActionOBS, Data: data}
}

func goLiveRule() *rule.Rule {
	return &rule.Rule{
		ID:      "go-live",
		Name:    "Go live",
		Enabled: true,
		Trigger: rule.Trigger{EventName: "StreamStateChanged"},
		Conditions: []rule.Condition{
			{ID: "c1", Type: rule.ConditionStream, Field: "active", Operator: rule.OpEquals, Value: true},
		},
		Actions: []rule.Action{obsAction("a1", "switch_scene", "sceneName", "Live")},
	}
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	h.eng.UpdateRules([]*rule.Rule{goLiveRule()})
	h.eng.UpdateObsData(obs.Snapshot{Stream: obs.StreamSnapshot{Active: true}})

	h.eng.ProcessEvent("StreamStateChanged", map[string]interface{}{"active": true})

	require.Eventually(t, func() bool { return h.eng.Rules()[0].TriggerCount == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, h.obs.count())
	assert.Equal(t, rule.ObsAction{"type": "switch_scene", "sceneName": "Live"}, h.obs.calls[0])

	r := h.eng.Rules()[0]
	require.NotNil(t, r.LastTriggered)

	msgs := h.history.Recent(0)
	require.Len(t, msgs, 1)
	assert.Equal(t, feedback.RoleSystem, msgs[0].Role)
	assert.Equal(t, "go-live", msgs[0].RuleID)
}

func TestTriggerFiltering(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	mk := func(id string, enabled bool, event string, data map[string]interface{}) *rule.Rule {
		return &rule.Rule{
			ID: id, Name: id, Enabled: enabled,
			Trigger: rule.Trigger{EventName: event, EventData: data},
			Actions: []rule.Action{obsAction(id+"-a", "noop")},
		}
	}
	h.eng.UpdateRules([]*rule.Rule{
		mk("match", true, "InputMuteStateChanged", map[string]interface{}{"inputMuted": true}),
		mk("wildcard", true, "InputMuteStateChanged", map[string]interface{}{"inputName": ""}),
		mk("disabled", false, "InputMuteStateChanged", nil),
		mk("other-event", true, "StreamStateChanged", nil),
		mk("data-mismatch", true, "InputMuteStateChanged", map[string]interface{}{"inputMuted": false}),
	})

	results, err := h.eng.ProcessEventSync(context.Background(), "InputMuteStateChanged",
		map[string]interface{}{"inputName": "Mic", "inputMuted": true})
	require.NoError(t, err)

	var ids []string
	for _, r := range results {
		ids = append(ids, r.RuleID)
	}
	assert.Equal(t, []string{"match", "wildcard"}, ids)
}

func TestConditionShortCircuitSkipsActions(t *testing.T) {
	calls := 0
	spy := condition.ResolverFunc(func(field string, in condition.Input) (interface{}, bool) {
		calls++
		return field, true
	})
	h := newHarness(t, config.EngineConf{}, WithEvaluator(condition.NewEvaluator(condition.WithResolver(rule.ConditionCustom, spy))))

	r := goLiveRule()
	r.Conditions = []rule.Condition{
		{ID: "c1", Type: rule.ConditionCustom, Field: "first", Operator: rule.OpEquals, Value: "nope"},
		{ID: "c2", Type: rule.ConditionCustom, Field: "second", Operator: rule.OpEquals, Value: "second"},
	}
	h.eng.UpdateRules([]*rule.Rule{r})

	results, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Equal(t, 1, calls, "c2 must not be evaluated once c1 failed")
	assert.Equal(t, 0, h.obs.count())
	assert.Equal(t, 0, h.eng.Rules()[0].TriggerCount, "failed conditions do not count as a trigger")
}

func TestEmptyConditionsExecute(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	r := goLiveRule()
	r.Conditions = nil
	h.eng.UpdateRules([]*rule.Rule{r})

	results, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
}

func TestActionsRunSequentially(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	r := goLiveRule()
	r.Conditions = nil
	r.Actions = []rule.Action{obsAction("a1", "slow"), obsAction("a2", "requireSlow")}
	h.eng.UpdateRules([]*rule.Rule{r})

	results, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Error)
	assert.Equal(t, 1, results[0].Actions[1].Attempts, "second action saw the first one's effect on the first try")
}

func TestFailingActionRetriesThenContinues(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	r := goLiveRule()
	r.Conditions = nil
	r.Actions = []rule.Action{
		obsAction("a1", "fail"),
		{ID: "a2", Type: rule.ActionStreamerBot, Data: map[string]interface{}{"actionName": "Alert"}},
	}
	h.eng.UpdateRules([]*rule.Rule{r})

	results, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.Success)
	require.Len(t, res.Actions, 2)
	assert.Equal(t, 3, res.Actions[0].Attempts)
	assert.Equal(t, 3, h.obs.count(), "exactly MaxRetries sink calls")
	assert.True(t, res.Actions[1].Success, "next action still runs")
	assert.Equal(t, 1, h.bot.calls)
	assert.Contains(t, res.Error, "action 1 (obs)")

	assert.Equal(t, 1, h.eng.Rules()[0].TriggerCount, "bookkeeping happens regardless of action outcomes")
	msgs := h.history.Recent(0)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "1 of 2 action(s) failed")
}

func TestBookkeepingIsMonotonic(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := now
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := newHarness(t, config.EngineConf{}, WithClock(clock))
	r := goLiveRule()
	r.Conditions = nil
	h.eng.UpdateRules([]*rule.Rule{r})

	_, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)

	// The host clock stepped backwards.
	mu.Lock()
	now = now.Add(-time.Hour)
	mu.Unlock()
	_, err = h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)

	got := h.eng.Rules()[0]
	assert.Equal(t, 2, got.TriggerCount)
	require.NotNil(t, got.LastTriggered)
	assert.Equal(t, first, *got.LastTriggered, "lastTriggered never moves backwards")
}

func TestCooldownSkipsRecentRule(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := newHarness(t, config.EngineConf{}, WithClock(clock))
	r := goLiveRule()
	r.Conditions = nil
	r.Cooldown = 30
	h.eng.UpdateRules([]*rule.Rule{r})

	for i := 0; i < 3; i++ {
		_, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.eng.Rules()[0].TriggerCount)

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()
	_, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, h.eng.Rules()[0].TriggerCount)
}

func TestThrottledProcessEvent(t *testing.T) {
	h := newHarness(t, config.EngineConf{ThrottleWindow: 50 * time.Millisecond})
	r := goLiveRule()
	r.Conditions = nil
	h.eng.UpdateRules([]*rule.Rule{r})

	for i := 0; i < 10; i++ {
		h.eng.ProcessEvent("StreamStateChanged", map[string]interface{}{"seq": i})
	}
	time.Sleep(200 * time.Millisecond)

	_, err := h.eng.ProcessEventSync(context.Background(), "FlushBarrier", nil)
	require.NoError(t, err)

	passes := h.obs.count()
	assert.GreaterOrEqual(t, passes, 1)
	assert.LessOrEqual(t, passes, 2, "leading + trailing, not 10")
}

func TestTestRuleNeverExecutes(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	h.eng.UpdateObsData(obs.Snapshot{Stream: obs.StreamSnapshot{Active: false}})

	r := *goLiveRule()
	r.Trigger.EventData = map[string]interface{}{"outputState": "OBS_WEBSOCKET_OUTPUT_STARTED"}
	r.Actions = append(r.Actions, rule.Action{ID: "a2", Type: rule.ActionStreamerBot, Data: map[string]interface{}{"actionName": "x"}})

	disabled := r
	disabled.Enabled = false
	assert.Equal(t, DryRun{Reason: "rule is disabled"}, h.eng.TestRule(disabled, nil))

	assert.Equal(t, DryRun{Reason: "trigger data does not match: outputState"},
		h.eng.TestRule(r, map[string]interface{}{"outputState": "OBS_WEBSOCKET_OUTPUT_STOPPED"}))

	mock := map[string]interface{}{"outputState": "OBS_WEBSOCKET_OUTPUT_STARTED"}
	assert.Equal(t, DryRun{Reason: "condition c1 failed: stream.active equals true"}, h.eng.TestRule(r, mock))

	h.eng.UpdateObsData(obs.Snapshot{Stream: obs.StreamSnapshot{Active: true}})
	assert.Equal(t, DryRun{WouldTrigger: true, Reason: "all checks passed"}, h.eng.TestRule(r, mock))

	assert.Equal(t, 0, h.obs.count())
	assert.Equal(t, 0, h.bot.calls)
	assert.Equal(t, 0, h.history.Len())
}

func TestStatistics(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	a := goLiveRule()
	a.TriggerCount = 2
	b := goLiveRule()
	b.ID = "other"
	b.Enabled = false
	b.TriggerCount = 5
	h.eng.UpdateRules([]*rule.Rule{a, b})

	assert.Equal(t, Statistics{TotalRules: 2, EnabledRules: 1, TotalTriggers: 7}, h.eng.Statistics())
}

func TestRulesAreValueCopies(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	in := goLiveRule()
	h.eng.UpdateRules([]*rule.Rule{in})

	in.Name = "changed by caller"
	out := h.eng.Rules()
	out[0].Actions[0].Data["sceneName"] = "changed by reader"

	again, ok := h.eng.Rule("go-live")
	require.True(t, ok)
	assert.Equal(t, "Go live", again.Name)
	assert.Equal(t, "Live", again.Actions[0].Data["sceneName"])
}

func TestUpdateRulesKeepsCountersOnReload(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	r := goLiveRule()
	r.Conditions = nil
	h.eng.UpdateRules([]*rule.Rule{r})
	_, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)

	h.eng.UpdateRules([]*rule.Rule{goLiveRule()})
	assert.Equal(t, 1, h.eng.Rules()[0].TriggerCount)
}

func TestReloadDuringPassKeepsExecution(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	slowRule := func() *rule.Rule {
		r := goLiveRule()
		r.Conditions = nil
		r.Cooldown = 60
		r.Actions = []rule.Action{obsAction("a1", "slow")}
		return r
	}
	h.eng.UpdateRules([]*rule.Rule{slowRule()})

	done := make(chan error, 1)
	go func() {
		_, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	h.eng.UpdateRules([]*rule.Rule{slowRule()})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pass did not finish")
	}

	r, ok := h.eng.Rule("go-live")
	require.True(t, ok)
	assert.Equal(t, 1, r.TriggerCount)
	require.NotNil(t, r.LastTriggered)

	res, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)
	assert.Empty(t, res, "cooldown applies to the reloaded rule")
	assert.Equal(t, 1, h.obs.count())
}

func TestExecuteRuleBypassesChecks(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	r := goLiveRule()
	r.Enabled = false
	h.eng.UpdateRules([]*rule.Rule{r})

	res, err := h.eng.ExecuteRule(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, h.obs.count())
	assert.Equal(t, 1, h.eng.Rules()[0].TriggerCount)
}

func TestPanickingFeedbackSinkDoesNotStopPass(t *testing.T) {
	log := logger.Nop()
	o := &fakeObs{}
	exec := action.NewExecutor(action.NewRegistry(action.NewObsSink(o)), action.Config{RetryDelay: time.Millisecond}, log)
	boom := feedback.SinkFunc(func(feedback.Message) { panic("sink down") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := New(ctx, config.EngineConf{}, exec, boom, log)
	defer eng.Shutdown()

	first := goLiveRule()
	first.Conditions = nil
	second := goLiveRule()
	second.ID = "second"
	second.Conditions = nil
	eng.UpdateRules([]*rule.Rule{first, second})

	results, err := eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, o.count())
}

func TestProcessAfterShutdownIsDropped(t *testing.T) {
	h := newHarness(t, config.EngineConf{})
	h.eng.Shutdown()

	_, err := h.eng.ProcessEventSync(context.Background(), "StreamStateChanged", nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.NotPanics(t, func() { h.eng.ProcessEvent("StreamStateChanged", nil) })
}
