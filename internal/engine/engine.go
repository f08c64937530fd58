// Package engine evaluates automation rules against incoming events and
// executes the actions of the rules that fire.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/myrqyry/obs-copilot-sub005/internal/action"
	"github.com/myrqyry/obs-copilot-sub005/internal/condition"
	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/feedback"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

const (
	defaultThrottleWindow = 250 * time.Millisecond
	defaultQueueDepth     = 1024
	defaultSyncTimeout    = 60 * time.Second
)

// ErrQueueFull is returned when the dispatch queue cannot take another pass.
var ErrQueueFull = errors.New("event queue full")

// ExecutionResult is the outcome of executing one rule.
type ExecutionResult struct {
	RuleID   string           `json:"rule_id"`
	RuleName string           `json:"rule_name"`
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Error    string           `json:"error,omitempty"`
	Actions  []*action.Result `json:"actions"`
}

// DryRun is the verdict of TestRule.
type DryRun struct {
	WouldTrigger bool   `json:"would_trigger"`
	Reason       string `json:"reason"`
}

// Statistics summarizes the installed rules.
type Statistics struct {
	TotalRules    int `json:"total_rules"`
	EnabledRules  int `json:"enabled_rules"`
	TotalTriggers int `json:"total_triggers"`
}

// Engine owns the rule list and OBS snapshot and runs evaluation passes on a
// single dispatcher goroutine.
type Engine struct {
	exec     *action.Executor
	eval     *condition.Evaluator
	feedback feedback.Sink
	log      *logger.Logger
	tracer   trace.Tracer
	conf     config.EngineConf
	now      func() time.Time

	mu    sync.RWMutex
	rules []*rule.Rule
	snap  obs.Snapshot

	dispatcher *workerPool[*pass]
	throttle   *throttle
}

type pass struct {
	ctx     context.Context
	run     func(ctx context.Context) []*ExecutionResult
	resultC chan []*ExecutionResult
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator replaces the condition evaluator.
func WithEvaluator(ev *condition.Evaluator) Option {
	return func(e *Engine) { e.eval = ev }
}

// WithClock replaces the time source used for bookkeeping and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine and starts its dispatcher. Cancelling ctx stops it.
func New(ctx context.Context, conf config.EngineConf, exec *action.Executor, fb feedback.Sink, log *logger.Logger, opts ...Option) *Engine {
	if conf.ThrottleWindow < 0 {
		conf.ThrottleWindow = 0
	} else if conf.ThrottleWindow == 0 {
		conf.ThrottleWindow = defaultThrottleWindow
	}
	if conf.QueueDepth <= 0 {
		conf.QueueDepth = defaultQueueDepth
	}
	if conf.SyncTimeout <= 0 {
		conf.SyncTimeout = defaultSyncTimeout
	}
	if fb == nil {
		fb = feedback.Fanout{}
	}

	e := &Engine{
		exec:     exec,
		feedback: fb,
		log:      log.With("component", "engine"),
		tracer:   otel.Tracer("github.com/myrqyry/obs-copilot-sub005/internal/engine"),
		conf:     conf,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.eval == nil {
		e.eval = condition.NewEvaluator(condition.WithLogger(e.log))
	}

	e.dispatcher = newWorkerPool[*pass](ctx, 1, conf.QueueDepth, func(ctx context.Context, p *pass) {
		if p.ctx != nil {
			ctx = p.ctx
		}
		res := p.run(ctx)
		if p.resultC != nil {
			p.resultC <- res
		}
	})
	e.throttle = newThrottle(conf.ThrottleWindow, e.enqueue)
	return e
}

// UpdateRules replaces the rule list. The engine keeps its own copies; a
// rule that arrives without bookkeeping inherits the counters of the
// installed rule with the same ID, so reloading a rules file does not reset
// them.
func (e *Engine) UpdateRules(rules []*rule.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := make(map[string]*rule.Rule, len(e.rules))
	for _, r := range e.rules {
		prev[r.ID] = r
	}
	next := make([]*rule.Rule, 0, len(rules))
	for _, r := range rules {
		if r == nil {
			continue
		}
		c := r.Clone()
		if old, ok := prev[c.ID]; ok && c.TriggerCount == 0 && c.LastTriggered == nil {
			c.TriggerCount = old.TriggerCount
			if old.LastTriggered != nil {
				t := *old.LastTriggered
				c.LastTriggered = &t
			}
		}
		next = append(next, &c)
	}
	e.rules = next
	metrics.RulesLoaded.Set(float64(len(next)))
}

// Rules returns value copies of the installed rules, in order.
func (e *Engine) Rules() []rule.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]rule.Rule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Clone()
	}
	return out
}

// Rule returns a copy of the rule with the given ID.
func (e *Engine) Rule(id string) (rule.Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return rule.Rule{}, false
}

// UpdateObsData replaces the OBS snapshot.
func (e *Engine) UpdateObsData(s obs.Snapshot) {
	s = s.Clone()
	e.mu.Lock()
	e.snap = s
	e.mu.Unlock()
}

// Snapshot returns the current OBS snapshot.
func (e *Engine) Snapshot() obs.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Clone()
}

// ProcessEvent offers an event to the throttle guard. It never blocks and
// never fails; events arriving while the queue is full are dropped and
// counted.
func (e *Engine) ProcessEvent(name string, data map[string]interface{}) {
	e.throttle.Offer(name, data)
}

func (e *Engine) enqueue(name string, data map[string]interface{}) {
	p := &pass{run: func(ctx context.Context) []*ExecutionResult {
		return e.runPass(ctx, name, data)
	}}
	if !e.dispatcher.Submit(p) {
		metrics.EventsDropped.Inc()
		e.log.Warn("event dropped, dispatch queue full", "event", name, "capacity", e.dispatcher.QueueCap())
		return
	}
	metrics.QueueUtilization.Set(e.QueueUtilization())
}

// ProcessEventSync runs an unthrottled pass for the event and waits for its
// results. The pass is still serialized with every other pass.
func (e *Engine) ProcessEventSync(ctx context.Context, name string, data map[string]interface{}) ([]*ExecutionResult, error) {
	return e.submitWait(ctx, func(ctx context.Context) []*ExecutionResult {
		return e.runPass(ctx, name, data)
	})
}

// ExecuteRule runs the actions of the installed rule with r's ID, bypassing
// trigger, cooldown and condition checks. A rule that is not installed is
// executed as given and its bookkeeping is not retained.
func (e *Engine) ExecuteRule(ctx context.Context, r *rule.Rule) (*ExecutionResult, error) {
	target := e.installed(r.ID)
	if target == nil {
		c := r.Clone()
		target = &c
	}
	res, err := e.submitWait(ctx, func(ctx context.Context) []*ExecutionResult {
		return []*ExecutionResult{e.safeExecute(ctx, target)}
	})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (e *Engine) installed(id string) *rule.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (e *Engine) submitWait(ctx context.Context, run func(context.Context) []*ExecutionResult) ([]*ExecutionResult, error) {
	resultC := make(chan []*ExecutionResult, 1)
	p := &pass{ctx: context.WithoutCancel(ctx), run: run, resultC: resultC}
	if !e.dispatcher.Submit(p) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.dispatcher.QueueCap())
	}

	timer := time.NewTimer(e.conf.SyncTimeout)
	defer timer.Stop()
	select {
	case res := <-resultC:
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("event processing timeout after %v", e.conf.SyncTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.dispatcher.QueueCap() == 0 {
		return 0
	}
	return float64(e.dispatcher.QueueLen()) / float64(e.dispatcher.QueueCap())
}

// SinkAvailability reports which action sinks can take actions right now.
func (e *Engine) SinkAvailability() map[string]bool {
	return e.exec.Availability()
}

func (e *Engine) runPass(ctx context.Context, name string, data map[string]interface{}) []*ExecutionResult {
	ctx, span := e.tracer.Start(ctx, "engine.pass", trace.WithAttributes(attribute.String("event.name", name)))
	defer span.End()
	start := time.Now()

	e.mu.RLock()
	rules := make([]*rule.Rule, len(e.rules))
	copy(rules, e.rules)
	snap := e.snap
	e.mu.RUnlock()

	in := condition.Input{Snapshot: snap, Event: data}
	var results []*ExecutionResult
	for _, r := range rules {
		if res := e.evaluateRule(ctx, r, name, in); res != nil {
			results = append(results, res)
		}
	}

	metrics.EventsProcessed.Inc()
	metrics.PassDuration.Observe(float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("rules.executed", len(results)))
	return results
}

// evaluateRule runs one rule through match, cooldown, conditions and
// execution. It returns nil when the rule did not execute.
func (e *Engine) evaluateRule(ctx context.Context, r *rule.Rule, name string, in condition.Input) (res *ExecutionResult) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("rule panicked", "rule_id", r.ID, "panic", p)
			res = &ExecutionResult{
				RuleID:   r.ID,
				RuleName: r.Name,
				Error:    fmt.Sprintf("panic: %v", p),
				Message:  fmt.Sprintf("Rule %q failed: %v", r.Name, p),
			}
			e.notify(r, res.Message)
		}
	}()

	if ok, _ := condition.MatchTrigger(r, name, in.Event); !ok {
		return nil
	}
	metrics.RulesMatched.WithLabelValues(r.ID).Inc()

	if r.CoolingDown(e.now()) {
		metrics.RulesSkipped.WithLabelValues("cooldown").Inc()
		e.log.Debug("rule cooling down", "rule_id", r.ID, "cooldown_s", r.Cooldown)
		return nil
	}

	if v := e.eval.Evaluate(r.Conditions, in); !v.Passed {
		metrics.RulesSkipped.WithLabelValues("conditions").Inc()
		e.log.Debug("rule conditions not met", "rule_id", r.ID, "condition_id", v.Failed.ID)
		return nil
	}

	return e.execute(ctx, r)
}

func (e *Engine) safeExecute(ctx context.Context, r *rule.Rule) (res *ExecutionResult) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("rule panicked", "rule_id", r.ID, "panic", p)
			res = &ExecutionResult{RuleID: r.ID, RuleName: r.Name, Error: fmt.Sprintf("panic: %v", p)}
		}
	}()
	return e.execute(ctx, r)
}

// execute runs the rule's actions in order, best effort, then records the
// execution and emits one feedback message.
func (e *Engine) execute(ctx context.Context, r *rule.Rule) *ExecutionResult {
	ctx, span := e.tracer.Start(ctx, "engine.rule", trace.WithAttributes(
		attribute.String("rule.id", r.ID),
		attribute.Int("rule.actions", len(r.Actions)),
	))
	defer span.End()

	res := &ExecutionResult{RuleID: r.ID, RuleName: r.Name, Success: true}
	var failures []string
	for i, a := range r.Actions {
		ar := e.exec.Execute(ctx, a)
		res.Actions = append(res.Actions, ar)
		if !ar.Success {
			res.Success = false
			failures = append(failures, fmt.Sprintf("action %d (%s): %s", i+1, a.Type, ar.Error))
		}
	}

	// The rule list may have been replaced while the actions ran; the
	// execution is recorded on whatever rule is installed under this ID now.
	e.mu.Lock()
	owner := r
	for _, cur := range e.rules {
		if cur.ID == r.ID {
			owner = cur
			break
		}
	}
	owner.MarkTriggered(e.now())
	e.mu.Unlock()

	status := "success"
	if res.Success {
		res.Message = fmt.Sprintf("Rule %q executed: %d action(s) succeeded", r.Name, len(r.Actions))
	} else {
		status = "error"
		res.Error = strings.Join(failures, "; ")
		res.Message = fmt.Sprintf("Rule %q finished with %d of %d action(s) failed: %s",
			r.Name, len(failures), len(r.Actions), res.Error)
		span.SetStatus(codes.Error, res.Error)
	}
	metrics.RulesExecuted.WithLabelValues(r.ID, status).Inc()
	e.log.Info("rule executed", "rule_id", r.ID, "success", res.Success, "actions", len(r.Actions))
	e.notify(r, res.Message)
	return res
}

func (e *Engine) notify(r *rule.Rule, text string) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("feedback sink panicked", "rule_id", r.ID, "panic", p)
		}
	}()
	e.feedback.AddMessage(feedback.Message{
		Role:   feedback.RoleSystem,
		Text:   text,
		RuleID: r.ID,
		Time:   e.now(),
	})
}

// TestRule reports whether r would fire for an event carrying mockData,
// given the current snapshot. It never executes actions.
func (e *Engine) TestRule(r rule.Rule, mockData map[string]interface{}) DryRun {
	if !r.Enabled {
		return DryRun{Reason: "rule is disabled"}
	}
	if key, ok := condition.MatchData(r.Trigger.EventData, mockData); !ok {
		return DryRun{Reason: "trigger data does not match: " + key}
	}
	v := e.eval.Evaluate(r.Conditions, condition.Input{Snapshot: e.Snapshot(), Event: mockData})
	if !v.Passed {
		return DryRun{Reason: fmt.Sprintf("condition %s failed: %s", v.Failed.ID, v.Failed.String())}
	}
	return DryRun{WouldTrigger: true, Reason: "all checks passed"}
}

// Statistics returns rule counts and the trigger total.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Statistics{TotalRules: len(e.rules)}
	for _, r := range e.rules {
		if r.Enabled {
			s.EnabledRules++
		}
		s.TotalTriggers += r.TriggerCount
	}
	return s
}

// Shutdown cancels pending throttled events and drains the dispatcher.
func (e *Engine) Shutdown() {
	e.throttle.Stop()
	e.dispatcher.Drain()
}
