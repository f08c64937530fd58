// Package condition decides whether a rule applies to an event: trigger
// matching against the payload, then typed conditions against the OBS
// snapshot or the payload.
package condition

import (
	"fmt"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// Input is the state a condition is evaluated against.
type Input struct {
	Snapshot obs.Snapshot
	Event    map[string]interface{}
}

// Resolver reads the value a condition field refers to. ok is false when the
// field cannot be resolved.
type Resolver interface {
	Resolve(field string, in Input) (value interface{}, ok bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(field string, in Input) (interface{}, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(field string, in Input) (interface{}, bool) {
	return f(field, in)
}

// Verdict is the result of evaluating a condition list.
type Verdict struct {
	Passed bool
	// Failed is the first condition that did not hold.
	Failed *rule.Condition
	// Err is set when the failing condition errored rather than evaluated false.
	Err error
}

// Evaluator evaluates condition lists with one resolver per condition type.
type Evaluator struct {
	resolvers map[rule.ConditionType]Resolver
	log       *logger.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithResolver replaces the resolver for a condition type.
func WithResolver(t rule.ConditionType, r Resolver) Option {
	return func(e *Evaluator) { e.resolvers[t] = r }
}

// WithLogger sets the logger used to report failing conditions.
func WithLogger(l *logger.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// NewEvaluator creates an Evaluator with the built-in resolvers.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		resolvers: map[rule.ConditionType]Resolver{
			rule.ConditionScene:  ResolverFunc(resolveScene),
			rule.ConditionSource: ResolverFunc(resolveSource),
			rule.ConditionStream: ResolverFunc(resolveStream),
			rule.ConditionCustom: ResolverFunc(resolveCustom),
		},
		log: logger.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate ANDs the conditions in order and stops at the first one that
// does not hold. An empty list passes.
func (e *Evaluator) Evaluate(conds []rule.Condition, in Input) Verdict {
	for i := range conds {
		ok, err := e.EvaluateOne(conds[i], in)
		if err != nil {
			e.log.Warn("condition errored", "condition_id", conds[i].ID, "condition", conds[i].String(), "error", err)
		}
		if !ok {
			return Verdict{Failed: &conds[i], Err: err}
		}
	}
	return Verdict{Passed: true}
}

// EvaluateOne evaluates a single condition. It never panics: a panicking
// resolver or operator makes the condition false with an error.
func (e *Evaluator) EvaluateOne(c rule.Condition, in Input) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("condition %s panicked: %v", c.ID, r)
		}
	}()

	res, found := e.resolvers[c.Type]
	if !found {
		return false, fmt.Errorf("unknown condition type %q", c.Type)
	}
	left, resolved := res.Resolve(c.Field, in)
	if !resolved {
		return false, nil
	}
	return compare(c.Operator, left, c.Value)
}
