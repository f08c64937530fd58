package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// Result holds the outcome of executing a single action.
type Result struct {
	ActionID   string `json:"action_id"`
	Type       string `json:"type"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`
}

// Config bounds how hard the executor tries.
type Config struct {
	// MaxRetries is the total number of attempts, not the number of retries
	// after the first one.
	MaxRetries    int           `yaml:"max_retries" env:"ACTION_MAX_RETRIES"`
	RetryDelay    time.Duration `yaml:"retry_delay" env:"ACTION_RETRY_DELAY"`
	ActionTimeout time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT"`
}

// DefaultConfig returns three attempts one second apart with a ten second
// per-attempt timeout.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, RetryDelay: time.Second, ActionTimeout: 10 * time.Second}
}

var errUnavailable = errors.New("sink unavailable")

// Executor runs actions against registered sinks with bounded retries.
type Executor struct {
	reg *Registry
	cfg Config
	log *logger.Logger
}

// Availability reports, per action type, whether its sink can take actions now.
func (e *Executor) Availability() map[string]bool {
	return e.reg.Availability()
}

// NewExecutor creates an Executor. Zero config fields take their defaults.
func NewExecutor(reg *Registry, cfg Config, log *logger.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	return &Executor{reg: reg, cfg: cfg, log: log.With("component", "executor")}
}

// Registry returns the sinks the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.reg
}

// Execute runs a. It never returns nil and never panics; every failure is
// reported in the Result.
func (e *Executor) Execute(ctx context.Context, a rule.Action) *Result {
	start := time.Now()
	res := &Result{ActionID: a.ID, Type: string(a.Type)}
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
		status := "success"
		if !res.Success {
			status = "error"
		}
		metrics.ActionsExecuted.WithLabelValues(res.Type, status).Inc()
	}()

	sink, err := e.reg.Get(a.Type)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if !sink.Available() {
		res.Error = fmt.Sprintf("%s %s", a.Type, errUnavailable)
		return res
	}

	var msg string
	op := func() error {
		res.Attempts++
		metrics.ActionAttempts.WithLabelValues(res.Type).Inc()
		m, err := e.attempt(ctx, sink, a)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				return backoff.Permanent(err)
			}
			e.log.Warn("action attempt failed", "action_id", a.ID, "type", a.Type, "attempt", res.Attempts, "error", err)
			return err
		}
		msg = m
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.RetryDelay), uint64(e.cfg.MaxRetries-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Message = msg
	return res
}

// attempt runs one sink call under the per-attempt timeout. A sink that
// ignores cancellation is abandoned when the timeout fires.
func (e *Executor) attempt(ctx context.Context, sink Sink, a rule.Action) (string, error) {
	actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()

	type outcome struct {
		msg string
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("sink panicked: %v", r)}
			}
		}()
		m, err := sink.Execute(actx, a)
		ch <- outcome{msg: m, err: err}
	}()

	select {
	case o := <-ch:
		return o.msg, o.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("timed out after %v", e.cfg.ActionTimeout)
	}
}
