package action

import (
	"context"
	"fmt"

	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// Sink is an action target. Execute returns a human-readable outcome.
type Sink interface {
	// Type returns the action type this sink is registered under.
	Type() rule.ActionType
	// Available reports whether the sink can accept actions right now.
	Available() bool
	Execute(ctx context.Context, a rule.Action) (string, error)
}

// ObsHandler executes OBS commands. *obs.ActionHandler implements it.
type ObsHandler interface {
	HandleObsAction(ctx context.Context, a rule.ObsAction) (string, error)
}

// StreamerBot runs Streamer.bot actions. *streamerbot.Client implements it.
type StreamerBot interface {
	IsConnected() bool
	DoAction(ctx context.Context, action string, args map[string]interface{}) error
}

// ObsSink routes obs actions to an ObsHandler.
type ObsSink struct {
	handler ObsHandler
}

// NewObsSink wraps h. A nil handler makes the sink permanently unavailable.
func NewObsSink(h ObsHandler) *ObsSink {
	return &ObsSink{handler: h}
}

func (s *ObsSink) Type() rule.ActionType { return rule.ActionOBS }

func (s *ObsSink) Available() bool { return s.handler != nil }

func (s *ObsSink) Execute(ctx context.Context, a rule.Action) (string, error) {
	oa, err := a.ObsAction()
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	return s.handler.HandleObsAction(ctx, oa)
}

// StreamerBotSink routes streamerbot actions to a Streamer.bot client.
type StreamerBotSink struct {
	bot StreamerBot
}

// NewStreamerBotSink wraps bot, which may be nil when Streamer.bot is not configured.
func NewStreamerBotSink(bot StreamerBot) *StreamerBotSink {
	return &StreamerBotSink{bot: bot}
}

func (s *StreamerBotSink) Type() rule.ActionType { return rule.ActionStreamerBot }

func (s *StreamerBotSink) Available() bool { return s.bot != nil && s.bot.IsConnected() }

func (s *StreamerBotSink) Execute(ctx context.Context, a rule.Action) (string, error) {
	sa, err := a.StreamerBotAction()
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	if err := s.bot.DoAction(ctx, sa.Identifier(), sa.Args); err != nil {
		return "", err
	}
	return fmt.Sprintf("Triggered Streamer.bot action %q", sa.Identifier()), nil
}

// DecodeError marks an action whose payload cannot be decoded. Retrying it
// cannot succeed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }
