package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// ValidateRuleSet checks the rule set for a version and for every problem
// rule.Validate reports.
func ValidateRuleSet(rs *RuleSet) error {
	if rs.Version == "" {
		return fmt.Errorf("rules: version is required")
	}
	return rule.Validate(rs.Rules)
}

// Validate checks the service config for:
//   - a listen address
//   - well-formed URLs for every enabled connection
//   - sane engine, action and telemetry settings
//
// All problems are reported together.
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if cfg.HTTP.Addr == "" {
		add("http.addr is required")
	}
	if cfg.Rules.Path == "" {
		add("rules.path is required")
	}

	if cfg.Engine.ThrottleWindow < 0 {
		add("engine.throttle_window must be >= 0, got %v", cfg.Engine.ThrottleWindow)
	}
	if cfg.Engine.QueueDepth < 0 {
		add("engine.queue_depth must be >= 0, got %d", cfg.Engine.QueueDepth)
	}
	if cfg.Action.MaxRetries < 0 {
		add("action.max_retries must be >= 0, got %d", cfg.Action.MaxRetries)
	}

	if cfg.OBS.Enabled {
		checkURL(&errs, "obs.url", cfg.OBS.URL, "ws", "wss")
	}
	if cfg.StreamerBot.Enabled {
		checkURL(&errs, "streamerbot.url", cfg.StreamerBot.URL, "ws", "wss")
	}
	if cfg.MQTT.Enabled {
		checkURL(&errs, "mqtt.broker", cfg.MQTT.Broker, "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts")
		if cfg.MQTT.QoS > 2 {
			add("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
		if strings.ContainsAny(cfg.MQTT.TopicPrefix, "#+") {
			add("mqtt.topic_prefix must not contain wildcards, got %q", cfg.MQTT.TopicPrefix)
		}
	}
	if cfg.NATS.Enabled {
		checkURL(&errs, "nats.url", cfg.NATS.URL, "nats", "tls", "ws", "wss")
		if cfg.NATS.Subject == "" {
			add("nats.subject is required")
		}
	}
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint is required when telemetry is enabled")
		}
		if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
			add("telemetry.sample_ratio must be within [0, 1], got %v", cfg.Telemetry.SampleRatio)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkURL(errs *[]string, field, raw string, schemes ...string) {
	if raw == "" {
		*errs = append(*errs, fmt.Sprintf("%s is required", field))
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", field, err))
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return
		}
	}
	*errs = append(*errs, fmt.Sprintf("%s: scheme must be one of %v, got %q", field, schemes, u.Scheme))
}
