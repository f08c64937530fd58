package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-valued fields after the file and environment
// have been read.
const (
	DefaultHTTPAddr        = ":8090"
	DefaultRulesPath       = "rules.yaml"
	DefaultOBSURL          = "ws://127.0.0.1:4455"
	DefaultStreamerBotURL  = "ws://127.0.0.1:8080/"
	DefaultMQTTPrefix      = "obs/events"
	DefaultMQTTClientID    = "obs-copilot"
	DefaultNATSSubject     = "obs.events"
	DefaultFeedbackSubject = "obs.feedback"
	DefaultServiceName     = "obs-copilot"
)

// Load builds the service config. path may be empty, in which case only
// the environment is read. A .env file in the working directory is loaded
// first when present; variables already set in the process win over it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config from environment: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	if cfg.Log.OutputPath == "" {
		cfg.Log.OutputPath = "stdout"
	}
	if cfg.Rules.Path == "" {
		cfg.Rules.Path = DefaultRulesPath
	}
	if cfg.OBS.URL == "" {
		cfg.OBS.URL = DefaultOBSURL
	}
	if cfg.StreamerBot.URL == "" {
		cfg.StreamerBot.URL = DefaultStreamerBotURL
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTPrefix
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultMQTTClientID
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultNATSSubject
	}
	if cfg.NATS.FeedbackSubject == "" {
		cfg.NATS.FeedbackSubject = DefaultFeedbackSubject
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if cfg.Feedback.HistorySize == 0 {
		cfg.Feedback.HistorySize = 200
	}
}
