package config

import (
	"time"

	"github.com/myrqyry/obs-copilot-sub005/internal/action"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/rule"
)

// RuleSet is the top-level structure of a rules file.
type RuleSet struct {
	Version string       `yaml:"version" json:"version"`
	Rules   []*rule.Rule `yaml:"rules" json:"rules"`
}

// Config is the service configuration: a YAML file overlaid by environment
// variables.
type Config struct {
	HTTP        HTTPConf         `yaml:"http" envPrefix:"HTTP_"`
	Log         logger.LogConfig `yaml:"log"`
	Rules       RulesConf        `yaml:"rules" envPrefix:"RULES_"`
	Engine      EngineConf       `yaml:"engine" envPrefix:"ENGINE_"`
	Action      action.Config    `yaml:"action"`
	OBS         OBSConf          `yaml:"obs" envPrefix:"OBS_"`
	StreamerBot StreamerBotConf  `yaml:"streamerbot" envPrefix:"STREAMERBOT_"`
	MQTT        MQTTConf         `yaml:"mqtt" envPrefix:"MQTT_"`
	NATS        NATSConf         `yaml:"nats" envPrefix:"NATS_"`
	Telemetry   TelemetryConf    `yaml:"telemetry" envPrefix:"OTEL_"`
	Feedback    FeedbackConf     `yaml:"feedback" envPrefix:"FEEDBACK_"`
}

// HTTPConf configures the API listener.
type HTTPConf struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// RulesConf locates the rules file.
type RulesConf struct {
	Path  string `yaml:"path" env:"PATH"`
	Watch bool   `yaml:"watch" env:"WATCH"`
}

// EngineConf holds tunable dispatch settings.
type EngineConf struct {
	ThrottleWindow time.Duration `yaml:"throttle_window" env:"THROTTLE_WINDOW"`
	QueueDepth     int           `yaml:"queue_depth" env:"QUEUE_DEPTH"`
	SyncTimeout    time.Duration `yaml:"sync_timeout" env:"SYNC_TIMEOUT"`
}

// OBSConf configures the obs-websocket connection.
type OBSConf struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	URL            string        `yaml:"url" env:"URL"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// VolumeMeters adds the high-frequency InputVolumeMeters subscription.
	VolumeMeters bool `yaml:"volume_meters" env:"VOLUME_METERS"`
}

// StreamerBotConf configures the Streamer.bot connection.
type StreamerBotConf struct {
	Enabled       bool                `yaml:"enabled" env:"ENABLED"`
	URL           string              `yaml:"url" env:"URL"`
	Password      string              `yaml:"password" env:"PASSWORD"`
	Subscriptions map[string][]string `yaml:"subscriptions"`
}

// MQTTConf configures the MQTT event bridge.
type MQTTConf struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	Broker      string `yaml:"broker" env:"BROKER"`
	ClientID    string `yaml:"client_id" env:"CLIENT_ID"`
	Username    string `yaml:"username" env:"USERNAME"`
	Password    string `yaml:"password" env:"PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	QoS         byte   `yaml:"qos" env:"QOS"`
}

// NATSConf configures the NATS event bridge and feedback publisher.
type NATSConf struct {
	Enabled         bool   `yaml:"enabled" env:"ENABLED"`
	URL             string `yaml:"url" env:"URL"`
	Subject         string `yaml:"subject" env:"SUBJECT"`
	FeedbackSubject string `yaml:"feedback_subject" env:"FEEDBACK_SUBJECT"`
}

// TelemetryConf configures OpenTelemetry tracing.
type TelemetryConf struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"EXPORTER_OTLP_INSECURE"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// FeedbackConf sizes the in-memory message history.
type FeedbackConf struct {
	HistorySize int `yaml:"history_size" env:"HISTORY_SIZE"`
}
