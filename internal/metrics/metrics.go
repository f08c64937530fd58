package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_events_received_total",
		Help: "Total number of events offered to the engine, labelled by ingress.",
	}, []string{"ingress"})

	EventsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "obs_automation_events_throttled_total",
		Help: "Total number of events coalesced by the per-event-name throttle.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "obs_automation_events_dropped_total",
		Help: "Total number of events rejected due to a full dispatch queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "obs_automation_events_processed_total",
		Help: "Total number of evaluation passes completed.",
	})

	RulesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_rules_matched_total",
		Help: "Total number of trigger matches, labelled by rule ID.",
	}, []string{"rule_id"})

	RulesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_rules_executed_total",
		Help: "Total number of rule executions, labelled by rule ID and status.",
	}, []string{"rule_id", "status"})

	RulesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_rules_skipped_total",
		Help: "Total number of matched rules not executed, labelled by reason.",
	}, []string{"reason"})

	ActionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_actions_executed_total",
		Help: "Total number of actions executed, labelled by type and status.",
	}, []string{"action_type", "status"})

	ActionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_action_attempts_total",
		Help: "Total number of sink invocations including retries, labelled by type.",
	}, []string{"action_type"})

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "obs_automation_pass_duration_ms",
		Help:    "Evaluation pass latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "obs_automation_queue_utilization_ratio",
		Help: "Current dispatch queue utilization (0–1).",
	})

	RulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "obs_automation_rules_loaded",
		Help: "Number of rules currently installed in the engine.",
	})

	RuleReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_rule_reloads_total",
		Help: "Total number of rule file reloads, labelled by status.",
	}, []string{"status"})

	ConnectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "obs_automation_connection_status",
		Help: "Connection state of external peers (1 connected, 0 disconnected).",
	}, []string{"peer"})

	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_bridge_messages_total",
		Help: "Total number of messages seen by the MQTT and NATS bridges, labelled by bridge and status.",
	}, []string{"bridge", "status"})

	FeedbackMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "obs_automation_feedback_messages_total",
		Help: "Total number of feedback messages emitted, labelled by role.",
	}, []string{"role"})
)
