// Package bridge feeds events published on MQTT or NATS into the rule
// engine, and publishes feedback messages back out.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
)

// EventSink receives bridged events. *engine.Engine satisfies it.
type EventSink interface {
	ProcessEvent(name string, data map[string]interface{})
}

// decodePayload parses a message body as an event payload. An empty body is
// an event without data.
func decodePayload(body []byte) (map[string]interface{}, error) {
	if len(body) == 0 {
		return map[string]interface{}{}, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

func deliver(sink EventSink, log *logger.Logger, bridge, name string, body []byte) {
	data, err := decodePayload(body)
	if err != nil {
		metrics.BridgeMessages.WithLabelValues(bridge, "invalid").Inc()
		log.Warn("dropping bridged event", "event", name, "error", err)
		return
	}
	metrics.BridgeMessages.WithLabelValues(bridge, "accepted").Inc()
	metrics.EventsReceived.WithLabelValues(bridge).Inc()
	sink.ProcessEvent(name, data)
}
