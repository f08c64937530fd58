package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
)

// MQTTEventName maps a topic under prefix to an event name: the rest of the
// topic after "<prefix>/".
func MQTTEventName(prefix, topic string) (string, bool) {
	prefix = strings.TrimSuffix(prefix, "/")
	name, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// MQTT subscribes to "<prefix>/#" and forwards every message as an event.
type MQTT struct {
	conf      config.MQTTConf
	sink      EventSink
	log       *logger.Logger
	client    mqtt.Client
	connected atomic.Bool
}

// NewMQTT builds the bridge. Connect starts it.
func NewMQTT(conf config.MQTTConf, sink EventSink, log *logger.Logger) *MQTT {
	m := &MQTT{conf: conf, sink: sink, log: log.With("component", "mqtt-bridge")}

	opts := mqtt.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientID).
		SetUsername(conf.Username).
		SetPassword(conf.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute)
	opts.OnConnect = m.handleConnect
	opts.OnConnectionLost = m.handleDisconnect

	m.client = mqtt.NewClient(opts)
	return m
}

// Topic is the subscription filter.
func (m *MQTT) Topic() string {
	return strings.TrimSuffix(m.conf.TopicPrefix, "/") + "/#"
}

// Connect dials the broker. Subscribing happens on every (re)connect.
func (m *MQTT) Connect(ctx context.Context) error {
	token := m.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", m.conf.Broker, err)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (m *MQTT) IsConnected() bool { return m.connected.Load() }

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.log.Info("disconnecting from mqtt broker")
	m.client.Disconnect(250)
	m.connected.Store(false)
	metrics.ConnectionStatus.WithLabelValues("mqtt").Set(0)
}

func (m *MQTT) handleConnect(client mqtt.Client) {
	m.connected.Store(true)
	metrics.ConnectionStatus.WithLabelValues("mqtt").Set(1)
	m.log.Info("mqtt client connected", "broker", m.conf.Broker, "topic", m.Topic())

	if token := client.Subscribe(m.Topic(), m.conf.QoS, m.handleMessage); token.Wait() && token.Error() != nil {
		m.log.Error("failed to subscribe", "topic", m.Topic(), "error", token.Error())
	}
}

func (m *MQTT) handleDisconnect(_ mqtt.Client, err error) {
	m.connected.Store(false)
	metrics.ConnectionStatus.WithLabelValues("mqtt").Set(0)
	m.log.Error("mqtt connection lost", "error", err)
}

func (m *MQTT) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	name, ok := MQTTEventName(m.conf.TopicPrefix, msg.Topic())
	if !ok {
		metrics.BridgeMessages.WithLabelValues("mqtt", "invalid").Inc()
		m.log.Debug("ignoring message outside the event prefix", "topic", msg.Topic())
		return
	}
	deliver(m.sink, m.log, "mqtt", name, msg.Payload())
}
