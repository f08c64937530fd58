package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/feedback"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
)

// NATSEventName maps a subject below base to an event name: its last token.
func NATSEventName(base, subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, base+".")
	if !ok || rest == "" {
		return "", false
	}
	tokens := strings.Split(rest, ".")
	name := tokens[len(tokens)-1]
	return name, name != ""
}

// NATS subscribes to "<subject>.>" and forwards every message as an event.
// It also implements feedback.Sink by publishing messages as JSON to the
// feedback subject.
type NATS struct {
	conf config.NATSConf
	sink EventSink
	log  *logger.Logger
	conn *nats.Conn
	sub  *nats.Subscription
}

// DialNATS connects to the server. Feedback can be published right away;
// events flow once Subscribe is called.
func DialNATS(conf config.NATSConf, log *logger.Logger) (*NATS, error) {
	n := &NATS{conf: conf, log: log.With("component", "nats-bridge")}

	opts := []nats.Option{
		nats.Name("obs-copilot"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.ConnectionStatus.WithLabelValues("nats").Set(0)
			n.log.Error("disconnected from NATS server", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			metrics.ConnectionStatus.WithLabelValues("nats").Set(1)
			n.log.Info("reconnected to NATS server", "url", c.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(conf.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}
	n.conn = conn
	metrics.ConnectionStatus.WithLabelValues("nats").Set(1)
	n.log.Info("connected to NATS server", "url", conn.ConnectedUrl())
	return n, nil
}

// Subscribe starts forwarding "<subject>.>" messages to sink.
func (n *NATS) Subscribe(sink EventSink) error {
	n.sink = sink
	sub, err := n.conn.Subscribe(n.conf.Subject+".>", n.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s.>: %w", n.conf.Subject, err)
	}
	n.sub = sub
	n.log.Info("subscribed", "subject", n.conf.Subject+".>")
	return nil
}

func (n *NATS) handleMessage(msg *nats.Msg) {
	name, ok := NATSEventName(n.conf.Subject, msg.Subject)
	if !ok {
		metrics.BridgeMessages.WithLabelValues("nats", "invalid").Inc()
		return
	}
	deliver(n.sink, n.log, "nats", name, msg.Data)
}

// AddMessage publishes m to the feedback subject. Publish failures are
// logged; feedback is never retried.
func (n *NATS) AddMessage(m feedback.Message) {
	if n.conn == nil || n.conf.FeedbackSubject == "" {
		return
	}
	body, err := json.Marshal(m)
	if err != nil {
		n.log.Warn("encode feedback", "error", err)
		return
	}
	if err := n.conn.Publish(n.conf.FeedbackSubject, body); err != nil {
		n.log.Warn("publish feedback", "subject", n.conf.FeedbackSubject, "error", err)
	}
}

// Close drains the subscription and closes the connection.
func (n *NATS) Close() {
	if n.conn == nil {
		return
	}
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	n.conn.Close()
	metrics.ConnectionStatus.WithLabelValues("nats").Set(0)
}
