// Package feedback carries the user-visible messages the engine emits after
// every rule execution.
package feedback

import (
	"sync"
	"time"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
)

// Role tags who a message is attributed to.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is a single chat-style feedback line.
type Message struct {
	Role   Role      `json:"role"`
	Text   string    `json:"text"`
	RuleID string    `json:"rule_id,omitempty"`
	Time   time.Time `json:"time"`
}

// Sink receives feedback messages. Implementations must not block for long:
// the engine calls AddMessage from its dispatcher.
type Sink interface {
	AddMessage(Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message)

// AddMessage calls f.
func (f SinkFunc) AddMessage(m Message) { f(m) }

// Fanout delivers each message to every sink in order.
type Fanout []Sink

// AddMessage implements Sink.
func (f Fanout) AddMessage(m Message) {
	metrics.FeedbackMessages.WithLabelValues(string(m.Role)).Inc()
	for _, s := range f {
		if s != nil {
			s.AddMessage(m)
		}
	}
}

// LogSink writes messages to the structured log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("component", "feedback")}
}

// AddMessage implements Sink.
func (s *LogSink) AddMessage(m Message) {
	s.log.Info(m.Text, "role", m.Role, "rule_id", m.RuleID)
}

// History keeps the most recent messages in a fixed-size ring.
type History struct {
	mu   sync.RWMutex
	buf  []Message
	next int
	full bool
}

// NewHistory creates a History holding up to size messages.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 200
	}
	return &History{buf: make([]Message, size)}
}

// AddMessage implements Sink.
func (h *History) AddMessage(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = m
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns how many messages are held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Recent returns up to limit messages, oldest first. limit <= 0 returns all.
func (h *History) Recent(limit int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Message
	if h.full {
		ordered = append(ordered, h.buf[h.next:]...)
	}
	ordered = append(ordered, h.buf[:h.next]...)

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
