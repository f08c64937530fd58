// Package streamerbot is a client for the Streamer.bot WebSocket server.
package streamerbot

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
)

// ErrNotConnected is returned while no session is open.
var ErrNotConnected = errors.New("streamerbot: not connected")

// Config configures the Streamer.bot connection.
type Config struct {
	URL      string
	Password string
	// Events to subscribe to after connecting, keyed by source
	// (e.g. {"Twitch": ["ChatMessage", "Follow"]}).
	Subscriptions        map[string][]string
	RequestTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

// ActionInfo describes an action defined in Streamer.bot.
type ActionInfo struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Group          string `json:"group"`
	Enabled        bool   `json:"enabled"`
	SubactionCount int    `json:"subaction_count"`
}

// EventHandler receives events as "<source>.<type>" names, e.g. "Twitch.ChatMessage".
type EventHandler func(eventName string, data map[string]interface{})

type inbound struct {
	ID             string          `json:"id"`
	Request        string          `json:"request"`
	Status         string          `json:"status"`
	Error          string          `json:"error"`
	Authentication *authInfo       `json:"authentication"`
	Event          *eventInfo      `json:"event"`
	Data           json.RawMessage `json:"data"`
	raw            json.RawMessage
}

type authInfo struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

type eventInfo struct {
	Source string `json:"source"`
	Type   string `json:"type"`
}

// Client is a Streamer.bot session.
type Client struct {
	cfg Config
	log *logger.Logger

	connected atomic.Bool

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan inbound
	onEvent []EventHandler

	writeMu sync.Mutex
}

// NewClient creates a disconnected client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		log:     log.With("component", "streamerbot"),
		pending: make(map[string]chan inbound),
	}
}

// OnEvent registers an event handler. Handlers run on the read goroutine.
func (c *Client) OnEvent(fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = append(c.onEvent, fn)
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect dials Streamer.bot, authenticates when the server asks for it and
// applies the configured subscriptions. The returned channel is closed when
// the session ends.
func (c *Client) Connect(ctx context.Context) (<-chan struct{}, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("streamerbot dial %s: %w", c.cfg.URL, err)
	}

	hello, err := readHello(conn, c.cfg.RequestTimeout)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)

	if hello.Authentication != nil {
		if c.cfg.Password == "" {
			c.Close()
			return nil, errors.New("streamerbot: server requires a password")
		}
		auth := authResponse(c.cfg.Password, hello.Authentication.Salt, hello.Authentication.Challenge)
		if _, err := c.request(ctx, "Authenticate", map[string]interface{}{"authentication": auth}); err != nil {
			c.Close()
			return nil, fmt.Errorf("streamerbot authenticate: %w", err)
		}
	}

	c.connected.Store(true)
	metrics.ConnectionStatus.WithLabelValues("streamerbot").Set(1)
	if len(c.cfg.Subscriptions) > 0 {
		if err := c.Subscribe(ctx, c.cfg.Subscriptions); err != nil {
			c.log.Warn("Streamer.bot subscribe failed", "error", err)
		}
	}
	c.log.Info("connected to Streamer.bot", "url", c.cfg.URL)
	return done, nil
}

// Run keeps the session alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.cfg.MaxReconnectInterval
	b.MaxElapsedTime = 0

	for {
		done, err := c.Connect(ctx)
		if err != nil {
			wait := b.NextBackOff()
			c.log.Warn("Streamer.bot connection failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		b.Reset()
		select {
		case <-done:
			c.log.Warn("Streamer.bot connection lost")
		case <-ctx.Done():
			c.Close()
			return
		}
	}
}

func readHello(conn *websocket.Conn, timeout time.Duration) (inbound, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	var msg inbound
	if err := conn.ReadJSON(&msg); err != nil {
		return inbound{}, fmt.Errorf("streamerbot hello: %w", err)
	}
	return msg, nil
}

func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.connected.Store(false)
		metrics.ConnectionStatus.WithLabelValues("streamerbot").Set(0)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		pending := c.pending
		c.pending = make(map[string]chan inbound)
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		conn.Close()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("Streamer.bot read ended", "error", err)
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("malformed Streamer.bot message", "error", err)
			continue
		}
		msg.raw = raw

		if msg.Event != nil {
			c.dispatch(msg)
			continue
		}
		if msg.ID == "" {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
	}
}

func (c *Client) dispatch(msg inbound) {
	data := map[string]interface{}{}
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.log.Warn("malformed Streamer.bot event data", "source", msg.Event.Source, "type", msg.Event.Type, "error", err)
			return
		}
	}
	name := EventName(msg.Event.Source, msg.Event.Type)

	c.mu.Lock()
	handlers := make([]EventHandler, len(c.onEvent))
	copy(handlers, c.onEvent)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(name, data)
	}
}

// EventName joins an event source and type the way rules reference them.
func EventName(source, typ string) string {
	return source + "." + typ
}

// request sends a request and waits for the response with the same id.
func (c *Client) request(ctx context.Context, req string, fields map[string]interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan inbound, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	body := map[string]interface{}{"request": req, "id": id}
	for k, v := range fields {
		body[k] = v
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(body)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("streamerbot %s: %w", req, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Status != "" && resp.Status != "ok" {
			msg := resp.Error
			if msg == "" {
				msg = resp.Status
			}
			return nil, fmt.Errorf("streamerbot %s: %s", req, msg)
		}
		return resp.raw, nil
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("streamerbot %s: no response after %v", req, c.cfg.RequestTimeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// DoAction runs an action, addressed by name or GUID, with the given arguments.
func (c *Client) DoAction(ctx context.Context, action string, args map[string]interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	ref := map[string]string{"name": action}
	if _, err := uuid.Parse(action); err == nil {
		ref = map[string]string{"id": action}
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	_, err := c.request(ctx, "DoAction", map[string]interface{}{"action": ref, "args": args})
	return err
}

// GetActions lists the actions defined in Streamer.bot.
func (c *Client) GetActions(ctx context.Context) ([]ActionInfo, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	raw, err := c.request(ctx, "GetActions", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Actions []ActionInfo `json:"actions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("streamerbot GetActions: %w", err)
	}
	return resp.Actions, nil
}

// Subscribe adds event subscriptions keyed by source.
func (c *Client) Subscribe(ctx context.Context, events map[string][]string) error {
	_, err := c.request(ctx, "Subscribe", map[string]interface{}{"events": events})
	return err
}

// Close ends the current session, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}
