package obs

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

// obs-websocket v5 opcodes.
const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opEvent           = 5
	opRequest         = 6
	opRequestResponse = 7
)

const rpcVersion = 1

// Event subscription bits.
const (
	SubscribeAll               = 2047
	SubscribeInputVolumeMeters = 1 << 16
)

// ErrNotConnected is returned by Call while no session is established.
var ErrNotConnected = errors.New("obs: not connected")

// RequestError is a request OBS answered with a failed status.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment == "" {
		return fmt.Sprintf("obs: %s failed with code %d", e.RequestType, e.Code)
	}
	return fmt.Sprintf("obs: %s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
}

// ClientConfig configures the OBS connection.
type ClientConfig struct {
	URL                string
	Password           string
	EventSubscriptions int
	RequestTimeout     time.Duration
	// MaxReconnectInterval caps the backoff between reconnect attempts in Run.
	MaxReconnectInterval time.Duration
}

// EventHandler receives every OBS event.
type EventHandler func(eventName string, data map[string]interface{})

type message struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type hello struct {
	ObsWebSocketVersion string `json:"obsWebSocketVersion"`
	RPCVersion          int    `json:"rpcVersion"`
	Authentication      *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication,omitempty"`
}

type identify struct {
	RPCVersion         int    `json:"rpcVersion"`
	Authentication     string `json:"authentication,omitempty"`
	EventSubscriptions int    `json:"eventSubscriptions"`
}

type eventMessage struct {
	EventType string                 `json:"eventType"`
	EventData map[string]interface{} `json:"eventData"`
}

type request struct {
	RequestType string                 `json:"requestType"`
	RequestID   string                 `json:"requestId"`
	RequestData map[string]interface{} `json:"requestData,omitempty"`
}

type response struct {
	RequestType   string `json:"requestType"`
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData map[string]interface{} `json:"responseData"`
}

// Client is an obs-websocket v5 session.
type Client struct {
	cfg ClientConfig
	log *logger.Logger

	connected atomic.Bool

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan *response
	onEvent   []EventHandler
	onConnect []func()

	writeMu sync.Mutex
}

// NewClient creates a disconnected client.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.EventSubscriptions == 0 {
		cfg.EventSubscriptions = SubscribeAll
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		log:     log.With("component", "obs"),
		pending: make(map[string]chan *response),
	}
}

// OnEvent registers an event handler. Handlers run on the read goroutine.
func (c *Client) OnEvent(fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = append(c.onEvent, fn)
}

// OnConnect registers a callback invoked after every successful handshake.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// IsConnected reports whether an identified session is open.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect dials OBS and completes the Hello/Identify handshake. The returned
// channel is closed when the session ends.
func (c *Client) Connect(ctx context.Context) (<-chan struct{}, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("obs dial %s: %w", c.cfg.URL, err)
	}
	if err := c.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	callbacks := make([]func(), len(c.onConnect))
	copy(callbacks, c.onConnect)
	c.mu.Unlock()
	c.connected.Store(true)
	metrics.ConnectionStatus.WithLabelValues("obs").Set(1)
	c.log.Info("connected to OBS", "url", c.cfg.URL)

	done := make(chan struct{})
	go c.readLoop(conn, done)

	for _, fn := range callbacks {
		go fn()
	}
	return done, nil
}

// Run keeps the session alive until ctx is cancelled, reconnecting with
// exponential backoff.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = c.cfg.MaxReconnectInterval
	b.MaxElapsedTime = 0

	for {
		done, err := c.Connect(ctx)
		if err != nil {
			wait := b.NextBackOff()
			c.log.Warn("OBS connection failed", "error", err, "retry_in", wait)
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
			c.log.Warn("OBS connection lost")
		case <-ctx.Done():
			c.Close()
			return
		}
	}
}

func (c *Client) handshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.RequestTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	var msg message
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("obs hello: %w", err)
	}
	if msg.Op != opHello {
		return fmt.Errorf("obs hello: unexpected op %d", msg.Op)
	}
	var h hello
	if err := json.Unmarshal(msg.D, &h); err != nil {
		return fmt.Errorf("obs hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion, EventSubscriptions: c.cfg.EventSubscriptions}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("obs: server requires a password")
		}
		id.Authentication = AuthResponse(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := writeOp(conn, opIdentify, id); err != nil {
		return fmt.Errorf("obs identify: %w", err)
	}

	if err := conn.ReadJSON(&msg); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return fmt.Errorf("obs identify rejected (%d): %s", ce.Code, ce.Text)
		}
		return fmt.Errorf("obs identified: %w", err)
	}
	if msg.Op != opIdentified {
		return fmt.Errorf("obs identified: unexpected op %d", msg.Op)
	}
	return nil
}

// AuthResponse computes the obs-websocket authentication string:
// base64(sha256(base64(sha256(password + salt)) + challenge)).
func AuthResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func writeOp(conn *websocket.Conn, op int, d interface{}) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(message{Op: op, D: raw})
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.connected.Store(false)
		metrics.ConnectionStatus.WithLabelValues("obs").Set(0)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		pending := c.pending
		c.pending = make(map[string]chan *response)
		c.mu.Unlock()
		for _, ch := range pending {
			close(ch)
		}
		conn.Close()
		close(done)
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Debug("OBS read ended", "error", err)
			}
			return
		}
		switch msg.Op {
		case opEvent:
			var ev eventMessage
			if err := json.Unmarshal(msg.D, &ev); err != nil {
				c.log.Warn("malformed OBS event", "error", err)
				continue
			}
			c.mu.Lock()
			handlers := make([]EventHandler, len(c.onEvent))
			copy(handlers, c.onEvent)
			c.mu.Unlock()
			for _, fn := range handlers {
				fn(ev.EventType, ev.EventData)
			}
		case opRequestResponse:
			var resp response
			if err := json.Unmarshal(msg.D, &resp); err != nil {
				c.log.Warn("malformed OBS response", "error", err)
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- &resp
			}
		}
	}
}

// Call sends a request and waits for its response.
func (c *Client) Call(ctx context.Context, requestType string, data map[string]interface{}) (map[string]interface{}, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan *response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeOp(conn, opRequest, request{RequestType: requestType, RequestID: id, RequestData: data})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("obs %s: %w", requestType, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return nil, &RequestError{RequestType: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		if resp.ResponseData == nil {
			resp.ResponseData = map[string]interface{}{}
		}
		return resp.ResponseData, nil
	case <-timer.C:
		c.forget(id)
		return nil, fmt.Errorf("obs %s: no response after %v", requestType, c.cfg.RequestTimeout)
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
