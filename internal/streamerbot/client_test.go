package streamerbot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
)

type fakeBot struct {
	password string
	requests chan map[string]interface{}
}

func (f *fakeBot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	hello := map[string]interface{}{"request": "Hello", "info": map[string]string{"name": "Streamer.bot"}}
	if f.password != "" {
		hello["authentication"] = map[string]string{"salt": "salt", "challenge": "challenge"}
	}
	_ = conn.WriteJSON(hello)

	authed := f.password == ""
	for {
		var req map[string]interface{}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		f.requests <- req
		id, _ := req["id"].(string)
		switch req["request"] {
		case "Authenticate":
			if req["authentication"] == authResponse(f.password, "salt", "challenge") {
				authed = true
				_ = conn.WriteJSON(map[string]interface{}{"id": id, "status": "ok"})
			} else {
				_ = conn.WriteJSON(map[string]interface{}{"id": id, "status": "error", "error": "Authentication failed"})
			}
		case "DoAction":
			if !authed {
				_ = conn.WriteJSON(map[string]interface{}{"id": id, "status": "error", "error": "not authenticated"})
				continue
			}
			_ = conn.WriteJSON(map[string]interface{}{
				"timeStamp": "2026-01-01T00:00:00Z",
				"event":     map[string]string{"source": "General", "type": "Custom"},
				"data":      map[string]interface{}{"ran": req["action"]},
			})
			_ = conn.WriteJSON(map[string]interface{}{"id": id, "status": "ok"})
		case "GetActions":
			_ = conn.WriteJSON(map[string]interface{}{
				"id": id, "status": "ok", "count": 1,
				"actions": []map[string]interface{}{{"id": "a1", "name": "Shoutout", "group": "Chat", "enabled": true, "subaction_count": 2}},
			})
		default:
			_ = conn.WriteJSON(map[string]interface{}{"id": id, "status": "ok"})
		}
	}
}

func start(t *testing.T, f *fakeBot) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientDoAction(t *testing.T) {
	f := &fakeBot{password: "pw", requests: make(chan map[string]interface{}, 16)}
	c := NewClient(Config{
		URL:            start(t, f),
		Password:       "pw",
		Subscriptions:  map[string][]string{"Twitch": {"ChatMessage"}},
		RequestTimeout: 2 * time.Second,
	}, logger.Nop())

	events := make(chan string, 1)
	c.OnEvent(func(name string, data map[string]interface{}) { events <- name })

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.DoAction(context.Background(), "Shoutout", nil), ErrNotConnected)

	done, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsConnected())

	assert.Equal(t, "Authenticate", (<-f.requests)["request"])
	sub := <-f.requests
	assert.Equal(t, "Subscribe", sub["request"])
	assert.Equal(t, map[string]interface{}{"Twitch": []interface{}{"ChatMessage"}}, sub["events"])

	require.NoError(t, c.DoAction(context.Background(), "Shoutout", map[string]interface{}{"user": "alice"}))
	req := <-f.requests
	assert.Equal(t, map[string]interface{}{"name": "Shoutout"}, req["action"])
	assert.Equal(t, map[string]interface{}{"user": "alice"}, req["args"])

	select {
	case name := <-events:
		assert.Equal(t, "General.Custom", name)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, c.DoAction(context.Background(), "8b4e1a3c-1f39-4a53-9c57-5f0bb08a4a17", nil))
	req = <-f.requests
	assert.Equal(t, map[string]interface{}{"id": "8b4e1a3c-1f39-4a53-9c57-5f0bb08a4a17"}, req["action"])

	actions, err := c.GetActions(context.Background())
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "Shoutout", actions[0].Name)
	assert.Equal(t, 2, actions[0].SubactionCount)

	require.NoError(t, c.Close())
	<-done
	assert.False(t, c.IsConnected())
}

func TestClientBadPassword(t *testing.T) {
	f := &fakeBot{password: "pw", requests: make(chan map[string]interface{}, 16)}
	c := NewClient(Config{URL: start(t, f), Password: "nope", RequestTimeout: 2 * time.Second}, logger.Nop())

	_, err := c.Connect(context.Background())
	assert.ErrorContains(t, err, "Authentication failed")
	assert.False(t, c.IsConnected())
}

func TestEventName(t *testing.T) {
	assert.Equal(t, "Twitch.ChatMessage", EventName("Twitch", "ChatMessage"))
}
