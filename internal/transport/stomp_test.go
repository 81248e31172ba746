// ABOUTME: Tests for the STOMP WebSocket transport against an in-test broker
// ABOUTME: Covers handshake headers, subscription routing, publish, rejection and drops

package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a minimal STOMP server good for one connection.
type fakeBroker struct {
	t        *testing.T
	reject   string
	dropAt   string
	connect  chan *frame.Frame
	sent     chan *frame.Frame
	upgrader websocket.Upgrader
}

func newFakeBroker(t *testing.T) *fakeBroker {
	return &fakeBroker{
		t:       t,
		connect: make(chan *frame.Frame, 1),
		sent:    make(chan *frame.Frame, 10),
	}
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	write := func(f *frame.Frame) {
		nw, err := ws.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_ = frame.NewWriter(nw).Write(f)
		_ = nw.Close()
	}

	for {
		_, rd, err := ws.NextReader()
		if err != nil {
			return
		}
		f, err := frame.NewReader(rd).Read()
		if err != nil || f == nil {
			continue
		}

		switch f.Command {
		case frame.CONNECT:
			b.connect <- f
			if b.reject != "" {
				write(frame.New(frame.ERROR, "message", b.reject))
				return
			}
			write(frame.New(frame.CONNECTED, "version", "1.2", "session", "sess-42"))
			if b.dropAt == frame.CONNECTED {
				return
			}
		case frame.SUBSCRIBE:
			msg := frame.New(frame.MESSAGE,
				"subscription", f.Header.Get("id"),
				"destination", f.Header.Get("destination"),
				"message-id", "1",
			)
			msg.Body = []byte(`{"content":"hello"}`)
			write(msg)
		case frame.SEND:
			b.sent <- f
		case frame.DISCONNECT:
			return
		}
	}
}

func dialBroker(t *testing.T, b *fakeBroker, opts DialOptions) (Conn, error) {
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)

	d := NewWebSocketDialer("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	d.HeartbeatOutgoing = 0
	d.HeartbeatIncoming = 0
	return d.Dial(t.Context(), opts)
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	b := newFakeBroker(t)
	closed := make(chan error, 1)

	conn, err := dialBroker(t, b, DialOptions{
		Headers: map[string]string{"userId": "7", "meetupId": "3"},
		OnClose: func(err error) { closed <- err },
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-42", conn.SessionID())

	connect := <-b.connect
	assert.Equal(t, "7", connect.Header.Get("userId"))
	assert.Equal(t, "3", connect.Header.Get("meetupId"))
	assert.Contains(t, connect.Header.Get("accept-version"), "1.2")

	got := make(chan Message, 1)
	sub, err := conn.Subscribe("/topic/meetup/3/messages", func(m Message) { got <- m })
	require.NoError(t, err)
	assert.Equal(t, "/topic/meetup/3/messages", sub.Destination())

	select {
	case m := <-got:
		assert.Equal(t, "/topic/meetup/3/messages", m.Destination)
		assert.JSONEq(t, `{"content":"hello"}`, string(m.Body))
		assert.Equal(t, "1", m.Headers["message-id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no MESSAGE delivered")
	}

	require.NoError(t, conn.Publish("/app/chat/3/message", []byte(`{"content":"hi"}`)))
	select {
	case f := <-b.sent:
		assert.Equal(t, "/app/chat/3/message", f.Header.Get("destination"))
		assert.Equal(t, `{"content":"hi"}`, string(f.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("no SEND received")
	}

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}

	assert.ErrorIs(t, conn.Publish("/app/chat/3/message", nil), ErrNotConnected)
}

func TestWebSocketDialer_HandshakeRejected(t *testing.T) {
	b := newFakeBroker(t)
	b.reject = "invalid token"

	_, err := dialBroker(t, b, DialOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeRejected)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestWebSocketDialer_ServerDropReportsError(t *testing.T) {
	b := newFakeBroker(t)
	b.dropAt = frame.CONNECTED
	closed := make(chan error, 1)

	_, err := dialBroker(t, b, DialOptions{
		OnClose: func(err error) { closed <- err },
	})
	require.NoError(t, err)

	select {
	case err := <-closed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called after server drop")
	}
}

func TestWebSocketDialer_UnreachableServer(t *testing.T) {
	d := NewWebSocketDialer("ws://127.0.0.1:1/ws", nil)
	_, err := d.Dial(t.Context(), DialOptions{})
	assert.Error(t, err)
}
