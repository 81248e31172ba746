// ABOUTME: STOMP-over-WebSocket transport built on gorilla/websocket and go-stomp frames
// ABOUTME: One WebSocket message carries one STOMP frame; a bare newline is a heart-beat

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// tuning parameters
	writeWait        = 10 * time.Second // time allowed to write a frame to the peer
	handshakeTimeout = 10 * time.Second // time allowed for the WebSocket upgrade and CONNECTED frame
)

// WebSocketDialer dials a STOMP broker over WebSocket.
type WebSocketDialer struct {
	URL string

	// Header is sent with the WebSocket upgrade request.
	Header http.Header

	// HeartbeatOutgoing and HeartbeatIncoming are offered in the STOMP
	// heart-beat header. Zero disables the direction.
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration

	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer for the broker at rawURL. Pass nil
// logger for default.
func NewWebSocketDialer(rawURL string, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{
		URL:               rawURL,
		Header:            make(http.Header),
		HeartbeatOutgoing: 10 * time.Second,
		HeartbeatIncoming: 10 * time.Second,
		logger:            logger.With("component", "transport"),
	}
}

// Dial upgrades to WebSocket and completes the STOMP CONNECT handshake.
func (d *WebSocketDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url: %w", err)
	}

	wsDialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	ws, resp, err := wsDialer.DialContext(ctx, d.URL, d.Header.Clone())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", d.URL, err)
	}

	c := &stompConn{
		ws:      ws,
		subs:    make(map[string]*stompSubscription),
		onClose: opts.OnClose,
		done:    make(chan struct{}),
		logger:  d.logger,
	}

	heartBeat := fmt.Sprintf("%d,%d", d.HeartbeatOutgoing.Milliseconds(), d.HeartbeatIncoming.Milliseconds())
	if err := c.handshake(ctx, u.Hostname(), heartBeat, opts.Headers); err != nil {
		ws.Close()
		return nil, err
	}

	go c.readLoop()
	if d.HeartbeatOutgoing > 0 {
		go c.heartbeatLoop(d.HeartbeatOutgoing)
	}

	d.logger.Debug("stomp session established", "url", d.URL, "session", c.session)
	return c, nil
}

type stompConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.RWMutex
	subs    map[string]*stompSubscription
	session string
	closing bool
	closed  bool

	onClose   func(error)
	closeOnce sync.Once
	done      chan struct{}
	logger    *slog.Logger
}

func (c *stompConn) handshake(ctx context.Context, host, heartBeat string, headers map[string]string) error {
	connect := frame.New(frame.CONNECT,
		"accept-version", "1.1,1.2",
		"host", host,
		"heart-beat", heartBeat,
	)
	for k, v := range headers {
		connect.Header.Set(k, v)
	}

	if err := c.writeFrame(connect); err != nil {
		return fmt.Errorf("sending CONNECT: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("setting handshake deadline: %w", err)
	}

	for {
		f, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("reading CONNECTED: %w", err)
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.CONNECTED:
			c.session = f.Header.Get("session")
			if c.session == "" {
				c.session = uuid.New().String()
			}
			return c.ws.SetReadDeadline(time.Time{})
		case frame.ERROR:
			return fmt.Errorf("%w: %s", ErrHandshakeRejected, errorText(f))
		default:
			c.logger.Debug("ignoring frame during handshake", "command", f.Command)
		}
	}
}

// readFrame reads one WebSocket message and decodes the frame it carries.
// A nil frame with a nil error is a heart-beat.
func (c *stompConn) readFrame() (*frame.Frame, error) {
	_, r, err := c.ws.NextReader()
	if err != nil {
		return nil, err
	}
	f, err := frame.NewReader(r).Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return f, err
}

func (c *stompConn) writeFrame(f *frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := frame.NewWriter(w).Write(f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (c *stompConn) readLoop() {
	for {
		f, err := c.readFrame()
		if err != nil {
			c.terminate(err)
			return
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			c.dispatch(f)
		case frame.ERROR:
			c.terminate(fmt.Errorf("server error frame: %s", errorText(f)))
			return
		case frame.RECEIPT:
		default:
			c.logger.Debug("ignoring frame", "command", f.Command)
		}
	}
}

func (c *stompConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.TextMessage, []byte("\n"))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *stompConn) dispatch(f *frame.Frame) {
	id := f.Header.Get("subscription")

	c.mu.RLock()
	sub, ok := c.subs[id]
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug("message for unknown subscription",
			"subscription", id,
			"destination", f.Header.Get("destination"))
		return
	}

	headers := make(map[string]string, f.Header.Len())
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		headers[k] = v
	}

	sub.handler(Message{
		Destination: sub.destination,
		Headers:     headers,
		Body:        f.Body,
	})
}

// terminate tears the socket down and reports the outcome once.
func (c *stompConn) terminate(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.closing {
			err = nil
		}
		c.mu.Unlock()

		close(c.done)
		c.ws.Close()

		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

func (c *stompConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed || c.closing
}

func (c *stompConn) SessionID() string {
	return c.session
}

func (c *stompConn) Subscribe(destination string, h Handler) (Subscription, error) {
	if c.isClosed() {
		return nil, ErrNotConnected
	}

	sub := &stompSubscription{
		id:          uuid.New().String(),
		destination: destination,
		handler:     h,
		conn:        c,
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	err := c.writeFrame(frame.New(frame.SUBSCRIBE,
		"id", sub.id,
		"destination", destination,
		"ack", "auto",
	))
	if err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribing to %s: %w", destination, err)
	}

	return sub, nil
}

func (c *stompConn) Publish(destination string, body []byte) error {
	if c.isClosed() {
		return ErrNotConnected
	}

	f := frame.New(frame.SEND,
		"destination", destination,
		"content-type", "application/json",
	)
	f.Body = body

	if err := c.writeFrame(f); err != nil {
		return fmt.Errorf("publishing to %s: %w", destination, err)
	}
	return nil
}

func (c *stompConn) Close() error {
	c.mu.Lock()
	if c.closing || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	if err := c.writeFrame(frame.New(frame.DISCONNECT)); err != nil {
		c.logger.Debug("sending DISCONNECT failed", "error", err)
	}

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	c.terminate(nil)
	return nil
}

type stompSubscription struct {
	id          string
	destination string
	handler     Handler
	conn        *stompConn
}

func (s *stompSubscription) Destination() string {
	return s.destination
}

func (s *stompSubscription) Unsubscribe() error {
	c := s.conn

	c.mu.Lock()
	_, ok := c.subs[s.id]
	delete(c.subs, s.id)
	closed := c.closed || c.closing
	c.mu.Unlock()

	if !ok || closed {
		return nil
	}

	if err := c.writeFrame(frame.New(frame.UNSUBSCRIBE, "id", s.id)); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", s.destination, err)
	}
	return nil
}

func errorText(f *frame.Frame) string {
	msg := f.Header.Get("message")
	if len(f.Body) > 0 {
		if msg != "" {
			msg += ": "
		}
		msg += string(f.Body)
	}
	return msg
}
