// ABOUTME: In-process Dialer that records publishes and lets callers inject inbound traffic
// ABOUTME: Used by session and coordinator tests and by the CLI's offline mode

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Published is one frame sent through a MemoryConn.
type Published struct {
	Destination string
	Body        []byte
}

// MemoryDialer hands out MemoryConns. Dials can be made to fail on demand.
type MemoryDialer struct {
	mu       sync.Mutex
	failNext []error
	failAll  error
	dials    int
	conns    []*MemoryConn
}

// NewMemoryDialer creates a dialer whose dials succeed until told otherwise.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{}
}

// FailNext makes the next len(errs) dials fail with the given errors, in order.
func (d *MemoryDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = append(d.failNext, errs...)
}

// FailAlways makes every dial fail with err until err is nil again.
func (d *MemoryDialer) FailAlways(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAll = err
}

// Dials reports how many dial attempts were made, failed ones included.
func (d *MemoryDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out, oldest first.
func (d *MemoryDialer) Conns() []*MemoryConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MemoryConn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *MemoryDialer) Last() *MemoryConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *MemoryDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.failNext) > 0 {
		err := d.failNext[0]
		d.failNext = d.failNext[1:]
		return nil, fmt.Errorf("dial %d: %w", d.dials, err)
	}
	if d.failAll != nil {
		return nil, fmt.Errorf("dial %d: %w", d.dials, d.failAll)
	}

	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}

	c := &MemoryConn{
		session: uuid.New().String(),
		headers: headers,
		subs:    make(map[string]*memorySubscription),
		onClose: opts.OnClose,
	}
	d.conns = append(d.conns, c)
	return c, nil
}

// MemoryConn is a connection backed by in-process state.
type MemoryConn struct {
	mu         sync.Mutex
	session    string
	headers    map[string]string
	subs       map[string]*memorySubscription
	order      []string
	published  []Published
	publishErr error
	closed     bool
	onClose    func(error)
}

type memorySubscription struct {
	id          string
	destination string
	handler     Handler
	conn        *MemoryConn
}

func (s *memorySubscription) Destination() string {
	return s.destination
}

func (s *memorySubscription) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	delete(s.conn.subs, s.id)
	return nil
}

func (c *MemoryConn) SessionID() string {
	return c.session
}

// Headers returns the handshake headers the connection was dialed with.
func (c *MemoryConn) Headers() map[string]string {
	return c.headers
}

func (c *MemoryConn) Subscribe(destination string, h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}

	sub := &memorySubscription{
		id:          uuid.New().String(),
		destination: destination,
		handler:     h,
		conn:        c,
	}
	c.subs[sub.id] = sub
	c.order = append(c.order, sub.id)
	return sub, nil
}

func (c *MemoryConn) Publish(destination string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	if c.publishErr != nil {
		return c.publishErr
	}

	c.published = append(c.published, Published{
		Destination: destination,
		Body:        append([]byte(nil), body...),
	})
	return nil
}

func (c *MemoryConn) Close() error {
	c.end(nil)
	return nil
}

// Drop simulates the server or network ending the connection with err.
func (c *MemoryConn) Drop(err error) {
	c.end(err)
}

func (c *MemoryConn) end(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose(err)
	}
}

// Closed reports whether the connection has ended.
func (c *MemoryConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FailPublishes makes every Publish return err until err is nil again.
func (c *MemoryConn) FailPublishes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// Deliver hands body to every live subscription on destination and returns
// how many handlers received it. Handlers run on the caller's goroutine.
func (c *MemoryConn) Deliver(destination string, body []byte) int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	var targets []*memorySubscription
	for _, id := range c.order {
		if sub, ok := c.subs[id]; ok && sub.destination == destination {
			targets = append(targets, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range targets {
		sub.handler(Message{
			Destination: destination,
			Headers:     map[string]string{"destination": destination},
			Body:        body,
		})
	}
	return len(targets)
}

// Subscriptions returns the destinations with a live subscription, in
// subscription order.
func (c *MemoryConn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, id := range c.order {
		if sub, ok := c.subs[id]; ok {
			out = append(out, sub.destination)
		}
	}
	return out
}

// Published returns every frame sent so far, in order.
func (c *MemoryConn) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

// PublishedTo returns the frames sent to destination, in order.
func (c *MemoryConn) PublishedTo(destination string) []Published {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Published
	for _, p := range c.published {
		if p.Destination == destination {
			out = append(out, p)
		}
	}
	return out
}
