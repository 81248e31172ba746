// ABOUTME: Transport abstractions the session manager drives: dialer, connection, subscription
// ABOUTME: Implementations frame topic-addressed messages over a single full-duplex socket

package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when publishing on a closed connection.
	ErrNotConnected = errors.New("transport not connected")

	// ErrHandshakeRejected is returned when the server refuses the handshake.
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// Message is an inbound frame delivered to a subscription.
type Message struct {
	Destination string
	Headers     map[string]string
	Body        []byte
}

// Handler receives messages for one subscription. Handlers run on the
// connection's read goroutine and must not block.
type Handler func(Message)

// Subscription is a live topic subscription.
type Subscription interface {
	Destination() string
	Unsubscribe() error
}

// Conn is an established, handshaken connection.
type Conn interface {
	// SessionID is the server-assigned session identifier.
	SessionID() string
	Subscribe(destination string, h Handler) (Subscription, error)
	Publish(destination string, body []byte) error
	// Close performs a graceful disconnect. OnClose is then called with nil.
	Close() error
}

// DialOptions configures one connection attempt.
type DialOptions struct {
	// Headers are sent with the handshake (user and meetup identifiers,
	// authorization).
	Headers map[string]string

	// OnClose is called exactly once when the connection ends after a
	// successful dial. err is nil for a local Close.
	OnClose func(err error)
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}
