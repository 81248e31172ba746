// ABOUTME: Tests for the in-process dialer used across the session tests
// ABOUTME: Covers dial failures, delivery routing, publish capture and close reporting

package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDialer_FailNextThenSucceed(t *testing.T) {
	d := NewMemoryDialer()
	refused := errors.New("connection refused")
	d.FailNext(refused)

	_, err := d.Dial(t.Context(), DialOptions{})
	assert.ErrorIs(t, err, refused)

	conn, err := d.Dial(t.Context(), DialOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.SessionID())
	assert.Equal(t, 2, d.Dials())
	assert.Same(t, conn, Conn(d.Last()))
}

func TestMemoryDialer_FailAlways(t *testing.T) {
	d := NewMemoryDialer()
	down := errors.New("server down")
	d.FailAlways(down)

	for i := 0; i < 3; i++ {
		_, err := d.Dial(t.Context(), DialOptions{})
		assert.ErrorIs(t, err, down)
	}

	d.FailAlways(nil)
	_, err := d.Dial(t.Context(), DialOptions{})
	assert.NoError(t, err)
}

func TestMemoryConn_DeliverRoutesByDestination(t *testing.T) {
	d := NewMemoryDialer()
	c, err := d.Dial(t.Context(), DialOptions{})
	require.NoError(t, err)

	var got []string
	_, err = c.Subscribe("/topic/a", func(m Message) { got = append(got, "a:"+string(m.Body)) })
	require.NoError(t, err)
	subB, err := c.Subscribe("/topic/b", func(m Message) { got = append(got, "b:"+string(m.Body)) })
	require.NoError(t, err)

	mc := d.Last()
	assert.Equal(t, []string{"/topic/a", "/topic/b"}, mc.Subscriptions())
	assert.Equal(t, 1, mc.Deliver("/topic/a", []byte("1")))
	assert.Equal(t, 1, mc.Deliver("/topic/b", []byte("2")))

	require.NoError(t, subB.Unsubscribe())
	assert.Equal(t, 0, mc.Deliver("/topic/b", []byte("3")))

	assert.Equal(t, []string{"a:1", "b:2"}, got)
}

func TestMemoryConn_PublishAndClose(t *testing.T) {
	d := NewMemoryDialer()
	var closeErrs []error
	c, err := d.Dial(t.Context(), DialOptions{
		Headers: map[string]string{"userId": "9"},
		OnClose: func(err error) { closeErrs = append(closeErrs, err) },
	})
	require.NoError(t, err)

	mc := d.Last()
	assert.Equal(t, "9", mc.Headers()["userId"])

	require.NoError(t, c.Publish("/app/x", []byte("one")))
	require.NoError(t, c.Publish("/app/y", []byte("two")))
	assert.Len(t, mc.Published(), 2)
	require.Len(t, mc.PublishedTo("/app/y"), 1)
	assert.Equal(t, "two", string(mc.PublishedTo("/app/y")[0].Body))

	broken := errors.New("broken pipe")
	mc.FailPublishes(broken)
	assert.ErrorIs(t, c.Publish("/app/x", nil), broken)
	mc.FailPublishes(nil)

	mc.Drop(errors.New("reset"))
	require.NoError(t, c.Close())
	assert.True(t, mc.Closed())
	require.Len(t, closeErrs, 1, "OnClose fires once")
	assert.EqualError(t, closeErrs[0], "reset")

	assert.ErrorIs(t, c.Publish("/app/x", nil), ErrNotConnected)
}
