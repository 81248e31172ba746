// ABOUTME: Tests for the change Broadcaster fan-out used by chat UIs
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, slow subscribers

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hobbylink/meetup-chat/internal/chat"
)

func messageChange(content string) Change {
	return Change{
		Kind:    ChangeMessageAdded,
		Message: chat.Message{ClientMessageID: "c-" + content, Content: content},
	}
}

func TestBroadcaster_SubscribersReceiveChange(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Publish(messageChange("hello"))

	for i, ch := range []<-chan Change{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, ChangeMessageAdded, got.Kind)
			assert.Equal(t, "hello", got.Message.Content, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, id := b.Subscribe(t.Context())
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(messageChange("after"))
}

func TestBroadcaster_ContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestBroadcaster_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(Change{Kind: ChangeTyping})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_CloseClosesAllAndRejectsNew(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())
	b.Close()
	b.Close()

	for _, ch := range []<-chan Change{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}

	late, _ := b.Subscribe(t.Context())
	_, ok := <-late
	assert.False(t, ok)
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				b.Publish(Change{Kind: ChangeUnread, Unread: int64(j)})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 32)
}
