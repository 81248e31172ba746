// ABOUTME: In-memory fan-out of coordinator state changes to UI subscribers
// ABOUTME: Non-blocking publish; slow subscribers drop changes rather than stall the coordinator

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hobbylink/meetup-chat/internal/chat"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ChangeKind names what changed in the coordinator's view.
type ChangeKind string

const (
	ChangeHistoryLoaded  ChangeKind = "history_loaded"
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageUpdated ChangeKind = "message_updated"
	ChangeMessageRemoved ChangeKind = "message_removed"
	ChangeTyping         ChangeKind = "typing"
	ChangePresence       ChangeKind = "presence"
	ChangeStatus         ChangeKind = "status"
	ChangeUnread         ChangeKind = "unread"
	ChangeServerError    ChangeKind = "server_error"
	ChangeNotification   ChangeKind = "notification"
)

// Change describes one state change. Only the fields relevant to Kind are set.
type Change struct {
	Kind         ChangeKind
	Message      chat.Message
	Messages     []chat.Message // timeline snapshot for ChangeHistoryLoaded
	Status       Status
	Unread       int64
	ServerError  *chat.ServerError
	Notification *chat.Notification
}

// Broadcaster provides in-memory pub/sub for Changes. Subscribers receive
// changes as the coordinator applies them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Change),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and ID. The
// subscription is removed when ctx is cancelled. Subscribing to a closed
// broadcaster returns an already-closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends change to every subscriber. Changes are dropped for
// subscribers whose channels are full.
func (b *Broadcaster) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- change:
		default:
			b.logger.Debug("dropped change for slow subscriber",
				"sub_id", id,
				"change", string(change.Kind))
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}

	b.logger.Debug("broadcaster closed")
}
