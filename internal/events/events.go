// ABOUTME: Tagged-variant event types emitted by the session manager
// ABOUTME: Each concrete type reports its Kind so consumers can switch exhaustively

package events

import (
	"time"

	"github.com/hobbylink/meetup-chat/internal/chat"
)

// Kind enumerates the event surface.
type Kind int

const (
	KindConnected Kind = iota + 1
	KindDisconnected
	KindError
	KindReconnecting
	KindReconnectFailed
	KindMessageReceived
	KindTypingStatusReceived
	KindMessageStatusUpdated
	KindMessagesSynced
	KindOnlineUsersUpdated
	KindNotificationReceived
	KindUnreadCountUpdated
	KindErrorReceived
	KindMessageSendFailed
	KindMessageFailed
)

var kindNames = map[Kind]string{
	KindConnected:            "connected",
	KindDisconnected:         "disconnected",
	KindError:                "error",
	KindReconnecting:         "reconnecting",
	KindReconnectFailed:      "reconnectFailed",
	KindMessageReceived:      "messageReceived",
	KindTypingStatusReceived: "typingStatusReceived",
	KindMessageStatusUpdated: "messageStatusUpdated",
	KindMessagesSynced:       "messagesSynced",
	KindOnlineUsersUpdated:   "onlineUsersUpdated",
	KindNotificationReceived: "notificationReceived",
	KindUnreadCountUpdated:   "unreadCountUpdated",
	KindErrorReceived:        "errorReceived",
	KindMessageSendFailed:    "messageSendFailed",
	KindMessageFailed:        "messageFailed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := KindConnected; k <= KindMessageFailed; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Event is implemented by every event variant.
type Event interface {
	Kind() Kind
}

// Connected fires after the transport opened and the handshake succeeded.
type Connected struct{}

// Disconnected fires on an unexpected drop and on graceful Disconnect.
type Disconnected struct{}

// Error carries a transport-level failure.
type Error struct {
	Err error
}

// Reconnecting fires when a reconnect attempt is scheduled.
type Reconnecting struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectFailed fires once when the attempt budget is exhausted.
type ReconnectFailed struct{}

// MessageReceived carries a message from the conversation stream.
type MessageReceived struct {
	Message chat.Message
}

// TypingStatusReceived carries another participant's typing signal.
type TypingStatusReceived struct {
	UserID   int64
	Username string
	IsTyping bool
}

// MessageStatusUpdated carries a server-confirmed status change. MessageID
// may be either the server ID or the client message ID.
type MessageStatusUpdated struct {
	MessageID       chat.ID
	ClientMessageID string
	Status          chat.DeliveryStatus
}

// MessagesSynced carries an incremental sync batch.
type MessagesSynced struct {
	Batch chat.SyncBatch
}

// OnlineUsersUpdated carries the current presence list.
type OnlineUsersUpdated struct {
	Users []chat.User
}

// NotificationReceived carries a per-user notification.
type NotificationReceived struct {
	Notification chat.Notification
}

// UnreadCountUpdated carries the unread count for the meetup.
type UnreadCountUpdated struct {
	Count chat.UnreadCount
}

// ErrorReceived carries a server-reported protocol error.
type ErrorReceived struct {
	Error chat.ServerError
}

// MessageSendFailed fires when a locally sent message could not be handed
// to the transport. Evicted is true when the outbound queue dropped it, in
// which case it will not be delivered without a retry.
type MessageSendFailed struct {
	ClientMessageID string
	Err             error
	Evicted         bool
}

// MessageFailed fires when the server reports it gave up on a message.
type MessageFailed struct {
	Notice chat.FailureNotice
}

func (Connected) Kind() Kind            { return KindConnected }
func (Disconnected) Kind() Kind         { return KindDisconnected }
func (Error) Kind() Kind                { return KindError }
func (Reconnecting) Kind() Kind         { return KindReconnecting }
func (ReconnectFailed) Kind() Kind      { return KindReconnectFailed }
func (MessageReceived) Kind() Kind      { return KindMessageReceived }
func (TypingStatusReceived) Kind() Kind { return KindTypingStatusReceived }
func (MessageStatusUpdated) Kind() Kind { return KindMessageStatusUpdated }
func (MessagesSynced) Kind() Kind       { return KindMessagesSynced }
func (OnlineUsersUpdated) Kind() Kind   { return KindOnlineUsersUpdated }
func (NotificationReceived) Kind() Kind { return KindNotificationReceived }
func (UnreadCountUpdated) Kind() Kind   { return KindUnreadCountUpdated }
func (ErrorReceived) Kind() Kind        { return KindErrorReceived }
func (MessageSendFailed) Kind() Kind    { return KindMessageSendFailed }
func (MessageFailed) Kind() Kind        { return KindMessageFailed }
