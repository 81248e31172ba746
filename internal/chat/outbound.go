// ABOUTME: Envelopes the client publishes to the chat server's application destinations
// ABOUTME: Field sets match the server chat controller exactly

package chat

// MessageEnvelope is the body published to send a chat message.
type MessageEnvelope struct {
	Content         string    `json:"content"`
	SenderID        int64     `json:"senderId"`
	MeetupID        int64     `json:"meetupId"`
	ClientMessageID string    `json:"clientMessageId"`
	Timestamp       Timestamp `json:"timestamp"`
}

// TypingEnvelope announces a typing start or stop.
type TypingEnvelope struct {
	UserID   int64 `json:"userId"`
	MeetupID int64 `json:"meetupId"`
	IsTyping bool  `json:"isTyping"`
}

// StatusEnvelope asks the server to update a message's status.
type StatusEnvelope struct {
	MessageID ID             `json:"messageId"`
	UserID    int64          `json:"userId"`
	Status    DeliveryStatus `json:"status"`
}

// RetryEnvelope asks the server to retry (or cancel retrying) a message.
type RetryEnvelope struct {
	ClientMessageID string `json:"clientMessageId"`
	SenderID        int64  `json:"senderId"`
}

// SyncEnvelope requests messages missed since LastSyncTime. A nil
// LastSyncTime requests the recent history.
type SyncEnvelope struct {
	UserID       int64   `json:"userId"`
	LastSyncTime *string `json:"lastSyncTime"`
}

// PresenceEnvelope announces a join or leave.
type PresenceEnvelope struct {
	UserID    int64  `json:"userId"`
	SessionID string `json:"sessionId"`
}

// HeartbeatEnvelope is the periodic keepalive body. Timestamp is epoch
// milliseconds.
type HeartbeatEnvelope struct {
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// SyncTimeLayout is the zone-less layout the server parses lastSyncTime with.
const SyncTimeLayout = "2006-01-02T15:04:05"
