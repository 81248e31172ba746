// ABOUTME: Message and delivery status types for meetup chat conversations
// ABOUTME: Client message IDs key optimistic entries until the server ID arrives

package chat

import (
	"strings"
	"time"
)

// DeliveryStatus is the delivery state of a message.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "SENDING"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusRead      DeliveryStatus = "READ"
	StatusFailed    DeliveryStatus = "FAILED"
)

// ParseDeliveryStatus normalizes a status string. Unknown values return false.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	switch DeliveryStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusSending:
		return StatusSending, true
	case StatusDelivered:
		return StatusDelivered, true
	case StatusRead:
		return StatusRead, true
	case StatusFailed:
		return StatusFailed, true
	default:
		return "", false
	}
}

// Valid reports whether s is one of the known statuses.
func (s DeliveryStatus) Valid() bool {
	_, ok := ParseDeliveryStatus(string(s))
	return ok
}

// Message is one chat line. ID is empty until the server acknowledges the
// message; ClientMessageID is set for every locally created message and is
// echoed back by the server.
type Message struct {
	ID              ID             `json:"id"`
	ClientMessageID string         `json:"clientMessageId,omitempty"`
	Content         string         `json:"content"`
	SenderID        int64          `json:"senderId"`
	SenderName      string         `json:"senderName,omitempty"`
	MeetupID        int64          `json:"meetupId"`
	Timestamp       Timestamp      `json:"timestamp"`
	SentAt          Timestamp      `json:"sentAt"`
	Status          DeliveryStatus `json:"status,omitempty"`
	Sender          *User          `json:"sender,omitempty"`
}

// CreatedAt returns the client timestamp, falling back to the server's
// sentAt. Timestamps are informational and never used for ordering.
func (m *Message) CreatedAt() time.Time {
	if !m.Timestamp.IsZero() {
		return m.Timestamp.Time
	}
	return m.SentAt.Time
}

// DisplayName returns the best available name for the sender.
func (m *Message) DisplayName() string {
	if m.SenderName != "" {
		return m.SenderName
	}
	if m.Sender != nil {
		return m.Sender.DisplayName()
	}
	return ""
}

// AuthorID returns the sender ID, using the embedded sender when the flat
// field is absent.
func (m *Message) AuthorID() int64 {
	if m.SenderID != 0 {
		return m.SenderID
	}
	if m.Sender != nil {
		return m.Sender.ID
	}
	return 0
}

// User is a conversation participant as the server describes it.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// DisplayName prefers the nickname.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}
