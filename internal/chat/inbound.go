// ABOUTME: Payloads the chat server pushes on topics and per-user queues
// ABOUTME: Includes decoders that tolerate the server's alternate response shapes

package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TypingStatus signals that a user started or stopped typing.
type TypingStatus struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// StatusUpdate reports a delivery status change. MessageID may carry either
// the server ID or the client message ID.
type StatusUpdate struct {
	MessageID       ID             `json:"messageId"`
	ClientMessageID string         `json:"clientMessageId,omitempty"`
	Status          DeliveryStatus `json:"status"`
}

// SyncBatch is the server's answer to a sync request.
type SyncBatch struct {
	MeetupID      int64     `json:"meetupId"`
	Messages      []Message `json:"messages"`
	SyncStartTime Timestamp `json:"syncStartTime"`
	SyncEndTime   Timestamp `json:"syncEndTime"`
	MessageCount  int       `json:"messageCount"`
}

// OnlineUsers is the presence list broadcast on join/leave.
type OnlineUsers struct {
	MeetupID int64  `json:"meetupId"`
	Users    []User `json:"onlineUsers"`
	Count    int    `json:"count"`
}

// Notification is a per-user notification such as a new-message alert.
type Notification struct {
	Type            string    `json:"type"`
	MessageID       ID        `json:"messageId"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	MeetupID        int64     `json:"meetupId"`
	SenderName      string    `json:"senderName,omitempty"`
	Content         string    `json:"content,omitempty"`
	Timestamp       Timestamp `json:"timestamp"`
}

// UnreadCount is the number of unread messages for a meetup.
type UnreadCount struct {
	MeetupID    int64     `json:"meetupId"`
	UnreadCount int64     `json:"unreadCount"`
	Timestamp   Timestamp `json:"timestamp"`
}

// ServerError is an error envelope pushed by the server.
type ServerError struct {
	ErrorCode string    `json:"errorCode"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

func (e ServerError) Error() string {
	if e.ErrorCode == "" {
		return e.Message
	}
	return e.ErrorCode + ": " + e.Message
}

// FailureNotice tells the sender the server gave up on a message.
type FailureNotice struct {
	ClientMessageID string    `json:"clientMessageId"`
	Reason          string    `json:"message"`
	Timestamp       Timestamp `json:"timestamp"`
}

// DecodeOnlineUsers accepts either the broadcast object or a bare user array
// as returned by the presence snapshot endpoint.
func DecodeOnlineUsers(data []byte) ([]User, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var users []User
		if err := json.Unmarshal(trimmed, &users); err != nil {
			return nil, fmt.Errorf("decoding online users: %w", err)
		}
		return users, nil
	}

	var resp OnlineUsers
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, fmt.Errorf("decoding online users: %w", err)
	}
	return resp.Users, nil
}

// DecodeSyncBatch accepts either the sync response object or a bare message
// array.
func DecodeSyncBatch(data []byte) (SyncBatch, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return SyncBatch{}, fmt.Errorf("decoding sync batch: %w", err)
		}
		return SyncBatch{Messages: msgs, MessageCount: len(msgs)}, nil
	}

	var batch SyncBatch
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return SyncBatch{}, fmt.Errorf("decoding sync batch: %w", err)
	}
	return batch, nil
}
