// ABOUTME: Maps each subscribed topic to a decoder producing the matching event variant
// ABOUTME: One table drives both subscription setup and inbound demultiplexing

package session

import (
	"encoding/json"

	"github.com/hobbylink/meetup-chat/internal/chat"
	"github.com/hobbylink/meetup-chat/internal/events"
)

type route struct {
	topic  string
	decode func([]byte) (events.Event, error)
}

func (s *Session) routes() []route {
	t := s.topics
	return []route{
		{t.Messages(), decodeMessage},
		{t.Typing(), decodeTyping},
		{t.Presence(), decodePresence},
		{t.Notifications(), decodeNotification},
		{t.MessageStatus(), decodeStatus},
		{t.MessageSync(), decodeSync},
		{t.Errors(), decodeServerError},
		{t.UnreadCount(), decodeUnreadCount},
		{t.MessageFailures(), decodeFailure},
	}
}

func decodeMessage(body []byte) (events.Event, error) {
	var m chat.Message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return events.MessageReceived{Message: m}, nil
}

func decodeTyping(body []byte) (events.Event, error) {
	var ts chat.TypingStatus
	if err := json.Unmarshal(body, &ts); err != nil {
		return nil, err
	}
	return events.TypingStatusReceived{UserID: ts.UserID, Username: ts.Username, IsTyping: ts.IsTyping}, nil
}

func decodePresence(body []byte) (events.Event, error) {
	users, err := chat.DecodeOnlineUsers(body)
	if err != nil {
		return nil, err
	}
	return events.OnlineUsersUpdated{Users: users}, nil
}

func decodeNotification(body []byte) (events.Event, error) {
	var n chat.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	return events.NotificationReceived{Notification: n}, nil
}

func decodeStatus(body []byte) (events.Event, error) {
	var u chat.StatusUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	return events.MessageStatusUpdated{MessageID: u.MessageID, ClientMessageID: u.ClientMessageID, Status: u.Status}, nil
}

func decodeSync(body []byte) (events.Event, error) {
	batch, err := chat.DecodeSyncBatch(body)
	if err != nil {
		return nil, err
	}
	return events.MessagesSynced{Batch: batch}, nil
}

func decodeServerError(body []byte) (events.Event, error) {
	var e chat.ServerError
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, err
	}
	return events.ErrorReceived{Error: e}, nil
}

func decodeUnreadCount(body []byte) (events.Event, error) {
	var c chat.UnreadCount
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, err
	}
	return events.UnreadCountUpdated{Count: c}, nil
}

func decodeFailure(body []byte) (events.Event, error) {
	var n chat.FailureNotice
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, err
	}
	return events.MessageFailed{Notice: n}, nil
}
