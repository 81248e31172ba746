// ABOUTME: Subscribe topics and publish destinations for one meetup conversation
// ABOUTME: Centralizes the server's path conventions so callers never format paths

package chat

import "fmt"

// Topics builds the subscription paths for one meetup/user pair.
type Topics struct {
	MeetupID int64
	UserID   int64
}

// NewTopics returns the topic set for meetupID as seen by userID.
func NewTopics(meetupID, userID int64) Topics {
	return Topics{MeetupID: meetupID, UserID: userID}
}

func (t Topics) meetup(suffix string) string {
	return fmt.Sprintf("/topic/meetup/%d/%s", t.MeetupID, suffix)
}

func (t Topics) queue(name string) string {
	return fmt.Sprintf("/user/%d/queue/%s", t.UserID, name)
}

func (t Topics) Messages() string        { return t.meetup("messages") }
func (t Topics) Typing() string          { return t.meetup("typing") }
func (t Topics) Presence() string        { return t.meetup("users") }
func (t Topics) Notifications() string   { return t.queue("notifications") }
func (t Topics) MessageStatus() string   { return t.queue("message-status") }
func (t Topics) MessageSync() string     { return t.queue("message-sync") }
func (t Topics) Errors() string          { return t.queue("errors") }
func (t Topics) UnreadCount() string     { return t.queue("unread-count") }
func (t Topics) MessageFailures() string { return t.queue("message-failures") }

// Destinations builds the publish paths for one meetup.
type Destinations struct {
	MeetupID int64
}

// NewDestinations returns the destination set for meetupID.
func NewDestinations(meetupID int64) Destinations {
	return Destinations{MeetupID: meetupID}
}

func (d Destinations) path(action string) string {
	return fmt.Sprintf("/app/chat/%d/%s", d.MeetupID, action)
}

func (d Destinations) Message() string     { return d.path("message") }
func (d Destinations) Typing() string      { return d.path("typing") }
func (d Destinations) Status() string      { return d.path("status") }
func (d Destinations) Retry() string       { return d.path("retry") }
func (d Destinations) CancelRetry() string { return d.path("cancel-retry") }
func (d Destinations) Sync() string        { return d.path("sync") }
func (d Destinations) Join() string        { return d.path("join") }
func (d Destinations) Leave() string       { return d.path("leave") }
func (d Destinations) Heartbeat() string   { return d.path("heartbeat") }
