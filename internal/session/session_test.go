// ABOUTME: Tests for the session manager over the in-memory transport
// ABOUTME: Covers handshake, subscriptions, queueing, backoff, heartbeat and teardown

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hobbylink/meetup-chat/internal/chat"
	"github.com/hobbylink/meetup-chat/internal/events"
	"github.com/hobbylink/meetup-chat/internal/transport"
)

const (
	testMeetup = int64(3)
	testUser   = int64(7)
)

var (
	topics = chat.NewTopics(testMeetup, testUser)
	dests  = chat.NewDestinations(testMeetup)
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) add(ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

func (l *eventLog) ofKind(k events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range l.all() {
		if ev.Kind() == k {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) kinds() []events.Kind {
	var out []events.Kind
	for _, ev := range l.all() {
		out = append(out, ev.Kind())
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedCheckpoints struct {
	at time.Time
}

func (f fixedCheckpoints) LastSync(ctx context.Context, meetupID, userID int64) (time.Time, error) {
	return f.at, nil
}

func testConfig() Config {
	return Config{
		MeetupID:          testMeetup,
		UserID:            testUser,
		Token:             "tok-abc",
		InitialDelay:      time.Millisecond,
		MaxDelay:          4 * time.Millisecond,
		MaxAttempts:       5,
		HeartbeatInterval: time.Hour,
		QueueCapacity:     50,
		QueueMaxAge:       time.Hour,
	}
}

func newTestSession(t *testing.T, d transport.Dialer, cfg Config, cp Checkpoints) (*Session, *eventLog) {
	t.Helper()
	s := New(cfg, d, cp, nil)
	t.Cleanup(func() { s.Close() })

	log := &eventLog{}
	s.Events().OnAny(log.add)
	return s, log
}

// settle waits for work already posted to the loop and for the events it
// emitted to be delivered.
func settle(s *Session) {
	_ = s.do(func() {})
	s.Events().Flush()
}

func waitConnected(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Info().State == StateConnected
	}, 2*time.Second, time.Millisecond)
}

func TestSession_ConnectSubscribesAndAnnounces(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, log := newTestSession(t, d, testConfig(), nil)

	require.NoError(t, s.Connect())
	waitConnected(t, s)
	settle(s)

	conn := d.Last()
	require.NotNil(t, conn)
	assert.Equal(t, "7", conn.Headers()["userId"])
	assert.Equal(t, "3", conn.Headers()["meetupId"])
	assert.Equal(t, "Bearer tok-abc", conn.Headers()["Authorization"])

	assert.Equal(t, []string{
		topics.Messages(),
		topics.Typing(),
		topics.Presence(),
		topics.Notifications(),
		topics.MessageStatus(),
		topics.MessageSync(),
		topics.Errors(),
		topics.UnreadCount(),
		topics.MessageFailures(),
	}, conn.Subscriptions())

	published := conn.Published()
	require.Len(t, published, 2)
	assert.Equal(t, dests.Join(), published[0].Destination)
	assert.JSONEq(t, fmt.Sprintf(`{"userId":7,"sessionId":%q}`, conn.SessionID()), string(published[0].Body))
	assert.Equal(t, dests.Sync(), published[1].Destination)
	assert.JSONEq(t, `{"userId":7,"lastSyncTime":null}`, string(published[1].Body))

	info := s.Info()
	assert.Equal(t, conn.SessionID(), info.SessionID)
	assert.Equal(t, 9, info.Subscriptions)
	assert.Equal(t, 0, info.ReconnectAttempts)
	assert.Equal(t, []events.Kind{events.KindConnected}, log.kinds())
}

func TestSession_ConnectIsIdempotent(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, log := newTestSession(t, d, testConfig(), nil)

	require.NoError(t, s.Connect())
	require.NoError(t, s.Connect())
	waitConnected(t, s)
	require.NoError(t, s.Connect())
	settle(s)

	assert.Equal(t, 1, d.Dials())
	assert.Len(t, log.ofKind(events.KindConnected), 1)
}

func TestSession_SyncUsesCheckpoint(t *testing.T) {
	d := transport.NewMemoryDialer()
	cp := fixedCheckpoints{at: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s, _ := newTestSession(t, d, testConfig(), cp)

	require.NoError(t, s.Connect())
	waitConnected(t, s)

	syncs := d.Last().PublishedTo(dests.Sync())
	require.Len(t, syncs, 1)
	assert.JSONEq(t, `{"userId":7,"lastSyncTime":"2026-03-01T10:00:00"}`, string(syncs[0].Body))
}

func TestSession_InboundFramesBecomeEvents(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, log := newTestSession(t, d, testConfig(), nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)
	conn := d.Last()

	frames := []struct {
		topic string
		body  string
	}{
		{topics.Messages(), `{"id":101,"clientMessageId":"c-1","content":"hi","senderId":9,"meetupId":3,"status":"DELIVERED"}`},
		{topics.Messages(), `{not json`},
		{topics.Typing(), `{"userId":9,"username":"mina","isTyping":true}`},
		{topics.Presence(), `{"meetupId":3,"onlineUsers":[{"id":9,"username":"mina"}],"count":1}`},
		{topics.Notifications(), `{"type":"NEW_MESSAGE","messageId":101,"meetupId":3}`},
		{topics.MessageStatus(), `{"messageId":101,"status":"READ"}`},
		{topics.MessageSync(), `{"meetupId":3,"messages":[{"id":99,"content":"earlier","senderId":9}],"messageCount":1}`},
		{topics.Errors(), `{"errorCode":"RATE_LIMITED","message":"slow down"}`},
		{topics.UnreadCount(), `{"meetupId":3,"unreadCount":4}`},
		{topics.MessageFailures(), `{"clientMessageId":"c-9","message":"gave up"}`},
	}
	for _, f := range frames {
		require.Equal(t, 1, conn.Deliver(f.topic, []byte(f.body)), f.topic)
	}
	settle(s)

	got := log.all()[1:]
	require.Len(t, got, 9, "the malformed frame is dropped")

	msg := got[0].(events.MessageReceived).Message
	assert.Equal(t, chat.ID("101"), msg.ID)
	assert.Equal(t, "c-1", msg.ClientMessageID)
	assert.Equal(t, chat.StatusDelivered, msg.Status)

	assert.Equal(t, events.TypingStatusReceived{UserID: 9, Username: "mina", IsTyping: true}, got[1])
	assert.Equal(t, []chat.User{{ID: 9, Username: "mina"}}, got[2].(events.OnlineUsersUpdated).Users)
	assert.Equal(t, "NEW_MESSAGE", got[3].(events.NotificationReceived).Notification.Type)
	assert.Equal(t, events.MessageStatusUpdated{MessageID: "101", Status: chat.StatusRead}, got[4])

	batch := got[5].(events.MessagesSynced).Batch
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, "earlier", batch.Messages[0].Content)

	assert.Equal(t, "RATE_LIMITED", got[6].(events.ErrorReceived).Error.ErrorCode)
	assert.Equal(t, int64(4), got[7].(events.UnreadCountUpdated).Count.UnreadCount)
	assert.Equal(t, "gave up", got[8].(events.MessageFailed).Notice.Reason)
}

func TestSession_OfflineSendQueuesUntilConnected(t *testing.T) {
	d := transport.NewMemoryDialer()
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	s, log := newTestSession(t, d, cfg, nil)

	id, err := s.Send("hello")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	info := s.Info()
	assert.Equal(t, 1, info.QueuedMessages)
	assert.Equal(t, StateDisconnected, info.State)
	assert.Equal(t, 0, d.Dials())

	settle(s)
	reconnecting := log.ofKind(events.KindReconnecting)
	require.Len(t, reconnecting, 1, "offline send schedules a reconnect")
	assert.Equal(t, 1, reconnecting[0].(events.Reconnecting).Attempt)

	require.NoError(t, s.Connect())
	waitConnected(t, s)

	conn := d.Last()
	published := conn.Published()
	require.NotEmpty(t, published)
	assert.Equal(t, dests.Message(), published[0].Destination, "queue flushes before the join")

	var env chat.MessageEnvelope
	require.NoError(t, json.Unmarshal(published[0].Body, &env))
	assert.Equal(t, id, env.ClientMessageID)
	assert.Equal(t, "hello", env.Content)
	assert.Equal(t, testUser, env.SenderID)
	assert.Equal(t, testMeetup, env.MeetupID)

	assert.Equal(t, 0, s.Info().QueuedMessages)
	assert.Equal(t, 1, d.Dials(), "explicit connect cancelled the pending reconnect")
}

func TestSession_SendWhileConnectedPublishesImmediately(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, _ := newTestSession(t, d, testConfig(), nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)

	require.NoError(t, s.SendWithID("again", "fixed-id"))

	sent := d.Last().PublishedTo(dests.Message())
	require.Len(t, sent, 1)
	var env chat.MessageEnvelope
	require.NoError(t, json.Unmarshal(sent[0].Body, &env))
	assert.Equal(t, "fixed-id", env.ClientMessageID)
	assert.False(t, env.Timestamp.IsZero())
}

func TestSession_PublishFailureQueuesAndEmits(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, log := newTestSession(t, d, testConfig(), nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)

	first := d.Last()
	broken := errors.New("broken pipe")
	first.FailPublishes(broken)

	id, err := s.Send("will retry")
	require.NoError(t, err)
	settle(s)

	failed := log.ofKind(events.KindMessageSendFailed)
	require.Len(t, failed, 1)
	sf := failed[0].(events.MessageSendFailed)
	assert.Equal(t, id, sf.ClientMessageID)
	assert.ErrorIs(t, sf.Err, broken)
	assert.False(t, sf.Evicted)
	assert.Equal(t, 1, s.Info().QueuedMessages)

	first.Drop(errors.New("reset by peer"))
	require.Eventually(t, func() bool {
		c := d.Last()
		return c != first && len(c.PublishedTo(dests.Message())) == 1
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, 0, s.Info().QueuedMessages)
}

func TestSession_QueueEvictsOldest(t *testing.T) {
	d := transport.NewMemoryDialer()
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	s, log := newTestSession(t, d, cfg, nil)

	var ids []string
	for i := 0; i < 51; i++ {
		id, err := s.Send(fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	settle(s)

	assert.Equal(t, 50, s.Info().QueuedMessages)

	failed := log.ofKind(events.KindMessageSendFailed)
	require.Len(t, failed, 1)
	sf := failed[0].(events.MessageSendFailed)
	assert.Equal(t, ids[0], sf.ClientMessageID)
	assert.True(t, sf.Evicted)
	assert.ErrorIs(t, sf.Err, ErrQueueOverflow)
}

func TestSession_ExpiredQueueItemsAreDroppedOnFlush(t *testing.T) {
	d := transport.NewMemoryDialer()
	cfg := testConfig()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	cfg.QueueMaxAge = 5 * time.Minute
	s, log := newTestSession(t, d, cfg, nil)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, s.do(func() { s.now = clock.Now }))

	stale, err := s.Send("stale")
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	fresh, err := s.Send("fresh")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	require.NoError(t, s.Connect())
	waitConnected(t, s)
	settle(s)

	sent := d.Last().PublishedTo(dests.Message())
	require.Len(t, sent, 1)
	var env chat.MessageEnvelope
	require.NoError(t, json.Unmarshal(sent[0].Body, &env))
	assert.Equal(t, fresh, env.ClientMessageID)

	failed := log.ofKind(events.KindMessageSendFailed)
	require.Len(t, failed, 1)
	sf := failed[0].(events.MessageSendFailed)
	assert.Equal(t, stale, sf.ClientMessageID)
	assert.ErrorIs(t, sf.Err, ErrQueueExpired)
	assert.True(t, sf.Evicted)
}

func TestSession_ReconnectBackoffGivesUpOnce(t *testing.T) {
	d := transport.NewMemoryDialer()
	d.FailAlways(errors.New("connection refused"))
	s, log := newTestSession(t, d, testConfig(), nil)

	require.NoError(t, s.Connect())
	require.Eventually(t, func() bool {
		return s.Info().ReconnectFailed
	}, 2*time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	settle(s)

	assert.Equal(t, 6, d.Dials(), "initial dial plus five reconnects")
	assert.Len(t, log.ofKind(events.KindReconnectFailed), 1)
	assert.Len(t, log.ofKind(events.KindError), 6)

	var attempts []int
	var delays []time.Duration
	for _, ev := range log.ofKind(events.KindReconnecting) {
		r := ev.(events.Reconnecting)
		attempts = append(attempts, r.Attempt)
		delays = append(delays, r.Delay)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond,
	}, delays)

	// Offline sends while exhausted queue without restarting the cycle.
	_, err := s.Send("still offline")
	require.NoError(t, err)
	settle(s)
	assert.Equal(t, 6, d.Dials())
	assert.Len(t, log.ofKind(events.KindReconnectFailed), 1)

	d.FailAlways(nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)

	info := s.Info()
	assert.False(t, info.ReconnectFailed)
	assert.Equal(t, 0, info.ReconnectAttempts)
	assert.Equal(t, 0, info.QueuedMessages)
	assert.Len(t, d.Last().PublishedTo(dests.Message()), 1)
}

func TestSession_DropTriggersReconnect(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, log := newTestSession(t, d, testConfig(), nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)

	first := d.Last()
	first.Drop(errors.New("network unreachable"))

	require.Eventually(t, func() bool {
		return d.Dials() == 2 && s.Info().State == StateConnected
	}, 2*time.Second, time.Millisecond)
	settle(s)

	assert.Equal(t, []events.Kind{
		events.KindConnected,
		events.KindError,
		events.KindDisconnected,
		events.KindReconnecting,
		events.KindConnected,
	}, log.kinds())

	// Frames on the dead connection are ignored.
	assert.Equal(t, 0, first.Deliver(topics.Messages(), []byte(`{"id":1}`)))
	assert.Len(t, d.Last().Subscriptions(), 9)
}

func TestSession_DisconnectCancelsPendingReconnect(t *testing.T) {
	d := transport.NewMemoryDialer()
	cfg := testConfig()
	cfg.InitialDelay = 20 * time.Millisecond
	cfg.MaxDelay = 20 * time.Millisecond
	s, log := newTestSession(t, d, cfg, nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)

	d.Last().Drop(errors.New("timeout"))
	require.NoError(t, s.Disconnect())

	time.Sleep(60 * time.Millisecond)
	settle(s)

	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, StateDisconnected, s.Info().State)
	assert.Equal(t, []events.Kind{
		events.KindConnected,
		events.KindError,
		events.KindDisconnected,
		events.KindReconnecting,
		events.KindDisconnected,
	}, log.kinds())
}

func TestSession_DisconnectIsGraceful(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, log := newTestSession(t, d, testConfig(), nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)
	conn := d.Last()

	require.NoError(t, s.Disconnect())
	time.Sleep(10 * time.Millisecond)
	settle(s)

	leaves := conn.PublishedTo(dests.Leave())
	require.Len(t, leaves, 1)
	assert.JSONEq(t, fmt.Sprintf(`{"userId":7,"sessionId":%q}`, conn.SessionID()), string(leaves[0].Body))
	assert.True(t, conn.Closed())
	assert.Empty(t, conn.Subscriptions())

	info := s.Info()
	assert.Equal(t, StateDisconnected, info.State)
	assert.Equal(t, 0, info.Subscriptions)
	assert.Equal(t, 1, d.Dials(), "no automatic reconnect after Disconnect")
	assert.Equal(t, []events.Kind{events.KindConnected, events.KindDisconnected}, log.kinds())

	require.NoError(t, s.Disconnect())
	settle(s)
	assert.Len(t, log.ofKind(events.KindDisconnected), 1, "disconnecting twice emits once")
}

func TestSession_BestEffortPublishes(t *testing.T) {
	d := transport.NewMemoryDialer()
	s, _ := newTestSession(t, d, testConfig(), nil)

	// Dropped while disconnected and never trigger a dial.
	s.SendTypingIndicator(true)
	s.MarkMessageAsRead(chat.IDFromInt(42))
	s.RetryMessage("c-1")
	s.RequestMessageSync(time.Time{})
	settle(s)
	assert.Equal(t, 0, d.Dials())

	require.NoError(t, s.Connect())
	waitConnected(t, s)
	conn := d.Last()

	s.SendTypingIndicator(true)
	s.MarkMessageAsRead(chat.IDFromInt(42))
	s.UpdateMessageStatus(chat.ID("c-2"), chat.StatusDelivered)
	s.RetryMessage("c-1")
	s.CancelRetry("c-1")
	s.RequestMessageSync(time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC))

	typing := conn.PublishedTo(dests.Typing())
	require.Len(t, typing, 1)
	assert.JSONEq(t, `{"userId":7,"meetupId":3,"isTyping":true}`, string(typing[0].Body))

	status := conn.PublishedTo(dests.Status())
	require.Len(t, status, 2)
	assert.JSONEq(t, `{"messageId":42,"userId":7,"status":"READ"}`, string(status[0].Body))
	assert.JSONEq(t, `{"messageId":"c-2","userId":7,"status":"DELIVERED"}`, string(status[1].Body))

	retry := conn.PublishedTo(dests.Retry())
	require.Len(t, retry, 1)
	assert.JSONEq(t, `{"clientMessageId":"c-1","senderId":7}`, string(retry[0].Body))

	cancel := conn.PublishedTo(dests.CancelRetry())
	require.Len(t, cancel, 1)
	assert.JSONEq(t, `{"clientMessageId":"c-1","senderId":7}`, string(cancel[0].Body))

	syncs := conn.PublishedTo(dests.Sync())
	require.Len(t, syncs, 2)
	assert.JSONEq(t, `{"userId":7,"lastSyncTime":"2026-03-01T09:30:15"}`, string(syncs[1].Body))
}

func TestSession_Heartbeat(t *testing.T) {
	d := transport.NewMemoryDialer()
	cfg := testConfig()
	cfg.HeartbeatInterval = 5 * time.Millisecond
	s, _ := newTestSession(t, d, cfg, nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)
	conn := d.Last()

	require.Eventually(t, func() bool {
		return len(conn.PublishedTo(dests.Heartbeat())) >= 2
	}, 2*time.Second, time.Millisecond)

	var hb chat.HeartbeatEnvelope
	require.NoError(t, json.Unmarshal(conn.PublishedTo(dests.Heartbeat())[0].Body, &hb))
	assert.Equal(t, conn.SessionID(), hb.SessionID)
	assert.NotZero(t, hb.Timestamp)

	require.NoError(t, s.Disconnect())
	settle(s)
	count := len(conn.PublishedTo(dests.Heartbeat()))
	time.Sleep(20 * time.Millisecond)
	settle(s)
	assert.Equal(t, count, len(conn.PublishedTo(dests.Heartbeat())), "heartbeat stops on disconnect")
}

func TestSession_Close(t *testing.T) {
	d := transport.NewMemoryDialer()
	s := New(testConfig(), d, nil, nil)
	require.NoError(t, s.Connect())
	waitConnected(t, s)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.True(t, d.Last().Closed())

	_, err := s.Send("too late")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Connect(), ErrClosed)
}
