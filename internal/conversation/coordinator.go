// ABOUTME: Coordinator reconciling the optimistic local timeline with server-confirmed events
// ABOUTME: Owns the ordered message list, typing set, typing debouncer and read receipts for one meetup

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hobbylink/meetup-chat/internal/chat"
	"github.com/hobbylink/meetup-chat/internal/dedupe"
	"github.com/hobbylink/meetup-chat/internal/events"
)

var (
	// ErrEmptyMessage is returned when Send is given only whitespace.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrUnknownMessage is returned for a client message ID not in the timeline.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrNotRetryable is returned when retrying a message that was delivered.
	ErrNotRetryable = errors.New("message is not retryable")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// Defaults applied to zero Options fields.
const (
	DefaultTypingIdle      = 2 * time.Second
	DefaultReceiptTTL      = time.Hour
	DefaultReceiptCapacity = 10000
)

const checkpointTimeout = 5 * time.Second

// Session is the connection the coordinator drives. *session.Session
// satisfies it.
type Session interface {
	Events() *events.Bus
	MeetupID() int64
	UserID() int64
	Connect() error
	Disconnect() error
	Connected() bool
	Send(content string) (string, error)
	SendWithID(content, clientMessageID string) error
	SendTypingIndicator(isTyping bool)
	MarkMessageAsRead(messageID chat.ID)
	RetryMessage(clientMessageID string)
	CancelRetry(clientMessageID string)
}

// History loads the conversation snapshot at start. *client.Client
// satisfies it.
type History interface {
	Messages(ctx context.Context, meetupID int64) ([]chat.Message, error)
	OnlineUsers(ctx context.Context, meetupID int64) ([]chat.User, error)
}

// CheckpointWriter records the end of the last applied sync batch.
type CheckpointWriter interface {
	SaveLastSync(ctx context.Context, meetupID, userID int64, at time.Time) error
}

// Options configures a Coordinator. History and Checkpoints may be nil.
type Options struct {
	History         History
	Checkpoints     CheckpointWriter
	TypingIdle      time.Duration
	ReceiptTTL      time.Duration
	ReceiptCapacity int
}

// Status is the connection status as a chat UI presents it.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusFailed       Status = "failed"
)

// TypingUser is a participant currently typing.
type TypingUser struct {
	UserID   int64
	Username string
}

type registration struct {
	kind events.Kind
	id   string
}

// Coordinator keeps one meetup conversation's local view consistent with the
// server. State is guarded by mu; it is touched by the event bus goroutine
// and by UI callers.
type Coordinator struct {
	session     Session
	history     History
	checkpoints CheckpointWriter
	receipts    *dedupe.Cache
	changes     *Broadcaster
	typingIdle  time.Duration
	meetupID    int64
	userID      int64
	logger      *slog.Logger

	mu            sync.Mutex
	started       bool
	registrations []registration
	messages      []chat.Message
	byClientID    map[string]int
	byServerID    map[chat.ID]int
	typing        []TypingUser
	online        []chat.User
	status        Status
	unread        int64
	lastError     *chat.ServerError
	pendingReads  []chat.ID

	localTyping bool
	typingTimer *time.Timer
	typingGen   uint64
}

// New creates a coordinator for sess. Pass nil logger for default.
func New(sess Session, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.ReceiptTTL <= 0 {
		opts.ReceiptTTL = DefaultReceiptTTL
	}
	if opts.ReceiptCapacity <= 0 {
		opts.ReceiptCapacity = DefaultReceiptCapacity
	}

	return &Coordinator{
		session:     sess,
		history:     opts.History,
		checkpoints: opts.Checkpoints,
		receipts:    dedupe.New(opts.ReceiptTTL, opts.ReceiptCapacity),
		changes:     NewBroadcaster(logger),
		typingIdle:  opts.TypingIdle,
		meetupID:    sess.MeetupID(),
		userID:      sess.UserID(),
		logger:      logger.With("component", "conversation", "meetup_id", sess.MeetupID()),
		byClientID:  make(map[string]int),
		byServerID:  make(map[chat.ID]int),
		status:      StatusDisconnected,
	}
}

// Changes subscribes to state changes until ctx is cancelled.
func (c *Coordinator) Changes(ctx context.Context) <-chan Change {
	ch, _ := c.changes.Subscribe(ctx)
	return ch
}

// Start registers for session events, loads history and presence, and
// connects the session. History failures are logged and the conversation
// starts empty.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.status = StatusConnecting
	c.mu.Unlock()

	bus := c.session.Events()
	regs := make([]registration, 0, len(events.Kinds()))
	for _, kind := range events.Kinds() {
		regs = append(regs, registration{kind: kind, id: bus.On(kind, c.handle)})
	}

	c.mu.Lock()
	c.registrations = regs
	c.mu.Unlock()

	if c.history != nil {
		c.loadHistory(ctx)
	}

	if err := c.session.Connect(); err != nil {
		return fmt.Errorf("connecting session: %w", err)
	}
	c.sendPendingReceipts()

	c.logger.Info("conversation started", "messages", len(c.Messages()))
	return nil
}

// Stop unregisters from the session, cancels the typing timer and
// disconnects. Change subscribers are closed.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	regs := c.registrations
	c.registrations = nil
	c.started = false
	c.cancelTypingLocked()
	c.mu.Unlock()

	bus := c.session.Events()
	for _, r := range regs {
		bus.Off(r.kind, r.id)
	}

	err := c.session.Disconnect()
	c.receipts.Close()
	c.changes.Close()
	if err != nil {
		return fmt.Errorf("disconnecting session: %w", err)
	}
	return nil
}

func (c *Coordinator) loadHistory(ctx context.Context) {
	msgs, err := c.history.Messages(ctx, c.meetupID)
	if err != nil {
		c.logger.Warn("loading history failed", "error", err)
	} else {
		c.mu.Lock()
		for _, m := range msgs {
			c.reconcileLocked(m)
			c.queueReadLocked(m)
		}
		loaded := append([]chat.Message(nil), c.messages...)
		c.mu.Unlock()
		c.publish(Change{Kind: ChangeHistoryLoaded, Messages: loaded})
		c.logger.Debug("history loaded", "count", len(msgs))
	}

	users, err := c.history.OnlineUsers(ctx, c.meetupID)
	if err != nil {
		c.logger.Warn("loading online users failed", "error", err)
		return
	}
	c.mu.Lock()
	c.online = users
	c.mu.Unlock()
	c.publish(Change{Kind: ChangePresence})
}

// Send trims content, sends it through the session and appends the
// provisional SENDING entry under the returned client message ID. It also
// ends the local typing burst.
func (c *Coordinator) Send(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}

	id, err := c.session.Send(content)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}

	c.mu.Lock()
	change, ok := c.insertLocalLocked(chat.Message{
		ClientMessageID: id,
		Content:         content,
		SenderID:        c.userID,
		MeetupID:        c.meetupID,
		Timestamp:       chat.NewTimestamp(time.Now()),
		Status:          chat.StatusSending,
	})
	c.cancelTypingLocked()
	c.mu.Unlock()

	if ok {
		c.publish(change)
	}
	c.session.SendTypingIndicator(false)
	return id, nil
}

// Retry re-sends a FAILED message under its original client message ID, or
// asks the server to retry one still SENDING.
func (c *Coordinator) Retry(clientMessageID string) error {
	c.mu.Lock()
	idx, ok := c.byClientID[clientMessageID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	m := &c.messages[idx]
	status := m.Status
	content := m.Content
	if status == chat.StatusFailed {
		m.Status = chat.StatusSending
	}
	snapshot := *m
	c.mu.Unlock()

	switch status {
	case chat.StatusFailed:
		c.publish(Change{Kind: ChangeMessageUpdated, Message: snapshot})
		if err := c.session.SendWithID(content, clientMessageID); err != nil {
			return fmt.Errorf("re-sending message: %w", err)
		}
		// Also revives a session that gave up reconnecting.
		if !c.session.Connected() {
			if err := c.session.Connect(); err != nil {
				return fmt.Errorf("connecting session: %w", err)
			}
		}
		return nil
	case chat.StatusSending:
		c.session.RetryMessage(clientMessageID)
		return nil
	default:
		return ErrNotRetryable
	}
}

// Discard removes a message that never reached the server and tells the
// server to stop retrying it.
func (c *Coordinator) Discard(clientMessageID string) error {
	c.mu.Lock()
	idx, ok := c.byClientID[clientMessageID]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	m := c.messages[idx]
	if m.Status != chat.StatusFailed && m.Status != chat.StatusSending {
		c.mu.Unlock()
		return ErrNotRetryable
	}
	c.messages = append(c.messages[:idx:idx], c.messages[idx+1:]...)
	c.reindexLocked()
	c.mu.Unlock()

	c.session.CancelRetry(clientMessageID)
	c.publish(Change{Kind: ChangeMessageRemoved, Message: m})
	return nil
}

// Keystroke records local typing. The first keystroke of a burst sends a
// typing start; the burst ends, with a typing stop, after TypingIdle without
// another keystroke.
func (c *Coordinator) Keystroke() {
	c.mu.Lock()
	start := !c.localTyping
	c.localTyping = true
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingGen++
	gen := c.typingGen
	c.typingTimer = time.AfterFunc(c.typingIdle, func() { c.typingExpired(gen) })
	c.mu.Unlock()

	if start {
		c.session.SendTypingIndicator(true)
	}
}

func (c *Coordinator) typingExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.typingGen || !c.localTyping {
		c.mu.Unlock()
		return
	}
	c.localTyping = false
	c.typingTimer = nil
	c.mu.Unlock()

	c.session.SendTypingIndicator(false)
}

func (c *Coordinator) cancelTypingLocked() {
	c.localTyping = false
	c.typingGen++
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

// handle applies one session event. It runs on the bus goroutine.
func (c *Coordinator) handle(ev events.Event) error {
	var out []Change

	c.mu.Lock()
	switch e := ev.(type) {
	case events.Connected:
		c.status = StatusConnected
		out = append(out, Change{Kind: ChangeStatus, Status: c.status})
	case events.Disconnected:
		if c.status != StatusFailed {
			c.status = StatusDisconnected
			out = append(out, Change{Kind: ChangeStatus, Status: c.status})
		}
	case events.Error:
		c.status = StatusError
		out = append(out, Change{Kind: ChangeStatus, Status: c.status})
	case events.Reconnecting:
		c.status = StatusConnecting
		out = append(out, Change{Kind: ChangeStatus, Status: c.status})
	case events.ReconnectFailed:
		c.status = StatusFailed
		out = append(out, Change{Kind: ChangeStatus, Status: c.status})
	case events.MessageReceived:
		if ch, ok := c.reconcileLocked(e.Message); ok {
			out = append(out, ch)
		}
	case events.MessagesSynced:
		for _, m := range e.Batch.Messages {
			if ch, ok := c.reconcileLocked(m); ok {
				out = append(out, ch)
			}
			c.queueReadLocked(m)
		}
	case events.MessageStatusUpdated:
		if ch, ok := c.applyStatusLocked(e); ok {
			out = append(out, ch)
		}
	case events.TypingStatusReceived:
		if c.applyTypingLocked(e) {
			out = append(out, Change{Kind: ChangeTyping})
		}
	case events.OnlineUsersUpdated:
		c.online = e.Users
		out = append(out, Change{Kind: ChangePresence})
	case events.NotificationReceived:
		n := e.Notification
		out = append(out, Change{Kind: ChangeNotification, Notification: &n})
	case events.UnreadCountUpdated:
		if e.Count.MeetupID == 0 || e.Count.MeetupID == c.meetupID {
			c.unread = e.Count.UnreadCount
			out = append(out, Change{Kind: ChangeUnread, Unread: c.unread})
		}
	case events.ErrorReceived:
		se := e.Error
		c.lastError = &se
		out = append(out, Change{Kind: ChangeServerError, ServerError: &se})
	case events.MessageSendFailed:
		if e.Evicted {
			if ch, ok := c.markFailedLocked(e.ClientMessageID); ok {
				out = append(out, ch)
			}
		}
	case events.MessageFailed:
		if ch, ok := c.markFailedLocked(e.Notice.ClientMessageID); ok {
			out = append(out, ch)
		}
	}
	c.mu.Unlock()

	c.publish(out...)

	switch e := ev.(type) {
	case events.Connected:
		c.sendPendingReceipts()
	case events.MessagesSynced:
		c.saveCheckpoint(e.Batch)
		c.sendPendingReceipts()
	case events.ErrorReceived:
		c.logger.Warn("server reported error", "error_code", e.Error.ErrorCode, "message", e.Error.Message)
	}
	return nil
}

// reconcileLocked merges m into the timeline. A message carrying a known
// client ID updates that entry; a known server ID is a no-op; anything else
// is appended.
func (c *Coordinator) reconcileLocked(m chat.Message) (Change, bool) {
	if m.ClientMessageID != "" {
		if idx, ok := c.byClientID[m.ClientMessageID]; ok {
			existing := &c.messages[idx]
			if !m.ID.IsZero() {
				existing.ID = m.ID
				c.byServerID[m.ID] = idx
			}
			next := m.Status
			if next == "" {
				next = chat.StatusDelivered
			}
			existing.Status = promote(existing.Status, next)
			if existing.SentAt.IsZero() {
				existing.SentAt = m.SentAt
			}
			if existing.SenderName == "" {
				existing.SenderName = m.DisplayName()
			}
			return Change{Kind: ChangeMessageUpdated, Message: *existing}, true
		}
	}

	if !m.ID.IsZero() {
		if _, ok := c.byServerID[m.ID]; ok {
			return Change{}, false
		}
	}

	if m.Status == "" {
		m.Status = chat.StatusDelivered
	}
	c.appendLocked(m)
	return Change{Kind: ChangeMessageAdded, Message: m}, true
}

// insertLocalLocked adds a locally sent message unless its echo got there
// first, in which case the echoed entry is kept.
func (c *Coordinator) insertLocalLocked(m chat.Message) (Change, bool) {
	if idx, ok := c.byClientID[m.ClientMessageID]; ok {
		existing := &c.messages[idx]
		if existing.Content == "" {
			existing.Content = m.Content
		}
		return Change{}, false
	}
	c.appendLocked(m)
	return Change{Kind: ChangeMessageAdded, Message: m}, true
}

func (c *Coordinator) appendLocked(m chat.Message) {
	idx := len(c.messages)
	c.messages = append(c.messages, m)
	if m.ClientMessageID != "" {
		c.byClientID[m.ClientMessageID] = idx
	}
	if !m.ID.IsZero() {
		c.byServerID[m.ID] = idx
	}
}

func (c *Coordinator) reindexLocked() {
	clear(c.byClientID)
	clear(c.byServerID)
	for i, m := range c.messages {
		if m.ClientMessageID != "" {
			c.byClientID[m.ClientMessageID] = i
		}
		if !m.ID.IsZero() {
			c.byServerID[m.ID] = i
		}
	}
}

// lookupLocked finds a message by server ID or client ID.
func (c *Coordinator) lookupLocked(id chat.ID, clientMessageID string) (int, bool) {
	if !id.IsZero() {
		if idx, ok := c.byServerID[id]; ok {
			return idx, true
		}
		if idx, ok := c.byClientID[id.String()]; ok {
			return idx, true
		}
	}
	if clientMessageID != "" {
		idx, ok := c.byClientID[clientMessageID]
		return idx, ok
	}
	return 0, false
}

func (c *Coordinator) applyStatusLocked(e events.MessageStatusUpdated) (Change, bool) {
	if !e.Status.Valid() {
		c.logger.Debug("ignoring invalid status", "status", string(e.Status))
		return Change{}, false
	}
	idx, ok := c.lookupLocked(e.MessageID, e.ClientMessageID)
	if !ok {
		c.logger.Debug("status update for unknown message",
			"message_id", e.MessageID.String(),
			"client_message_id", e.ClientMessageID)
		return Change{}, false
	}
	c.messages[idx].Status = e.Status
	return Change{Kind: ChangeMessageUpdated, Message: c.messages[idx]}, true
}

func (c *Coordinator) markFailedLocked(clientMessageID string) (Change, bool) {
	idx, ok := c.byClientID[clientMessageID]
	if !ok {
		return Change{}, false
	}
	m := &c.messages[idx]
	if m.Status != chat.StatusSending {
		return Change{}, false
	}
	m.Status = chat.StatusFailed
	c.logger.Warn("message failed", "client_message_id", clientMessageID)
	return Change{Kind: ChangeMessageUpdated, Message: *m}, true
}

func (c *Coordinator) applyTypingLocked(e events.TypingStatusReceived) bool {
	if e.UserID == c.userID {
		return false
	}

	for i, u := range c.typing {
		if u.UserID != e.UserID {
			continue
		}
		if e.IsTyping {
			return false
		}
		c.typing = append(c.typing[:i:i], c.typing[i+1:]...)
		return true
	}

	if !e.IsTyping {
		return false
	}
	c.typing = append(c.typing, TypingUser{UserID: e.UserID, Username: e.Username})
	return true
}

// queueReadLocked remembers m for a read receipt if another participant
// wrote it and it is not yet READ.
func (c *Coordinator) queueReadLocked(m chat.Message) {
	if m.ID.IsZero() || m.AuthorID() == c.userID || m.Status == chat.StatusRead {
		return
	}
	c.pendingReads = append(c.pendingReads, m.ID)
}

// sendPendingReceipts publishes queued read receipts while connected. Each
// message is acknowledged at most once per receipt TTL.
func (c *Coordinator) sendPendingReceipts() {
	if !c.session.Connected() {
		return
	}

	c.mu.Lock()
	ids := c.pendingReads
	c.pendingReads = nil
	c.mu.Unlock()

	for _, id := range ids {
		if c.receipts.Remember(dedupe.ReceiptKey(id)) {
			c.session.MarkMessageAsRead(id)
		}
	}
}

func (c *Coordinator) saveCheckpoint(batch chat.SyncBatch) {
	if c.checkpoints == nil {
		return
	}
	at := batch.SyncEndTime.Time
	if at.IsZero() {
		at = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	if err := c.checkpoints.SaveLastSync(ctx, c.meetupID, c.userID, at); err != nil {
		c.logger.Warn("saving sync checkpoint", "error", err)
	}
}

func (c *Coordinator) publish(changes ...Change) {
	for _, ch := range changes {
		c.changes.Publish(ch)
	}
}

// promote keeps READ once reached.
func promote(current, next chat.DeliveryStatus) chat.DeliveryStatus {
	if current == chat.StatusRead {
		return current
	}
	return next
}

// Messages returns the timeline in append order.
func (c *Coordinator) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Message(nil), c.messages...)
}

// Message returns the entry for a client message ID.
func (c *Coordinator) Message(clientMessageID string) (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byClientID[clientMessageID]
	if !ok {
		return chat.Message{}, false
	}
	return c.messages[idx], true
}

// TypingUsers returns the participants currently typing, in the order they
// started.
func (c *Coordinator) TypingUsers() []TypingUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TypingUser(nil), c.typing...)
}

// OnlineUsers returns the last presence list.
func (c *Coordinator) OnlineUsers() []chat.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.User(nil), c.online...)
}

// Status returns the connection status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// UnreadCount returns the last unread count pushed by the server.
func (c *Coordinator) UnreadCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// LastError returns the last server-reported error, or nil.
func (c *Coordinator) LastError() *chat.ServerError {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastError == nil {
		return nil
	}
	e := *c.lastError
	return &e
}
