// ABOUTME: Session manager keeping one meetup conversation connected over a reconnecting transport
// ABOUTME: A single loop goroutine owns all state; public methods and callbacks are posted to it

package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hobbylink/meetup-chat/internal/chat"
	"github.com/hobbylink/meetup-chat/internal/events"
	"github.com/hobbylink/meetup-chat/internal/transport"
)

var (
	// ErrClosed is returned by methods called after Close.
	ErrClosed = errors.New("session closed")

	// ErrQueueOverflow is reported when the outbound queue evicts a message
	// to make room for a newer one.
	ErrQueueOverflow = errors.New("outbound queue full")

	// ErrQueueExpired is reported when a queued message outlives the queue's
	// max age before a connection comes back.
	ErrQueueExpired = errors.New("queued message expired")
)

// Defaults applied to zero Config fields.
const (
	DefaultInitialDelay      = time.Second
	DefaultMaxDelay          = 30 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueCapacity     = 50
	DefaultQueueMaxAge       = 5 * time.Minute
)

// opsBuffer bounds callbacks waiting for the loop.
const opsBuffer = 256

// Config binds a session to one meetup and user.
type Config struct {
	MeetupID int64
	UserID   int64
	// Token is sent as a bearer Authorization header in the handshake.
	Token string

	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	QueueCapacity     int
	QueueMaxAge       time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.QueueMaxAge <= 0 {
		c.QueueMaxAge = DefaultQueueMaxAge
	}
	return c
}

// Checkpoints reads the last successful sync time for a conversation. A zero
// time means no sync has happened yet.
type Checkpoints interface {
	LastSync(ctx context.Context, meetupID, userID int64) (time.Time, error)
}

// State is the connection state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	State             State
	SessionID         string
	ReconnectAttempts int
	ReconnectFailed   bool
	QueuedMessages    int
	Subscriptions     int
}

// attempt tracks one dial. lost records a close reported before the dial
// result reached the loop.
type attempt struct {
	gen  uint64
	lost error
}

// Session maintains a resilient logical connection for one meetup/user pair.
type Session struct {
	cfg         Config
	dialer      transport.Dialer
	checkpoints Checkpoints
	bus         *events.Bus
	logger      *slog.Logger
	topics      chat.Topics
	dests       chat.Destinations
	now         func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	ops       chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state          State
	gen            uint64
	conn           transport.Conn
	sessionID      string
	dialCancel     context.CancelFunc
	policy         *reconnectPolicy
	exhausted      bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	subs           map[string]transport.Subscription
	queue          *outboundQueue
}

// New creates a disconnected session. checkpoints may be nil, in which case
// every connect requests the recent history. Pass nil logger for default.
func New(cfg Config, dialer transport.Dialer, checkpoints Checkpoints, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		cfg:         cfg,
		dialer:      dialer,
		checkpoints: checkpoints,
		bus:         events.NewBus(logger),
		logger: logger.With(
			"component", "session",
			"meetup_id", cfg.MeetupID,
			"user_id", cfg.UserID,
		),
		topics:  chat.NewTopics(cfg.MeetupID, cfg.UserID),
		dests:   chat.NewDestinations(cfg.MeetupID),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		ops:     make(chan func(), opsBuffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		policy:  newReconnectPolicy(cfg.InitialDelay, cfg.MaxDelay, cfg.MaxAttempts),
		subs:    make(map[string]transport.Subscription),
		queue:   newOutboundQueue(cfg.QueueCapacity, cfg.QueueMaxAge),
	}
	go s.run()
	return s
}

// Events returns the bus the session emits on.
func (s *Session) Events() *events.Bus {
	return s.bus
}

// MeetupID returns the bound meetup.
func (s *Session) MeetupID() int64 {
	return s.cfg.MeetupID
}

// UserID returns the bound user.
func (s *Session) UserID() int64 {
	return s.cfg.UserID
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			return
		}
	}
}

// post queues fn for the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.ops <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	if !s.post(func() {
		fn()
		close(done)
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrClosed
	}
}

// Connect opens the connection if the session is disconnected. It cancels a
// pending reconnect timer and, after reconnection gave up, restores the
// attempt budget. Completion is reported by the Connected event.
func (s *Session) Connect() error {
	return s.do(func() {
		if s.state != StateDisconnected {
			return
		}
		s.cancelReconnect()
		if s.exhausted {
			s.exhausted = false
			s.policy.reset()
		}
		s.dial()
	})
}

// Disconnect announces the leave, tears the connection down and emits
// Disconnected. No automatic reconnect follows.
func (s *Session) Disconnect() error {
	return s.do(s.disconnect)
}

// Close disconnects and stops the session and its event bus. Events already
// emitted are still delivered.
func (s *Session) Close() error {
	err := ErrClosed
	s.closeOnce.Do(func() {
		err = s.do(s.disconnect)
		close(s.quit)
		<-s.stopped
		s.cancel()
		s.bus.Close()
	})
	return err
}

// Info returns a snapshot of the connection.
func (s *Session) Info() Info {
	var info Info
	_ = s.do(func() {
		info = Info{
			State:             s.state,
			SessionID:         s.sessionID,
			ReconnectAttempts: s.policy.attempts,
			ReconnectFailed:   s.exhausted,
			QueuedMessages:    s.queue.len(),
			Subscriptions:     len(s.subs),
		}
	})
	return info
}

// Connected reports whether the session currently has a live connection.
func (s *Session) Connected() bool {
	return s.Info().State == StateConnected
}

// Send publishes content as a new chat message and returns its client
// message ID. While disconnected the message is queued and a reconnect is
// triggered.
func (s *Session) Send(content string) (string, error) {
	id := uuid.New().String()
	if err := s.SendWithID(content, id); err != nil {
		return "", err
	}
	return id, nil
}

// SendWithID is Send with a caller-chosen client message ID, used to re-send
// a message that previously failed.
func (s *Session) SendWithID(content, clientMessageID string) error {
	return s.do(func() {
		env := chat.MessageEnvelope{
			Content:         content,
			SenderID:        s.cfg.UserID,
			MeetupID:        s.cfg.MeetupID,
			ClientMessageID: clientMessageID,
			Timestamp:       chat.NewTimestamp(s.now()),
		}
		body, err := json.Marshal(env)
		if err != nil {
			s.logger.Error("encoding message", "client_message_id", clientMessageID, "error", err)
			return
		}
		s.sendOrQueue(queuedItem{
			destination:     s.dests.Message(),
			body:            body,
			clientMessageID: clientMessageID,
			enqueuedAt:      s.now(),
		})
	})
}

// SendTypingIndicator announces a typing start or stop. Dropped while
// disconnected.
func (s *Session) SendTypingIndicator(isTyping bool) {
	s.bestEffort(s.dests.Typing(), chat.TypingEnvelope{
		UserID:   s.cfg.UserID,
		MeetupID: s.cfg.MeetupID,
		IsTyping: isTyping,
	})
}

// UpdateMessageStatus asks the server to set a message's status. Dropped
// while disconnected.
func (s *Session) UpdateMessageStatus(messageID chat.ID, status chat.DeliveryStatus) {
	s.bestEffort(s.dests.Status(), chat.StatusEnvelope{
		MessageID: messageID,
		UserID:    s.cfg.UserID,
		Status:    status,
	})
}

// MarkMessageAsRead is UpdateMessageStatus with READ.
func (s *Session) MarkMessageAsRead(messageID chat.ID) {
	s.UpdateMessageStatus(messageID, chat.StatusRead)
}

// RetryMessage asks the server to retry delivering a message it holds.
func (s *Session) RetryMessage(clientMessageID string) {
	s.bestEffort(s.dests.Retry(), chat.RetryEnvelope{
		ClientMessageID: clientMessageID,
		SenderID:        s.cfg.UserID,
	})
}

// CancelRetry asks the server to stop retrying a message.
func (s *Session) CancelRetry(clientMessageID string) {
	s.bestEffort(s.dests.CancelRetry(), chat.RetryEnvelope{
		ClientMessageID: clientMessageID,
		SenderID:        s.cfg.UserID,
	})
}

// RequestMessageSync asks for messages newer than since. A zero since asks
// for the recent history.
func (s *Session) RequestMessageSync(since time.Time) {
	s.bestEffort(s.dests.Sync(), syncEnvelope(s.cfg.UserID, since))
}

func (s *Session) bestEffort(destination string, v any) {
	if err := s.do(func() { s.publish(destination, v) }); err != nil {
		s.logger.Debug("publish on closed session", "destination", destination)
	}
}

func syncEnvelope(userID int64, since time.Time) chat.SyncEnvelope {
	env := chat.SyncEnvelope{UserID: userID}
	if !since.IsZero() {
		ts := since.UTC().Format(chat.SyncTimeLayout)
		env.LastSyncTime = &ts
	}
	return env
}

// The methods below run on the loop goroutine.

func (s *Session) dial() {
	s.gen++
	att := &attempt{gen: s.gen}
	s.state = StateConnecting

	ctx, cancel := context.WithCancel(s.ctx)
	s.dialCancel = cancel

	headers := map[string]string{
		"userId":   strconv.FormatInt(s.cfg.UserID, 10),
		"meetupId": strconv.FormatInt(s.cfg.MeetupID, 10),
	}
	if s.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + s.cfg.Token
	}

	opts := transport.DialOptions{
		Headers: headers,
		OnClose: func(err error) {
			if err == nil {
				return
			}
			s.post(func() { s.onConnectionLost(att, err) })
		},
	}

	s.logger.Debug("dialing", "generation", att.gen)
	go func() {
		conn, err := s.dialer.Dial(ctx, opts)
		if !s.post(func() { s.onDialResult(att, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Session) onDialResult(att *attempt, conn transport.Conn, err error) {
	if att.gen != s.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}

	if err == nil && att.lost != nil {
		conn.Close()
		err = att.lost
	}
	if err != nil {
		s.state = StateDisconnected
		s.logger.Warn("connection attempt failed", "error", err)
		s.bus.Emit(events.Error{Err: err})
		s.scheduleReconnect()
		return
	}

	s.conn = conn
	s.sessionID = conn.SessionID()
	s.state = StateConnected
	s.exhausted = false
	s.policy.reset()

	s.logger.Info("session connected", "session_id", s.sessionID)
	s.bus.Emit(events.Connected{})

	s.subscribeAll(att.gen)
	s.flushQueue()
	s.startHeartbeat(att.gen)
	s.publish(s.dests.Join(), chat.PresenceEnvelope{UserID: s.cfg.UserID, SessionID: s.sessionID})
	s.publish(s.dests.Sync(), syncEnvelope(s.cfg.UserID, s.lastSync()))
}

func (s *Session) onConnectionLost(att *attempt, err error) {
	if att.gen != s.gen {
		return
	}
	if s.state == StateConnecting {
		att.lost = err
		return
	}

	s.logger.Warn("connection lost", "error", err)
	s.conn = nil
	s.state = StateDisconnected
	s.stopHeartbeat()
	clear(s.subs)

	s.bus.Emit(events.Error{Err: err})
	s.bus.Emit(events.Disconnected{})
	s.scheduleReconnect()
}

func (s *Session) scheduleReconnect() {
	if s.state != StateDisconnected || s.reconnectTimer != nil || s.exhausted {
		return
	}

	attempt, delay, ok := s.policy.next()
	if !ok {
		s.exhausted = true
		s.logger.Error("reconnection gave up", "attempts", attempt)
		s.bus.Emit(events.ReconnectFailed{})
		return
	}

	s.logger.Info("reconnecting", "attempt", attempt, "max_attempts", s.cfg.MaxAttempts, "delay", delay)
	s.bus.Emit(events.Reconnecting{Attempt: attempt, Delay: delay})

	gen := s.gen
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.post(func() {
			if gen != s.gen {
				return
			}
			s.reconnectTimer = nil
			if s.state == StateDisconnected {
				s.dial()
			}
		})
	})
}

func (s *Session) cancelReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) disconnect() {
	active := s.conn != nil || s.state == StateConnecting || s.reconnectTimer != nil

	if s.state == StateConnected {
		s.publish(s.dests.Leave(), chat.PresenceEnvelope{UserID: s.cfg.UserID, SessionID: s.sessionID})
	}

	// Invalidate pending dials, timers and connection callbacks.
	s.gen++
	s.cancelReconnect()
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.stopHeartbeat()

	for dest, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", "destination", dest, "error", err)
		}
	}
	clear(s.subs)

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("closing transport", "error", err)
		}
		s.conn = nil
	}
	s.state = StateDisconnected

	if active {
		s.logger.Info("session disconnected")
		s.bus.Emit(events.Disconnected{})
	}
}

func (s *Session) sendOrQueue(item queuedItem) {
	if s.state == StateConnected {
		err := s.conn.Publish(item.destination, item.body)
		if err == nil {
			return
		}
		s.logger.Warn("publish failed, queueing message",
			"client_message_id", item.clientMessageID,
			"error", err)
		s.enqueue(item)
		s.bus.Emit(events.MessageSendFailed{ClientMessageID: item.clientMessageID, Err: err})
		return
	}

	s.enqueue(item)
	s.logger.Debug("queued message while offline",
		"client_message_id", item.clientMessageID,
		"queued", s.queue.len())
	s.scheduleReconnect()
}

func (s *Session) enqueue(item queuedItem) {
	evicted, ok := s.queue.push(item)
	if !ok {
		return
	}
	s.logger.Warn("outbound queue full, dropped oldest message",
		"client_message_id", evicted.clientMessageID)
	s.bus.Emit(events.MessageSendFailed{
		ClientMessageID: evicted.clientMessageID,
		Err:             ErrQueueOverflow,
		Evicted:         true,
	})
}

func (s *Session) flushQueue() {
	for _, it := range s.queue.prune(s.now()) {
		s.logger.Warn("dropped expired queued message", "client_message_id", it.clientMessageID)
		s.bus.Emit(events.MessageSendFailed{
			ClientMessageID: it.clientMessageID,
			Err:             ErrQueueExpired,
			Evicted:         true,
		})
	}

	items := s.queue.drain()
	if len(items) == 0 {
		return
	}
	s.logger.Info("flushing queued messages", "count", len(items))

	for i, it := range items {
		if err := s.conn.Publish(it.destination, it.body); err != nil {
			s.logger.Warn("flush interrupted, requeueing",
				"client_message_id", it.clientMessageID,
				"remaining", len(items)-i,
				"error", err)
			s.queue.requeue(items[i:])
			return
		}
	}
}

// publish sends v if connected and logs otherwise.
func (s *Session) publish(destination string, v any) {
	if s.state != StateConnected {
		s.logger.Debug("not connected, dropping publish", "destination", destination)
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encoding publish", "destination", destination, "error", err)
		return
	}
	if err := s.conn.Publish(destination, body); err != nil {
		s.logger.Warn("publish failed", "destination", destination, "error", err)
	}
}

func (s *Session) startHeartbeat(gen uint64) {
	s.stopHeartbeat()
	stop := make(chan struct{})
	s.heartbeatStop = stop
	interval := s.cfg.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ok := s.post(func() {
					if gen != s.gen {
						return
					}
					s.publish(s.dests.Heartbeat(), chat.HeartbeatEnvelope{
						SessionID: s.sessionID,
						Timestamp: s.now().UnixMilli(),
					})
				})
				if !ok {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Session) stopHeartbeat() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

func (s *Session) lastSync() time.Time {
	if s.checkpoints == nil {
		return time.Time{}
	}
	since, err := s.checkpoints.LastSync(s.ctx, s.cfg.MeetupID, s.cfg.UserID)
	if err != nil {
		s.logger.Warn("reading sync checkpoint", "error", err)
		return time.Time{}
	}
	return since
}

func (s *Session) subscribeAll(gen uint64) {
	for _, r := range s.routes() {
		sub, err := s.conn.Subscribe(r.topic, func(m transport.Message) {
			body := m.Body
			s.post(func() { s.onInbound(gen, r, body) })
		})
		if err != nil {
			s.logger.Warn("subscribe failed", "destination", r.topic, "error", err)
			continue
		}
		s.subs[r.topic] = sub
	}
}

func (s *Session) onInbound(gen uint64, r route, body []byte) {
	if gen != s.gen {
		return
	}
	ev, err := r.decode(body)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", "destination", r.topic, "error", err)
		return
	}
	s.bus.Emit(ev)
}
