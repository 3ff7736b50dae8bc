package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrEmptyOrderID = errors.New("empty order id")

// HookConfig configures a Hook.
type HookConfig struct {
	// URL is the WebSocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// PollURL is the long-poll endpoint, e.g. http://localhost:8080/poll.
	// Empty disables the fallback.
	PollURL    string
	Token      string
	HTTPClient *http.Client
	Logger     zerolog.Logger

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// Callback receives one event. Callbacks run on the connection's reader
// goroutine, one at a time and in arrival order, so they must not block.
type Callback func(Message)

// ConnectionCallback is told about connects and disconnects. transport is
// empty when disconnected.
type ConnectionCallback func(connected bool, transport string)

type subscriber struct {
	id uint64
	fn Callback
}

type connSubscriber struct {
	id uint64
	fn ConnectionCallback
}

// Hook keeps exactly one connection open for the current identity and
// exposes what a UI shows: connection status, the latest notifications and
// subscriptions to named events. It reconnects with exponential backoff and
// re-joins order rooms after every reconnect.
type Hook struct {
	cfg HookConfig
	log zerolog.Logger

	// lifeMu serialises SetIdentity and Close.
	lifeMu sync.Mutex

	mu        sync.Mutex
	identity  string
	cancel    context.CancelFunc
	done      chan struct{}
	conn      conn
	transport string
	orders    map[string]struct{}
	buf       *NotificationBuffer
	subs      map[string][]subscriber
	connSubs  []connSubscriber
	nextID    uint64
	closed    bool
}

func NewHook(cfg HookConfig) *Hook {
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = reconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = reconnectMaxDelay
	}
	return &Hook{
		cfg:    cfg,
		log:    cfg.Logger,
		orders: make(map[string]struct{}),
		buf:    NewNotificationBuffer(MaxNotifications),
		subs:   make(map[string][]subscriber),
	}
}

// SetIdentity connects as userID, replacing any existing connection. An
// empty userID signs out: listeners are dropped and the connection closed.
func (h *Hook) SetIdentity(userID string) {
	userID = strings.TrimSpace(userID)

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	h.mu.Lock()
	if h.closed || (userID == h.identity && (userID == "" || h.cancel != nil)) {
		h.mu.Unlock()
		return
	}
	changed := h.identity != "" && h.identity != userID
	h.identity = userID
	h.mu.Unlock()

	h.stop()

	h.mu.Lock()
	if changed || userID == "" {
		h.buf.Clear()
	}
	h.mu.Unlock()

	if userID == "" {
		h.reset()
		return
	}
	h.start(userID)
}

// Identity returns the identity the hook connects as.
func (h *Hook) Identity() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.identity
}

// Close unsubscribes every listener and disconnects. It is safe to call
// more than once and from any exit path.
func (h *Hook) Close() {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.identity = ""
	h.mu.Unlock()

	h.stop()
	h.reset()
}

func (h *Hook) start(identity string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	h.mu.Lock()
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	go h.run(ctx, identity, done)
}

// stop cancels the connection loop and waits for it to exit.
func (h *Hook) stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	if cancel != nil {
		// Under mu so attach cannot install a connection after this.
		cancel()
	}
	h.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (h *Hook) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = make(map[string][]subscriber)
	h.connSubs = nil
	h.orders = make(map[string]struct{})
}

func (h *Hook) run(ctx context.Context, identity string, done chan struct{}) {
	defer close(done)
	log := h.log.With().Str("user_id", identity).Logger()

	delay := h.cfg.ReconnectBaseDelay
	for {
		c, err := h.dial(ctx, identity)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = min(delay*2, h.cfg.ReconnectMaxDelay)
			continue
		}
		delay = h.cfg.ReconnectBaseDelay

		if !h.attach(ctx, c) {
			c.Close()
			return
		}
		log.Info().Str("transport", c.Kind()).Msg("connected")
		h.rejoin(c, log)

		err = h.readLoop(ctx, c)
		h.detach(c)
		c.Close()
		if ctx.Err() != nil {
			return
		}
		log.Info().Err(err).Dur("retry_in", delay).Msg("disconnected")
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// dial tries the WebSocket first. If the server answers the upgrade with a
// regular HTTP response (a proxy stripping Upgrade, say) it falls back to
// long polling.
func (h *Hook) dial(ctx context.Context, identity string) (conn, error) {
	if h.cfg.URL == "" && h.cfg.PollURL != "" {
		return h.dialPoll(ctx, identity)
	}

	c, resp, err := dialWS(ctx, h.cfg.URL, identity, h.cfg.Token)
	if err == nil {
		return c, nil
	}
	if resp == nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("websocket: %s", resp.Status)
	}
	if h.cfg.PollURL == "" {
		return nil, fmt.Errorf("websocket upgrade rejected: %s", resp.Status)
	}

	h.log.Debug().Str("status", resp.Status).Msg("websocket upgrade rejected, using polling")
	return h.dialPoll(ctx, identity)
}

func (h *Hook) dialPoll(ctx context.Context, identity string) (conn, error) {
	pc, err := dialPoll(ctx, h.cfg.HTTPClient, h.cfg.PollURL, identity, h.cfg.Token)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (h *Hook) attach(ctx context.Context, c conn) bool {
	h.mu.Lock()
	if ctx.Err() != nil {
		h.mu.Unlock()
		return false
	}
	h.conn = c
	h.transport = c.Kind()
	subs := append([]connSubscriber(nil), h.connSubs...)
	h.mu.Unlock()

	for _, s := range subs {
		s.fn(true, c.Kind())
	}
	return true
}

func (h *Hook) detach(c conn) {
	h.mu.Lock()
	if h.conn != c {
		h.mu.Unlock()
		return
	}
	h.conn = nil
	h.transport = ""
	subs := append([]connSubscriber(nil), h.connSubs...)
	h.mu.Unlock()

	for _, s := range subs {
		s.fn(false, "")
	}
}

func (h *Hook) rejoin(c conn, log zerolog.Logger) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.orders))
	for id := range h.orders {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	sort.Strings(ids)

	for _, id := range ids {
		if err := c.Send(controlMessage{Type: MsgJoinOrder, Payload: id}); err != nil {
			log.Warn().Err(err).Str("order_id", id).Msg("re-join failed")
			return
		}
	}
}

func (h *Hook) readLoop(ctx context.Context, c conn) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		msgs, err := c.Next(ctx)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			h.dispatch(m)
		}
	}
}

func (h *Hook) dispatch(m Message) {
	if m.Type == EventNotification {
		var n Notification
		if err := m.Decode(&n); err != nil {
			h.log.Debug().Err(err).Msg("dropping malformed notification")
		} else {
			h.mu.Lock()
			h.buf.Push(n)
			h.mu.Unlock()
		}
	}

	h.mu.Lock()
	subs := append([]subscriber(nil), h.subs[m.Type]...)
	h.mu.Unlock()
	for _, s := range subs {
		s.fn(m)
	}
}

// IsConnected reports whether a transport is currently open.
func (h *Hook) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Transport returns "websocket", "polling" or "" when disconnected.
func (h *Hook) Transport() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

// Notifications returns the buffered notifications, newest first.
func (h *Hook) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Snapshot()
}

// MarkAsRead drops one notification locally. The server is not told.
func (h *Hook) MarkAsRead(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.Remove(id)
}

func (h *Hook) ClearNotifications() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Clear()
}

// Subscribe calls cb for every event named event until the returned
// function is called. Any number of callbacks may share an event name.
func (h *Hook) Subscribe(event string, cb Callback) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[event] = append(h.subs[event], subscriber{id: id, fn: cb})

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(event, id) })
	}
}

func (h *Hook) unsubscribe(event string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[event]
	for i, s := range subs {
		if s.id == id {
			h.subs[event] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[event]) == 0 {
		delete(h.subs, event)
	}
}

// OnConnectionChange registers fn for connect and disconnect transitions.
func (h *Hook) OnConnectionChange(fn ConnectionCallback) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}
	h.nextID++
	id := h.nextID
	h.connSubs = append(h.connSubs, connSubscriber{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.connSubs {
			if s.id == id {
				h.connSubs = append(h.connSubs[:i:i], h.connSubs[i+1:]...)
				return
			}
		}
	}
}

// JoinOrder subscribes the connection to an order's updates. The room is
// remembered and joined again after every reconnect; ErrNotConnected means
// it will be joined once a connection is up.
func (h *Hook) JoinOrder(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ErrEmptyOrderID
	}
	h.mu.Lock()
	h.orders[orderID] = struct{}{}
	c := h.conn
	h.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.Send(controlMessage{Type: MsgJoinOrder, Payload: orderID})
}

func (h *Hook) LeaveOrder(orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return ErrEmptyOrderID
	}
	h.mu.Lock()
	delete(h.orders, orderID)
	c := h.conn
	h.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.Send(controlMessage{Type: MsgLeaveOrder, Payload: orderID})
}

// Orders lists the order rooms the hook keeps joined.
func (h *Hook) Orders() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.orders))
	for id := range h.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
