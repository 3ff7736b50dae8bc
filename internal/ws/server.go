package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/logging"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/metrics"
)

// Handshake metadata carrying the caller's identity.
const (
	UserIDParam  = "userId"
	UserIDHeader = "X-User-Id"
	TokenHeader  = "X-Realtime-Token"
)

// Options configures the transport server.
type Options struct {
	AuthToken       string
	AllowedOrigins  []string
	SendBuffer      int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	PollWait        time.Duration
	PollIdleTimeout time.Duration
	Logger          zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
	if o.PollWait <= 0 {
		o.PollWait = 25 * time.Second
	}
	if o.PollIdleTimeout <= 0 {
		o.PollIdleTimeout = 60 * time.Second
	}
}

// Server accepts WebSocket and long-poll connections, authenticates the
// handshake identity, and relays room control messages into the Registry.
type Server struct {
	registry       *Registry
	opts           Options
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger

	pollMu sync.Mutex
	polls  map[string]*pollSession

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewServer(registry *Registry, opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		registry:       registry,
		opts:           opts,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            opts.Logger,
		polls:          make(map[string]*pollSession),
		stopCh:         make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Registry returns the registry sessions are joined to.
func (s *Server) Registry() *Registry { return s.registry }

// SetupRoutes mounts the transport endpoints on r.
func (s *Server) SetupRoutes(r chi.Router) {
	r.Get("/ws", s.handleWS)
	r.Route("/poll", func(r chi.Router) {
		r.Post("/", s.handlePollOpen)
		r.Get("/{sid}", s.handlePollReceive)
		r.Post("/{sid}", s.handlePollSend)
		r.Delete("/{sid}", s.handlePollClose)
	})
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
}

// Start runs background maintenance (the poll session reaper) until ctx is
// cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) {
	go s.reapLoop(ctx)
}

// Shutdown disconnects every session. Transport writers close their
// connections once their queues are closed.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.registry.CloseAll()
	s.pollMu.Lock()
	s.polls = make(map[string]*pollSession)
	s.pollMu.Unlock()
}

// handshakeIdentity reads the optional identity from the handshake. An empty
// result is a valid anonymous connection.
func handshakeIdentity(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get(UserIDParam)); id != "" {
		return id
	}
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

// accept creates, registers and auto-joins a session for an incoming
// connection.
func (s *Server) accept(r *http.Request, transport Transport) (*Session, error) {
	sess := NewSession(handshakeIdentity(r), transport, r.RemoteAddr, s.opts.SendBuffer)
	sess.setState(StateAuthenticating)

	if err := s.registry.Register(sess); err != nil {
		sess.close()
		return nil, err
	}
	if sess.Authenticated() {
		s.registry.Join(sess, UserRoom(sess.userID))
	}
	sess.setState(StateJoined)
	return sess, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade error")
		return
	}

	sess, err := s.accept(r, TransportWebSocket)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejecting websocket session")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
		conn.Close()
		return
	}

	log := logging.WithSession(s.log, sess.id, sess.userID)
	log.Info().Str("remote", r.RemoteAddr).Msg("websocket session connected")

	go s.writePump(sess, conn)
	go s.readPump(sess, conn, log)
}

// readPump processes inbound control messages until the connection fails.
// Messages from one connection are handled strictly in order.
func (s *Server) readPump(sess *Session, conn *websocket.Conn, log zerolog.Logger) {
	defer func() {
		s.registry.OnDisconnect(sess)
		log.Info().Msg("websocket session disconnected")
	}()

	conn.SetReadLimit(s.opts.MaxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.handleClientMessage(sess, data, log)
	}
}

// writePump drains the session queue onto the socket and keeps the
// connection alive with pings. It owns all writes to conn.
func (s *Server) writePump(sess *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			sess.setState(StateActive)
			err := conn.WriteMessage(websocket.TextMessage, frame)
			sess.setState(StateIdle)
			if err != nil {
				s.registry.OnDisconnect(sess)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.registry.OnDisconnect(sess)
				return
			}
		}
	}
}

// handleClientMessage applies a join/leave request. Malformed messages are
// dropped; the connection stays open.
func (s *Server) handleClientMessage(sess *Session, data []byte, log zerolog.Logger) {
	sess.setState(StateActive)
	defer sess.setState(StateIdle)

	msgType, orderID, err := parseClientMessage(data)
	if err != nil {
		outcome := "malformed"
		if errors.Is(err, ErrUnknownMessage) {
			outcome = "unknown"
		}
		metrics.ClientMessages.WithLabelValues(messageLabel(msgType), outcome).Inc()
		log.Debug().Err(err).Msg("dropping client message")
		return
	}

	room := OrderRoom(orderID)
	switch msgType {
	case MsgJoinOrder:
		s.registry.Join(sess, room)
	case MsgLeaveOrder:
		s.registry.Leave(sess, room)
	}
	metrics.ClientMessages.WithLabelValues(messageLabel(msgType), "ok").Inc()
	log.Debug().Str("type", msgType).Str("room", room).Msg("room membership changed")
}

type healthResponse struct {
	Status   string               `json:"status"`
	Sessions int                  `json:"sessions"`
	Rooms    int                  `json:"rooms"`
	Process  metrics.ProcessStats `json:"process"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Sessions: s.registry.SessionCount(),
		Rooms:    s.registry.RoomCount(),
	}
	if stats, err := metrics.ReadProcessStats(); err == nil {
		resp.Process = stats
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) authorize(r *http.Request) bool {
	return Authorize(r, s.opts.AuthToken)
}

// Authorize checks the shared server token in the query string, the
// X-Realtime-Token header or a bearer Authorization header. An empty token
// disables the check.
func Authorize(r *http.Request, token string) bool {
	if token == "" {
		return true
	}

	if r.URL.Query().Get("token") == token {
		return true
	}

	if r.Header.Get(TokenHeader) == token {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == token {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// SecurityHeaders sets conservative response headers on every route.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// the HTTP server down gracefully. See Serve for onShutdown.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, log zerolog.Logger, onShutdown ...func()) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler, log, onShutdown...)
}

// Serve serves handler on ln until ctx is cancelled. Each onShutdown hook
// runs as soon as shutdown starts, before in-flight requests are awaited,
// so held long-poll requests can be released.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, log zerolog.Logger, onShutdown ...func()) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	for _, fn := range onShutdown {
		srv.RegisterOnShutdown(fn)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
