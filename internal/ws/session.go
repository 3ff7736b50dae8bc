package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport identifies how a session is connected.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportPolling   Transport = "polling"
)

// SessionState tracks a connection through its lifecycle:
// Connecting → Authenticating → Joined → (Active ⇄ Idle) → Disconnected.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateJoined
	StateActive
	StateIdle
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one live client connection. Room membership lives in the
// Registry; the session only owns its outbound queue.
type Session struct {
	id          string
	userID      string
	transport   Transport
	remoteAddr  string
	connectedAt time.Time

	state atomic.Int32

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewSession creates a session with a bounded outbound queue.
func NewSession(userID string, transport Transport, remoteAddr string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 64
	}
	return &Session{
		id:          uuid.NewString(),
		userID:      userID,
		transport:   transport,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, buffer),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) UserID() string       { return s.userID }
func (s *Session) Transport() Transport { return s.transport }
func (s *Session) RemoteAddr() string   { return s.remoteAddr }

// Authenticated reports whether the handshake carried an identity.
func (s *Session) Authenticated() bool { return s.userID != "" }

func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// setState moves the session to next unless it is already disconnected.
func (s *Session) setState(next SessionState) {
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateDisconnected {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Outbound exposes the queue drained by the transport writer. It is closed
// when the session is torn down.
func (s *Session) Outbound() <-chan []byte { return s.send }

// enqueue performs a non-blocking send. It returns false when the queue is
// full or the session is closed.
func (s *Session) enqueue(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// close marks the session disconnected and closes its queue. Safe to call
// more than once.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.state.Store(int32(StateDisconnected))
	close(s.send)
	return true
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
