package ws

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/metrics"
)

var (
	ErrTooManyConnections = errors.New("too many connections")
	ErrSessionClosed      = errors.New("session closed")
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// MaxSessions caps concurrently registered sessions; 0 means unlimited.
	MaxSessions int
	Logger      zerolog.Logger
}

// Registry maps room names to the sessions joined to them and fans events
// out to those sessions. Rooms exist only while they have members.
//
// Delivery is best-effort: frames are queued without blocking, and a session
// whose queue is full is disconnected instead of stalling the others.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	rooms       map[string]map[*Session]struct{}
	memberOf    map[*Session]map[string]struct{}
	maxSessions int
	log         zerolog.Logger
}

func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		rooms:       make(map[string]map[*Session]struct{}),
		memberOf:    make(map[*Session]map[string]struct{}),
		maxSessions: opts.MaxSessions,
		log:         opts.Logger,
	}
}

// Register tracks a newly accepted session so Broadcast reaches it.
func (r *Registry) Register(s *Session) error {
	if s.Closed() {
		return ErrSessionClosed
	}

	r.mu.Lock()
	// OnDisconnect may have closed s since the check above.
	if s.Closed() {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		metrics.SessionsRejected.Inc()
		return ErrTooManyConnections
	}
	r.sessions[s.id] = s
	r.memberOf[s] = make(map[string]struct{})
	r.mu.Unlock()

	metrics.SessionsActive.WithLabelValues(string(s.transport)).Inc()
	return nil
}

// Session looks up a registered session by id.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Join adds s to room, creating the room on first join. Joining twice is a
// no-op, as is joining with a session that is not registered.
func (r *Registry) Join(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberOf[s]
	if !ok {
		return
	}
	if _, already := rooms[room]; already {
		return
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[room] = members
		metrics.RoomsActive.Inc()
	}
	members[s] = struct{}{}
	rooms[room] = struct{}{}
}

// Leave removes s from room. Leaving a room the session is not in is a no-op.
func (r *Registry) Leave(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms, ok := r.memberOf[s]
	if !ok {
		return
	}
	if _, in := rooms[room]; !in {
		return
	}
	delete(rooms, room)
	r.removeMemberLocked(room, s)
}

func (r *Registry) removeMemberLocked(room string, s *Session) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, room)
		metrics.RoomsActive.Dec()
	}
}

// OnDisconnect removes s from every room and from the session table, then
// closes its outbound queue. Only the first call for a session has effect.
func (r *Registry) OnDisconnect(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s.id]; !ok {
		// Closed under the lock so a racing Register sees it.
		s.close()
		r.mu.Unlock()
		return
	}
	for room := range r.memberOf[s] {
		r.removeMemberLocked(room, s)
	}
	delete(r.memberOf, s)
	delete(r.sessions, s.id)
	r.mu.Unlock()

	metrics.SessionsActive.WithLabelValues(string(s.transport)).Dec()
	s.close()
}

// Emit delivers (event, payload) to every session currently joined to room.
// A room without members makes this a no-op.
func (r *Registry) Emit(room, event string, payload any) {
	r.mu.RLock()
	members := r.rooms[room]
	targets := make([]*Session, 0, len(members))
	for s := range members {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	metrics.EventsEmitted.WithLabelValues(event, "room").Inc()
	if len(targets) == 0 {
		return
	}
	r.deliver(targets, event, payload)
}

// Broadcast delivers (event, payload) to every registered session, whatever
// rooms it has joined and whether or not it is authenticated.
func (r *Registry) Broadcast(event string, payload any) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		targets = append(targets, s)
	}
	r.mu.RUnlock()

	metrics.EventsEmitted.WithLabelValues(event, "global").Inc()
	if len(targets) == 0 {
		return
	}
	r.deliver(targets, event, payload)
}

func (r *Registry) deliver(targets []*Session, event string, payload any) {
	frame, err := EncodeMessage(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("dropping unencodable event")
		return
	}

	for _, s := range targets {
		if s.enqueue(frame) {
			metrics.FramesDelivered.WithLabelValues(event).Inc()
			continue
		}
		metrics.FramesDropped.WithLabelValues(event).Inc()
		if s.Closed() {
			continue
		}
		// Client can't keep up, disconnect it
		r.log.Warn().
			Str("session_id", s.id).
			Str("user_id", s.userID).
			Str("event", event).
			Msg("session too slow, disconnecting")
		r.OnDisconnect(s)
	}
}

// CloseAll disconnects every session, e.g. on server shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	for _, s := range all {
		r.OnDisconnect(s)
	}
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Members returns the ids of sessions joined to room, sorted.
func (r *Registry) Members(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[room]))
	for s := range r.rooms[room] {
		ids = append(ids, s.id)
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns the rooms s has joined, sorted.
func (r *Registry) Rooms(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.memberOf[s]))
	for room := range r.memberOf[s] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}
