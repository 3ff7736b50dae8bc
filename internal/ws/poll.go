package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/logging"
)

// ErrUnknownSession is returned for poll requests naming a session that does
// not exist (never opened, reaped, or closed).
var ErrUnknownSession = errors.New("unknown session")

// maxPollBatch bounds the frames returned by a single poll response.
const maxPollBatch = 128

// pollSession is the long-polling fallback transport for one Session. At most
// one receive request may be outstanding at a time.
type pollSession struct {
	sess     *Session
	log      zerolog.Logger
	lastSeen atomic.Int64
	polling  atomic.Bool
}

func (p *pollSession) touch(now time.Time) { p.lastSeen.Store(now.UnixNano()) }

func (p *pollSession) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, p.lastSeen.Load()))
}

type pollOpenResponse struct {
	SessionID string `json:"sid"`
	PollWait  string `json:"pollWait"`
}

func (s *Server) handlePollOpen(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sess, err := s.accept(r, TransportPolling)
	if err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	p := &pollSession{sess: sess, log: logging.WithSession(s.log, sess.id, sess.userID)}
	p.touch(time.Now())

	s.pollMu.Lock()
	s.polls[sess.id] = p
	s.pollMu.Unlock()

	p.log.Info().Str("remote", r.RemoteAddr).Msg("polling session connected")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pollOpenResponse{SessionID: sess.id, PollWait: s.opts.PollWait.String()})
}

func (s *Server) lookupPoll(r *http.Request) (*pollSession, error) {
	sid := chi.URLParam(r, "sid")
	s.pollMu.Lock()
	p, ok := s.polls[sid]
	s.pollMu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return p, nil
}

// handlePollReceive waits up to PollWait for queued frames and returns them
// as a JSON array. An empty array means the wait elapsed with nothing to send.
func (s *Server) handlePollReceive(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, err := s.lookupPoll(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !p.polling.CompareAndSwap(false, true) {
		http.Error(w, "poll already in progress", http.StatusConflict)
		return
	}
	defer func() {
		p.touch(time.Now())
		p.polling.Store(false)
	}()
	p.touch(time.Now())

	frames, open := s.collectFrames(r.Context(), p.sess)
	if !open && len(frames) == 0 {
		s.dropPoll(p.sess.id)
		http.Error(w, ErrSessionClosed.Error(), http.StatusGone)
		return
	}

	out := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		out[i] = f
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(out)
}

// collectFrames blocks for the first frame, then drains whatever else is
// already queued. open is false once the session queue has been closed.
func (s *Server) collectFrames(ctx context.Context, sess *Session) (frames [][]byte, open bool) {
	timer := time.NewTimer(s.opts.PollWait)
	defer timer.Stop()

	select {
	case frame, ok := <-sess.Outbound():
		if !ok {
			return nil, false
		}
		frames = append(frames, frame)
	case <-timer.C:
		return nil, true
	case <-ctx.Done():
		return nil, true
	case <-s.stopCh:
		return nil, true
	}

	for len(frames) < maxPollBatch {
		select {
		case frame, ok := <-sess.Outbound():
			if !ok {
				return frames, false
			}
			frames = append(frames, frame)
		default:
			return frames, true
		}
	}
	return frames, true
}

// handlePollSend accepts one client control message.
func (s *Server) handlePollSend(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, err := s.lookupPoll(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if p.sess.Closed() {
		s.dropPoll(p.sess.id)
		http.Error(w, ErrSessionClosed.Error(), http.StatusGone)
		return
	}
	p.touch(time.Now())

	data, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxMessageBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > s.opts.MaxMessageBytes {
		http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
		return
	}

	s.handleClientMessage(p.sess, data, p.log)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollClose(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	p, err := s.lookupPoll(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.dropPoll(p.sess.id)
	p.log.Info().Msg("polling session closed by client")
	w.WriteHeader(http.StatusNoContent)
}

// dropPoll forgets a poll session and disconnects it from the registry.
func (s *Server) dropPoll(sid string) {
	s.pollMu.Lock()
	p, ok := s.polls[sid]
	delete(s.polls, sid)
	s.pollMu.Unlock()
	if ok {
		s.registry.OnDisconnect(p.sess)
	}
}

// reapIdle disconnects poll sessions that have not polled within
// PollIdleTimeout, plus any whose session was closed elsewhere.
func (s *Server) reapIdle(now time.Time) int {
	s.pollMu.Lock()
	var stale []*pollSession
	for sid, p := range s.polls {
		if p.sess.Closed() || (!p.polling.Load() && p.idleSince(now) > s.opts.PollIdleTimeout) {
			stale = append(stale, p)
			delete(s.polls, sid)
		}
	}
	s.pollMu.Unlock()

	for _, p := range stale {
		s.registry.OnDisconnect(p.sess)
		p.log.Info().Msg("polling session reaped")
	}
	return len(stale)
}

func (s *Server) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollIdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.reapIdle(now)
		}
	}
}

// PollSessionCount reports open long-poll sessions.
func (s *Server) PollSessionCount() int {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return len(s.polls)
}
