package services

import (
	"sync"
	"time"

	"amigo/metrics"
	apperrors "amigo/pkg/errors"

	"go.uber.org/zap"
)

// Call lifecycle states per user pair. There is deliberately no server-side
// ring timeout; an unanswered ring is ended by reject, end, or disconnect.
const (
	callRinging = "ringing"
	callActive  = "active"
)

type callSession struct {
	Peer  string
	Kind  string // voice or video
	State string
	Since time.Time
}

// CallTable holds the ephemeral call sessions, one symmetric entry pair per
// call. A user is party to at most one call at a time. Never persisted.
type CallTable struct {
	mu       sync.Mutex
	sessions map[string]*callSession
	log      *zap.Logger
}

func NewCallTable(log *zap.Logger) *CallTable {
	return &CallTable{
		sessions: make(map[string]*callSession),
		log:      log,
	}
}

// Begin moves the pair from idle to ringing. The callee being in any call
// yields a busy error; so does the caller. No state changes on error.
func (t *CallTable) Begin(caller, callee, kind string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[callee]; ok {
		return apperrors.Busy("user is on another call")
	}
	if _, ok := t.sessions[caller]; ok {
		return apperrors.Busy("already in a call")
	}

	now := time.Now()
	t.sessions[caller] = &callSession{Peer: callee, Kind: kind, State: callRinging, Since: now}
	t.sessions[callee] = &callSession{Peer: caller, Kind: kind, State: callRinging, Since: now}
	metrics.ActiveCalls.Set(float64(len(t.sessions) / 2))

	t.log.Info("call ringing",
		zap.String("caller", caller),
		zap.String("callee", callee),
		zap.String("kind", kind))
	return nil
}

// Accept moves a ringing pair to active. An accept with no matching ringing
// session is an undefined transition and is rejected rather than trusted.
func (t *CallTable) Accept(callee, caller string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callee]
	if !ok || s.Peer != caller {
		return apperrors.Validation("no ringing call from this user")
	}
	if s.State != callRinging {
		return apperrors.Validation("call is not ringing")
	}

	s.State = callActive
	if ps, ok := t.sessions[caller]; ok && ps.Peer == callee {
		ps.State = callActive
	}
	t.log.Info("call accepted", zap.String("caller", caller), zap.String("callee", callee))
	return nil
}

// Reject tears down both sides of the pair. Idempotent: rejecting an absent
// session is a no-op and reports false so no duplicate event is emitted.
func (t *CallTable) Reject(callee, caller string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[callee]
	if !ok || s.Peer != caller {
		return false
	}
	t.removePairLocked(callee, caller)
	t.log.Info("call rejected", zap.String("caller", caller), zap.String("callee", callee))
	return true
}

// End tears down the caller's session. The counterpart comes from the
// explicit parameter when given, otherwise from the session table. The
// returned peer is who should receive call-ended, if resolvable.
func (t *CallTable) End(user, explicitPeer string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peer := explicitPeer
	if s, ok := t.sessions[user]; ok {
		peer = s.Peer
	}
	if peer == "" {
		return "", false
	}
	t.removePairLocked(user, peer)
	t.log.Info("call ended", zap.String("user", user), zap.String("peer", peer))
	return peer, true
}

// Drop runs the disconnect cleanup for a vanished user. Returns the
// counterpart that must be sent call-ended, a call is never left dangling.
func (t *CallTable) Drop(user string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[user]
	if !ok {
		return "", false
	}
	peer := s.Peer
	t.removePairLocked(user, peer)
	t.log.Info("call dropped on disconnect", zap.String("user", user), zap.String("peer", peer))
	return peer, true
}

// InCall reports whether the user is party to any call session.
func (t *CallTable) InCall(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[user]
	return ok
}

func (t *CallTable) removePairLocked(a, b string) {
	delete(t.sessions, a)
	if s, ok := t.sessions[b]; ok && s.Peer == a {
		delete(t.sessions, b)
	}
	metrics.ActiveCalls.Set(float64(len(t.sessions) / 2))
}
