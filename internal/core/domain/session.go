package domain

import (
	"encoding/json"
	"time"
)

type SessionID string
type PeerID string

// SessionStatus progresses waiting -> connecting -> connected and never moves
// backward. Disconnected is reachable only through an explicit leave.
type SessionStatus string

const (
	StatusWaiting      SessionStatus = "waiting"
	StatusConnecting   SessionStatus = "connecting"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
)

// Session is the unit of rendezvous: it correlates exactly one offer/answer/
// candidate exchange between a host and a client. The negotiation payloads are
// stored opaque; the relay never parses them.
type Session struct {
	ID     SessionID     `json:"id"`
	HostID PeerID        `json:"hostId"`
	Status SessionStatus `json:"status"`

	Offer  json.RawMessage `json:"offer,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`

	HostCandidates   []json.RawMessage `json:"hostCandidates,omitempty"`
	ClientCandidates []json.RawMessage `json:"clientCandidates,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// NewSession creates a session in the waiting state.
func NewSession(id SessionID, hostID PeerID, now time.Time) *Session {
	return &Session{
		ID:           id,
		HostID:       hostID,
		Status:       StatusWaiting,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Touch bumps the activity timestamp that drives expiry.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// SetOffer stores the offer and moves a waiting session to connecting.
// The status never moves backward on repeated writes.
func (s *Session) SetOffer(offer json.RawMessage, now time.Time) {
	s.Offer = offer
	if s.Status == StatusWaiting {
		s.Status = StatusConnecting
	}
	s.Touch(now)
}

// SetAnswer stores the answer and moves a connecting session to connected.
func (s *Session) SetAnswer(answer json.RawMessage, now time.Time) {
	s.Answer = answer
	if s.Status == StatusConnecting {
		s.Status = StatusConnected
	}
	s.Touch(now)
}

// IsHost reports whether the claimed peer id matches the session's host id.
// Attribution is by claimed id only, never by transport identity; any caller
// who knows the session id can claim the host side. Known trust boundary.
func (s *Session) IsHost(claimed PeerID) bool {
	return claimed != "" && claimed == s.HostID
}

// AppendCandidate adds a candidate to the buffer of the side the caller claims.
func (s *Session) AppendCandidate(claimed PeerID, candidate json.RawMessage, now time.Time) {
	if s.IsHost(claimed) {
		s.HostCandidates = append(s.HostCandidates, candidate)
	} else {
		s.ClientCandidates = append(s.ClientCandidates, candidate)
	}
	s.Touch(now)
}

// DrainCandidatesFor removes and returns the opposite side's buffered
// candidates. Delivery is at-most-once: a second drain returns nothing.
func (s *Session) DrainCandidatesFor(claimed PeerID, now time.Time) []json.RawMessage {
	var drained []json.RawMessage
	if s.IsHost(claimed) {
		drained = s.ClientCandidates
		s.ClientCandidates = nil
	} else {
		drained = s.HostCandidates
		s.HostCandidates = nil
	}
	s.Touch(now)
	return drained
}

// Expired reports whether the session has been idle past the TTL.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActivity) > ttl
}
