package domain

import "encoding/json"

// MessageType enumerates the signaling protocol verbs. Both transport
// bindings understand exactly this set.
type MessageType string

const (
	MessageCreateSession MessageType = "create-session"
	MessageOffer         MessageType = "offer"
	MessageAnswer        MessageType = "answer"
	MessageCandidate     MessageType = "candidate"
	MessageGetOffer      MessageType = "get-offer"
	MessageGetAnswer     MessageType = "get-answer"
	MessageGetCandidate  MessageType = "get-candidate"
	MessageLeave         MessageType = "leave"
)

// Envelope is the wire format shared by the HTTP and WebSocket bindings.
// HostID doubles as the caller's claimed peer id for candidate attribution.
type Envelope struct {
	Type      MessageType     `json:"type"`
	SessionID SessionID       `json:"sessionId,omitempty"`
	HostID    PeerID          `json:"hostId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Response is the relay's reply to one envelope. On the socket binding the
// Type/SessionID pair correlates a response with its request; there is no
// request id.
type Response struct {
	Success    bool              `json:"success"`
	Type       MessageType       `json:"type,omitempty"`
	SessionID  SessionID         `json:"sessionId,omitempty"`
	Status     SessionStatus     `json:"status,omitempty"`
	Offer      json.RawMessage   `json:"offer,omitempty"`
	Answer     json.RawMessage   `json:"answer,omitempty"`
	Candidates []json.RawMessage `json:"candidates,omitempty"`
	Error      string            `json:"error,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
}

// ForwardTypes are the message types the push transport relays to the
// counterpart peer immediately, in addition to recording them.
func (t MessageType) Forwardable() bool {
	return t == MessageOffer || t == MessageAnswer || t == MessageCandidate
}
