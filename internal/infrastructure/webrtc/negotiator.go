package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"pairlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// NegotiationState is the manager's view of the transport-level connection
// progress, decoupled from the underlying ICE agent's state vocabulary.
type NegotiationState string

const (
	NegotiationNew          NegotiationState = "new"
	NegotiationChecking     NegotiationState = "checking"
	NegotiationConnected    NegotiationState = "connected"
	NegotiationDisconnected NegotiationState = "disconnected"
	NegotiationFailed       NegotiationState = "failed"
	NegotiationClosed       NegotiationState = "closed"
)

// Negotiator wraps one peer connection attempt. The connection manager only
// ever talks to this interface, so tests drive the state machine without a
// real ICE agent.
type Negotiator interface {
	// CreateOffer opens the data channel, produces the local offer and
	// applies it. Offerer side only.
	CreateOffer(ctx context.Context) (json.RawMessage, error)

	// ApplyOffer applies a remote offer and returns the local answer.
	// Answerer side only.
	ApplyOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)

	// ApplyAnswer applies the remote answer. Offerer side only.
	ApplyAnswer(answer json.RawMessage) error

	AddRemoteCandidate(c domain.Candidate) error

	// SendMessage delivers payload over the data channel. Fails until the
	// channel is open.
	SendMessage(payload []byte) error

	// OnLocalCandidate registers the trickle callback. A nil candidate
	// signals end of gathering.
	OnLocalCandidate(fn func(*domain.Candidate))
	OnMessage(fn func([]byte))
	OnStateChange(fn func(NegotiationState))

	Close() error
}

// PionNegotiator adapts a pion PeerConnection to the Negotiator interface.
type PionNegotiator struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	dataChannel *webrtc.DataChannel
	dcOpen      bool

	onCandidate func(*domain.Candidate)
	onMessage   func([]byte)
	onState     func(NegotiationState)

	logger *zap.SugaredLogger
}

func NewPionNegotiator(iceServers []webrtc.ICEServer, logger *zap.SugaredLogger) (*PionNegotiator, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	n := &PionNegotiator{
		pc:     pc,
		logger: logger,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		n.mu.Lock()
		fn := n.onCandidate
		n.mu.Unlock()
		if fn == nil {
			return
		}
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&domain.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		n.mu.Lock()
		fn := n.onState
		n.mu.Unlock()
		if fn != nil {
			fn(mapICEState(state))
		}
	})

	// Answerer side: the offerer opens the channel, we adopt it.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		n.adoptDataChannel(dc)
	})

	return n, nil
}

func mapICEState(state webrtc.ICEConnectionState) NegotiationState {
	switch state {
	case webrtc.ICEConnectionStateChecking:
		return NegotiationChecking
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return NegotiationConnected
	case webrtc.ICEConnectionStateDisconnected:
		return NegotiationDisconnected
	case webrtc.ICEConnectionStateFailed:
		return NegotiationFailed
	case webrtc.ICEConnectionStateClosed:
		return NegotiationClosed
	default:
		return NegotiationNew
	}
}

func (n *PionNegotiator) adoptDataChannel(dc *webrtc.DataChannel) {
	n.mu.Lock()
	n.dataChannel = dc
	n.mu.Unlock()

	dc.OnOpen(func() {
		n.mu.Lock()
		n.dcOpen = true
		n.mu.Unlock()
	})
	dc.OnClose(func() {
		n.mu.Lock()
		n.dcOpen = false
		n.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		n.mu.Lock()
		fn := n.onMessage
		n.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

func (n *PionNegotiator) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	dc, err := n.pc.CreateDataChannel("data", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	n.adoptDataChannel(dc)

	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to apply local offer: %w", err)
	}

	return json.Marshal(offer)
}

func (n *PionNegotiator) ApplyOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("malformed offer: %w", err)
	}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("remote offer rejected: %w", err)
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to apply local answer: %w", err)
	}

	return json.Marshal(answer)
}

func (n *PionNegotiator) ApplyAnswer(answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("malformed answer: %w", err)
	}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("remote answer rejected: %w", err)
	}
	return nil
}

func (n *PionNegotiator) AddRemoteCandidate(c domain.Candidate) error {
	return n.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (n *PionNegotiator) SendMessage(payload []byte) error {
	n.mu.Lock()
	dc := n.dataChannel
	open := n.dcOpen
	n.mu.Unlock()

	if dc == nil || !open {
		return fmt.Errorf("data channel is not open")
	}
	return dc.Send(payload)
}

func (n *PionNegotiator) OnLocalCandidate(fn func(*domain.Candidate)) {
	n.mu.Lock()
	n.onCandidate = fn
	n.mu.Unlock()
}

func (n *PionNegotiator) OnMessage(fn func([]byte)) {
	n.mu.Lock()
	n.onMessage = fn
	n.mu.Unlock()
}

func (n *PionNegotiator) OnStateChange(fn func(NegotiationState)) {
	n.mu.Lock()
	n.onState = fn
	n.mu.Unlock()
}

func (n *PionNegotiator) Close() error {
	return n.pc.Close()
}
