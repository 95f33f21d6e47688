package webrtc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	apperrors "pairlink/pkg/errors"

	"go.uber.org/zap"
)

// ManagerState is one connection attempt's lifecycle position. Transitions
// only move forward; failed and closed are terminal.
type ManagerState string

const (
	StateIdle             ManagerState = "idle"
	StateSignalingConnect ManagerState = "signaling-connect"
	StateNegotiating      ManagerState = "negotiating"
	StateICEChecking      ManagerState = "ice-checking"
	StateConnected        ManagerState = "connected"
	StateFailed           ManagerState = "failed"
	StateClosed           ManagerState = "closed"
)

// ManagerConfig identifies the attempt and bounds its phases.
type ManagerConfig struct {
	SessionID domain.SessionID
	PeerID    domain.PeerID
	HostID    domain.PeerID

	// SignalingTimeout bounds channel open plus the initial offer exchange.
	SignalingTimeout time.Duration

	// FallbackTimeout is how long the attempt may stay unconverged before
	// the degraded callback fires. The attempt itself keeps running.
	FallbackTimeout time.Duration
}

// ConnectionManager drives one outbound connection attempt: it rendezvouses
// through the relay, trickles candidates both ways and reports progress
// upward through callbacks. One manager is one attempt; to retry, build a new
// one with a new session.
type ConnectionManager struct {
	cfg        ManagerConfig
	channel    ports.SignalChannel
	negotiator Negotiator
	logger     *zap.SugaredLogger

	// events serializes candidate and state callbacks into the loop
	// goroutine; all attempt state below is touched there or in Connect
	// before the loop starts.
	events chan func()
	done   chan struct{}

	closeOnce sync.Once
	opened    bool

	mu                sync.RWMutex
	state             ManagerState
	remoteDescApplied bool
	pendingRemote     []domain.Candidate
	degradedSent      bool

	onMessage     func([]byte)
	onStateChange func(ManagerState)
	onError       func(error)
	onDegraded    func()
}

func NewConnectionManager(
	cfg ManagerConfig,
	channel ports.SignalChannel,
	negotiator Negotiator,
	logger *zap.SugaredLogger,
) *ConnectionManager {
	return &ConnectionManager{
		cfg:        cfg,
		channel:    channel,
		negotiator: negotiator,
		logger:     logger,
		events:     make(chan func(), 64),
		done:       make(chan struct{}),
		state:      StateIdle,
	}
}

func (m *ConnectionManager) OnMessage(fn func([]byte)) { m.mu.Lock(); m.onMessage = fn; m.mu.Unlock() }
func (m *ConnectionManager) OnStateChange(fn func(ManagerState)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}
func (m *ConnectionManager) OnError(fn func(error)) { m.mu.Lock(); m.onError = fn; m.mu.Unlock() }
func (m *ConnectionManager) OnDegraded(fn func())   { m.mu.Lock(); m.onDegraded = fn; m.mu.Unlock() }

// Connect opens the signaling channel, registers the session, transmits the
// local offer and starts the event loop. It returns once the offer is on the
// wire; convergence is reported through OnStateChange.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	if m.GetState() != StateIdle {
		return fmt.Errorf("connection attempt already started")
	}
	m.setState(StateSignalingConnect)

	sigCtx := ctx
	if m.cfg.SignalingTimeout > 0 {
		var cancel context.CancelFunc
		sigCtx, cancel = context.WithTimeout(ctx, m.cfg.SignalingTimeout)
		defer cancel()
	}

	if err := m.channel.Open(sigCtx); err != nil {
		m.fail(apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to open signaling channel", http.StatusBadGateway))
		return err
	}
	m.opened = true

	if _, err := m.channel.Send(sigCtx, domain.Envelope{
		Type:      domain.MessageCreateSession,
		SessionID: m.cfg.SessionID,
		HostID:    m.cfg.HostID,
	}); err != nil {
		m.fail(apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to register session", http.StatusBadGateway))
		return err
	}

	m.negotiator.OnLocalCandidate(func(c *domain.Candidate) {
		m.post(func() { m.sendLocalCandidate(c) })
	})
	m.negotiator.OnStateChange(func(state NegotiationState) {
		m.post(func() { m.handleNegotiationState(state) })
	})
	m.negotiator.OnMessage(func(payload []byte) {
		m.mu.RLock()
		fn := m.onMessage
		m.mu.RUnlock()
		if fn != nil {
			fn(payload)
		}
	})

	offer, err := m.negotiator.CreateOffer(sigCtx)
	if err != nil {
		m.fail(apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "failed to create offer", http.StatusUnprocessableEntity))
		return err
	}
	m.setState(StateNegotiating)

	if _, err := m.channel.Send(sigCtx, domain.Envelope{
		Type:      domain.MessageOffer,
		SessionID: m.cfg.SessionID,
		HostID:    m.cfg.HostID,
		Offer:     offer,
	}); err != nil {
		m.fail(apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to send offer", http.StatusBadGateway))
		return err
	}

	go m.loop()
	return nil
}

func (m *ConnectionManager) loop() {
	fallback := time.NewTimer(m.cfg.FallbackTimeout)
	defer fallback.Stop()

	for {
		select {
		case fn := <-m.events:
			fn()

		case env, ok := <-m.channel.Inbound():
			if !ok {
				return
			}
			m.handleInbound(env)

		case <-fallback.C:
			m.handleFallback()

		case <-m.done:
			return
		}
	}
}

func (m *ConnectionManager) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.done:
	}
}

func (m *ConnectionManager) handleInbound(env domain.Envelope) {
	switch env.Type {
	case domain.MessageAnswer:
		m.handleRemoteAnswer(env)

	case domain.MessageCandidate:
		m.handleRemoteCandidate(env)

	default:
		m.logger.Debugw("ignoring inbound message",
			"session_id", m.cfg.SessionID,
			"type", env.Type,
		)
	}
}

func (m *ConnectionManager) handleRemoteAnswer(env domain.Envelope) {
	m.mu.Lock()
	applied := m.remoteDescApplied
	m.mu.Unlock()
	if applied {
		// Retransmits are expected on the poll transport.
		return
	}

	if err := m.negotiator.ApplyAnswer(env.Answer); err != nil {
		m.reportError(apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "remote answer rejected", http.StatusUnprocessableEntity))
		return
	}

	m.mu.Lock()
	m.remoteDescApplied = true
	queued := m.pendingRemote
	m.pendingRemote = nil
	m.mu.Unlock()

	for _, c := range queued {
		if err := m.negotiator.AddRemoteCandidate(c); err != nil {
			m.reportError(apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "queued candidate rejected", http.StatusUnprocessableEntity))
		}
	}

	if m.GetState() == StateNegotiating {
		m.setState(StateICEChecking)
	}
}

func (m *ConnectionManager) handleRemoteCandidate(env domain.Envelope) {
	normalized := domain.NormalizeCandidate(env.Candidate)
	switch normalized.Kind {
	case domain.CandidateUnrecognized:
		m.logger.Infow("dropping unrecognized candidate",
			"session_id", m.cfg.SessionID,
		)
		return
	case domain.CandidateEndOfCandidates:
		return
	}

	m.mu.Lock()
	applied := m.remoteDescApplied
	if !applied {
		m.pendingRemote = append(m.pendingRemote, normalized.Candidate)
	}
	m.mu.Unlock()
	if !applied {
		return
	}

	if err := m.negotiator.AddRemoteCandidate(normalized.Candidate); err != nil {
		m.reportError(apperrors.WrapError(err, apperrors.ErrCodeNegotiation, "remote candidate rejected", http.StatusUnprocessableEntity))
	}
}

func (m *ConnectionManager) sendLocalCandidate(c *domain.Candidate) {
	if c == nil {
		// End of gathering; the remote side infers completion from silence.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.channel.Send(ctx, domain.Envelope{
		Type:      domain.MessageCandidate,
		SessionID: m.cfg.SessionID,
		HostID:    m.cfg.PeerID,
		Candidate: c.Raw(),
	}); err != nil {
		m.reportError(apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to send candidate", http.StatusBadGateway))
	}
}

func (m *ConnectionManager) handleNegotiationState(state NegotiationState) {
	switch state {
	case NegotiationChecking:
		if m.GetState() == StateNegotiating {
			m.setState(StateICEChecking)
		}

	case NegotiationConnected:
		// Late convergence after the degraded notification still counts.
		switch m.GetState() {
		case StateFailed, StateClosed:
		default:
			m.setState(StateConnected)
		}

	case NegotiationFailed:
		m.fail(apperrors.NewNegotiationError("ice negotiation failed"))

	case NegotiationDisconnected:
		m.reportError(apperrors.NewTransportError("peer connection interrupted"))
	}
}

// handleFallback fires the degraded notification exactly once. The attempt
// stays alive; a late connected transition is still honored.
func (m *ConnectionManager) handleFallback() {
	state := m.GetState()
	if state == StateConnected || state == StateFailed || state == StateClosed {
		return
	}

	m.mu.Lock()
	if m.degradedSent {
		m.mu.Unlock()
		return
	}
	m.degradedSent = true
	fn := m.onDegraded
	m.mu.Unlock()

	m.logger.Infow("negotiation did not converge in time, notifying degraded mode",
		"session_id", m.cfg.SessionID,
		"timeout", m.cfg.FallbackTimeout,
	)
	if fn != nil {
		fn()
	}
}

// SendMessage delivers payload over the established data channel.
func (m *ConnectionManager) SendMessage(payload []byte) error {
	if m.GetState() != StateConnected {
		return fmt.Errorf("not connected")
	}
	return m.negotiator.SendMessage(payload)
}

func (m *ConnectionManager) GetState() ManagerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Cleanup tears the attempt down: best-effort leave notification, peer
// connection close, channel close. Safe to call any number of times, in any
// state.
func (m *ConnectionManager) Cleanup() {
	m.closeOnce.Do(func() {
		if m.opened {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if _, err := m.channel.Send(ctx, domain.Envelope{
				Type:      domain.MessageLeave,
				SessionID: m.cfg.SessionID,
			}); err != nil {
				m.logger.Debugw("leave notification failed", "session_id", m.cfg.SessionID, "error", err)
			}
			cancel()
		}

		if err := m.negotiator.Close(); err != nil {
			m.logger.Debugw("negotiator close failed", "session_id", m.cfg.SessionID, "error", err)
		}
		if err := m.channel.Close(); err != nil {
			m.logger.Debugw("channel close failed", "session_id", m.cfg.SessionID, "error", err)
		}

		m.setState(StateClosed)
		close(m.done)
	})
}

func (m *ConnectionManager) setState(next ManagerState) {
	m.mu.Lock()
	if m.state == next || (m.state == StateClosed && next != StateClosed) {
		m.mu.Unlock()
		return
	}
	m.state = next
	fn := m.onStateChange
	m.mu.Unlock()

	if fn != nil {
		fn(next)
	}
}

func (m *ConnectionManager) fail(err error) {
	m.setState(StateFailed)
	m.reportError(err)
}

func (m *ConnectionManager) reportError(err error) {
	m.logger.Infow("connection attempt error",
		"session_id", m.cfg.SessionID,
		"error", err,
	)

	m.mu.RLock()
	fn := m.onError
	m.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
