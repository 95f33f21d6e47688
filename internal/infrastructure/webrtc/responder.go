package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"go.uber.org/zap"
)

// HostResponder is the accepting half of a session: it waits for the client's
// offer, posts the answer and keeps trickling candidates until the attempt is
// torn down. The host claims the session's hostId, so its candidates land in
// the host buffer.
type HostResponder struct {
	channel    ports.SignalChannel
	negotiator Negotiator
	logger     *zap.SugaredLogger

	sessionID    domain.SessionID
	hostID       domain.PeerID
	pollInterval time.Duration

	onMessage func([]byte)

	closeOnce sync.Once
	done      chan struct{}
}

func NewHostResponder(
	sessionID domain.SessionID,
	hostID domain.PeerID,
	pollInterval time.Duration,
	channel ports.SignalChannel,
	negotiator Negotiator,
	logger *zap.SugaredLogger,
) *HostResponder {
	return &HostResponder{
		channel:      channel,
		negotiator:   negotiator,
		logger:       logger,
		sessionID:    sessionID,
		hostID:       hostID,
		pollInterval: pollInterval,
		done:         make(chan struct{}),
	}
}

func (r *HostResponder) OnMessage(fn func([]byte)) {
	r.onMessage = fn
}

// Run serves one negotiation: wait for the offer, answer it, then feed remote
// candidates into the peer connection until ctx is done. It blocks for the
// lifetime of the session.
func (r *HostResponder) Run(ctx context.Context) error {
	if err := r.channel.Open(ctx); err != nil {
		return fmt.Errorf("failed to open signaling channel: %w", err)
	}
	defer r.Close()

	offer, err := r.awaitOffer(ctx)
	if err != nil {
		return err
	}

	r.negotiator.OnLocalCandidate(func(c *domain.Candidate) {
		if c == nil {
			return
		}
		r.sendCandidate(*c)
	})
	if r.onMessage != nil {
		r.negotiator.OnMessage(r.onMessage)
	}

	answer, err := r.negotiator.ApplyOffer(ctx, offer.Offer)
	if err != nil {
		return fmt.Errorf("failed to answer offer: %w", err)
	}

	if _, err := r.channel.Send(ctx, domain.Envelope{
		Type:      domain.MessageAnswer,
		SessionID: r.sessionID,
		Answer:    answer,
	}); err != nil {
		return fmt.Errorf("failed to post answer: %w", err)
	}

	r.logger.Infow("answer posted", "session_id", r.sessionID)
	return r.consumeCandidates(ctx)
}

// awaitOffer polls get-offer until the client has posted one. Pushed offers
// arriving on Inbound short-circuit the poll.
func (r *HostResponder) awaitOffer(ctx context.Context) (domain.Envelope, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := r.channel.Send(ctx, domain.Envelope{
			Type:      domain.MessageGetOffer,
			SessionID: r.sessionID,
		})
		if err == nil && resp.Offer != nil {
			return domain.Envelope{Offer: resp.Offer}, nil
		}

		select {
		case <-ctx.Done():
			return domain.Envelope{}, ctx.Err()
		case <-r.done:
			return domain.Envelope{}, fmt.Errorf("responder closed")
		case env, ok := <-r.channel.Inbound():
			if !ok {
				return domain.Envelope{}, fmt.Errorf("signaling channel closed")
			}
			if env.Type == domain.MessageOffer && env.Offer != nil {
				return env, nil
			}
		case <-ticker.C:
		}
	}
}

func (r *HostResponder) consumeCandidates(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case env, ok := <-r.channel.Inbound():
			if !ok {
				return nil
			}
			if env.Type != domain.MessageCandidate {
				continue
			}
			normalized := domain.NormalizeCandidate(env.Candidate)
			switch normalized.Kind {
			case domain.CandidateCanonical:
				if err := r.negotiator.AddRemoteCandidate(normalized.Candidate); err != nil {
					r.logger.Infow("remote candidate rejected",
						"session_id", r.sessionID,
						"error", err,
					)
				}
			case domain.CandidateUnrecognized:
				r.logger.Infow("dropping unrecognized candidate", "session_id", r.sessionID)
			}
		}
	}
}

func (r *HostResponder) sendCandidate(c domain.Candidate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := r.channel.Send(ctx, domain.Envelope{
		Type:      domain.MessageCandidate,
		SessionID: r.sessionID,
		HostID:    r.hostID,
		Candidate: c.Raw(),
	}); err != nil {
		r.logger.Infow("failed to send candidate",
			"session_id", r.sessionID,
			"error", err,
		)
	}
}

// Close releases the peer connection and the channel. Idempotent.
func (r *HostResponder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if _, err := r.channel.Send(ctx, domain.Envelope{
			Type:      domain.MessageLeave,
			SessionID: r.sessionID,
		}); err != nil {
			r.logger.Debugw("leave notification failed", "session_id", r.sessionID, "error", err)
		}
		cancel()

		if err := r.negotiator.Close(); err != nil {
			r.logger.Debugw("negotiator close failed", "session_id", r.sessionID, "error", err)
		}
		if err := r.channel.Close(); err != nil {
			r.logger.Debugw("channel close failed", "session_id", r.sessionID, "error", err)
		}
	})
}
