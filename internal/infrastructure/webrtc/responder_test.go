package webrtc

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	apperrors "pairlink/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestResponder(channel *fakeChannel, negotiator *fakeNegotiator) *HostResponder {
	return NewHostResponder("s1", "host-1", 10*time.Millisecond, channel, negotiator, zap.NewNop().Sugar())
}

func TestResponder_AnswersPolledOffer(t *testing.T) {
	channel := newFakeChannel()
	negotiator := &fakeNegotiator{}

	// The offer shows up on the second poll.
	var polls atomic.Int32
	channel.respond = func(env domain.Envelope) (*domain.Response, error) {
		if env.Type == domain.MessageGetOffer {
			if polls.Add(1) < 2 {
				return nil, apperrors.NewNotFoundError("offer")
			}
			return &domain.Response{
				Success: true,
				Type:    env.Type,
				Offer:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
			}, nil
		}
		return &domain.Response{Success: true, Type: env.Type}, nil
	}

	r := newTestResponder(channel, negotiator)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return channel.countSent(domain.MessageAnswer) == 1
	}, time.Second, 5*time.Millisecond)

	// Remote candidates land directly on the peer connection.
	channel.inbound <- domain.Envelope{Type: domain.MessageCandidate, SessionID: "s1", Candidate: json.RawMessage(`"candidate:remote"`)}
	require.Eventually(t, func() bool {
		return negotiator.addedCount() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("responder did not stop on context cancel")
	}
}

func TestResponder_PushedOfferShortCircuitsPoll(t *testing.T) {
	channel := newFakeChannel()
	negotiator := &fakeNegotiator{}

	channel.respond = func(env domain.Envelope) (*domain.Response, error) {
		if env.Type == domain.MessageGetOffer {
			return nil, apperrors.NewNotFoundError("offer")
		}
		return &domain.Response{Success: true, Type: env.Type}, nil
	}

	r := newTestResponder(channel, negotiator)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx)

	channel.inbound <- domain.Envelope{
		Type:      domain.MessageOffer,
		SessionID: "s1",
		HostID:    "host-1",
		Offer:     json.RawMessage(`{"sdp":"v=0"}`),
	}

	require.Eventually(t, func() bool {
		return channel.countSent(domain.MessageAnswer) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestResponder_LocalCandidatesClaimHostID(t *testing.T) {
	channel := newFakeChannel()
	negotiator := &fakeNegotiator{}

	channel.respond = func(env domain.Envelope) (*domain.Response, error) {
		if env.Type == domain.MessageGetOffer {
			return &domain.Response{Success: true, Offer: json.RawMessage(`{}`)}, nil
		}
		return &domain.Response{Success: true, Type: env.Type}, nil
	}

	r := newTestResponder(channel, negotiator)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go r.Run(ctx)

	require.Eventually(t, func() bool {
		return channel.countSent(domain.MessageAnswer) == 1
	}, time.Second, 5*time.Millisecond)

	negotiator.fireCandidate(&domain.Candidate{Candidate: "candidate:host"})

	require.Eventually(t, func() bool {
		return channel.countSent(domain.MessageCandidate) == 1
	}, time.Second, 5*time.Millisecond)

	channel.mu.Lock()
	defer channel.mu.Unlock()
	for _, env := range channel.sent {
		if env.Type == domain.MessageCandidate {
			assert.Equal(t, domain.PeerID("host-1"), env.HostID)
		}
	}
}

func TestResponder_CloseIdempotent(t *testing.T) {
	channel := newFakeChannel()
	negotiator := &fakeNegotiator{}

	r := newTestResponder(channel, negotiator)
	r.Close()
	r.Close()

	assert.Equal(t, 1, channel.countSent(domain.MessageLeave))
	negotiator.mu.Lock()
	assert.True(t, negotiator.closed)
	negotiator.mu.Unlock()
}
