package ports

import (
	"context"

	"pairlink/internal/core/domain"
)

// SignalChannel is the peer-side view of the relay: an abstract asynchronous
// send/receive channel. The connection manager is transport-agnostic; the
// WebSocket adapter delivers pushed messages on Inbound, the HTTP adapter
// fills Inbound from a bounded-interval poll loop.
type SignalChannel interface {
	// Open establishes the channel. It must respect ctx's deadline so the
	// manager can bound the signaling-connect phase.
	Open(ctx context.Context) error

	// Send transmits one envelope and returns the relay's response.
	Send(ctx context.Context, env domain.Envelope) (*domain.Response, error)

	// Inbound delivers messages originated by the remote peer (offer,
	// answer, candidate). The channel is closed when the transport closes.
	Inbound() <-chan domain.Envelope

	// Close tears the channel down. Safe to call more than once.
	Close() error
}
