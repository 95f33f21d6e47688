package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
)

// SignalService routes signaling envelopes without ever parsing the
// negotiation payloads. Both transport bindings delegate to one instance.
// Errors are *apperrors.AppError values carrying the HTTP status for the
// poll binding; the push binding flattens them into error responses.
type SignalService interface {
	HandleMessage(ctx context.Context, env domain.Envelope) (*domain.Response, error)

	// ActiveSessions reports live session count for health reporting.
	ActiveSessions(ctx context.Context) (int, error)
}

// MetricsRecorder absorbs relay-side counters. Implemented by the prometheus
// collector; a no-op implementation serves tests.
type MetricsRecorder interface {
	MessageHandled(msgType string, success bool, duration time.Duration)
	SessionCreated()
	SessionsExpired(n int)
	RateLimited()
	ConnectionOpened()
	ConnectionClosed()
}
