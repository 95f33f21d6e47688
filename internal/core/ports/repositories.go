package ports

import (
	"context"
	"time"

	"pairlink/internal/core/domain"
)

// SessionMutator is applied to a single session record under the store's
// per-session atomicity guarantee. found is false when the session does not
// exist or has expired; the mutator may create it by returning a new record.
// Returning an error aborts the write.
type SessionMutator func(s *domain.Session, found bool) (*domain.Session, error)

// SessionRepository is the ephemeral rendezvous state store. Expired sessions
// are indistinguishable from never-created ones on every operation.
type SessionRepository interface {
	// Put applies the mutator to the session as one atomic
	// read-modify-write. Concurrent Puts to the same session never lose
	// updates; different sessions need no coordination.
	Put(ctx context.Context, id domain.SessionID, mutate SessionMutator) error

	// Get returns the session or domain.ErrSessionNotFound.
	Get(ctx context.Context, id domain.SessionID) (*domain.Session, error)

	// Sweep removes sessions idle past the TTL and reports how many went.
	// Stores with native per-key expiry may make this a no-op.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Count reports the number of live sessions.
	Count(ctx context.Context) (int, error)
}
