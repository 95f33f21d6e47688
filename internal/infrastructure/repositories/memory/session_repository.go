package memory

import (
	"context"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/utils"
)

// MemorySessionRepository keeps rendezvous state in a process-local map.
// Expiry is enforced lazily on access and eagerly by Sweep, so an idle
// session past its TTL is indistinguishable from one that never existed.
type MemorySessionRepository struct {
	sessions map[domain.SessionID]*domain.Session
	ttl      time.Duration
	mu       sync.Mutex
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]*domain.Session),
		ttl:      ttl,
	}
}

func (r *MemorySessionRepository) Put(ctx context.Context, id domain.SessionID, mutate ports.SessionMutator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, found := r.live(id)

	// The mutator works on a copy so an aborted write leaves no trace.
	var working *domain.Session
	if found {
		clone := *sess
		working = &clone
	}

	updated, err := mutate(working, found)
	if err != nil {
		return err
	}
	if updated == nil {
		delete(r.sessions, id)
		return nil
	}

	r.sessions[id] = updated
	return nil
}

func (r *MemorySessionRepository) Get(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, found := r.live(id)
	if !found {
		return nil, domain.ErrSessionNotFound
	}

	clone := *sess
	return &clone, nil
}

func (r *MemorySessionRepository) Sweep(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, sess := range r.sessions {
		if sess.Expired(now, r.ttl) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *MemorySessionRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, sess := range r.sessions {
		if !sess.Expired(utils.Now(), r.ttl) {
			count++
		}
	}
	return count, nil
}

// live returns the session only if it exists and has not expired. Expired
// records are dropped on sight rather than waiting for the sweep.
func (r *MemorySessionRepository) live(id domain.SessionID) (*domain.Session, bool) {
	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	if sess.Expired(utils.Now(), r.ttl) {
		delete(r.sessions, id)
		return nil, false
	}
	return sess, true
}
