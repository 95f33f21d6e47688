package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T, now *time.Time) *MemorySessionRepository {
	t.Helper()
	utils.Now = func() time.Time { return *now }
	t.Cleanup(func() { utils.Now = time.Now })
	return NewMemorySessionRepository(5 * time.Minute)
}

func createSession(t *testing.T, repo *MemorySessionRepository, id domain.SessionID, now time.Time) {
	t.Helper()
	err := repo.Put(context.Background(), id, func(s *domain.Session, found bool) (*domain.Session, error) {
		require.False(t, found)
		return domain.NewSession(id, "host-1", now), nil
	})
	require.NoError(t, err)
}

func TestPut_CreateAndGet(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	createSession(t, repo, "s1", now)

	sess, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, sess.Status)
	assert.Equal(t, domain.PeerID("host-1"), sess.HostID)
}

func TestGet_Missing(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPut_MutatorErrorAbortsWrite(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	createSession(t, repo, "s1", now)

	boom := errors.New("rejected")
	err := repo.Put(context.Background(), "s1", func(s *domain.Session, found bool) (*domain.Session, error) {
		s.SetOffer(json.RawMessage(`{}`), now)
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	sess, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, sess.Offer, "aborted mutation must leave no trace")
	assert.Equal(t, domain.StatusWaiting, sess.Status)
}

func TestGet_ReturnsCopy(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	createSession(t, repo, "s1", now)

	sess, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	sess.Status = domain.StatusConnected

	again, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, again.Status)
}

func TestExpiry_ExpiredLooksNeverCreated(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	createSession(t, repo, "s1", now)

	now = t0.Add(5*time.Minute + time.Second)

	_, err := repo.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	// Put sees it as not found and may recreate from scratch.
	err = repo.Put(context.Background(), "s1", func(s *domain.Session, found bool) (*domain.Session, error) {
		assert.False(t, found)
		return domain.NewSession("s1", "host-2", now), nil
	})
	require.NoError(t, err)

	sess, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("host-2"), sess.HostID)
}

func TestExpiry_ActivityExtendsLifetime(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	createSession(t, repo, "s1", now)

	// Touch at 4m, check at 8m: still inside the window from last activity.
	now = t0.Add(4 * time.Minute)
	err := repo.Put(context.Background(), "s1", func(s *domain.Session, found bool) (*domain.Session, error) {
		require.True(t, found)
		s.Touch(now)
		return s, nil
	})
	require.NoError(t, err)

	now = t0.Add(8 * time.Minute)
	_, err = repo.Get(context.Background(), "s1")
	assert.NoError(t, err)
}

func TestSweep_RemovesOnlyIdleSessions(t *testing.T) {
	now := t0
	repo := newTestRepo(t, &now)
	createSession(t, repo, "old", now)

	now = t0.Add(4 * time.Minute)
	createSession(t, repo, "fresh", now)

	removed, err := repo.Sweep(context.Background(), t0.Add(5*time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPut_ConcurrentAppendsAreNotLost(t *testing.T) {
	repo := NewMemorySessionRepository(5 * time.Minute)
	ctx := context.Background()

	err := repo.Put(ctx, "s1", func(s *domain.Session, found bool) (*domain.Session, error) {
		return domain.NewSession("s1", "host-1", time.Now()), nil
	})
	require.NoError(t, err)

	const writers = 8
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(side int) {
			defer wg.Done()
			claimed := domain.PeerID("host-1")
			if side%2 == 0 {
				claimed = "client-1"
			}
			for i := 0; i < perWriter; i++ {
				_ = repo.Put(ctx, "s1", func(s *domain.Session, found bool) (*domain.Session, error) {
					s.AppendCandidate(claimed, json.RawMessage(`"c"`), time.Now())
					return s, nil
				})
			}
		}(w)
	}
	wg.Wait()

	sess, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, len(sess.HostCandidates)+len(sess.ClientCandidates))
}
