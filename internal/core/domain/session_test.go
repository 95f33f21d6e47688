package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSession_StatusOnlyProgressesForward(t *testing.T) {
	s := NewSession("s1", "host-1", t0)
	assert.Equal(t, StatusWaiting, s.Status)

	s.SetOffer(json.RawMessage(`{"type":"offer"}`), t0.Add(time.Second))
	assert.Equal(t, StatusConnecting, s.Status)

	// A second offer write never moves the status backward.
	s.SetAnswer(json.RawMessage(`{"type":"answer"}`), t0.Add(2*time.Second))
	assert.Equal(t, StatusConnected, s.Status)

	s.SetOffer(json.RawMessage(`{"type":"offer","v":2}`), t0.Add(3*time.Second))
	assert.Equal(t, StatusConnected, s.Status)
}

func TestSession_AnswerInWaitingDoesNotConnect(t *testing.T) {
	s := NewSession("s1", "host-1", t0)
	s.SetAnswer(json.RawMessage(`{"type":"answer"}`), t0.Add(time.Second))
	assert.Equal(t, StatusWaiting, s.Status, "connected is reachable only from connecting")
}

func TestSession_CandidateAttributionByClaimedID(t *testing.T) {
	s := NewSession("s1", "host-1", t0)

	s.AppendCandidate("host-1", json.RawMessage(`"a"`), t0)
	s.AppendCandidate("client-1", json.RawMessage(`"b"`), t0)
	s.AppendCandidate("", json.RawMessage(`"c"`), t0)

	assert.Len(t, s.HostCandidates, 1)
	assert.Len(t, s.ClientCandidates, 2, "unknown and empty claims land on the client side")
}

func TestSession_DrainIsDestructiveAndSided(t *testing.T) {
	s := NewSession("s1", "host-1", t0)
	for _, c := range []string{`"h1"`, `"h2"`, `"h3"`} {
		s.AppendCandidate("host-1", json.RawMessage(c), t0)
	}
	s.AppendCandidate("client-1", json.RawMessage(`"c1"`), t0)

	// The client drains the host's buffer, in order.
	got := s.DrainCandidatesFor("client-1", t0.Add(time.Second))
	require.Len(t, got, 3)
	assert.JSONEq(t, `"h1"`, string(got[0]))
	assert.JSONEq(t, `"h3"`, string(got[2]))

	// At-most-once: a second drain is empty.
	assert.Empty(t, s.DrainCandidatesFor("client-1", t0.Add(2*time.Second)))

	// The host's drain of the client buffer is untouched by the above.
	assert.Len(t, s.DrainCandidatesFor("host-1", t0.Add(3*time.Second)), 1)
}

func TestSession_TouchMonotonic(t *testing.T) {
	s := NewSession("s1", "host-1", t0)
	s.Touch(t0.Add(time.Minute))
	s.Touch(t0) // stale clock reading must not rewind activity
	assert.Equal(t, t0.Add(time.Minute), s.LastActivity)
}

func TestSession_Expired(t *testing.T) {
	s := NewSession("s1", "host-1", t0)
	ttl := 5 * time.Minute
	assert.False(t, s.Expired(t0.Add(5*time.Minute), ttl))
	assert.True(t, s.Expired(t0.Add(5*time.Minute+time.Second), ttl))
}
