package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/infrastructure/repositories/memory"
	apperrors "pairlink/pkg/errors"
	"pairlink/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMetrics struct{}

func (nopMetrics) MessageHandled(string, bool, time.Duration) {}
func (nopMetrics) SessionCreated()                            {}
func (nopMetrics) SessionsExpired(int)                        {}
func (nopMetrics) RateLimited()                               {}
func (nopMetrics) ConnectionOpened()                          {}
func (nopMetrics) ConnectionClosed()                          {}

func newTestService() *RelayService {
	store := memory.NewMemorySessionRepository(5 * time.Minute)
	return NewRelayService(store, nopMetrics{}, zap.NewNop().Sugar())
}

func mustHandle(t *testing.T, svc *RelayService, env domain.Envelope) *domain.Response {
	t.Helper()
	resp, err := svc.HandleMessage(context.Background(), env)
	require.NoError(t, err)
	require.True(t, resp.Success)
	return resp
}

func handleErr(t *testing.T, svc *RelayService, env domain.Envelope) *apperrors.AppError {
	t.Helper()
	_, err := svc.HandleMessage(context.Background(), env)
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr, "relay errors must be typed")
	return appErr
}

func TestHandleMessage_MissingSessionID(t *testing.T) {
	svc := newTestService()
	appErr := handleErr(t, svc, domain.Envelope{Type: domain.MessageOffer, HostID: "h"})
	assert.Equal(t, apperrors.ErrCodeProtocol, appErr.Code)

	// no session mutation happened
	n, err := svc.ActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleMessage_UnknownType(t *testing.T) {
	svc := newTestService()
	appErr := handleErr(t, svc, domain.Envelope{Type: "subscribe", SessionID: "s"})
	assert.Equal(t, apperrors.ErrCodeProtocol, appErr.Code)
}

func TestCreateSession_ThenDuplicate(t *testing.T) {
	svc := newTestService()
	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "h"})
	assert.Equal(t, domain.StatusWaiting, resp.Status)

	appErr := handleErr(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "h"})
	assert.Equal(t, apperrors.ErrCodeConflict, appErr.Code)
}

// Scenario: create-session then offer; get-offer returns the stored offer and
// the session is connecting.
func TestOfferFlow(t *testing.T) {
	svc := newTestService()
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0..."}`)

	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "h"})
	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageOffer, SessionID: "s", HostID: "h", Offer: offer})
	assert.Equal(t, domain.StatusConnecting, resp.Status)

	got := mustHandle(t, svc, domain.Envelope{Type: domain.MessageGetOffer, SessionID: "s"})
	assert.JSONEq(t, string(offer), string(got.Offer))
	assert.Equal(t, domain.StatusConnecting, got.Status)
}

func TestOffer_ImplicitSessionCreation(t *testing.T) {
	svc := newTestService()
	offer := json.RawMessage(`{"type":"offer"}`)

	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageOffer, SessionID: "s", HostID: "h", Offer: offer})
	assert.Equal(t, domain.StatusConnecting, resp.Status)

	n, err := svc.ActiveSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Scenario: after the offer, the host answers; get-answer returns it and the
// session is connected.
func TestAnswerFlow(t *testing.T) {
	svc := newTestService()
	answer := json.RawMessage(`{"type":"answer","sdp":"v=0..."}`)

	mustHandle(t, svc, domain.Envelope{Type: domain.MessageOffer, SessionID: "s", HostID: "h", Offer: json.RawMessage(`{}`)})
	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageAnswer, SessionID: "s", Answer: answer})
	assert.Equal(t, domain.StatusConnected, resp.Status)

	got := mustHandle(t, svc, domain.Envelope{Type: domain.MessageGetAnswer, SessionID: "s"})
	assert.JSONEq(t, string(answer), string(got.Answer))
	assert.Equal(t, domain.StatusConnected, got.Status)
}

func TestAnswer_RequiresExistingSession(t *testing.T) {
	svc := newTestService()
	appErr := handleErr(t, svc, domain.Envelope{Type: domain.MessageAnswer, SessionID: "nope", Answer: json.RawMessage(`{}`)})
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestGetOffer_NoStoredValueIsNotFound(t *testing.T) {
	svc := newTestService()
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "h"})

	appErr := handleErr(t, svc, domain.Envelope{Type: domain.MessageGetOffer, SessionID: "s"})
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)

	appErr = handleErr(t, svc, domain.Envelope{Type: domain.MessageGetAnswer, SessionID: "s"})
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

// Scenario: candidates posted with the host's id land in the host buffer; the
// client drains exactly those, in order, exactly once.
func TestCandidateDrain(t *testing.T) {
	svc := newTestService()
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "H"})

	for _, c := range []string{`"c1"`, `"c2"`, `"c3"`} {
		mustHandle(t, svc, domain.Envelope{
			Type: domain.MessageCandidate, SessionID: "s", HostID: "H",
			Candidate: json.RawMessage(c),
		})
	}

	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageGetCandidate, SessionID: "s", HostID: "client-id"})
	require.Len(t, resp.Candidates, 3)
	assert.JSONEq(t, `"c1"`, string(resp.Candidates[0]))
	assert.JSONEq(t, `"c2"`, string(resp.Candidates[1]))
	assert.JSONEq(t, `"c3"`, string(resp.Candidates[2]))

	again := mustHandle(t, svc, domain.Envelope{Type: domain.MessageGetCandidate, SessionID: "s", HostID: "client-id"})
	assert.Empty(t, again.Candidates)
}

func TestCandidate_OppositeSideUnaffectedByDrain(t *testing.T) {
	svc := newTestService()
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "H"})

	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCandidate, SessionID: "s", HostID: "H", Candidate: json.RawMessage(`"host-c"`)})
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCandidate, SessionID: "s", HostID: "client-id", Candidate: json.RawMessage(`"client-c"`)})

	// host drains the client's buffer only
	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageGetCandidate, SessionID: "s", HostID: "H"})
	require.Len(t, resp.Candidates, 1)
	assert.JSONEq(t, `"client-c"`, string(resp.Candidates[0]))

	// the host buffer is still intact for the client
	resp = mustHandle(t, svc, domain.Envelope{Type: domain.MessageGetCandidate, SessionID: "s", HostID: "client-id"})
	require.Len(t, resp.Candidates, 1)
	assert.JSONEq(t, `"host-c"`, string(resp.Candidates[0]))
}

func TestLeave_IsIdempotentAndBestEffort(t *testing.T) {
	svc := newTestService()
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageCreateSession, SessionID: "s", HostID: "h"})

	resp := mustHandle(t, svc, domain.Envelope{Type: domain.MessageLeave, SessionID: "s"})
	assert.Equal(t, domain.StatusDisconnected, resp.Status)

	// leaving again, and leaving an unknown session, both succeed
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageLeave, SessionID: "s"})
	mustHandle(t, svc, domain.Envelope{Type: domain.MessageLeave, SessionID: "ghost"})
}

func TestExpiredSession_LooksNeverCreated(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	utils.Now = func() time.Time { return now }
	defer func() { utils.Now = time.Now }()
	store := memory.NewMemorySessionRepository(5 * time.Minute)
	svc := NewRelayService(store, nopMetrics{}, zap.NewNop().Sugar())

	mustHandle(t, svc, domain.Envelope{Type: domain.MessageOffer, SessionID: "s", HostID: "h", Offer: json.RawMessage(`{}`)})

	now = base.Add(6 * time.Minute)

	appErr := handleErr(t, svc, domain.Envelope{Type: domain.MessageGetOffer, SessionID: "s"})
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
	appErr = handleErr(t, svc, domain.Envelope{Type: domain.MessageCandidate, SessionID: "s", HostID: "h", Candidate: json.RawMessage(`"c"`)})
	assert.Equal(t, apperrors.ErrCodeNotFound, appErr.Code)
}

func TestRequiredPayloads(t *testing.T) {
	svc := newTestService()
	cases := []domain.Envelope{
		{Type: domain.MessageCreateSession, SessionID: "s"},                       // no hostId
		{Type: domain.MessageOffer, SessionID: "s", HostID: "h"},                  // no offer
		{Type: domain.MessageAnswer, SessionID: "s"},                              // no answer
		{Type: domain.MessageCandidate, SessionID: "s", HostID: "h"},              // no candidate
		{Type: domain.MessageCandidate, SessionID: "s", Candidate: []byte(`"c"`)}, // no hostId
		{Type: domain.MessageGetCandidate, SessionID: "s"},                        // no hostId
	}
	for _, env := range cases {
		appErr := handleErr(t, svc, env)
		assert.Equalf(t, apperrors.ErrCodeProtocol, appErr.Code, "envelope %+v", env)
	}
}

// memory store also needs the fake clock for the expiry test above; keep the
// sweeper loop itself covered through a tight interval run.
func TestRunSweeper_Stops(t *testing.T) {
	svc := newTestService()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
