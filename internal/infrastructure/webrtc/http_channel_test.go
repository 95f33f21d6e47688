package webrtc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/services"
	handlers "pairlink/internal/handlers/http"
	"pairlink/internal/infrastructure/monitoring"
	"pairlink/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pollTestMetrics struct{}

func (pollTestMetrics) MessageHandled(string, bool, time.Duration) {}
func (pollTestMetrics) SessionCreated()                            {}
func (pollTestMetrics) SessionsExpired(int)                        {}
func (pollTestMetrics) RateLimited()                               {}
func (pollTestMetrics) ConnectionOpened()                          {}
func (pollTestMetrics) ConnectionClosed()                          {}

func newRelayServer(t *testing.T) (*services.RelayService, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewMemorySessionRepository(5 * time.Minute)
	svc := services.NewRelayService(store, pollTestMetrics{}, zap.NewNop().Sugar())
	handler := handlers.NewRelayHandler(svc, monitoring.NewHealthChecker(), prometheus.NewRegistry(), zap.NewNop().Sugar(), 64*1024)

	router := gin.New()
	handler.SetupRoutes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return svc, ts
}

func TestPollChannel_SendAndPollAnswer(t *testing.T) {
	svc, ts := newRelayServer(t)

	ch := NewPollChannel(ts.URL+"/signal", "s1", "client-1", RoleClient, 20*time.Millisecond, zap.NewNop().Sugar())
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	ctx := context.Background()

	_, err := ch.Send(ctx, domain.Envelope{
		Type:      domain.MessageOffer,
		SessionID: "s1",
		HostID:    "host-1",
		Offer:     json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	require.NoError(t, err)

	// The host answers and trickles one candidate through the service
	// directly, as a second process would.
	_, err = svc.HandleMessage(ctx, domain.Envelope{
		Type:      domain.MessageAnswer,
		SessionID: "s1",
		Answer:    json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})
	require.NoError(t, err)
	_, err = svc.HandleMessage(ctx, domain.Envelope{
		Type:      domain.MessageCandidate,
		SessionID: "s1",
		HostID:    "host-1",
		Candidate: json.RawMessage(`"candidate:host"`),
	})
	require.NoError(t, err)

	var sawAnswer, sawCandidate bool
	deadline := time.After(2 * time.Second)
	for !(sawAnswer && sawCandidate) {
		select {
		case env := <-ch.Inbound():
			switch env.Type {
			case domain.MessageAnswer:
				assert.JSONEq(t, `{"type":"answer","sdp":"v=0"}`, string(env.Answer))
				sawAnswer = true
			case domain.MessageCandidate:
				assert.JSONEq(t, `"candidate:host"`, string(env.Candidate))
				sawCandidate = true
			}
		case <-deadline:
			t.Fatal("poll loop did not deliver answer and candidate")
		}
	}
}

func TestPollChannel_RelayErrorNotRetried(t *testing.T) {
	_, ts := newRelayServer(t)

	ch := NewPollChannel(ts.URL+"/signal", "missing", "client-1", RoleClient, time.Hour, zap.NewNop().Sugar())
	defer ch.Close()

	start := time.Now()
	resp, err := ch.Send(context.Background(), domain.Envelope{
		Type:      domain.MessageGetOffer,
		SessionID: "missing",
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	// A definitive relay reply must not burn backoff attempts.
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPollChannel_UnreachableRelay(t *testing.T) {
	ch := NewPollChannel("http://127.0.0.1:1/signal", "s1", "client-1", RoleClient, time.Hour, zap.NewNop().Sugar())
	ch.retryCfg.MaxAttempts = 1
	ch.retryCfg.InitialDelay = time.Millisecond
	defer ch.Close()

	resp, err := ch.Send(context.Background(), domain.Envelope{
		Type:      domain.MessageGetOffer,
		SessionID: "s1",
	})
	require.Error(t, err)
	assert.Nil(t, resp)
}
