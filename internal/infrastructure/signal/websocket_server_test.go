package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/services"
	"pairlink/internal/infrastructure/repositories/memory"
	"pairlink/pkg/config"

	"github.com/gorilla/websocket"
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

func newTestServer(t *testing.T) (*WebSocketServer, *httptest.Server) {
	t.Helper()

	store := memory.NewMemorySessionRepository(5 * time.Minute)
	svc := services.NewRelayService(store, nopMetrics{}, zap.NewNop().Sugar())

	cfg := config.DefaultConfig()
	server := NewWebSocketServer(svc, nopMetrics{}, cfg, zap.NewNop().Sugar())

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return server, ts
}

func dial(t *testing.T, ts *httptest.Server, sessionID, peerID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?session_id=" + sessionID + "&peer_id=" + peerID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHandleWebSocket_RequiresQueryParams(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleWebSocket_OfferIsAckedAndForwarded(t *testing.T) {
	_, ts := newTestServer(t)

	host := dial(t, ts, "s1", "h1")
	client := dial(t, ts, "s1", "c1")

	err := host.WriteJSON(domain.Envelope{
		Type:      domain.MessageOffer,
		SessionID: "s1",
		HostID:    "h1",
		Offer:     json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	require.NoError(t, err)

	// Sender gets the correlated response.
	ack := readJSON(t, host)
	assert.JSONEq(t, `true`, string(ack["success"]))
	assert.JSONEq(t, `"offer"`, string(ack["type"]))

	// Counterpart gets the raw envelope pushed without polling.
	fwd := readJSON(t, client)
	assert.JSONEq(t, `"offer"`, string(fwd["type"]))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(fwd["offer"]))
}

func TestHandleWebSocket_AnswerForwardedToHost(t *testing.T) {
	_, ts := newTestServer(t)

	host := dial(t, ts, "s2", "h1")
	client := dial(t, ts, "s2", "c1")

	require.NoError(t, host.WriteJSON(domain.Envelope{
		Type:      domain.MessageOffer,
		SessionID: "s2",
		HostID:    "h1",
		Offer:     json.RawMessage(`{"sdp":"v=0"}`),
	}))
	readJSON(t, host)   // ack
	readJSON(t, client) // forwarded offer

	require.NoError(t, client.WriteJSON(domain.Envelope{
		Type:      domain.MessageAnswer,
		SessionID: "s2",
		Answer:    json.RawMessage(`{"sdp":"v=0 answer"}`),
	}))

	ack := readJSON(t, client)
	assert.JSONEq(t, `true`, string(ack["success"]))
	assert.JSONEq(t, `"connected"`, string(ack["status"]))

	fwd := readJSON(t, host)
	assert.JSONEq(t, `"answer"`, string(fwd["type"]))
	assert.JSONEq(t, `{"sdp":"v=0 answer"}`, string(fwd["answer"]))
}

func TestHandleWebSocket_SessionMismatchRejected(t *testing.T) {
	_, ts := newTestServer(t)

	host := dial(t, ts, "s3", "h1")

	require.NoError(t, host.WriteJSON(domain.Envelope{
		Type:      domain.MessageOffer,
		SessionID: "other",
		HostID:    "h1",
		Offer:     json.RawMessage(`{}`),
	}))

	resp := readJSON(t, host)
	assert.JSONEq(t, `false`, string(resp["success"]))
}

func TestHandleWebSocket_ErrorResponseForUnknownSession(t *testing.T) {
	_, ts := newTestServer(t)

	client := dial(t, ts, "s4", "c1")

	require.NoError(t, client.WriteJSON(domain.Envelope{
		Type:      domain.MessageGetOffer,
		SessionID: "s4",
	}))

	resp := readJSON(t, client)
	assert.JSONEq(t, `false`, string(resp["success"]))
	assert.Contains(t, string(resp["error"]), "not found")
}

func TestActiveConnections(t *testing.T) {
	server, ts := newTestServer(t)

	host := dial(t, ts, "s5", "h1")
	_ = dial(t, ts, "s5", "c1")

	require.Eventually(t, func() bool {
		return server.ActiveConnections() == 2
	}, time.Second, 10*time.Millisecond)

	host.Close()
	require.Eventually(t, func() bool {
		return server.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)
}
