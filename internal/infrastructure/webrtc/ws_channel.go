package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	apperrors "pairlink/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSChannel is the push transport adapter: one socket per attempt, responses
// correlated with the in-flight request, everything else surfaced on Inbound.
type WSChannel struct {
	endpoint  string
	sessionID domain.SessionID
	peerID    domain.PeerID

	conn         *websocket.Conn
	writeTimeout time.Duration

	inbound   chan domain.Envelope
	responses chan domain.Response

	// sendMu keeps one request in flight; the protocol correlates responses
	// by type/sessionId only, so concurrent sends would cross-match.
	sendMu  sync.Mutex
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}

	logger *zap.SugaredLogger
}

// NewWSChannel builds an adapter for endpoint (ws://host/ws). The socket is
// dialed on Open.
func NewWSChannel(endpoint string, sessionID domain.SessionID, peerID domain.PeerID, writeTimeout time.Duration, logger *zap.SugaredLogger) *WSChannel {
	return &WSChannel{
		endpoint:     endpoint,
		sessionID:    sessionID,
		peerID:       peerID,
		writeTimeout: writeTimeout,
		inbound:      make(chan domain.Envelope, 32),
		responses:    make(chan domain.Response, 1),
		done:         make(chan struct{}),
		logger:       logger,
	}
}

func (c *WSChannel) Open(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("invalid relay endpoint: %w", err)
	}
	q := u.Query()
	q.Set("session_id", string(c.sessionID))
	q.Set("peer_id", string(c.peerID))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}
	c.conn = conn

	go c.readLoop()
	return nil
}

// readLoop splits the frame stream: relay responses carry a success field,
// everything else is a pushed envelope from the counterpart.
func (c *WSChannel) readLoop() {
	defer close(c.inbound)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debugw("socket read failed", "session_id", c.sessionID, "error", err)
			}
			return
		}

		var probe struct {
			Success *bool `json:"success"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			c.logger.Infow("dropping unparseable frame", "session_id", c.sessionID, "error", err)
			continue
		}

		if probe.Success != nil {
			var resp domain.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				c.logger.Infow("dropping malformed response", "session_id", c.sessionID, "error", err)
				continue
			}
			select {
			case c.responses <- resp:
			default:
				c.logger.Debugw("dropping uncorrelated response", "session_id", c.sessionID, "type", resp.Type)
			}
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Infow("dropping malformed envelope", "session_id", c.sessionID, "error", err)
			continue
		}
		select {
		case c.inbound <- env:
		case <-c.done:
			return
		}
	}
}

func (c *WSChannel) Send(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if c.conn == nil {
		return nil, apperrors.NewTransportError("channel is not open")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	// Drain a stale response left over from a timed-out send.
	select {
	case <-c.responses:
	default:
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	err := c.conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeTransport, "failed to send message", 502)
	}

	select {
	case resp := <-c.responses:
		if !resp.Success {
			return &resp, apperrors.NewTransportError(resp.Error)
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, apperrors.WrapError(ctx.Err(), apperrors.ErrCodeTransport, "timed out waiting for relay response", 502)
	case <-c.done:
		return nil, apperrors.NewTransportError("channel closed")
	}
}

func (c *WSChannel) Inbound() <-chan domain.Envelope {
	return c.inbound
}

func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
			c.conn.Close()
		}
	})
	return nil
}
