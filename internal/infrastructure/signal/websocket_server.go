package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	"pairlink/pkg/config"
	apperrors "pairlink/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebSocketServer is the push binding. Peers attach to a session with
// session_id/peer_id query parameters; every envelope is recorded through the
// signal service and forwardable envelopes are pushed to the counterpart
// immediately, so connected peers never poll.
type WebSocketServer struct {
	signal  ports.SignalService
	metrics ports.MetricsRecorder

	sessions map[domain.SessionID]map[domain.PeerID]*peerConn
	mu       sync.RWMutex

	upgrader websocket.Upgrader

	pingInterval    time.Duration
	pongTimeout     time.Duration
	writeTimeout    time.Duration
	maxMessageBytes int64

	msgRate  rate.Limit
	msgBurst int

	logger *zap.SugaredLogger
}

// peerConn serializes writes. Forwarded envelopes arrive from the counterpart's
// loop while pings come from our own, and gorilla connections allow only one
// concurrent writer.
type peerConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (p *peerConn) writeJSON(v interface{}) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	return p.conn.WriteJSON(v)
}

func NewWebSocketServer(
	signal ports.SignalService,
	metrics ports.MetricsRecorder,
	cfg *config.Config,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	s := &WebSocketServer{
		signal:          signal,
		metrics:         metrics,
		sessions:        make(map[domain.SessionID]map[domain.PeerID]*peerConn),
		pingInterval:    cfg.WebSocket.PingInterval,
		pongTimeout:     cfg.WebSocket.PongTimeout,
		writeTimeout:    cfg.WebSocket.WriteTimeout,
		maxMessageBytes: cfg.Relay.MaxMessageBytes,
		logger:          logger,
	}

	if cfg.RateLimiting.Enabled {
		s.msgRate = rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond)
		s.msgBurst = cfg.RateLimiting.WebSocket.Burst
	}

	allowed := make(map[string]struct{}, len(cfg.Relay.AllowedOrigins))
	allowAll := len(cfg.Relay.AllowedOrigins) == 0
	for _, o := range cfg.Relay.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}

	return s
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(r.URL.Query().Get("session_id"))
	peerID := domain.PeerID(r.URL.Query().Get("peer_id"))
	if sessionID == "" || peerID == "" {
		http.Error(w, "session_id and peer_id query parameters are required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pc := &peerConn{conn: conn, writeTimeout: s.writeTimeout}
	s.register(sessionID, peerID, pc)
	s.metrics.ConnectionOpened()
	defer func() {
		s.deregister(sessionID, peerID, pc)
		s.metrics.ConnectionClosed()
		s.logger.Infow("peer disconnected", "session_id", sessionID, "peer_id", peerID)
	}()

	s.logger.Infow("peer connected", "session_id", sessionID, "peer_id", peerID)

	conn.SetReadLimit(s.maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	var limiter *rate.Limiter
	if s.msgRate > 0 {
		limiter = rate.NewLimiter(s.msgRate, s.msgBurst)
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan domain.Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env domain.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.metrics.RateLimited()
				pc.writeJSON(domain.Response{
					Success:    false,
					Type:       env.Type,
					SessionID:  env.SessionID,
					Error:      "rate limit exceeded",
					RetryAfter: 1,
				})
				continue
			}
			s.handleEnvelope(r.Context(), sessionID, peerID, pc, env)

		case <-pingTicker.C:
			pc.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			pc.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("ping failed", "session_id", sessionID, "peer_id", peerID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read failed", "session_id", sessionID, "peer_id", peerID, "error", err)
			}
			return
		}
	}
}

func (s *WebSocketServer) handleEnvelope(ctx context.Context, sessionID domain.SessionID, peerID domain.PeerID, pc *peerConn, env domain.Envelope) {
	if env.SessionID == "" {
		env.SessionID = sessionID
	}
	if env.SessionID != sessionID {
		pc.writeJSON(domain.Response{
			Success:   false,
			Type:      env.Type,
			SessionID: env.SessionID,
			Error:     "sessionId does not match this connection",
		})
		return
	}

	resp, err := s.signal.HandleMessage(ctx, env)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			s.logger.Errorw("signal handling failed",
				"session_id", sessionID,
				"peer_id", peerID,
				"type", env.Type,
				"error", err,
			)
			appErr = apperrors.NewInternalError("internal server error")
		}
		errResp := domain.Response{
			Success:   false,
			Type:      env.Type,
			SessionID: env.SessionID,
			Error:     appErr.Message,
		}
		if retryAfter, ok := appErr.Context["retryAfter"].(int); ok {
			errResp.RetryAfter = retryAfter
		}
		pc.writeJSON(errResp)
		return
	}

	if err := pc.writeJSON(resp); err != nil {
		s.logger.Infow("response write failed", "session_id", sessionID, "peer_id", peerID, "error", err)
		return
	}

	if env.Type.Forwardable() {
		s.forward(sessionID, peerID, env)
	}
}

// forward pushes an envelope to every other peer attached to the session. The
// envelope is also recorded in the store, so peers that reconnect or poll
// still see it.
func (s *WebSocketServer) forward(sessionID domain.SessionID, from domain.PeerID, env domain.Envelope) {
	s.mu.RLock()
	peers := s.sessions[sessionID]
	targets := make(map[domain.PeerID]*peerConn, len(peers))
	for id, pc := range peers {
		if id != from {
			targets[id] = pc
		}
	}
	s.mu.RUnlock()

	for id, pc := range targets {
		if err := pc.writeJSON(env); err != nil {
			s.logger.Infow("forward failed",
				"session_id", sessionID,
				"from_peer", from,
				"to_peer", id,
				"type", env.Type,
				"error", err,
			)
		}
	}
}

func (s *WebSocketServer) register(sessionID domain.SessionID, peerID domain.PeerID, pc *peerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, ok := s.sessions[sessionID]
	if !ok {
		peers = make(map[domain.PeerID]*peerConn)
		s.sessions[sessionID] = peers
	}
	if old, exists := peers[peerID]; exists {
		old.conn.Close()
		s.logger.Infow("closing old connection for reconnecting peer", "session_id", sessionID, "peer_id", peerID)
	}
	peers[peerID] = pc
}

func (s *WebSocketServer) deregister(sessionID domain.SessionID, peerID domain.PeerID, pc *peerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	// A reconnect may have replaced us already.
	if current, exists := peers[peerID]; exists && current == pc {
		delete(peers, peerID)
	}
	if len(peers) == 0 {
		delete(s.sessions, sessionID)
	}
}

// ActiveConnections reports how many push connections are attached.
func (s *WebSocketServer) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, peers := range s.sessions {
		n += len(peers)
	}
	return n
}
