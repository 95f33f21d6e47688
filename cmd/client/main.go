package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	webrtcinfra "pairlink/internal/infrastructure/webrtc"
	"pairlink/pkg/config"
	"pairlink/pkg/logger"
	"pairlink/pkg/utils"

	"github.com/pion/webrtc/v3"
)

// The client binary initiates one rendezvous session against a host that is
// answering with the same relay and session id.
func main() {
	var (
		relayURL  = flag.String("relay", "http://localhost:8080/signal", "relay signaling endpoint (http://.../signal or ws://.../ws)")
		sessionID = flag.String("session", "", "session id (generated if empty; give the same id to the host)")
		hostID    = flag.String("host-id", "", "peer id of the host to dial")
		message   = flag.String("message", "hello from pairlink client", "payload to send once connected")
		useWS     = flag.Bool("ws", false, "use the websocket transport instead of polling")
	)
	flag.Parse()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/pairlink/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *hostID == "" {
		log.Fatal("-host-id is required")
	}
	if *sessionID == "" {
		*sessionID = utils.GenerateSessionID()
	}

	sid := domain.SessionID(*sessionID)
	peerID := domain.PeerID(utils.GeneratePeerID())

	negotiator, err := webrtcinfra.NewPionNegotiator(iceServers(cfg), log)
	if err != nil {
		log.Fatalw("failed to create peer connection", "error", err)
	}

	var channel ports.SignalChannel
	if *useWS {
		channel = webrtcinfra.NewWSChannel(*relayURL, sid, peerID, cfg.WebSocket.WriteTimeout, log)
	} else {
		channel = webrtcinfra.NewPollChannel(*relayURL, sid, peerID, webrtcinfra.RoleClient, cfg.Peer.PollInterval, log)
	}

	manager := webrtcinfra.NewConnectionManager(webrtcinfra.ManagerConfig{
		SessionID:        sid,
		PeerID:           peerID,
		HostID:           domain.PeerID(*hostID),
		SignalingTimeout: cfg.Peer.SignalingTimeout,
		FallbackTimeout:  cfg.Peer.FallbackTimeout,
	}, channel, negotiator, log)
	defer manager.Cleanup()

	manager.OnStateChange(func(state webrtcinfra.ManagerState) {
		log.Infow("connection state", "state", state)
		if state == webrtcinfra.StateConnected {
			if err := manager.SendMessage([]byte(*message)); err != nil {
				log.Warnw("send failed", "error", err)
			}
		}
	})
	manager.OnMessage(func(payload []byte) {
		log.Infow("data channel message", "payload", string(payload))
	})
	manager.OnDegraded(func() {
		log.Warnw("direct connection not established in time, consider a relayed fallback",
			"timeout", cfg.Peer.FallbackTimeout,
		)
	})
	manager.OnError(func(err error) {
		log.Warnw("connection error", "error", err)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("dialing host", "session_id", sid, "peer_id", peerID, "host_id", *hostID, "relay", *relayURL)
	if err := manager.Connect(ctx); err != nil {
		log.Fatalw("connect failed", "error", err)
	}

	<-ctx.Done()
	log.Info("client stopped")
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}
	return servers
}
