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

// The host binary answers one rendezvous session: it waits for the offer,
// answers it and keeps the data channel open until interrupted, echoing
// whatever arrives.
func main() {
	var (
		relayURL  = flag.String("relay", "http://localhost:8080/signal", "relay signaling endpoint (http://.../signal or ws://.../ws)")
		sessionID = flag.String("session", "", "session id to answer (chosen by the client)")
		hostID    = flag.String("host-id", "", "host peer id (generated if empty)")
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

	if *sessionID == "" {
		log.Fatal("-session is required")
	}
	if *hostID == "" {
		*hostID = utils.GeneratePeerID()
	}

	sid := domain.SessionID(*sessionID)
	hid := domain.PeerID(*hostID)

	negotiator, err := webrtcinfra.NewPionNegotiator(iceServers(cfg), log)
	if err != nil {
		log.Fatalw("failed to create peer connection", "error", err)
	}

	var channel ports.SignalChannel
	if *useWS {
		channel = webrtcinfra.NewWSChannel(*relayURL, sid, hid, cfg.WebSocket.WriteTimeout, log)
	} else {
		channel = webrtcinfra.NewPollChannel(*relayURL, sid, hid, webrtcinfra.RoleHost, cfg.Peer.PollInterval, log)
	}

	responder := webrtcinfra.NewHostResponder(sid, hid, cfg.Peer.PollInterval, channel, negotiator, log)
	responder.OnMessage(func(payload []byte) {
		log.Infow("data channel message", "payload", string(payload))
		if err := negotiator.SendMessage(payload); err != nil {
			log.Warnw("echo failed", "error", err)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("answering session", "session_id", sid, "host_id", hid, "relay", *relayURL)
	if err := responder.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalw("responder failed", "error", err)
	}

	<-ctx.Done()
	responder.Close()
	log.Info("host stopped")
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
