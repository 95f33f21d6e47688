package webrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	apperrors "pairlink/pkg/errors"
	"pairlink/pkg/retry"

	"go.uber.org/zap"
)

// Role selects which stored values the poll loop fetches: the client waits
// for the host's answer, the host only drains candidates (the offer fetch is
// the responder's own loop).
type Role string

const (
	RoleClient Role = "client"
	RoleHost   Role = "host"
)

// PollChannel is the stateless transport adapter: sends are plain POSTs and
// Inbound is synthesized by polling get-answer/get-candidate. Latency is
// bounded by the poll interval.
type PollChannel struct {
	endpoint  string
	client    *http.Client
	sessionID domain.SessionID
	claimedID domain.PeerID
	role      Role

	pollInterval time.Duration
	retryCfg     retry.Config

	inbound chan domain.Envelope

	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc

	logger *zap.SugaredLogger
}

// NewPollChannel builds an adapter for endpoint (http://host/signal).
func NewPollChannel(
	endpoint string,
	sessionID domain.SessionID,
	claimedID domain.PeerID,
	role Role,
	pollInterval time.Duration,
	logger *zap.SugaredLogger,
) *PollChannel {
	return &PollChannel{
		endpoint:     endpoint,
		client:       &http.Client{Timeout: 10 * time.Second},
		sessionID:    sessionID,
		claimedID:    claimedID,
		role:         role,
		pollInterval: pollInterval,
		retryCfg:     retry.DefaultConfig(),
		inbound:      make(chan domain.Envelope, 32),
		done:         make(chan struct{}),
		logger:       logger,
	}
}

func (c *PollChannel) Open(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.pollLoop(pollCtx)
	return nil
}

func (c *PollChannel) pollLoop(ctx context.Context) {
	defer close(c.inbound)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	answerSeen := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		if c.role == RoleClient && !answerSeen {
			resp, err := c.post(ctx, domain.Envelope{
				Type:      domain.MessageGetAnswer,
				SessionID: c.sessionID,
			})
			if err == nil && resp.Answer != nil {
				answerSeen = true
				if !c.deliver(domain.Envelope{
					Type:      domain.MessageAnswer,
					SessionID: c.sessionID,
					Answer:    resp.Answer,
				}) {
					return
				}
			}
			// Not-found just means the host has not answered yet.
		}

		resp, err := c.post(ctx, domain.Envelope{
			Type:      domain.MessageGetCandidate,
			SessionID: c.sessionID,
			HostID:    c.claimedID,
		})
		if err != nil {
			continue
		}
		for _, raw := range resp.Candidates {
			if !c.deliver(domain.Envelope{
				Type:      domain.MessageCandidate,
				SessionID: c.sessionID,
				Candidate: raw,
			}) {
				return
			}
		}
	}
}

func (c *PollChannel) deliver(env domain.Envelope) bool {
	select {
	case c.inbound <- env:
		return true
	case <-c.done:
		return false
	}
}

// Send POSTs one envelope, retrying transient transport failures with
// backoff. HTTP-level errors from the relay are returned as-is, not retried.
func (c *PollChannel) Send(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	var resp *domain.Response
	err := retry.Retry(ctx, c.retryCfg, func() error {
		var postErr error
		resp, postErr = c.post(ctx, env)
		if postErr != nil && resp != nil {
			// The relay answered; do not hammer it with retries.
			return nil
		}
		return postErr
	})
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeTransport, "relay unreachable", http.StatusBadGateway)
	}
	if resp != nil && !resp.Success {
		return resp, apperrors.NewTransportError(resp.Error)
	}
	return resp, nil
}

// post performs one POST. A non-nil response with a non-nil error means the
// relay replied with a failure status.
func (c *PollChannel) post(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var resp domain.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("malformed relay response (status %d): %w", httpResp.StatusCode, err)
	}

	if !resp.Success {
		return &resp, fmt.Errorf("relay error (status %d): %s", httpResp.StatusCode, resp.Error)
	}
	return &resp, nil
}

func (c *PollChannel) Inbound() <-chan domain.Envelope {
	return c.inbound
}

func (c *PollChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
	})
	return nil
}
