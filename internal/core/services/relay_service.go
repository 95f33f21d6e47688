package services

import (
	"context"
	"errors"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
	apperrors "pairlink/pkg/errors"
	"pairlink/pkg/utils"

	"go.uber.org/zap"
)

// RelayService implements the signaling protocol over any SessionRepository.
// It tags, timestamps and stores negotiation payloads without parsing them;
// the transports own delivery.
type RelayService struct {
	store   ports.SessionRepository
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewRelayService(store ports.SessionRepository, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *RelayService {
	return &RelayService{
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleMessage routes one envelope. Returned errors are *apperrors.AppError
// values; the transport bindings translate them into their wire shapes.
func (s *RelayService) HandleMessage(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	start := utils.Now()
	resp, err := s.handle(ctx, env)
	s.metrics.MessageHandled(string(env.Type), err == nil, utils.Now().Sub(start))

	if err != nil {
		s.logger.Infow("signaling message rejected",
			"type", env.Type,
			"session_id", env.SessionID,
			"error", err,
		)
		return nil, err
	}
	return resp, nil
}

func (s *RelayService) handle(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if env.Type == "" {
		return nil, apperrors.NewProtocolError("message type is required")
	}
	if env.SessionID == "" {
		return nil, apperrors.NewProtocolError("sessionId is required")
	}

	switch env.Type {
	case domain.MessageCreateSession:
		return s.createSession(ctx, env)
	case domain.MessageOffer:
		return s.offer(ctx, env)
	case domain.MessageAnswer:
		return s.answer(ctx, env)
	case domain.MessageCandidate:
		return s.candidate(ctx, env)
	case domain.MessageGetOffer:
		return s.getOffer(ctx, env)
	case domain.MessageGetAnswer:
		return s.getAnswer(ctx, env)
	case domain.MessageGetCandidate:
		return s.getCandidate(ctx, env)
	case domain.MessageLeave:
		return s.leave(ctx, env)
	default:
		return nil, apperrors.NewProtocolError("unknown message type: " + string(env.Type))
	}
}

func (s *RelayService) createSession(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if env.HostID == "" {
		return nil, apperrors.NewProtocolError("hostId is required")
	}

	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if found {
			return nil, domain.ErrSessionExists
		}
		return domain.NewSession(env.SessionID, env.HostID, utils.Now()), nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.metrics.SessionCreated()
	s.logger.Infow("session created", "session_id", env.SessionID, "host_id", env.HostID)

	return &domain.Response{
		Success:   true,
		Type:      env.Type,
		SessionID: env.SessionID,
		Status:    domain.StatusWaiting,
	}, nil
}

// offer upserts: the first offer may create the session implicitly.
func (s *RelayService) offer(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if env.HostID == "" {
		return nil, apperrors.NewProtocolError("hostId is required")
	}
	if len(env.Offer) == 0 {
		return nil, apperrors.NewProtocolError("offer payload is required")
	}

	created := false
	var status domain.SessionStatus
	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			sess = domain.NewSession(env.SessionID, env.HostID, utils.Now())
			created = true
		}
		sess.SetOffer(env.Offer, utils.Now())
		status = sess.Status
		return sess, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	if created {
		s.metrics.SessionCreated()
	}
	s.logger.Infow("offer stored",
		"session_id", env.SessionID,
		"implicit_create", created,
		"offer_bytes", len(env.Offer),
	)

	return &domain.Response{
		Success:   true,
		Type:      env.Type,
		SessionID: env.SessionID,
		Status:    status,
	}, nil
}

func (s *RelayService) answer(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if len(env.Answer) == 0 {
		return nil, apperrors.NewProtocolError("answer payload is required")
	}

	var status domain.SessionStatus
	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			return nil, domain.ErrSessionNotFound
		}
		sess.SetAnswer(env.Answer, utils.Now())
		status = sess.Status
		return sess, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	s.logger.Infow("answer stored", "session_id", env.SessionID, "answer_bytes", len(env.Answer))

	return &domain.Response{
		Success:   true,
		Type:      env.Type,
		SessionID: env.SessionID,
		Status:    status,
	}, nil
}

func (s *RelayService) candidate(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if env.HostID == "" {
		return nil, apperrors.NewProtocolError("hostId is required")
	}
	if len(env.Candidate) == 0 {
		return nil, apperrors.NewProtocolError("candidate payload is required")
	}

	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			return nil, domain.ErrSessionNotFound
		}
		sess.AppendCandidate(env.HostID, env.Candidate, utils.Now())
		return sess, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	return &domain.Response{
		Success:   true,
		Type:      env.Type,
		SessionID: env.SessionID,
	}, nil
}

func (s *RelayService) getOffer(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	resp := &domain.Response{Success: true, Type: env.Type, SessionID: env.SessionID}

	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			return nil, domain.ErrSessionNotFound
		}
		if len(sess.Offer) == 0 {
			return nil, domain.ErrOfferNotFound
		}
		resp.Offer = sess.Offer
		resp.Status = sess.Status
		sess.Touch(utils.Now())
		return sess, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return resp, nil
}

func (s *RelayService) getAnswer(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	resp := &domain.Response{Success: true, Type: env.Type, SessionID: env.SessionID}

	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			return nil, domain.ErrSessionNotFound
		}
		if len(sess.Answer) == 0 {
			return nil, domain.ErrAnswerNotFound
		}
		resp.Answer = sess.Answer
		resp.Status = sess.Status
		sess.Touch(utils.Now())
		return sess, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return resp, nil
}

// getCandidate drains the opposite side's buffer. An empty result is a
// successful response with no candidates, never an error.
func (s *RelayService) getCandidate(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	if env.HostID == "" {
		return nil, apperrors.NewProtocolError("hostId is required")
	}

	resp := &domain.Response{Success: true, Type: env.Type, SessionID: env.SessionID}

	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			return nil, domain.ErrSessionNotFound
		}
		resp.Candidates = sess.DrainCandidatesFor(env.HostID, utils.Now())
		return sess, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return resp, nil
}

// leave is best-effort and idempotent: departing an unknown or expired
// session still succeeds.
func (s *RelayService) leave(ctx context.Context, env domain.Envelope) (*domain.Response, error) {
	err := s.store.Put(ctx, env.SessionID, func(sess *domain.Session, found bool) (*domain.Session, error) {
		if !found {
			return nil, domain.ErrSessionNotFound
		}
		sess.Status = domain.StatusDisconnected
		sess.Touch(utils.Now())
		return sess, nil
	})
	if err != nil && mapStoreError(err).Code != apperrors.ErrCodeNotFound {
		return nil, mapStoreError(err)
	}

	return &domain.Response{
		Success:   true,
		Type:      env.Type,
		SessionID: env.SessionID,
		Status:    domain.StatusDisconnected,
	}, nil
}

// ActiveSessions reports live session count for health reporting.
func (s *RelayService) ActiveSessions(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// RunSweeper garbage-collects idle sessions until ctx is cancelled. Stores
// with native key TTL report zero removals here.
func (s *RelayService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.Sweep(ctx, utils.Now())
			if err != nil {
				s.logger.Errorw("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.metrics.SessionsExpired(n)
				s.logger.Infow("expired sessions swept", "count", n)
			}
		}
	}
}

func mapStoreError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.NewNotFoundError("session")
	case errors.Is(err, domain.ErrOfferNotFound):
		return apperrors.NewNotFoundError("offer")
	case errors.Is(err, domain.ErrAnswerNotFound):
		return apperrors.NewNotFoundError("answer")
	case errors.Is(err, domain.ErrSessionExists):
		return apperrors.NewConflictError("session already exists")
	default:
		return apperrors.WrapError(err, apperrors.ErrCodeInternal, "session store failure", 500)
	}
}
