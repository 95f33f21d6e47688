package domain

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExists      = errors.New("session already exists")
	ErrOfferNotFound      = errors.New("offer not found")
	ErrAnswerNotFound     = errors.New("answer not found")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingSessionID   = errors.New("sessionId is required")
	ErrMissingHostID      = errors.New("hostId is required")
	ErrMissingPayload     = errors.New("message payload is required")
	ErrPayloadTooLarge    = errors.New("message payload too large")
	ErrChannelClosed      = errors.New("signal channel closed")
)
