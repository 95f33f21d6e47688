package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateSessionID generates a unique session ID for a negotiation attempt.
// A retry always uses a fresh session id.
func GenerateSessionID() string {
	return GenerateID("session")
}

// GeneratePeerID generates a unique peer ID
func GeneratePeerID() string {
	return GenerateID("peer")
}

// GenerateHostID generates a unique host ID
func GenerateHostID() string {
	return GenerateID("host")
}

// GenerateRequestID generates a unique request ID for log correlation
func GenerateRequestID() string {
	return GenerateID("req")
}

// GenerateID generates a prefixed unique ID
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
