package utils

import "time"

// Now returns current time (swappable in tests).
var Now = time.Now

// IsExpired checks if a timestamp is past its TTL.
func IsExpired(timestamp time.Time, ttl time.Duration) bool {
	return Now().Sub(timestamp) > ttl
}

// TimeUntilExpiry returns time until expiry, floored at zero.
func TimeUntilExpiry(timestamp time.Time, ttl time.Duration) time.Duration {
	remaining := timestamp.Add(ttl).Sub(Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
