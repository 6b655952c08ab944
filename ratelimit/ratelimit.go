package ratelimit

import (
	"math/rand/v2"
	"time"
)

const (
	FanOutConcurrency   = 8
	TeardownConcurrency = 4
	StoreWriteAttempts  = 3
)

// StoreRetrySleep returns a jittered pause before the next store write
// attempt: a growing base plus up to a second of noise.
func StoreRetrySleep(attempt int) time.Duration {
	base := time.Duration(attempt-1) * 500 * time.Millisecond
	return base + time.Duration(rand.N(1000))*time.Millisecond //nolint:gosec
}
