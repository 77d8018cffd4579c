package outbox

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the retry schedule for transient delivery failures.
type BackoffConfig struct {
	BaseDelay time.Duration // first step, e.g. 1s
	MaxDelay  time.Duration // cap, e.g. 60s
}

// NextRetryAt computes when a task may be attempted again: exponential
// backoff (base doubling per attempt, capped) with full jitter: the
// actual delay is uniform in [0, capped delay]. attempt is 1-based.
func NextRetryAt(now time.Time, attempt int, cfg BackoffConfig, rng *rand.Rand) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}

	// base * 2^(attempt-1), guarding the shift against overflow
	delay := cfg.MaxDelay
	if shift := attempt - 1; shift < 32 {
		if d := cfg.BaseDelay << shift; d < cfg.MaxDelay && d > 0 {
			delay = d
		}
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	jitter := time.Duration(rng.Int63n(int64(delay) + 1))

	return now.Add(jitter).UTC()
}
