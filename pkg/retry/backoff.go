package retry

import (
	"crypto/rand"
	"math/big"
	"time"
)

// Strategy names recorded on attempts.
const (
	StrategyInitial     = "initial"
	StrategyExponential = "exponential-backoff"
	StrategyLinear      = "linear-backoff"
	StrategyFallback    = "fallback-target"
)

// backoffDelay computes the exponential delay for retry i (0-based):
// base * 2^i plus jitter, capped at max.
func backoffDelay(base, max time.Duration, attempt int, jitter time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	d += randJitter(jitter)
	if d > max {
		d = max
	}
	return d
}

// linearDelay honors a server-provided Retry-After hint when present,
// otherwise steps linearly.
func linearDelay(step time.Duration, attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	return step * time.Duration(attempt+1)
}

func randJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
