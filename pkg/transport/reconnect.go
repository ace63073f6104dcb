package transport

import (
	cryptorand "crypto/rand"
	"math"
	"math/big"
	"time"
)

// secureRandFloat64 returns a float64 in [0, 1) from crypto/rand
func secureRandFloat64() (float64, error) {
	// Generate a random integer in [0, 2^53)
	max := big.NewInt(1 << 53)
	n, err := cryptorand.Int(cryptorand.Reader, max)
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<53), nil
}

// calculateBackoff calculates the delay before reconnect attempt number
// attempt (1-based). initial overrides config.InitialDelay when positive, which
// is how a server-sent retry interval takes effect.
func calculateBackoff(attempt int, initial time.Duration, config ReconnectConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if initial <= 0 {
		initial = config.InitialDelay
	}

	// Exponential backoff
	backoff := float64(initial) * math.Pow(config.BackoffFactor, float64(attempt-1))

	// Cap at max delay
	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}

	if config.Jitter > 0 {
		if randFloat, err := secureRandFloat64(); err == nil {
			backoff += backoff * config.Jitter * (randFloat*2 - 1)
		}
	}

	return time.Duration(backoff)
}
