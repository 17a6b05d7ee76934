package poll

import (
	"context"
	"time"
)

// Config defines parameters for exponential backoff polling.
type Config struct {
	// Initial delay before first retry
	BaseDelay time.Duration
	// Multiplier for delay on each retry
	Factor float64
	// Optional maximum delay between retries
	MaxDelay time.Duration
}

// CalculateBackoffDelay calculates the backoff delay for a given number of tries
// using exponential backoff with the provided configuration.
func CalculateBackoffDelay(cfg *Config, tries int) time.Duration {
	if tries <= 0 {
		return 0
	}

	delay := float64(cfg.BaseDelay)
	for i := 1; i < tries; i++ {
		delay *= cfg.Factor
	}

	delayDuration := time.Duration(delay)

	// cap max delay
	if cfg.MaxDelay > 0 && delayDuration > cfg.MaxDelay {
		delayDuration = cfg.MaxDelay
	}

	return delayDuration
}

// Sleep waits for the given delay or until the context is canceled, whichever
// comes first. Returns the context error on cancellation.
func Sleep(ctx context.Context, delay time.Duration) error {
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
