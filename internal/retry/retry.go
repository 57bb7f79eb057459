// Package retry holds the delay helpers shared by the poll, backoff and idle loops.
package retry

import (
	"context"
	"time"
)

// SleepFunc pauses for d or until ctx is done, whichever happens first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc. It returns ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Exponential returns base * 2^(attempt-1). Attempts below 1 count as 1.
func Exponential(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
