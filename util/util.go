package util

import (
	"context"
	"time"
)

// SleepCtx sleeps for delay, returning false if ctx is done first.
func SleepCtx(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
