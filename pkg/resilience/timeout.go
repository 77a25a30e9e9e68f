package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines the timeout hierarchy of the renewal pipeline
//
// Hierarchy (from outermost to innermost):
//
//	Cron tick (dispatch / drain / sweep)
//	  -> Bulk store writes
//
// Each layer must complete before its parent times out so a slow dependency
// never stalls the scheduler. Gateway charge calls and broker publishes are
// bounded by their own client timeouts inside these windows.
type TimeoutConfig struct {
	CronJob       time.Duration // Dispatcher run cap (default: 30 minutes)
	Drain         time.Duration // One consumer drain tick (default: 10s)
	BulkWrite     time.Duration // Bulk update / bulk insert (default: 5s)
	FallbackSweep time.Duration // One fallback sweep pass (default: 4 minutes)
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		CronJob:       30 * time.Minute,
		Drain:         10 * time.Second,
		BulkWrite:     5 * time.Second,
		FallbackSweep: 4 * time.Minute,
	}
}

// CronContext creates a context bounding one dispatcher run
func (tc *TimeoutConfig) CronContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronJob)
}

// DrainContext creates a context bounding one consumer drain tick
func (tc *TimeoutConfig) DrainContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Drain)
}

// BulkWriteContext creates a context for bulk store writes
func (tc *TimeoutConfig) BulkWriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.BulkWrite)
}

// SweepContext creates a context bounding one fallback sweep
func (tc *TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.FallbackSweep)
}
