package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Adaptive multiplier/threshold constants.
const (
	adaptiveSpeedupFactor    = 1.2
	adaptiveSlowdownFactor   = 0.5
	successStreakForSpeedup  = 10
	failureStreakForSlowdown = 3
)

// Adaptive wraps a TokenBucket and adjusts its rate based on observed
// outcomes: after 10 consecutive successes the rate multiplies by 1.2 (up
// to maxRate), and on any rate-limit signal or 3 consecutive failures it
// multiplies by 0.5 (down to minRate).
type Adaptive struct {
	mu             sync.Mutex
	bucket         *TokenBucket
	minRate        rate.Limit
	maxRate        rate.Limit
	successStreak  int
	failureStreak  int
}

// NewAdaptive wraps bucket with adaptive rate adjustment bounded by
// [minRate, maxRate] tokens/sec.
func NewAdaptive(bucket *TokenBucket, minRate, maxRate float64) *Adaptive {
	return &Adaptive{
		bucket:  bucket,
		minRate: rate.Limit(minRate),
		maxRate: rate.Limit(maxRate),
	}
}

func (a *Adaptive) Acquire(ctx context.Context) error {
	return a.bucket.Acquire(ctx)
}

func (a *Adaptive) TryAcquire() bool {
	return a.bucket.TryAcquire()
}

func (a *Adaptive) Release() {}

func (a *Adaptive) Available() int {
	return a.bucket.Available()
}

// ReportSuccess records a successful call. After successStreakForSpeedup
// consecutive successes the rate increases.
func (a *Adaptive) ReportSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failureStreak = 0
	a.successStreak++
	if a.successStreak >= successStreakForSpeedup {
		a.successStreak = 0
		a.adjustLocked(adaptiveSpeedupFactor)
	}
}

// ReportFailure records a failed call. After failureStreakForSlowdown
// consecutive failures the rate decreases.
func (a *Adaptive) ReportFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successStreak = 0
	a.failureStreak++
	if a.failureStreak >= failureStreakForSlowdown {
		a.failureStreak = 0
		a.adjustLocked(adaptiveSlowdownFactor)
	}
}

// ReportRateLimitSignal immediately slows down regardless of the failure
// streak, for callers that can detect an explicit rate-limit response.
func (a *Adaptive) ReportRateLimitSignal() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successStreak = 0
	a.failureStreak = 0
	a.adjustLocked(adaptiveSlowdownFactor)
}

func (a *Adaptive) adjustLocked(factor float64) {
	next := rate.Limit(float64(a.bucket.Rate()) * factor)
	if next > a.maxRate {
		next = a.maxRate
	}
	if next < a.minRate {
		next = a.minRate
	}
	a.bucket.SetRate(next)
}
