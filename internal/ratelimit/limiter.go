package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limiter admits at most MaxCalls calls within any trailing Period window.
// Waiters claim their slot before sleeping so that concurrent callers cannot
// over-admit when they all wake at once.
type Limiter struct {
	maxCalls int
	period   time.Duration
	now      func() time.Time

	mu     sync.Mutex
	called []time.Time
	queued []time.Time
}

func New(maxCalls int, period time.Duration) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if period <= 0 {
		period = time.Second
	}
	return &Limiter{maxCalls: maxCalls, period: period, now: time.Now}
}

// Acquire blocks until a slot is available or ctx is done. On success the
// call is recorded against the current window.
func (l *Limiter) Acquire(ctx context.Context) error {
	if ctx == nil {
		return errors.New("nil context")
	}
	wait := l.claim()
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	l.record()
	return nil
}

// claim computes the wait for the next free slot and, when positive,
// reserves that slot so later callers queue behind it.
func (l *Limiter) claim() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.called = pruneBefore(l.called, now.Add(-l.period))
	l.queued = pruneBefore(l.queued, now)

	// Occupancy is every call recorded inside the window plus every reserved
	// wakeup. The new call may record one period after the k-th oldest of
	// those record times, once all but maxCalls-1 have left the window.
	k := len(l.called) + len(l.queued) - l.maxCalls + 1
	if k <= 0 {
		return 0
	}
	var at time.Time
	if k <= len(l.called) {
		at = l.called[k-1]
	} else {
		at = l.queued[k-1-len(l.called)]
	}
	wait := at.Add(l.period).Sub(now)
	if wait <= 0 {
		return 0
	}
	l.queued = append(l.queued, now.Add(wait))
	return wait
}

func (l *Limiter) record() {
	l.mu.Lock()
	l.called = append(l.called, l.now())
	l.mu.Unlock()
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
