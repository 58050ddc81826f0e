package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestAcquireDoesNotExceedWindow(t *testing.T) {
	const (
		maxCalls = 5
		period   = 50 * time.Millisecond
		total    = 17
	)
	l := New(maxCalls, period)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(stamps) != total {
		t.Fatalf("expected %d calls, got %d", total, len(stamps))
	}
	for i := range stamps {
		count := 0
		for j := range stamps {
			d := stamps[j].Sub(stamps[i])
			if d >= 0 && d < period {
				count++
			}
		}
		// Allow one extra admission for timer/scheduler jitter around the
		// window edge; over-admitting by more than that is a real leak.
		if count > maxCalls+1 {
			t.Fatalf("window starting at call %d admitted %d calls (max %d)", i, count, maxCalls)
		}
	}
}

func TestClaimQueuesWaitersBehindEachOther(t *testing.T) {
	const period = 300 * time.Millisecond
	base := time.Now()
	l := New(1, period)
	l.now = func() time.Time { return base }
	l.called = []time.Time{base}

	// Each claim must land one period after the previous slot, never share it.
	for i, want := range []time.Duration{period, 2 * period, 3 * period} {
		if got := l.claim(); got != want {
			t.Fatalf("waiter %d claimed wait %v, want %v", i, got, want)
		}
	}
}

func TestConcurrentWaitersSpreadAcrossWindows(t *testing.T) {
	const period = 200 * time.Millisecond
	l := New(1, period)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	var mu sync.Mutex
	stamps := []time.Time{time.Now()}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(ctx); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(stamps) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(stamps))
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < period-50*time.Millisecond {
			t.Fatalf("calls %d and %d are %v apart: two calls inside one %v window", i-1, i, gap, period)
		}
	}
}

func TestAcquireImmediateWhenUnderLimit(t *testing.T) {
	l := New(3, time.Second)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected immediate admission, took %v", elapsed)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(1, time.Hour)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatalf("expected context error while waiting for a slot")
	}
}
