// Copyright 2025 HireSignal LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pacing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// testClock drives the governor deterministically: sleeps advance the clock
// instead of blocking, and every imposed wait is recorded.
type testClock struct {
	mtx    sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newTestGovernor(t *testing.T, opts Options) (*Governor, *testClock) {
	t.Helper()
	c := &testClock{now: time.Unix(1700000000, 0)}
	g := New(nil, nil, opts)
	g.now = func() time.Time {
		c.mtx.Lock()
		defer c.mtx.Unlock()
		return c.now
	}
	g.sleep = func(_ context.Context, d time.Duration) error {
		c.mtx.Lock()
		defer c.mtx.Unlock()
		c.now = c.now.Add(d)
		c.sleeps = append(c.sleeps, d)
		return nil
	}
	g.jitter = func(time.Duration) time.Duration { return 0 }
	return g, c
}

func (c *testClock) advance(d time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) totalSlept() time.Duration {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

func TestAwaitEnforcesMinSpacing(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	ctx := context.Background()

	// First request goes through immediately.
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := c.totalSlept(); got != 0 {
		t.Fatalf("first permit slept %s, want none", got)
	}

	// Second request must wait out the full spacing.
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := c.totalSlept(); got < DefaultMinSpacing {
		t.Fatalf("slept %s between permits, want at least %s", got, DefaultMinSpacing)
	}
}

func TestAwaitJitterNeverBelowMinSpacing(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	// Worst-case negative jitter must not shrink the spacing.
	g.jitter = func(max time.Duration) time.Duration { return -max }
	ctx := context.Background()

	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := c.totalSlept(); got < DefaultMinSpacing {
		t.Fatalf("slept %s, want at least %s", got, DefaultMinSpacing)
	}
}

func TestAwaitJitterNeverBelowBackedOffSpacing(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	g.jitter = func(max time.Duration) time.Duration { return -max }
	ctx := context.Background()

	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	// One rate limit doubles the spacing; worst-case jitter must not pull
	// the interval back below the doubled value.
	g.RecordRateLimit("linkedin.com")

	before := c.totalSlept()
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := c.totalSlept() - before; got < 2*DefaultMinSpacing {
		t.Fatalf("slept %s after one rate limit with worst-case jitter, want at least %s",
			got, 2*DefaultMinSpacing)
	}
}

func TestAwaitSlidingWindow(t *testing.T) {
	// Tight spacing so that the window cap is the binding constraint.
	g, _ := newTestGovernor(t, Options{
		MinSpacing: time.Minute,
		Jitter:     time.Nanosecond,
	})
	ctx := context.Background()

	start := g.now()
	for i := 0; i < DefaultWindowLimit; i++ {
		if err := g.Await(ctx, "linkedin.com"); err != nil {
			t.Fatalf("permit %d: unexpected error: %s", i, err)
		}
	}
	// The 11th permit may only be granted once the oldest of the previous 10
	// has fallen out of the rolling hour.
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if elapsed := g.now().Sub(start); elapsed < DefaultWindow {
		t.Fatalf("11th permit granted after %s, want at least %s", elapsed, DefaultWindow)
	}
}

func TestBackoffDoublesSpacing(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	ctx := context.Background()

	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	g.RecordRateLimit("linkedin.com")

	before := c.totalSlept()
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := c.totalSlept() - before; got < 2*DefaultMinSpacing {
		t.Fatalf("slept %s after one rate limit, want at least %s", got, 2*DefaultMinSpacing)
	}
}

func TestBackoffCapped(t *testing.T) {
	g, _ := newTestGovernor(t, Options{ExtendedThreshold: 100})
	hs := g.host("linkedin.com")
	hs.consecutiveRateLimits = 50
	if got := g.effectiveSpacing(hs); got != DefaultBackoffCap {
		t.Fatalf("effective spacing %s, want cap %s", got, DefaultBackoffCap)
	}
}

func TestExtendedCooldownBlocks(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	ctx := context.Background()

	for i := 0; i < DefaultExtendedThreshold; i++ {
		g.RecordRateLimit("linkedin.com")
	}

	err := g.Await(ctx, "linkedin.com")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.RetryAfter <= 0 || blocked.RetryAfter > DefaultExtendedCooldown {
		t.Fatalf("retryAfter = %s, want within (0, %s]", blocked.RetryAfter, DefaultExtendedCooldown)
	}
	// A blocked refusal must not consume a serialization slot forever.
	if err := func() error {
		ctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return g.Await(ctx, "linkedin.com")
	}(); !errors.As(err, &blocked) {
		t.Fatalf("second await after block: got %v", err)
	}

	// After the cooldown elapses the host admits again.
	c.advance(DefaultExtendedCooldown + time.Minute)
	g.RecordSuccess("linkedin.com")
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error after cooldown: %s", err)
	}
}

func TestRecordSuccessResetsBackoff(t *testing.T) {
	g, _ := newTestGovernor(t, Options{})
	g.RecordRateLimit("linkedin.com")
	g.RecordRateLimit("linkedin.com")
	g.RecordSuccess("linkedin.com")

	if s := g.Stats("linkedin.com"); s.ConsecutiveRateLimits != 0 || s.ExtendedBackoffUntil != nil {
		t.Fatalf("backoff state not cleared: %+v", s)
	}
}

func TestRecordErrorDoesNotEscalate(t *testing.T) {
	g, _ := newTestGovernor(t, Options{})
	for i := 0; i < 10; i++ {
		g.RecordError("linkedin.com")
	}
	s := g.Stats("linkedin.com")
	if s.ConsecutiveRateLimits != 0 {
		t.Fatalf("transport errors escalated rate-limit counter: %+v", s)
	}
	if s.Errors != 10 {
		t.Fatalf("errors = %d, want 10", s.Errors)
	}
}

func TestCancelledAwaitReleasesSlot(t *testing.T) {
	g, _ := newTestGovernor(t, Options{})
	// Real blocking sleep so cancellation actually races the wait.
	g.sleep = sleepContext
	ctx := context.Background()

	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- g.Await(cctx, "linkedin.com") }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The slot must be free for the next caller.
	tctx, tcancel := context.WithTimeout(ctx, time.Second)
	defer tcancel()
	err := g.Await(tctx, "linkedin.com")
	if errors.Is(err, context.DeadlineExceeded) {
		// Hitting the pacing wait is fine; being unable to acquire the
		// serialization slot within the deadline would also surface as
		// DeadlineExceeded, so check the slot directly.
		select {
		case <-g.host("linkedin.com").turn:
		default:
			t.Fatal("serialization slot not released after cancellation")
		}
	}
}

func TestSerializedAwaitPerHost(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	ctx := context.Background()

	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Await(ctx, "linkedin.com"); err != nil {
				t.Errorf("unexpected error: %s", err)
			}
		}()
	}
	wg.Wait()

	// Four permits total; each pair at least MinSpacing apart on the fake
	// clock, so at least 3 spacing waits were scheduled.
	if got := c.totalSlept(); got < 3*DefaultMinSpacing {
		t.Fatalf("total scheduled wait %s, want at least %s", got, 3*DefaultMinSpacing)
	}
}

func TestHostsIndependent(t *testing.T) {
	g, c := newTestGovernor(t, Options{})
	ctx := context.Background()

	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	// A different host is not affected by the first host's spacing.
	before := c.totalSlept()
	if err := g.Await(ctx, "example.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := c.totalSlept() - before; got != 0 {
		t.Fatalf("independent host waited %s, want none", got)
	}
}

func TestReset(t *testing.T) {
	g, _ := newTestGovernor(t, Options{})
	ctx := context.Background()
	if err := g.Await(ctx, "linkedin.com"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	g.RecordRateLimit("linkedin.com")
	g.Reset("linkedin.com")

	s := g.Stats("linkedin.com")
	if s.LastRequestAt != nil || s.RequestsInWindow != 0 || s.ConsecutiveRateLimits != 0 {
		t.Fatalf("state not cleared: %+v", s)
	}
}
