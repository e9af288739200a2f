package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock drives a Limiter deterministically: sleeps advance the clock
// instead of blocking, and every wait duration is recorded.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func newTestLimiter(clock *fakeClock) *Limiter {
	l := NewLimiter()
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l
}

func TestAdmit_Unrestricted(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 100; i++ {
		if err := l.Admit(context.Background(), "daily", 0); err != nil {
			t.Fatalf("Admit failed: %v", err)
		}
	}

	if len(clock.waits) != 0 {
		t.Errorf("unrestricted endpoint waited %d times, want 0", len(clock.waits))
	}
	// Unrestricted admissions are not recorded.
	if got := l.InWindow("daily"); got != 0 {
		t.Errorf("InWindow = %d, want 0", got)
	}
}

func TestAdmit_UnderBudget(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	for i := 0; i < 5; i++ {
		if err := l.Admit(context.Background(), "daily", 10); err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	if len(clock.waits) != 0 {
		t.Errorf("waited %d times under budget, want 0", len(clock.waits))
	}
	if got := l.InWindow("daily"); got != 5 {
		t.Errorf("InWindow = %d, want 5", got)
	}
}

func TestAdmit_BlocksWhenWindowFull(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	// Two calls, 10 seconds apart, fill a budget of 2.
	if err := l.Admit(ctx, "daily", 2); err != nil {
		t.Fatalf("Admit 1 failed: %v", err)
	}
	clock.Advance(10 * time.Second)
	if err := l.Admit(ctx, "daily", 2); err != nil {
		t.Fatalf("Admit 2 failed: %v", err)
	}
	clock.Advance(5 * time.Second)

	// The third must wait until the first leaves the window:
	// 60 - (now - t1) = 60 - 15 = 45 seconds.
	if err := l.Admit(ctx, "daily", 2); err != nil {
		t.Fatalf("Admit 3 failed: %v", err)
	}

	if len(clock.waits) != 1 {
		t.Fatalf("waits = %d, want 1", len(clock.waits))
	}
	if clock.waits[0] != 45*time.Second {
		t.Errorf("wait = %v, want 45s", clock.waits[0])
	}
}

// Any trailing window of admitted calls must hold at most the budget. Walk
// a long admission sequence with a moving clock and check the invariant at
// every step.
func TestAdmit_WindowInvariant(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	const rate = 3
	var admitted []time.Time

	for i := 0; i < 20; i++ {
		if err := l.Admit(ctx, "daily", rate); err != nil {
			t.Fatalf("Admit %d failed: %v", i, err)
		}
		admitted = append(admitted, clock.Now())
		clock.Advance(4 * time.Second)
	}

	for _, end := range admitted {
		inWindow := 0
		for _, at := range admitted {
			if !at.After(end) && end.Sub(at) < Window {
				inWindow++
			}
		}
		if inWindow > rate {
			t.Fatalf("window ending %v holds %d admissions, budget %d", end, inWindow, rate)
		}
	}
}

func TestAdmit_IndependentEndpoints(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)
	ctx := context.Background()

	if err := l.Admit(ctx, "daily", 1); err != nil {
		t.Fatalf("Admit daily failed: %v", err)
	}
	// A different endpoint has its own untouched budget.
	if err := l.Admit(ctx, "stock_basic", 1); err != nil {
		t.Fatalf("Admit stock_basic failed: %v", err)
	}

	if len(clock.waits) != 0 {
		t.Errorf("independent endpoints waited %d times, want 0", len(clock.waits))
	}
}

func TestRecord_CountsTowardBudget(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	// A probe burst recorded outside admission control.
	l.Record("daily", clock.Now())
	l.Record("daily", clock.Now())
	clock.Advance(10 * time.Second)

	if err := l.Admit(context.Background(), "daily", 2); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if len(clock.waits) != 1 {
		t.Fatalf("waits = %d, want 1 (probe calls fill the budget)", len(clock.waits))
	}
	if clock.waits[0] != 50*time.Second {
		t.Errorf("wait = %v, want 50s", clock.waits[0])
	}
}

func TestAdmit_ContextCancelled(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock)

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Admit(ctx, "daily", 1); err != nil {
		t.Fatalf("Admit 1 failed: %v", err)
	}
	cancel()

	if err := l.Admit(ctx, "daily", 1); err == nil {
		t.Fatal("expected error when context cancelled during wait")
	}
}

func TestAdmit_ConcurrentWorkers(t *testing.T) {
	l := NewLimiter()
	ctx := context.Background()

	// Generous budget: no worker should block, and the recorded history
	// must match the admission count exactly.
	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Admit(ctx, "daily", 1000); err != nil {
				t.Errorf("Admit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := l.InWindow("daily"); got != workers {
		t.Errorf("InWindow = %d, want %d", got, workers)
	}
}
