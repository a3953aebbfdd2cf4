package tracker

import (
	"context"
	"sync"
	"time"
)

// Clock provides time for the tracking loop.
// This interface allows timing-dependent behavior to be driven in tests.
type Clock interface {
	Now() time.Time
	// Sleep suspends the caller for d, returning early with ctx.Err() when
	// the context is canceled.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d or until ctx is canceled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TestClock provides controllable time for testing. Sleep advances the
// clock instead of waiting, so loops run instantly and deterministically.
type TestClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// Sleep advances the test time by d.
func (t *TestClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Advance(d)
	return nil
}

// Advance moves the test time forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CurrentTime = t.CurrentTime.Add(d)
}
