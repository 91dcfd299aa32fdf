// Package clock abstracts wall time so the scheduler's tick loop and the
// midnight purge timer can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time and timer primitives.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that delivers the time once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc runs f in its own goroutine once d has elapsed. The
	// returned Timer cancels or reschedules the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending single-shot callback.
type Timer interface {
	// Stop cancels the timer. It reports whether the timer was still
	// pending.
	Stop() bool

	// Reset reschedules the timer to fire after d, reviving it if it had
	// already fired or been stopped. It reports whether the timer was
	// still pending.
	Reset(d time.Duration) bool
}

// RealClock delegates to the time package.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{time.AfterFunc(d, f)}
}

type realTimer struct {
	timer *time.Timer
}

func (t realTimer) Stop() bool {
	return t.timer.Stop()
}

func (t realTimer) Reset(d time.Duration) bool {
	return t.timer.Reset(d)
}

// MockClock only moves when a test calls Advance or Set, firing any timers
// whose deadlines have been reached.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &mockTimer{
		clock:    c,
		deadline: c.current.Add(d),
		fn:       f,
	}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock forward by d. Expired timers fire synchronously,
// in no particular order, before Advance returns.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var expired, pending []*mockTimer
	for _, timer := range c.timers {
		timer.mu.Lock()
		switch {
		case timer.done:
		case !timer.deadline.After(now):
			expired = append(expired, timer)
		default:
			pending = append(pending, timer)
		}
		timer.mu.Unlock()
	}
	c.timers = pending
	c.mu.Unlock()

	// Callbacks run outside the clock lock so they may schedule new
	// timers or read Now without deadlocking.
	for _, timer := range expired {
		timer.mu.Lock()
		if timer.done {
			timer.mu.Unlock()
			continue
		}
		timer.done = true
		fn := timer.fn
		timer.mu.Unlock()
		fn()
	}
}

// Set jumps the clock to t. Moving forward fires expired timers; moving
// backward only changes the reported time.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()

	if t.After(current) {
		c.Advance(t.Sub(current))
		return
	}
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

type mockTimer struct {
	mu       sync.Mutex
	clock    *MockClock
	deadline time.Time
	fn       func()
	done     bool
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.done
	t.done = true
	return wasPending
}

func (t *mockTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasPending := !t.done
	t.done = false

	t.clock.mu.Lock()
	t.deadline = t.clock.current.Add(d)
	if !wasPending {
		t.clock.timers = append(t.clock.timers, t)
	}
	t.clock.mu.Unlock()
	return wasPending
}
