// Package clock abstracts wall time so that reminders, interaction sessions
// and background workers can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used across the bot.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration

	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	// The returned Timer can cancel the call.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker returns a ticker delivering ticks every d on its channel.
	NewTicker(d time.Duration) Ticker
}

// Timer represents a single scheduled call that can be stopped
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops the timer,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using the standard time package
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (c *RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// MockClock is a Clock implementation for testing that allows manual time control.
// Timers and tickers only fire from Advance or Set.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
	tickers []*mockTicker
}

type mockTimer struct {
	mu       sync.Mutex
	deadline time.Time
	f        func()
	stopped  bool
}

type mockTicker struct {
	mu      sync.Mutex
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

// NewMockClock creates a new MockClock starting at the given time
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// AfterFunc schedules f to be called once the mock time reaches now+d.
func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &mockTimer{deadline: c.current.Add(d), f: f}
	c.timers = append(c.timers, timer)
	return timer
}

// NewTicker returns a ticker whose channel receives one value per Advance
// that crosses at least one period boundary. Extra ticks are dropped like
// time.Ticker does for slow receivers.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTicker{period: d, next: c.current.Add(d), ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

// PendingTimers reports how many timers are still waiting to fire.
func (c *MockClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Advance moves the mock clock forward by d, firing expired timers and tickers.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	now := c.current.Add(d)
	c.current = now

	var toFire []*mockTimer
	var remaining []*mockTimer
	for _, timer := range c.timers {
		timer.mu.Lock()
		if !timer.stopped && !timer.deadline.After(now) {
			toFire = append(toFire, timer)
		} else if !timer.stopped {
			remaining = append(remaining, timer)
		}
		timer.mu.Unlock()
	}
	c.timers = remaining

	var liveTickers []*mockTicker
	for _, t := range c.tickers {
		t.mu.Lock()
		if !t.stopped {
			liveTickers = append(liveTickers, t)
			if !t.next.After(now) {
				for !t.next.After(now) {
					t.next = t.next.Add(t.period)
				}
				select {
				case t.ch <- now:
				default:
				}
			}
		}
		t.mu.Unlock()
	}
	c.tickers = liveTickers
	c.mu.Unlock()

	// Fire outside the clock lock; callbacks commonly read Now().
	for _, timer := range toFire {
		timer.mu.Lock()
		if timer.stopped {
			timer.mu.Unlock()
			continue
		}
		timer.stopped = true
		f := timer.f
		timer.mu.Unlock()
		f()
	}
}

// Set moves the mock clock to t. Moving backwards never fires anything.
func (c *MockClock) Set(t time.Time) {
	now := c.Now()
	if t.After(now) {
		c.Advance(t.Sub(now))
		return
	}
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
