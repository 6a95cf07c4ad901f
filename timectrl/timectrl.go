package timectrl

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used to answer "current fleet" style queries.
// Production code uses WallClock; the simulator and tests drive a
// TimeController instead.
type Clock interface {
	Now() time.Time
}

// WallClock reads the host clock.
type WallClock struct{}

// Now returns time.Now().
func (WallClock) Now() time.Time { return time.Now() }

// NowMs returns c.Now() as Unix milliseconds, the unit AIS snapshots carry.
func NowMs(c Clock) int64 {
	if c == nil {
		c = WallClock{}
	}
	return c.Now().UnixMilli()
}

// Mode describes how the TimeController advances simulated time.
type Mode int

const (
	// RealTime steps once per Tick of wall-clock time.
	RealTime Mode = iota
	// Accelerated steps as fast as the loop runs, Tick at a time.
	Accelerated
)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// TimeController drives simulated time and notifies listeners on every step.
// It implements Clock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	listeners   []func(time.Time)
	waiters     []waiter
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulated time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps simulated time to t. Listeners are not invoked; pending
// After channels whose deadline has passed fire.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.currentTime = t
	due := tc.dueLocked(t)
	tc.mu.Unlock()

	fire(due, t)
}

// After returns a channel that receives the simulated time once it has
// advanced by at least d. Non-positive durations fire immediately.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	defer tc.mu.Unlock()

	now := tc.currentTime
	if d <= 0 {
		ch <- now
		return ch
	}
	tc.waiters = append(tc.waiters, waiter{at: now.Add(d), ch: ch})
	sort.SliceStable(tc.waiters, func(i, j int) bool { return tc.waiters[i].at.Before(tc.waiters[j].at) })
	return ch
}

// AddListener registers a callback invoked on every step.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances simulated time by one Tick and notifies listeners.
func (tc *TimeController) Step() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	due := tc.dueLocked(now)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	fire(due, now)
	return now
}

// Start runs the controller for duration (forever when duration <= 0) in a
// separate goroutine, beginning at StartTime. The returned channel is
// closed when it finishes or stop is closed.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	return tc.StartUntil(duration, nil)
}

// StartUntil is Start with an external stop signal.
func (tc *TimeController) StartUntil(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		tc.currentTime = tc.StartTime
		tc.mu.Unlock()

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			tick = ticker.C
		}

		var elapsed time.Duration
		for duration <= 0 || elapsed < duration {
			if tick != nil {
				select {
				case <-tick:
				case <-stop:
					return
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
			tc.Step()
			elapsed += tc.Tick
		}
	}()
	return done
}

func (tc *TimeController) dueLocked(now time.Time) []waiter {
	n := 0
	for n < len(tc.waiters) && !tc.waiters[n].at.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	due := append([]waiter(nil), tc.waiters[:n]...)
	tc.waiters = tc.waiters[n:]
	return due
}

func fire(due []waiter, now time.Time) {
	for _, w := range due {
		w.ch <- now
	}
}
