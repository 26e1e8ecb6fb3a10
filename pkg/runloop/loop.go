// Package runloop provides the single-threaded event loop that owns all
// accessory server state.
//
// Work enters the loop through Post (from any goroutine) or through timers
// armed with AfterFunc (from the loop). Every callback runs on the loop, one
// at a time, so loop-owned state needs no locking.
//
// A timer is identified by its TimerID. Cancel removes the ID from the set of
// live timers; a fire whose ID is no longer live is dropped. This makes a
// stale fire that was already queued when the timer was cancelled or
// replaced harmless.
//
// With a ManualClock the loop never runs on its own goroutine: tests drive
// it with Advance and RunPending.
package runloop

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pion/logging"
)

// TimerID identifies an armed timer. The zero value is never issued.
type TimerID uint64

// Config configures a Loop.
type Config struct {
	// Clock switches the loop into manual mode when set.
	Clock *ManualClock

	// LoggerFactory for logging. Optional.
	LoggerFactory logging.LoggerFactory
}

type timer struct {
	id       TimerID
	deadline time.Time
	fn       func()
	t        *time.Timer
}

// Loop is a cooperative single-threaded executor.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	clock  *ManualClock
	timers map[TimerID]*timer
	nextID TimerID

	log logging.LeveledLogger
}

// New creates a loop.
func New(config Config) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		clock:  config.Clock,
		timers: make(map[TimerID]*timer),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("runloop")
	}
	return l
}

// IsManual reports whether the loop is driven by a ManualClock.
func (l *Loop) IsManual() bool { return l.clock != nil }

// Now returns the loop's notion of the current time.
func (l *Loop) Now() time.Time {
	if l.clock != nil {
		return l.clock.Now()
	}
	return time.Now()
}

// Post queues fn to run on the loop. Safe for concurrent use.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for it to return. In manual mode fn runs
// on the calling goroutine, which is acting as the loop. Do must not be
// called from a loop callback in real mode.
func (l *Loop) Do(fn func()) {
	if l.clock != nil {
		fn()
		return
	}
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}

// Run executes callbacks until ctx is cancelled. It must not be used in
// manual mode.
func (l *Loop) Run(ctx context.Context) error {
	if l.clock != nil {
		panic("runloop: Run called on a manual loop")
	}
	if l.log != nil {
		l.log.Debug("loop started")
	}
	for {
		if l.runQueued() == 0 {
			select {
			case <-ctx.Done():
				l.stopTimers()
				if l.log != nil {
					l.log.Debug("loop stopped")
				}
				return ctx.Err()
			case <-l.wake:
			}
		}
	}
}

// runQueued runs the callbacks queued so far and returns how many ran.
func (l *Loop) runQueued() int {
	l.mu.Lock()
	q := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range q {
		fn()
	}
	return len(q)
}

// AfterFunc arms a one-shot timer that runs fn on the loop after d. Must be
// called from the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) TimerID {
	if d < 0 {
		d = 0
	}
	l.nextID++
	id := l.nextID
	t := &timer{id: id, deadline: l.Now().Add(d), fn: fn}
	l.timers[id] = t
	if l.clock == nil {
		t.t = time.AfterFunc(d, func() {
			l.Post(func() { l.fire(id) })
		})
	}
	return id
}

// Cancel disarms a timer. Cancelling an unknown or fired timer is a no-op.
func (l *Loop) Cancel(id TimerID) {
	t, ok := l.timers[id]
	if !ok {
		return
	}
	delete(l.timers, id)
	if t.t != nil {
		t.t.Stop()
	}
}

// Active reports whether the timer is armed and has not fired.
func (l *Loop) Active(id TimerID) bool {
	_, ok := l.timers[id]
	return ok
}

// Deadline returns when the timer fires.
func (l *Loop) Deadline(id TimerID) (time.Time, bool) {
	t, ok := l.timers[id]
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

// fire runs the timer if it is still live.
func (l *Loop) fire(id TimerID) {
	t, ok := l.timers[id]
	if !ok {
		if l.log != nil {
			l.log.Tracef("dropping stale fire of timer %d", id)
		}
		return
	}
	delete(l.timers, id)
	t.fn()
}

func (l *Loop) stopTimers() {
	for id, t := range l.timers {
		if t.t != nil {
			t.t.Stop()
		}
		delete(l.timers, id)
	}
}

// RunPending runs queued callbacks and due timers until none remain. Manual
// mode only.
func (l *Loop) RunPending() {
	if l.clock == nil {
		panic("runloop: RunPending requires a manual clock")
	}
	for {
		ran := l.runQueued()
		if due := l.nextDue(l.clock.Now()); due != nil {
			l.fire(due.id)
			continue
		}
		if ran == 0 {
			return
		}
	}
}

// Advance moves the manual clock forward by d, firing timers in deadline
// order at their own deadlines.
func (l *Loop) Advance(d time.Duration) {
	if l.clock == nil {
		panic("runloop: Advance requires a manual clock")
	}
	target := l.clock.Now().Add(d)
	l.RunPending()
	for {
		due := l.nextDue(target)
		if due == nil {
			break
		}
		if due.deadline.After(l.clock.Now()) {
			l.clock.set(due.deadline)
		}
		l.fire(due.id)
		l.RunPending()
	}
	l.clock.set(target)
	l.RunPending()
}

// nextDue returns the earliest live timer with deadline <= at.
func (l *Loop) nextDue(at time.Time) *timer {
	var due []*timer
	for _, t := range l.timers {
		if !t.deadline.After(at) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}
