package jsengine

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

// minInterval keeps a zero-delay setInterval from spinning the engine.
const minInterval = time.Millisecond

// jsTimer is a pending setTimeout or setInterval registration.
type jsTimer struct {
	id       int64
	fn       goja.Callable
	args     []goja.Value
	interval time.Duration
	repeat   bool
	t        *time.Timer
}

// timerQueue backs setTimeout and setInterval. Timers are scheduled with
// time.AfterFunc; expiry only records the id and signals wake. Callbacks run
// later on the engine goroutine through runDue.
type timerQueue struct {
	timers map[int64]*jsTimer
	nextID int64
	wake   chan struct{}

	mu  sync.Mutex
	due []int64
}

func newTimerQueue() *timerQueue {
	return &timerQueue{
		timers: make(map[int64]*jsTimer),
		wake:   make(chan struct{}, 1),
	}
}

func (q *timerQueue) schedule(fn goja.Callable, delay time.Duration, repeat bool, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	if repeat && delay < minInterval {
		delay = minInterval
	}
	q.nextID++
	t := &jsTimer{id: q.nextID, fn: fn, args: args, interval: delay, repeat: repeat}
	id := t.id
	t.t = time.AfterFunc(delay, func() { q.fire(id) })
	q.timers[id] = t
	return id
}

func (q *timerQueue) fire(id int64) {
	q.mu.Lock()
	q.due = append(q.due, id)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *timerQueue) clear(id int64) {
	if t, ok := q.timers[id]; ok {
		t.t.Stop()
		delete(q.timers, id)
	}
}

func (q *timerQueue) pending() int {
	return len(q.timers)
}

// runDue runs the callbacks of every expired timer. The first callback error
// is returned after all due timers ran.
func (q *timerQueue) runDue() error {
	q.mu.Lock()
	due := q.due
	q.due = nil
	q.mu.Unlock()

	var firstErr error
	for _, id := range due {
		t, ok := q.timers[id]
		if !ok {
			continue
		}
		if t.repeat {
			t.t.Reset(t.interval)
		} else {
			delete(q.timers, id)
		}
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// waitNext blocks until a timer fires or the deadline passes. It reports
// false when no timer is pending or the deadline passed first. A zero
// deadline waits without limit.
func (q *timerQueue) waitNext(deadline time.Time) bool {
	q.mu.Lock()
	hasDue := len(q.due) > 0
	q.mu.Unlock()
	if hasDue {
		return true
	}
	if q.pending() == 0 {
		return false
	}

	if deadline.IsZero() {
		<-q.wake
		return true
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-q.wake:
		return true
	case <-timer.C:
		return false
	}
}

func (q *timerQueue) stopAll() {
	for id, t := range q.timers {
		t.t.Stop()
		delete(q.timers, id)
	}
}
