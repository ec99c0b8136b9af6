package adacom

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopClosed is returned by Do once the loop has stopped running.
var ErrLoopClosed = errors.New("adacom: loop closed")

// Loop is the event loop every engine mutation runs on. Work arrives as
// closures from the serial reader, timers and callers on other goroutines.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop with the given queue depth.
func NewLoop(depth int) *Loop {
	if depth <= 0 {
		depth = 256
	}
	return &Loop{
		queue: make(chan func(), depth),
		done:  make(chan struct{}),
	}
}

// Run processes queued closures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			fn()
		}
	}
}

// Post queues fn. It drops fn if the loop has stopped.
// Never call Post with a full queue from inside the loop.
func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.queue <- func() { defer close(finished); fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopClosed
		}
	}
}

// AfterFunc implements Scheduler.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{loop: l, fn: fn}
	t.Reset(d)
	return t
}

// loopTimer wraps time.Timer so that expiry runs on the loop. gen and
// pending are only touched on the loop, which makes a fire that raced with
// Stop or Reset harmless.
type loopTimer struct {
	loop    *Loop
	fn      func()
	t       *time.Timer
	gen     uint64
	pending bool
}

func (t *loopTimer) Reset(d time.Duration) {
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	t.pending = true
	gen := t.gen
	t.t = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			if t.gen != gen || !t.pending {
				return
			}
			t.pending = false
			t.fn()
		})
	})
}

func (t *loopTimer) Stop() {
	if t.t != nil {
		t.t.Stop()
	}
	t.gen++
	t.pending = false
}

func (t *loopTimer) Pending() bool { return t.pending }
