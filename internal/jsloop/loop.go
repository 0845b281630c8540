// Package jsloop runs one goja runtime on a goja_nodejs event loop and keeps
// count of the asynchronous work still owed to it.
package jsloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// ErrStopped is returned when work is posted to a stopped loop.
var ErrStopped = errors.New("event loop stopped")

// Loop owns a started event loop. All JS runs on its goroutine; Go-side I/O
// runs elsewhere and posts results back with Async.
type Loop struct {
	el *eventloop.EventLoop
	rt *goja.Runtime

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed while pending == 0
	stopped bool
}

// New starts a fresh loop with its own runtime. The runtime has timers but
// no console and no require.
func New() *Loop {
	el := eventloop.NewEventLoop(eventloop.EnableConsole(false))
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{el: el, ctx: ctx, cancel: cancel, idle: make(chan struct{})}
	close(l.idle)

	el.Start()
	ready := make(chan struct{})
	el.RunOnLoop(func(rt *goja.Runtime) {
		l.rt = rt
		close(ready)
	})
	<-ready
	return l
}

// Context is cancelled when the loop stops.
func (l *Loop) Context() context.Context { return l.ctx }

// Interrupt aborts the JS currently running on the loop. Safe from any goroutine.
func (l *Loop) Interrupt(reason interface{}) {
	l.rt.Interrupt(reason)
}

// ClearInterrupt must run on the loop before the runtime is reused.
func (l *Loop) ClearInterrupt() {
	l.rt.ClearInterrupt()
}

// Post schedules fn on the loop. It is dropped when the loop is stopped.
func (l *Loop) Post(fn func(*goja.Runtime)) {
	if l.isStopped() {
		return
	}
	l.el.RunOnLoop(fn)
}

// Call runs fn on the loop and waits for it. Never call from the loop itself.
func (l *Loop) Call(ctx context.Context, fn func(*goja.Runtime) error) error {
	if l.isStopped() {
		return ErrStopped
	}
	done := make(chan error, 1)
	l.el.RunOnLoop(func(rt *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic on loop: %v", r)
			}
		}()
		done <- fn(rt)
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrStopped
	}
}

// Track registers one outstanding operation. The returned func must be
// called exactly once.
func (l *Loop) Track() func() {
	l.mu.Lock()
	if l.pending == 0 {
		l.idle = make(chan struct{})
	}
	l.pending++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.pending--
			if l.pending == 0 {
				close(l.idle)
			}
		})
	}
}

// Async runs work on a new goroutine and applies its continuation on the
// loop. The operation counts as pending until the continuation has run.
func (l *Loop) Async(work func(ctx context.Context) func(*goja.Runtime)) {
	done := l.Track()
	go func() {
		cont := work(l.ctx)
		if l.isStopped() {
			done()
			return
		}
		l.el.RunOnLoop(func(rt *goja.Runtime) {
			defer done()
			if cont != nil {
				cont(rt)
			}
		})
	}()
}

// Schedule posts fn to the loop and counts it as pending until it runs.
func (l *Loop) Schedule(fn func(*goja.Runtime)) {
	if l.isStopped() {
		return
	}
	done := l.Track()
	l.el.RunOnLoop(func(rt *goja.Runtime) {
		defer done()
		fn(rt)
	})
}

// Timer is a tracked loop timeout.
type Timer struct {
	t    *eventloop.Timer
	done func()
}

// SetTimeout runs fn on the loop after d. Call from the loop goroutine.
func (l *Loop) SetTimeout(d time.Duration, fn func(*goja.Runtime)) *Timer {
	timer := &Timer{done: l.Track()}
	timer.t = l.el.SetTimeout(func(rt *goja.Runtime) {
		defer timer.done()
		fn(rt)
	}, d)
	return timer
}

// ClearTimeout cancels a timer that has not fired. Call from the loop goroutine.
func (l *Loop) ClearTimeout(t *Timer) {
	if t == nil {
		return
	}
	l.el.ClearTimeout(t.t)
	t.done()
}

// Pending returns the number of outstanding operations.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// WaitIdle blocks until no tracked work is outstanding and one extra loop
// round-trip (which drains promise jobs) leaves it that way.
func (l *Loop) WaitIdle(ctx context.Context) error {
	for {
		l.mu.Lock()
		idle := l.idle
		l.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ctx.Done():
			return nil
		}

		if err := l.Call(ctx, func(*goja.Runtime) error { return nil }); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
		if l.Pending() == 0 {
			return nil
		}
	}
}

// Stop interrupts any running JS, stops the loop and releases waiters.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()

	l.cancel()
	l.rt.Interrupt("loop stopped")
	l.el.Stop()
}

func (l *Loop) isStopped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped
}
