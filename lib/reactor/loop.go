// Package reactor implements the single-threaded cooperative I/O loop
// that every subsystem in this core runs on: one goroutine
// drains a closure queue and fires timers, so all state belonging to
// that subsystem is touched from exactly one goroutine and external
// callers synchronize by posting closures rather than taking locks.
package reactor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// job is a closure queued for the loop goroutine, or a timer firing.
type job func()

// Loop is a single-goroutine executor. Post/After/Every are safe to call
// from any goroutine; the closures themselves always run on the loop's
// own goroutine, so subsystem state they close over needs no locking.
type Loop struct {
	name   string
	log    *logrus.Entry
	queue  chan job
	timers chan *timer
	cancel chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	running bool
}

type timer struct {
	fire     time.Time
	interval time.Duration // 0 for one-shot
	fn       job
	stopped  bool
}

// New creates a Loop. name identifies the subsystem in log lines, e.g.
// "ntcp", "netdb".
func New(name string, log *logrus.Logger) *Loop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Loop{
		name:   name,
		log:    log.WithField("reactor", name),
		queue:  make(chan job, 256),
		timers: make(chan *timer, 64),
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Post queues a closure to run on the loop goroutine. It never blocks the
// caller on loop progress beyond the channel's buffer.
func (l *Loop) Post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.cancel:
	}
}

// After schedules fn to run once after d, on the loop goroutine.
func (l *Loop) After(d time.Duration, fn func()) {
	select {
	case l.timers <- &timer{fire: time.Now().Add(d), fn: fn}:
	case <-l.cancel:
	}
}

// Every schedules fn to run repeatedly every d, on the loop goroutine,
// until Stop is called.
func (l *Loop) Every(d time.Duration, fn func()) {
	select {
	case l.timers <- &timer{fire: time.Now().Add(d), interval: d, fn: fn}:
	case <-l.cancel:
	}
}

// Run executes the loop until ctx is cancelled or Stop is called. A
// single poisoned closure must not kill the reactor: every
// job is wrapped in a recover that logs and continues.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	var pending []*timer
	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.cancel:
			return nil
		case fn := <-l.queue:
			l.runSafely(fn)
		case t := <-l.timers:
			pending = append(pending, t)
			l.rearm(wake, pending)
		case <-wake.C:
			now := time.Now()
			var remaining []*timer
			for _, t := range pending {
				if t.stopped {
					continue
				}
				if now.Before(t.fire) {
					remaining = append(remaining, t)
					continue
				}
				l.runSafely(t.fn)
				if t.interval > 0 {
					t.fire = now.Add(t.interval)
					remaining = append(remaining, t)
				}
			}
			pending = remaining
			l.rearm(wake, pending)
		}
	}
}

func (l *Loop) rearm(wake *time.Timer, pending []*timer) {
	if !wake.Stop() {
		select {
		case <-wake.C:
		default:
		}
	}
	if len(pending) == 0 {
		wake.Reset(time.Hour)
		return
	}
	next := pending[0].fire
	for _, t := range pending[1:] {
		if t.fire.Before(next) {
			next = t.fire
		}
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	wake.Reset(d)
}

func (l *Loop) runSafely(fn job) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("recovered from panicking reactor job")
		}
	}()
	fn()
}

// Stop requests the loop to exit and waits for it to do so.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	l.mu.Unlock()
	close(l.cancel)
	<-l.done
}
