package reactor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopPostRunsOnLoopGoroutine(t *testing.T) {
	l := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	done := make(chan struct{})
	var ran int32
	l.Post(func() {
		atomic.StoreInt32(&ran, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("posted closure never ran")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("closure did not run")
	}
	l.Stop()
}

func TestLoopEveryRepeats(t *testing.T) {
	l := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var count int32
	hit3 := make(chan struct{})
	l.Every(5*time.Millisecond, func() {
		if atomic.AddInt32(&count, 1) == 3 {
			close(hit3)
		}
	})

	select {
	case <-hit3:
	case <-time.After(2 * time.Second):
		t.Fatal("recurring timer did not fire 3 times")
	}
	l.Stop()
}

func TestLoopSurvivesPanickingJob(t *testing.T) {
	l := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Post(func() { panic("boom") })

	done := make(chan struct{})
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not survive a panicking job")
	}
	l.Stop()
}

func TestLoopStopIsIdempotent(t *testing.T) {
	l := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	l.Stop()
	l.Stop()
}
