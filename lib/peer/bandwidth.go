package peer

import (
	"sync"
	"sync/atomic"
	"time"
)

// bandwidthAlpha weights the exponential moving average toward the most
// recent 1-second sample.
const bandwidthAlpha = 0.2

// bandwidthEstimator tracks a rolling bytes/second estimate, updated once
// per second from raw byte counters accumulated between ticks. This is a
// narrow, estimate-only counterpart to a token-bucket rate limiter (not a
// fit here: nothing in this core limits outbound rate, it only reports
// it), so it is implemented directly rather than via golang.org/x/time/rate.
type bandwidthEstimator struct {
	pendingBytes int64 // atomic accumulator since last tick
	rate         atomic.Value // float64 bytes/sec

	mu       sync.Mutex
	lastTick time.Time
}

func newBandwidthEstimator() *bandwidthEstimator {
	e := &bandwidthEstimator{lastTick: time.Now()}
	e.rate.Store(float64(0))
	return e
}

// Add records n bytes transferred since the last tick.
func (e *bandwidthEstimator) Add(n uint64) {
	atomic.AddInt64(&e.pendingBytes, int64(n))
}

// Tick folds the accumulated bytes into the rolling rate; call roughly
// once per second.
func (e *bandwidthEstimator) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(e.lastTick).Seconds()
	if elapsed <= 0 {
		return
	}
	e.lastTick = now

	sample := float64(atomic.SwapInt64(&e.pendingBytes, 0)) / elapsed
	prev := e.rate.Load().(float64)
	e.rate.Store(bandwidthAlpha*sample + (1-bandwidthAlpha)*prev)
}

// BytesPerSecond returns the current rolling estimate.
func (e *bandwidthEstimator) BytesPerSecond() float64 {
	return e.rate.Load().(float64)
}
