package netdb

import (
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

// Pending-request lifecycle bounds.
const (
	requestLifetime    = 60 * time.Second
	requestRetryAfter  = 5 * time.Second
	requestMaxAttempts = 7
)

// pendingRequest tracks one outstanding lookup: the target, which
// flood-fills were already asked, and the completion callback invoked
// with the result (nil on failure).
type pendingRequest struct {
	target      [crypto.HashSize]byte
	exploratory bool
	excluded    map[[crypto.HashSize]byte]bool
	created     time.Time
	lastAttempt time.Time
	attempts    int
	onComplete  func(*routerinfo.RouterInfo)
}

func newPendingRequest(target [crypto.HashSize]byte, exploratory bool, onComplete func(*routerinfo.RouterInfo)) *pendingRequest {
	now := time.Now()
	return &pendingRequest{
		target:      target,
		exploratory: exploratory,
		excluded:    make(map[[crypto.HashSize]byte]bool),
		created:     now,
		lastAttempt: now,
		onComplete:  onComplete,
	}
}

// worthless reports whether the request has outlived its 60 s budget.
func (pr *pendingRequest) worthless(now time.Time) bool {
	return now.Sub(pr.created) > requestLifetime
}

// wantsRetry reports whether a fresh flood-fill should be asked: no
// reply for 5 s and attempts remain.
func (pr *pendingRequest) wantsRetry(now time.Time) bool {
	return now.Sub(pr.lastAttempt) > requestRetryAfter && pr.attempts < requestMaxAttempts
}

// recordAttempt marks ff as tried so the next retry picks a different
// flood-fill.
func (pr *pendingRequest) recordAttempt(ff [crypto.HashSize]byte, now time.Time) {
	pr.excluded[ff] = true
	pr.attempts++
	pr.lastAttempt = now
}

// complete fires the callback exactly once.
func (pr *pendingRequest) complete(ri *routerinfo.RouterInfo) {
	if pr.onComplete != nil {
		cb := pr.onComplete
		pr.onComplete = nil
		cb(ri)
	}
}
