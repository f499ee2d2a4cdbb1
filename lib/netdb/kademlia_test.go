package netdb

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

func randomHash(t *testing.T) [crypto.HashSize]byte {
	t.Helper()
	var h [crypto.HashSize]byte
	if _, err := rand.Read(h[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return h
}

func TestRoutingKeyRotatesDaily(t *testing.T) {
	h := randomHash(t)
	day1 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	if RoutingKey(h, day1) == RoutingKey(h, day2) {
		t.Fatalf("routing key must rotate with the day salt")
	}
	if RoutingKey(h, day1) != RoutingKey(h, day1.Add(time.Hour)) {
		t.Fatalf("routing key must be stable within one day")
	}
}

func TestSelectClosestIsMinimal(t *testing.T) {
	target := randomHash(t)
	now := time.Now()

	candidates := make([]candidate, 0, 100)
	for i := 0; i < 100; i++ {
		h := randomHash(t)
		candidates = append(candidates, candidate{hash: h, key: RoutingKey(h, now)})
	}

	closest := selectClosest(RoutingKey(target, now), candidates, 1, nil)
	if len(closest) != 1 {
		t.Fatalf("expected one result, got %d", len(closest))
	}

	// The winner's XOR distance must be minimal over the whole
	// candidate set.
	winnerKey := RoutingKey(closest[0], now)
	targetKey := RoutingKey(target, now)
	winnerDist := crypto.XORHash(winnerKey, targetKey)
	for _, c := range candidates {
		if crypto.LessDistance(crypto.XORHash(c.key, targetKey), winnerDist) {
			t.Fatalf("found a candidate closer than the selected flood-fill")
		}
	}
}

func TestSelectClosestHonorsExclusion(t *testing.T) {
	target := randomHash(t)
	now := time.Now()
	candidates := make([]candidate, 0, 10)
	for i := 0; i < 10; i++ {
		h := randomHash(t)
		candidates = append(candidates, candidate{hash: h, key: RoutingKey(h, now)})
	}

	first := selectClosest(RoutingKey(target, now), candidates, 1, nil)[0]
	second := selectClosest(RoutingKey(target, now), candidates, 1, map[[crypto.HashSize]byte]bool{first: true})
	if len(second) != 1 || second[0] == first {
		t.Fatalf("exclusion list was ignored")
	}
}

func TestSelectClosestOrdered(t *testing.T) {
	target := randomHash(t)
	now := time.Now()
	candidates := make([]candidate, 0, 20)
	for i := 0; i < 20; i++ {
		h := randomHash(t)
		candidates = append(candidates, candidate{hash: h, key: RoutingKey(h, now)})
	}

	targetKey := RoutingKey(target, now)
	picked := selectClosest(targetKey, candidates, 5, nil)
	if len(picked) != 5 {
		t.Fatalf("expected 5 results, got %d", len(picked))
	}
	for i := 1; i < len(picked); i++ {
		prev := crypto.XORHash(RoutingKey(picked[i-1], now), targetKey)
		cur := crypto.XORHash(RoutingKey(picked[i], now), targetKey)
		if crypto.LessDistance(cur, prev) {
			t.Fatalf("results not in increasing-distance order at index %d", i)
		}
	}
}

func TestPendingRequestLifecycle(t *testing.T) {
	pr := newPendingRequest(randomHash(t), false, nil)
	now := time.Now()
	if pr.worthless(now) {
		t.Fatalf("fresh request must not be worthless")
	}
	if !pr.worthless(now.Add(requestLifetime + time.Second)) {
		t.Fatalf("request older than 60s must be worthless")
	}
	if pr.wantsRetry(now) {
		t.Fatalf("no retry before the 5s window elapses")
	}
	if !pr.wantsRetry(now.Add(requestRetryAfter + time.Second)) {
		t.Fatalf("retry expected after the 5s window")
	}
	for i := 0; i < requestMaxAttempts; i++ {
		pr.recordAttempt(randomHash(t), now)
	}
	if pr.wantsRetry(now.Add(requestRetryAfter + time.Second)) {
		t.Fatalf("no retry after the attempt budget is spent")
	}
}
