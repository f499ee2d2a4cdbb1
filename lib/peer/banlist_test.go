package peer

import (
	"testing"
	"time"
)

func TestBanListBanAndExpire(t *testing.T) {
	b := NewBanList()
	b.bans["1.2.3.4"] = time.Now().Add(-time.Second) // pre-expired, exercises eviction
	if b.IsBanned("1.2.3.4") {
		t.Fatalf("expected expired ban to be evicted")
	}

	b.Ban("5.6.7.8")
	if !b.IsBanned("5.6.7.8") {
		t.Fatalf("expected freshly banned IP to be banned")
	}
	if b.IsBanned("9.9.9.9") {
		t.Fatalf("expected unrelated IP to be unbanned")
	}
}

func TestDHPoolAcquire(t *testing.T) {
	p := NewDHPool()
	kp, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(kp.Public) != 256 {
		t.Fatalf("expected 256-byte DH public value, got %d", len(kp.Public))
	}
}
