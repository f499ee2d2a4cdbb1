package netdb

import (
	"testing"
)

func TestProfilePersistence(t *testing.T) {
	dir := t.TempDir()
	store, err := NewProfileStore(dir)
	if err != nil {
		t.Fatalf("NewProfileStore: %v", err)
	}

	hash := randomHash(t)
	p := store.Get(hash)
	p.TunnelAgreed()
	p.TunnelAgreed()
	p.TunnelAgreed()
	p.TunnelDeclined()
	store.SaveAll()

	// A fresh store instance simulates a restart.
	reloaded, err := NewProfileStore(dir)
	if err != nil {
		t.Fatalf("NewProfileStore (restart): %v", err)
	}
	p2 := reloaded.Get(hash)
	if p2.TunnelsAgreed != 3 || p2.TunnelsDeclined != 1 {
		t.Fatalf("loaded profile agreed=%d declined=%d, want 3/1", p2.TunnelsAgreed, p2.TunnelsDeclined)
	}
	if p2.IsBad() {
		t.Fatalf("3 agreed / 1 declined must not be bad")
	}
}

func TestProfileIsBad(t *testing.T) {
	p := &Profile{}
	for i := 0; i < 5; i++ {
		p.TunnelDeclined()
	}
	if !p.IsBad() {
		t.Fatalf("agreed=0 declined=5 must be bad")
	}

	p2 := &Profile{TunnelsAgreed: 2, TunnelsDeclined: 9}
	if !p2.IsBad() {
		t.Fatalf("declined > 4*agreed must be bad")
	}

	p3 := &Profile{TunnelsAgreed: 5, TunnelsDeclined: 3}
	if p3.IsBad() {
		t.Fatalf("well-behaved peer flagged bad")
	}
}

func TestProfileResetAfterExcessRejects(t *testing.T) {
	p := &Profile{TunnelsDeclined: 10, TimesTaken: 1, TimesRejected: 10}
	// This IsBad call pushes rejects past 10x takes, triggering the
	// reset instead of another condemnation.
	if p.IsBad() {
		t.Fatalf("expected reset, not bad")
	}
	if p.TunnelsDeclined != 0 || p.TimesRejected != 0 {
		t.Fatalf("counters not reset: declined=%d rejected=%d", p.TunnelsDeclined, p.TimesRejected)
	}
}

func TestProfileFreshIsGood(t *testing.T) {
	dir := t.TempDir()
	store, err := NewProfileStore(dir)
	if err != nil {
		t.Fatalf("NewProfileStore: %v", err)
	}
	p := store.Get(randomHash(t))
	if p.IsBad() {
		t.Fatalf("a never-seen peer must start good")
	}
}
