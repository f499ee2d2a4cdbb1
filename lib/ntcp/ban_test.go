package ntcp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
)

// TestBanAfterPhase1Violation delivers a phase 1 whose HXxorHI was
// computed against the wrong identity: the listener must close the
// socket and ban the source IP, and refuse a second connection while
// the ban holds.
func TestBanAfterPhase1Violation(t *testing.T) {
	bKeys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate B: %v", err)
	}
	wrongKeys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate wrong identity: %v", err)
	}

	bans := peer.NewBanList()
	pool := peer.NewDHPool()
	ln, err := Listen("127.0.0.1:0", bKeys, pool, bans, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go ln.Serve()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Phase 1 aimed at the wrong responder identity.
	kp, err := crypto.GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("dh: %v", err)
	}
	hx := crypto.SHA256(kp.Public[:])
	wrongHash := wrongKeys.Identity.Hash()
	hi := crypto.SHA256(wrongHash[:])
	bad := crypto.XORHash(hx, hi)

	phase1 := append(append([]byte{}, kp.Public[:]...), bad[:]...)
	if _, err := conn.Write(phase1); err != nil {
		t.Fatalf("write phase 1: %v", err)
	}

	// The listener must tear the connection down rather than answer.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after phase-1 violation, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !bans.IsBanned("127.0.0.1") {
		if time.Now().After(deadline) {
			t.Fatal("source IP never appeared on the ban list")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second connection from the banned IP is refused outright.
	conn2, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial during ban: %v", err)
	}
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn2.Read(buf); err != io.EOF {
		t.Fatalf("expected immediate close during ban, got %v", err)
	}
}
