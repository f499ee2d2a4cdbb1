package ssu

import (
	"bytes"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
)

func startServer(t *testing.T, cfg Config) (*Server, *identity.PrivateKeys) {
	t.Helper()
	keys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	srv, err := Listen("127.0.0.1:0", keys, cfg, peer.NewDHPool(), peer.NewBanList())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, keys
}

func TestSessionHandshakeLoopback(t *testing.T) {
	a, aKeys := startServer(t, Config{})
	b, bKeys := startServer(t, Config{})

	established := make(chan *Session, 1)
	b.OnEstablished(func(s *Session) { established <- s })

	sess, err := a.Initiate(b.Addr(), b.IntroKey(), &bKeys.Identity)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := sess.WaitEstablished(); err != nil {
		t.Fatalf("initiator never established: %v", err)
	}

	var bSess *Session
	select {
	case bSess = <-established:
	case <-time.After(5 * time.Second):
		t.Fatal("responder never established")
	}

	if bSess.RemoteIdentity().Hash() != aKeys.Identity.Hash() {
		t.Fatalf("responder bound the wrong identity")
	}
	aAES, aMAC := sess.Keys()
	bAES, bMAC := bSess.Keys()
	if aAES != bAES || aMAC != bMAC {
		t.Fatalf("sides derived different session keys")
	}
}

func TestSessionDataDelivery(t *testing.T) {
	a, _ := startServer(t, Config{})
	b, _ := startServer(t, Config{})

	received := make(chan *i2np.Message, 8)
	b.OnMessage(func(_ *Session, m *i2np.Message) {
		if m.Type == i2np.TypeData {
			received <- m
		}
	})

	bKeysID := b.ownKeys.Identity
	sess, err := a.Initiate(b.Addr(), b.IntroKey(), &bKeysID)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := sess.WaitEstablished(); err != nil {
		t.Fatalf("establish: %v", err)
	}

	// A 4000-byte payload forces multi-fragment delivery at the v4
	// packet size.
	payload := bytes.Repeat([]byte{0xC3}, 4000)
	msg := &i2np.Message{
		Type:       i2np.TypeData,
		MessageID:  777,
		Expiration: time.Now().Add(time.Minute),
		Payload:    payload,
	}
	if err := sess.Send([]*i2np.Message{msg}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got.Payload, payload) {
			t.Fatalf("payload corrupted in transit (%d bytes)", len(got.Payload))
		}
		if got.MessageID != 777 {
			t.Fatalf("message id = %d, want 777", got.MessageID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fragmented message never dispatched upward")
	}

	// Duplicate suppression: exactly one upward dispatch even though
	// the resend pass may retransmit before ACKs land.
	select {
	case <-received:
		t.Fatal("message dispatched upward more than once")
	case <-time.After(200 * time.Millisecond):
	}
}
