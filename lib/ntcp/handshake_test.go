package ntcp

import (
	"net"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
)

func TestHandshakeRoundTrip(t *testing.T) {
	aKeys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate A: %v", err)
	}
	bKeys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate B: %v", err)
	}

	aConn, bConn := net.Pipe()
	aPool, bPool := peer.NewDHPool(), peer.NewDHPool()

	type result struct {
		session *Session
		err     error
	}
	aDone := make(chan result, 1)
	bDone := make(chan result, 1)

	go func() {
		s, err := InitiatorHandshake(aConn, aKeys, &bKeys.Identity, aPool)
		aDone <- result{s, err}
	}()
	go func() {
		s, err := ResponderHandshake(bConn, bKeys, bPool)
		bDone <- result{s, err}
	}()

	var aRes, bRes result
	select {
	case aRes = <-aDone:
	case <-time.After(5 * time.Second):
		t.Fatal("initiator handshake timed out")
	}
	select {
	case bRes = <-bDone:
	case <-time.After(5 * time.Second):
		t.Fatal("responder handshake timed out")
	}

	if aRes.err != nil {
		t.Fatalf("initiator handshake: %v", aRes.err)
	}
	if bRes.err != nil {
		t.Fatalf("responder handshake: %v", bRes.err)
	}
	if aRes.session.RemoteIdentity().Hash() != bKeys.Identity.Hash() {
		t.Fatalf("initiator's remote identity does not match B")
	}
	if bRes.session.RemoteIdentity().Hash() != aKeys.Identity.Hash() {
		t.Fatalf("responder's remote identity does not match A")
	}
	if aRes.session.aesKey != bRes.session.aesKey {
		t.Fatalf("initiator and responder derived different session keys")
	}
}

func TestSessionFrameRoundTrip(t *testing.T) {
	aKeys, _ := identity.Generate(crypto.DefaultSignatureType)
	bKeys, _ := identity.Generate(crypto.DefaultSignatureType)

	aConn, bConn := net.Pipe()
	aPool, bPool := peer.NewDHPool(), peer.NewDHPool()

	type result struct {
		session *Session
		err     error
	}
	aDone := make(chan result, 1)
	bDone := make(chan result, 1)
	go func() {
		s, err := InitiatorHandshake(aConn, aKeys, &bKeys.Identity, aPool)
		aDone <- result{s, err}
	}()
	go func() {
		s, err := ResponderHandshake(bConn, bKeys, bPool)
		bDone <- result{s, err}
	}()
	aRes := <-aDone
	bRes := <-bDone
	if aRes.err != nil || bRes.err != nil {
		t.Fatalf("handshake failed: a=%v b=%v", aRes.err, bRes.err)
	}

	received := make(chan *i2np.Message, 1)
	bRes.session.OnMessage(func(m *i2np.Message) { received <- m })
	go bRes.session.Serve()

	msg := &i2np.Message{Type: i2np.TypeData, MessageID: 42, Expiration: time.Now().Add(time.Minute), Payload: []byte("hello ntcp")}
	if err := aRes.session.Send([]*i2np.Message{msg}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got.Payload) != "hello ntcp" {
			t.Fatalf("payload mismatch: got %q", got.Payload)
		}
		if got.MessageID != 42 {
			t.Fatalf("message id mismatch: got %d", got.MessageID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for framed message")
	}

	aRes.session.Close()
	bRes.session.Close()
}
