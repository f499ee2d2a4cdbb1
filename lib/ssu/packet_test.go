package ssu

import (
	"bytes"
	"net"
	"testing"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

var (
	testDst = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10001}
	testSrc = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10002}
)

func testKeys() (aes, mac [crypto.SessionKeySize]byte) {
	for i := range aes {
		aes[i] = byte(i)
		mac[i] = byte(255 - i)
	}
	return aes, mac
}

func TestPacketRoundTrip(t *testing.T) {
	aesKey, macKey := testKeys()
	payload := []byte("ssu payload bytes")

	pkt, err := buildPacket(macKey, aesKey, payloadData, payload, testDst, testSrc)
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}
	parsed, err := parsePacket(macKey, aesKey, pkt, testDst, testSrc)
	if err != nil {
		t.Fatalf("parsePacket: %v", err)
	}
	if parsed.payloadType != payloadData {
		t.Fatalf("payload type = %d, want %d", parsed.payloadType, payloadData)
	}
	if !bytes.HasPrefix(parsed.payload, payload) {
		t.Fatalf("payload did not survive the round trip")
	}
}

func TestPacketMACRejectsTamper(t *testing.T) {
	aesKey, macKey := testKeys()
	pkt, err := buildPacket(macKey, aesKey, payloadData, []byte("x"), testDst, testSrc)
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}
	pkt[len(pkt)-1] ^= 0x01
	if _, err := parsePacket(macKey, aesKey, pkt, testDst, testSrc); err == nil {
		t.Fatalf("expected MAC failure on a flipped ciphertext byte")
	}
}

func TestPacketMACBindsEndpoints(t *testing.T) {
	aesKey, macKey := testKeys()
	pkt, err := buildPacket(macKey, aesKey, payloadData, []byte("x"), testDst, testSrc)
	if err != nil {
		t.Fatalf("buildPacket: %v", err)
	}
	other := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 9}
	if _, err := parsePacket(macKey, aesKey, pkt, testDst, other); err == nil {
		t.Fatalf("expected MAC failure when the source endpoint differs")
	}
}

func TestFragmentInfoRoundTrip(t *testing.T) {
	cases := []struct {
		number uint8
		isLast bool
		size   int
	}{
		{0, false, 0},
		{0, true, 1},
		{5, false, 1369},
		{127, true, 0x3FFF},
	}
	for _, c := range cases {
		b := fragmentInfo(c.number, c.isLast, c.size)
		num, last, size := parseFragmentInfo(b[:])
		if num != c.number || last != c.isLast || size != c.size {
			t.Fatalf("fragment info (%d,%v,%d) round-tripped to (%d,%v,%d)",
				c.number, c.isLast, c.size, num, last, size)
		}
	}
}

func TestDataPayloadRoundTrip(t *testing.T) {
	d := &dataPayload{
		ExplicitACKs: []uint32{1, 77, 0xFFFFFFFF},
		Bitfields: []ackBitfield{
			{MessageID: 9, Bits: []bool{true, false, true, false, false, false, false, true, true}},
		},
		Fragments: []fragment{
			{MessageID: 42, Number: 0, IsLast: false, Data: []byte("first")},
			{MessageID: 42, Number: 1, IsLast: true, Data: []byte("second")},
		},
		WantReply: true,
	}
	parsed, err := parseDataPayload(d.serialize())
	if err != nil {
		t.Fatalf("parseDataPayload: %v", err)
	}
	if len(parsed.ExplicitACKs) != 3 || parsed.ExplicitACKs[2] != 0xFFFFFFFF {
		t.Fatalf("explicit acks did not round-trip: %v", parsed.ExplicitACKs)
	}
	if len(parsed.Bitfields) != 1 || parsed.Bitfields[0].MessageID != 9 {
		t.Fatalf("bitfields did not round-trip")
	}
	if !parsed.Bitfields[0].Bits[8] {
		t.Fatalf("bit 8 lost across the 7-bit group boundary")
	}
	if len(parsed.Fragments) != 2 || !parsed.Fragments[1].IsLast {
		t.Fatalf("fragments did not round-trip")
	}
	if !parsed.WantReply {
		t.Fatalf("want-reply flag lost")
	}
}

func TestHandshakeMessageCodecs(t *testing.T) {
	req := &sessionRequest{TargetIP: net.IPv4(192, 168, 1, 7)}
	for i := range req.X {
		req.X[i] = byte(i)
	}
	gotReq, err := parseSessionRequest(req.serialize())
	if err != nil {
		t.Fatalf("parseSessionRequest: %v", err)
	}
	if !gotReq.TargetIP.Equal(req.TargetIP) || gotReq.X != req.X {
		t.Fatalf("session request did not round-trip")
	}

	created := &sessionCreated{
		InitiatorIP: net.IPv4(10, 1, 2, 3),
		Port:        4500,
		RelayTag:    12345,
		SignedOn:    1_700_000_000,
		Signature:   bytes.Repeat([]byte{0xAB}, 64),
	}
	gotCreated, err := parseSessionCreated(created.serialize())
	if err != nil {
		t.Fatalf("parseSessionCreated: %v", err)
	}
	if gotCreated.RelayTag != created.RelayTag || gotCreated.Port != created.Port ||
		!bytes.Equal(gotCreated.Signature, created.Signature) {
		t.Fatalf("session created did not round-trip")
	}
}

func TestRelayAndPeerTestCodecs(t *testing.T) {
	req := &relayRequest{RelayTag: 7, AliceIP: net.IPv4(1, 2, 3, 4), AlicePort: 9000, Nonce: 0xDEAD}
	gotReq, err := parseRelayRequest(req.serialize())
	if err != nil {
		t.Fatalf("parseRelayRequest: %v", err)
	}
	if gotReq.RelayTag != 7 || gotReq.Nonce != 0xDEAD || !gotReq.AliceIP.Equal(req.AliceIP) {
		t.Fatalf("relay request did not round-trip")
	}

	resp := &relayResponse{
		CharlieIP:   net.IPv4(9, 8, 7, 6),
		CharliePort: 1234,
		AliceIP:     net.IPv4(1, 2, 3, 4),
		AlicePort:   9000,
		Nonce:       0xBEEF,
	}
	gotResp, err := parseRelayResponse(resp.serialize())
	if err != nil {
		t.Fatalf("parseRelayResponse: %v", err)
	}
	if gotResp.Nonce != 0xBEEF || gotResp.CharliePort != 1234 {
		t.Fatalf("relay response did not round-trip")
	}

	test := &peerTest{Nonce: 31337, IP: net.IPv4(4, 4, 4, 4), Port: 8}
	gotTest, err := parsePeerTest(test.serialize())
	if err != nil {
		t.Fatalf("parsePeerTest: %v", err)
	}
	if gotTest.Nonce != 31337 || !gotTest.IP.Equal(test.IP) {
		t.Fatalf("peer test did not round-trip")
	}

	// Alice's own probe carries no endpoint at all.
	empty := &peerTest{Nonce: 1}
	gotEmpty, err := parsePeerTest(empty.serialize())
	if err != nil {
		t.Fatalf("parsePeerTest(empty ip): %v", err)
	}
	if gotEmpty.IP != nil {
		t.Fatalf("expected empty endpoint to stay empty")
	}
}
