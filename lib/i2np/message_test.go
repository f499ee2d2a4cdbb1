package i2np

import (
	"bytes"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		Type:       TypeData,
		MessageID:  42,
		Expiration: time.UnixMilli(1_700_000_000_000),
		Payload:    []byte("hello i2np"),
	}
	buf, err := m.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Type != m.Type || parsed.MessageID != m.MessageID {
		t.Fatalf("header fields did not round-trip")
	}
	if !bytes.Equal(parsed.Payload, m.Payload) {
		t.Fatalf("payload did not round-trip")
	}
}

func TestMessageChecksumMismatch(t *testing.T) {
	m := &Message{Type: TypeData, Expiration: time.Now(), Payload: []byte("abc")}
	buf, err := m.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF // corrupt last payload byte, checksum now stale
	if _, err := Parse(buf); err == nil {
		t.Fatalf("expected checksum mismatch to be rejected")
	}
}

func TestShortHeaderRoundTrip(t *testing.T) {
	m := &Message{Type: TypeData, Expiration: time.Unix(1_700_000_000, 0), Payload: []byte("short")}
	buf, err := m.ToShort()
	if err != nil {
		t.Fatalf("ToShort: %v", err)
	}
	promoted, err := FromShort(buf, 7)
	if err != nil {
		t.Fatalf("FromShort: %v", err)
	}
	if promoted.MessageID != 7 {
		t.Fatalf("expected supplied message id to be installed")
	}
	if !bytes.Equal(promoted.Payload, m.Payload) {
		t.Fatalf("payload did not round-trip through short header")
	}
}

func TestIsKnownType(t *testing.T) {
	if !IsKnownType(TypeTunnelBuild) {
		t.Fatalf("expected tunnel-build to be a known type")
	}
	if IsKnownType(99) {
		t.Fatalf("expected 99 to be unknown")
	}
}
