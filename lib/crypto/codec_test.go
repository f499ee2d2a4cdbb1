package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestBase64RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 11, 12, 13, 32, 387, 1024} {
		data := make([]byte, n)
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("rand: %v", err)
		}
		decoded, err := Base64Decode(Base64Encode(data))
		if err != nil {
			t.Fatalf("n=%d: decode: %v", n, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("n=%d: base64 round trip mismatch", n)
		}
	}
}

func TestBase64UsesI2PAlphabet(t *testing.T) {
	// 0xFF-ish input forces the high alphabet positions where I2P
	// substitutes '-' and '~' for '+' and '/'.
	encoded := Base64Encode([]byte{0xFF, 0xFF, 0xFF})
	if bytes.ContainsAny([]byte(encoded), "+/") {
		t.Fatalf("standard alphabet characters leaked into %q", encoded)
	}
}

func TestBase32RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 5, 32, 40, 41, 1024} {
		data := make([]byte, n)
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("rand: %v", err)
		}
		decoded, err := Base32Decode(Base32Encode(data))
		if err != nil {
			t.Fatalf("n=%d: decode: %v", n, err)
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("n=%d: base32 round trip mismatch", n)
		}
	}
}

func TestAdler32RejectsSingleByteFlip(t *testing.T) {
	frame := []byte("the quick brown fox jumps over the lazy dog")
	want := Adler32(frame)
	for i := range frame {
		frame[i] ^= 0x01
		if Adler32(frame) == want {
			t.Fatalf("flip at byte %d went undetected", i)
		}
		frame[i] ^= 0x01
	}
}

func TestSessionKeyFromSecret(t *testing.T) {
	// High bit set: key = 0x00 || S[0..31].
	secret := make([]byte, DHPublicSize)
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	secret[0] = 0x80
	key, err := SessionKeyFromSecret(secret)
	if err != nil {
		t.Fatalf("high-bit case: %v", err)
	}
	if key[0] != 0 || key[1] != 0x80 || key[2] != secret[1] {
		t.Fatalf("high-bit truncation rule violated")
	}

	// Nonzero leading byte: key = S[0..32].
	secret[0] = 0x7F
	key, err = SessionKeyFromSecret(secret)
	if err != nil {
		t.Fatalf("plain case: %v", err)
	}
	if !bytes.Equal(key[:], secret[:SessionKeySize]) {
		t.Fatalf("plain truncation rule violated")
	}

	// Leading zeros are skipped.
	secret[0], secret[1], secret[2] = 0, 0, 0
	key, err = SessionKeyFromSecret(secret)
	if err != nil {
		t.Fatalf("leading-zero case: %v", err)
	}
	if !bytes.Equal(key[:], secret[3:3+SessionKeySize]) {
		t.Fatalf("leading-zero skip rule violated")
	}

	// All-zero secret is degenerate.
	if _, err := SessionKeyFromSecret(make([]byte, DHPublicSize)); err == nil {
		t.Fatalf("degenerate secret must be rejected")
	}
}

func TestDHAgreement(t *testing.T) {
	a, err := GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("generate a: %v", err)
	}
	b, err := GenerateDHKeyPair()
	if err != nil {
		t.Fatalf("generate b: %v", err)
	}
	if !bytes.Equal(a.Agree(b.Public[:]), b.Agree(a.Public[:])) {
		t.Fatalf("DH agreement is not symmetric")
	}
}

func TestHMACMD5Verify(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, SessionKeySize)
	data := []byte("mac me")
	mac := HMACMD5(key, data)
	if !VerifyHMACMD5(key, data, mac[:]) {
		t.Fatalf("valid MAC rejected")
	}
	mac[0] ^= 1
	if VerifyHMACMD5(key, data, mac[:]) {
		t.Fatalf("tampered MAC accepted")
	}
}
