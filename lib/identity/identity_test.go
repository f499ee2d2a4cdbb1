package identity

import (
	"bytes"
	"testing"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
)

func TestGenerateRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		sigType crypto.SignatureType
	}{
		{"ed25519", crypto.SigEd25519SHA512},
		{"ecdsa-p256", crypto.SigECDSAP256SHA256},
		{"ecdsa-p384", crypto.SigECDSAP384SHA384},
		{"ecdsa-p521", crypto.SigECDSAP521SHA512},
		{"dsa-sha1", crypto.SigDSASHA1},
		{"rsa-4096", crypto.SigRSASHA5124096},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, err := Generate(tt.sigType)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}

			serialized := pk.Identity.Serialize()
			parsed, err := Parse(serialized)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !bytes.Equal(parsed.Serialize(), serialized) {
				t.Fatalf("serialize(parse(b)) != b")
			}
			if parsed.Hash() != pk.Identity.Hash() {
				t.Fatalf("hash not stable across round-trip")
			}

			msg := []byte("router info body")
			sig, err := pk.Sign(msg)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if !parsed.Verify(msg, sig) {
				t.Fatalf("signature did not verify under round-tripped identity")
			}
		})
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	a, err := Generate(crypto.SigEd25519SHA512)
	if err != nil {
		t.Fatalf("Generate a: %v", err)
	}
	b, err := Generate(crypto.SigEd25519SHA512)
	if err != nil {
		t.Fatalf("Generate b: %v", err)
	}

	msg := []byte("hello")
	sig, err := a.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if b.Identity.Verify(msg, sig) {
		t.Fatalf("signature from a verified under b's identity")
	}
}

func TestPrivateKeysRoundTrip(t *testing.T) {
	pk, err := Generate(crypto.SigEd25519SHA512)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	buf := pk.Bytes()
	parsed, err := ParsePrivateKeys(buf)
	if err != nil {
		t.Fatalf("ParsePrivateKeys: %v", err)
	}
	msg := []byte("persisted key material")
	sig, err := parsed.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !parsed.Identity.Verify(msg, sig) {
		t.Fatalf("signature from reloaded private keys did not verify")
	}
}
