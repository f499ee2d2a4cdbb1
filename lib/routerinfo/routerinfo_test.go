package routerinfo

import (
	"bytes"
	"testing"

	"github.com/go-i2p/go-i2p-core/lib/identity"
)

func TestRouterInfoRoundTrip(t *testing.T) {
	keys, err := identity.Generate(7) // Ed25519
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	addr := Address{
		Style: StyleStream,
		Cost:  10,
		Host:  "192.168.1.1",
		Port:  10100,
	}
	ri, err := CreateFor(keys, []Address{addr}, "fR", 1000)
	if err != nil {
		t.Fatalf("CreateFor: %v", err)
	}
	if !ri.IsFloodfill() {
		t.Fatalf("expected floodfill caps to report true")
	}

	serialized := ri.SaveTo()
	loaded, err := LoadFrom(serialized)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.IsUpdated {
		t.Fatalf("freshly loaded router-info must have IsUpdated false")
	}
	if !bytes.Equal(loaded.SaveTo(), serialized) {
		t.Fatalf("serialize(parse(b)) != b")
	}
	if loaded.Identity.Hash() != ri.Identity.Hash() {
		t.Fatalf("identity hash changed across round-trip")
	}
}

func TestRouterInfoRejectsTamperedSignature(t *testing.T) {
	keys, err := identity.Generate(7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	ri, err := CreateFor(keys, nil, "R", 1)
	if err != nil {
		t.Fatalf("CreateFor: %v", err)
	}
	buf := ri.SaveTo()
	buf[len(buf)-1] ^= 0xFF

	if _, err := LoadFrom(buf); err == nil {
		t.Fatalf("expected tampered signature to be rejected")
	}
}

func TestAddressCompatible(t *testing.T) {
	a := Address{Style: StyleStream, Host: "10.0.0.1"}
	b := Address{Style: StyleStream, Host: "10.0.0.2"}
	c := Address{Style: StyleStream, Host: "::1"}
	d := Address{Style: StyleDatagram, Host: "10.0.0.3"}

	if !a.Compatible(b) {
		t.Fatalf("expected same-family addresses to be compatible")
	}
	if a.Compatible(c) {
		t.Fatalf("expected different-family addresses to be incompatible")
	}
	if a.Compatible(d) {
		t.Fatalf("expected different-style addresses to be incompatible")
	}
}
