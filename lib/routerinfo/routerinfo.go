package routerinfo

import (
	"encoding/binary"
	"strings"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Capability characters within the "caps" property.
const (
	CapFloodfill     = 'f'
	CapHidden        = 'H'
	CapReachable     = 'R'
	CapUnreachable   = 'U'
	CapLowBandwidth1 = 'K'
	CapLowBandwidth2 = 'L'
	CapHighBandwidth = 'M'
	CapUnlimited     = 'X'
	CapPeerTesting   = 'B'
	CapIntroducer    = 'C'
)

// RouterInfo is a signed record mapping an identity to its transport
// addresses and capabilities at a point in time.
type RouterInfo struct {
	Identity   *identity.Identity
	Timestamp  uint64 // milliseconds
	Addresses  []Address
	Options    map[string]string
	Signature  []byte
	Reachable  bool // transient, derived from profiling; never serialized
	IsUpdated  bool
}

// CreateFor builds and signs a fresh router-info for a newly generated
// identity.
func CreateFor(keys *identity.PrivateKeys, addresses []Address, caps string, timestampMs uint64) (*RouterInfo, error) {
	ri := &RouterInfo{
		Identity:  &keys.Identity,
		Timestamp: timestampMs,
		Addresses: addresses,
		Options:   map[string]string{"caps": caps},
		IsUpdated: true,
	}
	if err := ri.sign(keys); err != nil {
		return nil, err
	}
	return ri, nil
}

func (ri *RouterInfo) bodyBytes() []byte {
	out := append([]byte(nil), ri.Identity.Serialize()...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], ri.Timestamp)
	out = append(out, ts[:]...)

	out = append(out, byte(len(ri.Addresses)))
	for _, a := range ri.Addresses {
		out = append(out, a.serialize()...)
	}
	out = append(out, 0) // peer-count, always 0 on the wire today

	out = append(out, encodeOptions(ri.Options)...)
	return out
}

func (ri *RouterInfo) sign(keys *identity.PrivateKeys) error {
	sig, err := keys.Sign(ri.bodyBytes())
	if err != nil {
		return err
	}
	ri.Signature = sig
	return nil
}

// SaveTo serializes the router-info: body bytes followed by the signature.
func (ri *RouterInfo) SaveTo() []byte {
	return append(ri.bodyBytes(), ri.Signature...)
}

// LoadFrom parses a serialized router-info and verifies its signature.
// A freshly loaded router-info has IsUpdated false.
func LoadFrom(buf []byte) (*RouterInfo, error) {
	id, err := identity.Parse(buf)
	if err != nil {
		return nil, err
	}
	idLen := len(id.Serialize())
	rest := buf[idLen:]

	if len(rest) < 9 {
		return nil, xerrors.NewDecodeError("router info header", nil)
	}
	ts := binary.BigEndian.Uint64(rest[:8])
	addrCount := int(rest[8])
	off := 9

	addrs := make([]Address, 0, addrCount)
	for i := 0; i < addrCount; i++ {
		a, n, err := parseAddress(rest[off:])
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
		off += n
	}

	if off >= len(rest) {
		return nil, xerrors.NewDecodeError("peer count", nil)
	}
	off++ // peer-count byte, unused

	opts, n, err := decodeOptions(rest[off:])
	if err != nil {
		return nil, err
	}
	off += n

	sigLen := crypto.SignatureSize(id.SigType)
	if len(rest) < off+sigLen {
		return nil, xerrors.NewDecodeError("signature", nil)
	}
	sig := append([]byte(nil), rest[off:off+sigLen]...)

	ri := &RouterInfo{
		Identity:  id,
		Timestamp: ts,
		Addresses: addrs,
		Options:   opts,
		Signature: sig,
		IsUpdated: false,
	}
	if !id.Verify(ri.bodyBytes(), ri.Signature) {
		return nil, xerrors.NewProtocolError("router-info-verify", xerrors.ErrProtocolViolation)
	}
	return ri, nil
}

// AddAddress appends an address and marks the router-info dirty.
func (ri *RouterInfo) AddAddress(a Address) {
	ri.Addresses = append(ri.Addresses, a)
	ri.IsUpdated = true
}

// AddIntroducer appends an introducer to the addrIdx'th address.
func (ri *RouterInfo) AddIntroducer(addrIdx int, in Introducer) error {
	if addrIdx < 0 || addrIdx >= len(ri.Addresses) {
		return xerrors.NewDecodeError("address index", nil)
	}
	ri.Addresses[addrIdx].Introducers = append(ri.Addresses[addrIdx].Introducers, in)
	ri.IsUpdated = true
	return nil
}

// SetCaps replaces the capability string.
func (ri *RouterInfo) SetCaps(caps string) {
	if ri.Options == nil {
		ri.Options = map[string]string{}
	}
	ri.Options["caps"] = caps
	ri.IsUpdated = true
}

// IsFloodfill reports whether the capability string carries the
// flood-fill flag.
func (ri *RouterInfo) IsFloodfill() bool {
	return strings.ContainsRune(ri.Options["caps"], CapFloodfill)
}

// IsCompatible reports whether this router and another share at least one
// pair of addresses usable together.
func (ri *RouterInfo) IsCompatible(other *RouterInfo) bool {
	for _, a := range ri.Addresses {
		for _, b := range other.Addresses {
			if a.Compatible(b) {
				return true
			}
		}
	}
	return false
}

// Resign re-serializes and re-signs the body under keys, used after any
// mutation (AddAddress, AddIntroducer, SetCaps) made by the owning router.
func (ri *RouterInfo) Resign(keys *identity.PrivateKeys) error {
	return ri.sign(keys)
}
