package routerinfo

import (
	"encoding/binary"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// MaxLeases is the hard cap on lease records in a lease set.
const MaxLeases = 16

// Lease is one tunnel entry point a destination currently publishes.
type Lease struct {
	GatewayHash [crypto.HashSize]byte
	TunnelID    uint32
	Expiration  uint64 // milliseconds
}

// LeaseSet is a destination's identity plus its published tunnel entry
// points.
type LeaseSet struct {
	Identity  *identity.Identity
	Leases    []Lease
	Signature []byte
}

func (ls *LeaseSet) bodyBytes() []byte {
	out := append([]byte(nil), ls.Identity.Serialize()...)
	out = append(out, byte(len(ls.Leases)))
	for _, l := range ls.Leases {
		out = append(out, l.GatewayHash[:]...)
		var tid [4]byte
		binary.BigEndian.PutUint32(tid[:], l.TunnelID)
		out = append(out, tid[:]...)
		var exp [8]byte
		binary.BigEndian.PutUint64(exp[:], l.Expiration)
		out = append(out, exp[:]...)
	}
	return out
}

// Sign seals the lease set under the owning destination's private keys.
func (ls *LeaseSet) Sign(keys *identity.PrivateKeys) error {
	sig, err := keys.Sign(ls.bodyBytes())
	if err != nil {
		return err
	}
	ls.Signature = sig
	return nil
}

// Bytes serializes the lease set: body followed by signature.
func (ls *LeaseSet) Bytes() []byte {
	return append(ls.bodyBytes(), ls.Signature...)
}

// ParseLeaseSet decodes and verifies a serialized lease set.
func ParseLeaseSet(buf []byte) (*LeaseSet, error) {
	id, err := identity.Parse(buf)
	if err != nil {
		return nil, err
	}
	idLen := len(id.Serialize())
	rest := buf[idLen:]
	if len(rest) < 1 {
		return nil, xerrors.NewDecodeError("lease count", nil)
	}
	count := int(rest[0])
	if count > MaxLeases {
		return nil, xerrors.NewDecodeError("lease count exceeds max", nil)
	}
	off := 1
	const leaseSize = crypto.HashSize + 4 + 8
	leases := make([]Lease, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < off+leaseSize {
			return nil, xerrors.NewDecodeError("lease record", nil)
		}
		var l Lease
		copy(l.GatewayHash[:], rest[off:off+crypto.HashSize])
		l.TunnelID = binary.BigEndian.Uint32(rest[off+crypto.HashSize : off+crypto.HashSize+4])
		l.Expiration = binary.BigEndian.Uint64(rest[off+crypto.HashSize+4 : off+leaseSize])
		leases = append(leases, l)
		off += leaseSize
	}

	sigLen := crypto.SignatureSize(id.SigType)
	if len(rest) < off+sigLen {
		return nil, xerrors.NewDecodeError("lease set signature", nil)
	}
	sig := append([]byte(nil), rest[off:off+sigLen]...)

	ls := &LeaseSet{Identity: id, Leases: leases, Signature: sig}
	if !id.Verify(ls.bodyBytes(), ls.Signature) {
		return nil, xerrors.NewProtocolError("lease-set-verify", xerrors.ErrProtocolViolation)
	}
	return ls, nil
}

// IsValid reports whether at least one lease has not expired and the
// signature verifies. The signature is re-checked here
// rather than cached so a caller holding a stale pointer cannot be fooled
// by in-place mutation.
func (ls *LeaseSet) IsValid(now time.Time) bool {
	if !ls.Identity.Verify(ls.bodyBytes(), ls.Signature) {
		return false
	}
	nowMs := uint64(now.UnixMilli())
	for _, l := range ls.Leases {
		if l.Expiration > nowMs {
			return true
		}
	}
	return false
}
