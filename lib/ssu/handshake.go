package ssu

import (
	"encoding/binary"
	"net"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// sessionRequest is the initiator's opening message: its DH public value
// and the target's IP as the initiator observes it.
type sessionRequest struct {
	X        [crypto.DHPublicSize]byte
	TargetIP net.IP
}

func (r *sessionRequest) serialize() []byte {
	ip := ipBytes(r.TargetIP)
	out := make([]byte, 0, crypto.DHPublicSize+1+len(ip))
	out = append(out, r.X[:]...)
	out = append(out, byte(len(ip)))
	out = append(out, ip...)
	return out
}

func parseSessionRequest(buf []byte) (*sessionRequest, error) {
	if len(buf) < crypto.DHPublicSize+1 {
		return nil, xerrors.NewDecodeError("session request", nil)
	}
	r := &sessionRequest{}
	copy(r.X[:], buf[:crypto.DHPublicSize])
	ipLen := int(buf[crypto.DHPublicSize])
	if (ipLen != 4 && ipLen != 16) || len(buf) < crypto.DHPublicSize+1+ipLen {
		return nil, xerrors.NewDecodeError("session request ip", nil)
	}
	r.TargetIP = net.IP(append([]byte(nil), buf[crypto.DHPublicSize+1:crypto.DHPublicSize+1+ipLen]...))
	return r, nil
}

// sessionCreated is the target's reply: its DH public value, the
// initiator's endpoint as observed by the target, a relay tag (0 means
// "I will not introduce for you"), the signing time, and a signature
// over the 8-tuple.
type sessionCreated struct {
	Y           [crypto.DHPublicSize]byte
	InitiatorIP net.IP
	Port        uint16
	RelayTag    uint32
	SignedOn    uint32
	Signature   []byte
}

func (c *sessionCreated) serialize() []byte {
	ip := ipBytes(c.InitiatorIP)
	out := make([]byte, 0, crypto.DHPublicSize+1+len(ip)+12+2+len(c.Signature))
	out = append(out, c.Y[:]...)
	out = append(out, byte(len(ip)))
	out = append(out, ip...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], c.Port)
	out = append(out, u16[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], c.RelayTag)
	out = append(out, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], c.SignedOn)
	out = append(out, u32[:]...)
	binary.BigEndian.PutUint16(u16[:], uint16(len(c.Signature)))
	out = append(out, u16[:]...)
	out = append(out, c.Signature...)
	return out
}

func parseSessionCreated(buf []byte) (*sessionCreated, error) {
	if len(buf) < crypto.DHPublicSize+1 {
		return nil, xerrors.NewDecodeError("session created", nil)
	}
	c := &sessionCreated{}
	copy(c.Y[:], buf[:crypto.DHPublicSize])
	off := crypto.DHPublicSize
	ipLen := int(buf[off])
	off++
	if (ipLen != 4 && ipLen != 16) || len(buf) < off+ipLen+12 {
		return nil, xerrors.NewDecodeError("session created ip", nil)
	}
	c.InitiatorIP = net.IP(append([]byte(nil), buf[off:off+ipLen]...))
	off += ipLen
	c.Port = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	c.RelayTag = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	c.SignedOn = binary.BigEndian.Uint32(buf[off : off+4])
	off += 4
	sigLen := int(binary.BigEndian.Uint16(buf[off : off+2]))
	off += 2
	if len(buf) < off+sigLen {
		return nil, xerrors.NewDecodeError("session created signature", nil)
	}
	c.Signature = append([]byte(nil), buf[off:off+sigLen]...)
	return c, nil
}

// sessionConfirmed carries the initiator's serialized identity (possibly
// across multiple fragments) followed, in the final fragment, by the
// signing time and a signature over the same 8-tuple the target signed.
type sessionConfirmedFragment struct {
	FragmentNum   uint8
	TotalFrags    uint8
	IdentityChunk []byte
	SignedOn      uint32 // final fragment only
	Signature     []byte // final fragment only
}

func (f *sessionConfirmedFragment) serialize() []byte {
	out := make([]byte, 0, 3+len(f.IdentityChunk)+4+len(f.Signature))
	out = append(out, f.FragmentNum<<4|f.TotalFrags&0x0F)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(f.IdentityChunk)))
	out = append(out, u16[:]...)
	out = append(out, f.IdentityChunk...)
	if f.FragmentNum == f.TotalFrags-1 {
		var u32 [4]byte
		binary.BigEndian.PutUint32(u32[:], f.SignedOn)
		out = append(out, u32[:]...)
		out = append(out, f.Signature...)
	}
	return out
}

func parseSessionConfirmed(buf []byte) (*sessionConfirmedFragment, error) {
	if len(buf) < 3 {
		return nil, xerrors.NewDecodeError("session confirmed", nil)
	}
	f := &sessionConfirmedFragment{
		FragmentNum: buf[0] >> 4,
		TotalFrags:  buf[0] & 0x0F,
	}
	chunkLen := int(binary.BigEndian.Uint16(buf[1:3]))
	if len(buf) < 3+chunkLen {
		return nil, xerrors.NewDecodeError("session confirmed identity chunk", nil)
	}
	f.IdentityChunk = append([]byte(nil), buf[3:3+chunkLen]...)
	if f.FragmentNum == f.TotalFrags-1 {
		rest := buf[3+chunkLen:]
		if len(rest) < 4 {
			return nil, xerrors.NewDecodeError("session confirmed trailer", nil)
		}
		f.SignedOn = binary.BigEndian.Uint32(rest[:4])
		f.Signature = append([]byte(nil), rest[4:]...)
	}
	return f, nil
}

// handshakeSignatureBase assembles the 8-tuple both sides sign:
// X ‖ Y ‖ IP-A ‖ port-A ‖ IP-B ‖ port-B ‖ relay-tag ‖ signed-on, where
// A is the initiator and B the target.
func handshakeSignatureBase(x, y []byte, initiator, target *net.UDPAddr, relayTag, signedOn uint32) []byte {
	out := make([]byte, 0, 2*crypto.DHPublicSize+2*(16+2)+8)
	out = append(out, x...)
	out = append(out, y...)
	out = append(out, ipBytes(initiator.IP)...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(initiator.Port))
	out = append(out, u16[:]...)
	out = append(out, ipBytes(target.IP)...)
	binary.BigEndian.PutUint16(u16[:], uint16(target.Port))
	out = append(out, u16[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], relayTag)
	out = append(out, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], signedOn)
	out = append(out, u32[:]...)
	return out
}

// confirmedIdentityFragments splits a serialized identity into
// session-confirmed fragments sized for the session's packet budget.
// Router identities almost always fit a single fragment.
func confirmedIdentityFragments(ident *identity.Identity, signedOn uint32, signature []byte, maxChunk int) []*sessionConfirmedFragment {
	raw := ident.Serialize()
	total := (len(raw) + maxChunk - 1) / maxChunk
	if total == 0 {
		total = 1
	}
	frags := make([]*sessionConfirmedFragment, 0, total)
	for i := 0; i < total; i++ {
		end := (i + 1) * maxChunk
		if end > len(raw) {
			end = len(raw)
		}
		f := &sessionConfirmedFragment{
			FragmentNum:   uint8(i),
			TotalFrags:    uint8(total),
			IdentityChunk: raw[i*maxChunk : end],
		}
		if i == total-1 {
			f.SignedOn = signedOn
			f.Signature = signature
		}
		frags = append(frags, f)
	}
	return frags
}
