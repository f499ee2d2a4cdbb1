package ssu

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// relayRequest is Alice's ask to an introducer Bob: forward an
// introduction to the firewalled peer holding relayTag, and answer back
// to Alice's intro key.
type relayRequest struct {
	RelayTag uint32
	AliceIP  net.IP // may be nil: "use the address you observe"
	AlicePort uint16
	IntroKey [crypto.SessionKeySize]byte
	Nonce    uint32
}

func (r *relayRequest) serialize() []byte {
	ip := []byte{}
	if r.AliceIP != nil {
		ip = ipBytes(r.AliceIP)
	}
	out := make([]byte, 0, 4+1+len(ip)+2+1+crypto.SessionKeySize+4)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], r.RelayTag)
	out = append(out, u32[:]...)
	out = append(out, byte(len(ip)))
	out = append(out, ip...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], r.AlicePort)
	out = append(out, u16[:]...)
	out = append(out, 0) // challenge length, unused
	out = append(out, r.IntroKey[:]...)
	binary.BigEndian.PutUint32(u32[:], r.Nonce)
	out = append(out, u32[:]...)
	return out
}

func parseRelayRequest(buf []byte) (*relayRequest, error) {
	if len(buf) < 5 {
		return nil, xerrors.NewDecodeError("relay request", nil)
	}
	r := &relayRequest{RelayTag: binary.BigEndian.Uint32(buf[:4])}
	off := 4
	ipLen := int(buf[off])
	off++
	if ipLen != 0 && ipLen != 4 && ipLen != 16 {
		return nil, xerrors.NewDecodeError("relay request ip", nil)
	}
	if len(buf) < off+ipLen+2+1+crypto.SessionKeySize+4 {
		return nil, xerrors.NewDecodeError("relay request", nil)
	}
	if ipLen > 0 {
		r.AliceIP = net.IP(append([]byte(nil), buf[off:off+ipLen]...))
	}
	off += ipLen
	r.AlicePort = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	challengeLen := int(buf[off])
	off++
	if len(buf) < off+challengeLen+crypto.SessionKeySize+4 {
		return nil, xerrors.NewDecodeError("relay request challenge", nil)
	}
	off += challengeLen
	copy(r.IntroKey[:], buf[off:off+crypto.SessionKeySize])
	off += crypto.SessionKeySize
	r.Nonce = binary.BigEndian.Uint32(buf[off : off+4])
	return r, nil
}

// relayIntro is Bob's forward to Charlie naming Alice's endpoint so
// Charlie can open Alice's NAT mapping.
type relayIntro struct {
	AliceIP   net.IP
	AlicePort uint16
}

func (r *relayIntro) serialize() []byte {
	ip := ipBytes(r.AliceIP)
	out := make([]byte, 0, 1+len(ip)+2+1)
	out = append(out, byte(len(ip)))
	out = append(out, ip...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], r.AlicePort)
	out = append(out, u16[:]...)
	out = append(out, 0) // challenge length, unused
	return out
}

func parseRelayIntro(buf []byte) (*relayIntro, error) {
	if len(buf) < 1 {
		return nil, xerrors.NewDecodeError("relay intro", nil)
	}
	ipLen := int(buf[0])
	if (ipLen != 4 && ipLen != 16) || len(buf) < 1+ipLen+2 {
		return nil, xerrors.NewDecodeError("relay intro ip", nil)
	}
	return &relayIntro{
		AliceIP:   net.IP(append([]byte(nil), buf[1:1+ipLen]...)),
		AlicePort: binary.BigEndian.Uint16(buf[1+ipLen : 1+ipLen+2]),
	}, nil
}

// relayResponse travels back through Bob to Alice, naming Charlie's
// endpoint and echoing the nonce.
type relayResponse struct {
	CharlieIP   net.IP
	CharliePort uint16
	AliceIP     net.IP
	AlicePort   uint16
	Nonce       uint32
}

func (r *relayResponse) serialize() []byte {
	cip := ipBytes(r.CharlieIP)
	aip := ipBytes(r.AliceIP)
	out := make([]byte, 0, 1+len(cip)+2+1+len(aip)+2+4)
	out = append(out, byte(len(cip)))
	out = append(out, cip...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], r.CharliePort)
	out = append(out, u16[:]...)
	out = append(out, byte(len(aip)))
	out = append(out, aip...)
	binary.BigEndian.PutUint16(u16[:], r.AlicePort)
	out = append(out, u16[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], r.Nonce)
	out = append(out, u32[:]...)
	return out
}

func parseRelayResponse(buf []byte) (*relayResponse, error) {
	if len(buf) < 1 {
		return nil, xerrors.NewDecodeError("relay response", nil)
	}
	r := &relayResponse{}
	off := 0
	ipLen := int(buf[off])
	off++
	if (ipLen != 4 && ipLen != 16) || len(buf) < off+ipLen+2+1 {
		return nil, xerrors.NewDecodeError("relay response charlie", nil)
	}
	r.CharlieIP = net.IP(append([]byte(nil), buf[off:off+ipLen]...))
	off += ipLen
	r.CharliePort = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	ipLen = int(buf[off])
	off++
	if (ipLen != 4 && ipLen != 16) || len(buf) < off+ipLen+2+4 {
		return nil, xerrors.NewDecodeError("relay response alice", nil)
	}
	r.AliceIP = net.IP(append([]byte(nil), buf[off:off+ipLen]...))
	off += ipLen
	r.AlicePort = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	r.Nonce = binary.BigEndian.Uint32(buf[off : off+4])
	return r, nil
}

// relayWait tracks an introduction Alice has requested and not yet heard
// back on.
type relayWait struct {
	introKey       [crypto.SessionKeySize]byte
	remoteIdentity *identity.Identity
	created        time.Time
	onCharlie      func(addr *net.UDPAddr)
}

// relayWaitTimeout bounds how long Alice waits for a relay-response.
const relayWaitTimeout = 60 * time.Second

// RequestIntroduction sends a relay-request for tag through the
// introducer at bobAddr (keyed by Bob's intro key), invoking onCharlie
// with Charlie's endpoint when the relay-response arrives.
func (s *Server) RequestIntroduction(bobAddr *net.UDPAddr, bobIntroKey [crypto.SessionKeySize]byte, tag uint32, charlieIdentity *identity.Identity, charlieIntroKey [crypto.SessionKeySize]byte, onCharlie func(addr *net.UDPAddr)) error {
	var nb [4]byte
	if _, err := rand.Read(nb[:]); err != nil {
		return err
	}
	nonce := binary.BigEndian.Uint32(nb[:])

	req := &relayRequest{RelayTag: tag, IntroKey: s.introKey, Nonce: nonce}
	pkt, err := buildPacket(bobIntroKey, bobIntroKey, payloadRelayRequest, req.serialize(), bobAddr, s.localAddr())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.relayWaits[nonce] = &relayWait{
		introKey:       charlieIntroKey,
		remoteIdentity: charlieIdentity,
		created:        time.Now(),
		onCharlie:      onCharlie,
	}
	s.mu.Unlock()

	return s.send(bobAddr, pkt)
}

// handleRelayRequest serves the introducer (Bob) role: look up the
// session the tag was issued to, forward a relay-intro to it, and answer
// Alice with that peer's endpoint.
func (s *Server) handleRelayRequest(payload []byte, from *net.UDPAddr) {
	req, err := parseRelayRequest(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	charlie := s.relayTags[req.RelayTag]
	s.mu.Unlock()
	if charlie == nil || charlie.State() != peer.StateEstablished {
		return
	}

	aliceIP := req.AliceIP
	alicePort := req.AlicePort
	if aliceIP == nil {
		aliceIP = from.IP
		alicePort = uint16(from.Port)
	}

	intro := &relayIntro{AliceIP: aliceIP, AlicePort: alicePort}
	aesKey, macKey := charlie.Keys()
	if pkt, err := buildPacket(macKey, aesKey, payloadRelayIntro, intro.serialize(), charlie.remoteAddr, s.localAddr()); err == nil {
		_ = s.send(charlie.remoteAddr, pkt)
	}

	resp := &relayResponse{
		CharlieIP:   charlie.remoteAddr.IP,
		CharliePort: uint16(charlie.remoteAddr.Port),
		AliceIP:     aliceIP,
		AlicePort:   alicePort,
		Nonce:       req.Nonce,
	}
	if pkt, err := buildPacket(req.IntroKey, req.IntroKey, payloadRelayResponse, resp.serialize(), from, s.localAddr()); err == nil {
		_ = s.send(from, pkt)
	}
}

// handleRelayIntro serves the firewalled peer (Charlie) role: punch a
// hole toward Alice so her session-request can traverse our NAT. The
// punch is deliberately undecryptable garbage; its only job is to create
// the outbound mapping.
func (s *Server) handleRelayIntro(payload []byte, from *net.UDPAddr) {
	intro, err := parseRelayIntro(payload)
	if err != nil {
		return
	}
	punch := make([]byte, 32)
	if _, err := rand.Read(punch); err != nil {
		return
	}
	_ = s.send(&net.UDPAddr{IP: intro.AliceIP, Port: int(intro.AlicePort)}, punch)
}

// handleRelayResponse serves Alice's side: match the nonce, then open a
// real session toward Charlie's now-punchable endpoint.
func (s *Server) handleRelayResponse(payload []byte, from *net.UDPAddr) {
	resp, err := parseRelayResponse(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	wait := s.relayWaits[resp.Nonce]
	delete(s.relayWaits, resp.Nonce)
	s.mu.Unlock()
	if wait == nil {
		return
	}

	charlieAddr := &net.UDPAddr{IP: resp.CharlieIP, Port: int(resp.CharliePort)}
	if wait.onCharlie != nil {
		wait.onCharlie(charlieAddr)
	}
	_, _ = s.Initiate(charlieAddr, wait.introKey, wait.remoteIdentity)
}

func (s *Server) expireRelayWaits(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for nonce, w := range s.relayWaits {
		if now.Sub(w.created) > relayWaitTimeout {
			delete(s.relayWaits, nonce)
		}
	}
}
