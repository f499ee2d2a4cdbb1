package ssu

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// peerTest is the type-7 payload all four peer-test messages share: a
// correlating nonce, the endpoint under test (empty from Alice, "use
// what you observe"), and Alice's intro key so Charlie can reach her
// without a session.
type peerTest struct {
	Nonce    uint32
	IP       net.IP // nil = sender is Alice asking about herself
	Port     uint16
	IntroKey [crypto.SessionKeySize]byte
}

func (p *peerTest) serialize() []byte {
	ip := []byte{}
	if p.IP != nil {
		ip = ipBytes(p.IP)
	}
	out := make([]byte, 0, 4+1+len(ip)+2+crypto.SessionKeySize)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], p.Nonce)
	out = append(out, u32[:]...)
	out = append(out, byte(len(ip)))
	out = append(out, ip...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], p.Port)
	out = append(out, u16[:]...)
	out = append(out, p.IntroKey[:]...)
	return out
}

func parsePeerTest(buf []byte) (*peerTest, error) {
	if len(buf) < 5 {
		return nil, xerrors.NewDecodeError("peer test", nil)
	}
	p := &peerTest{Nonce: binary.BigEndian.Uint32(buf[:4])}
	off := 4
	ipLen := int(buf[off])
	off++
	if ipLen != 0 && ipLen != 4 && ipLen != 16 {
		return nil, xerrors.NewDecodeError("peer test ip", nil)
	}
	if len(buf) < off+ipLen+2+crypto.SessionKeySize {
		return nil, xerrors.NewDecodeError("peer test", nil)
	}
	if ipLen > 0 {
		p.IP = net.IP(append([]byte(nil), buf[off:off+ipLen]...))
	}
	off += ipLen
	p.Port = binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	copy(p.IntroKey[:], buf[off:off+crypto.SessionKeySize])
	return p, nil
}

// peerTestRole distinguishes what part this router plays in one test
// exchange.
type peerTestRole int

const (
	peerTestAlice peerTestRole = iota
	peerTestBob
	peerTestCharlie
)

// peerTestState tracks one in-flight exchange; nonces bind the four
// messages together and the whole exchange expires after 60 s.
type peerTestState struct {
	role     peerTestRole
	created  time.Time
	onResult func(reachable bool)
}

const peerTestTimeout = 60 * time.Second

// StartPeerTest initiates a reachability test as Alice through an
// established session to Bob. onResult fires with true when Charlie's
// direct probe arrives, or false when the exchange times out.
func (s *Server) StartPeerTest(bob *Session, onResult func(reachable bool)) error {
	if bob.State() != peer.StateEstablished {
		return xerrors.ErrSessionClosed
	}
	var nb [4]byte
	if _, err := rand.Read(nb[:]); err != nil {
		return err
	}
	nonce := binary.BigEndian.Uint32(nb[:])

	s.mu.Lock()
	s.peerTests[nonce] = &peerTestState{role: peerTestAlice, created: time.Now(), onResult: onResult}
	s.mu.Unlock()

	test := &peerTest{Nonce: nonce, IntroKey: s.introKey}
	aesKey, macKey := bob.Keys()
	pkt, err := buildPacket(macKey, aesKey, payloadPeerTest, test.serialize(), bob.remoteAddr, s.localAddr())
	if err != nil {
		return err
	}
	return s.send(bob.remoteAddr, pkt)
}

// handlePeerTest routes one type-7 message by inferring our role from
// the exchange's shape:
//
//   - an unknown nonce with no endpoint filled in arrived through a
//     session: we are Bob; pick a Charlie and forward.
//   - an unknown nonce with an endpoint filled in arrived through a
//     session: we are Charlie; probe Alice directly under her intro key.
//   - a nonce we registered as Alice: Charlie's direct probe reached us,
//     so we are reachable.
func (s *Server) handlePeerTest(payload []byte, from *net.UDPAddr) {
	test, err := parsePeerTest(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	state := s.peerTests[test.Nonce]
	s.mu.Unlock()

	if state != nil && state.role == peerTestAlice {
		s.mu.Lock()
		delete(s.peerTests, test.Nonce)
		s.mu.Unlock()
		if state.onResult != nil {
			state.onResult(true)
		}
		return
	}
	if !s.cfg.PeerTesting || state != nil {
		return
	}

	if test.IP == nil {
		// Bob: fill in Alice's observed endpoint, pick another
		// established session as Charlie, and forward.
		charlie := s.pickCharlie(from)
		if charlie == nil {
			return
		}
		s.mu.Lock()
		s.peerTests[test.Nonce] = &peerTestState{role: peerTestBob, created: time.Now()}
		s.mu.Unlock()

		fwd := &peerTest{Nonce: test.Nonce, IP: from.IP, Port: uint16(from.Port), IntroKey: test.IntroKey}
		aesKey, macKey := charlie.Keys()
		if pkt, err := buildPacket(macKey, aesKey, payloadPeerTest, fwd.serialize(), charlie.remoteAddr, s.localAddr()); err == nil {
			_ = s.send(charlie.remoteAddr, pkt)
		}
		return
	}

	// Charlie: probe Alice directly under her intro key.
	s.mu.Lock()
	s.peerTests[test.Nonce] = &peerTestState{role: peerTestCharlie, created: time.Now()}
	s.mu.Unlock()

	aliceAddr := &net.UDPAddr{IP: test.IP, Port: int(test.Port)}
	probe := &peerTest{Nonce: test.Nonce, IP: test.IP, Port: test.Port, IntroKey: test.IntroKey}
	if pkt, err := buildPacket(test.IntroKey, test.IntroKey, payloadPeerTest, probe.serialize(), aliceAddr, s.localAddr()); err == nil {
		_ = s.send(aliceAddr, pkt)
	}
}

// pickCharlie selects an established session other than the requester to
// act as the test's third party.
func (s *Server) pickCharlie(exclude *net.UDPAddr) *Session {
	s.mu.Lock()
	snapshot := make([]*Session, 0, len(s.sessions))
	for addr, sess := range s.sessions {
		if addr == exclude.String() {
			continue
		}
		snapshot = append(snapshot, sess)
	}
	s.mu.Unlock()
	for _, sess := range snapshot {
		if sess.State() == peer.StateEstablished {
			return sess
		}
	}
	return nil
}

func (s *Server) expirePeerTests(now time.Time) {
	s.mu.Lock()
	var expired []*peerTestState
	for nonce, st := range s.peerTests {
		if now.Sub(st.created) > peerTestTimeout {
			delete(s.peerTests, nonce)
			expired = append(expired, st)
		}
	}
	s.mu.Unlock()
	for _, st := range expired {
		if st.role == peerTestAlice && st.onResult != nil {
			st.onResult(false)
		}
	}
}
