package ssu

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// maxDatagramSize bounds the receive buffer; no conforming packet
// exceeds the v4 packet-size ceiling but a hole punch may carry
// arbitrary garbage.
const maxDatagramSize = 64 * 1024

// socketBufferSize is requested for both directions on the UDP socket so
// a burst of fragmented messages does not overflow the kernel queue.
const socketBufferSize = 1 << 20

// Config carries the server's behavioral switches from the node's
// configuration surface.
type Config struct {
	// Introducer enables issuing relay tags to firewalled peers.
	Introducer bool
	// PeerTesting enables answering peer-test probes as Bob/Charlie.
	PeerTesting bool
}

// Server owns the UDP socket and every datagram session multiplexed over
// it. Packets are parsed on the read goroutine; periodic maintenance
// (resends, keep-alives, termination) runs on a ticker goroutine.
type Server struct {
	conn    *net.UDPConn
	ownKeys *identity.PrivateKeys
	ownHash [crypto.HashSize]byte

	// introKey MACs and encrypts packets exchanged before a session key
	// exists.
	introKey [crypto.SessionKeySize]byte

	cfg    Config
	dhPool *peer.DHPool
	bans   *peer.BanList
	log    *logrus.Entry

	mu        sync.Mutex
	sessions  map[string]*Session            // remote addr -> session
	byHash    map[[crypto.HashSize]byte]*Session
	relayTags map[uint32]*Session            // tags we issued as introducer
	nextTag   uint32

	peerTests   map[uint32]*peerTestState
	relayWaits  map[uint32]*relayWait

	onEstablished func(*Session)
	onMessage     func(*Session, *i2np.Message)

	closeOnce sync.Once
	closed    chan struct{}
}

// Listen binds a UDP socket at addr. The socket's kernel buffers are
// enlarged via setsockopt so fragment bursts survive scheduling delay.
func Listen(addr string, ownKeys *identity.PrivateKeys, cfg Config, dhPool *peer.DHPool, bans *peer.BanList) (*Server, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				if sockErr != nil {
					return
				}
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketBufferSize)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, socketBufferSize)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		conn:       pc.(*net.UDPConn),
		ownKeys:    ownKeys,
		ownHash:    ownKeys.Identity.Hash(),
		cfg:        cfg,
		dhPool:     dhPool,
		bans:       bans,
		log:        logrus.WithField("component", "ssu-server"),
		sessions:   make(map[string]*Session),
		byHash:     make(map[[crypto.HashSize]byte]*Session),
		relayTags:  make(map[uint32]*Session),
		peerTests:  make(map[uint32]*peerTestState),
		relayWaits: make(map[uint32]*relayWait),
		closed:     make(chan struct{}),
	}
	if _, err := rand.Read(s.introKey[:]); err != nil {
		pc.Close()
		return nil, err
	}
	return s, nil
}

// IntroKey returns the key peers use to reach this router before a
// session exists; it is published in the router-info SSU address.
func (s *Server) IntroKey() [crypto.SessionKeySize]byte { return s.introKey }

// Addr returns the bound local UDP address.
func (s *Server) Addr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

func (s *Server) localAddr() *net.UDPAddr { return s.Addr() }

// OnEstablished installs the callback invoked for every session that
// completes its handshake (typically wiring into peer.Manager).
func (s *Server) OnEstablished(fn func(*Session)) { s.onEstablished = fn }

// OnMessage installs the upward dispatch callback for reassembled I2NP
// messages.
func (s *Server) OnMessage(fn func(*Session, *i2np.Message)) { s.onMessage = fn }

func (s *Server) deliver(sess *Session, msg *i2np.Message) {
	if s.onMessage != nil {
		s.onMessage(sess, msg)
	}
}

func (s *Server) send(to *net.UDPAddr, pkt []byte) error {
	_, err := s.conn.WriteToUDP(pkt, to)
	return err
}

// Serve runs the read loop and the maintenance ticker until Close.
func (s *Server) Serve() error {
	go s.maintenanceLoop()
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				return err
			}
		}
		if s.bans != nil && s.bans.IsBanned(from.IP.String()) {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		s.handleDatagram(pkt, from)
	}
}

// handleDatagram routes one raw datagram: established sessions decrypt
// with their session keys, handshaking sessions and first contacts with
// the intro key. Undecryptable packets (including hole punches, which
// are deliberately garbage) are dropped silently.
func (s *Server) handleDatagram(pkt []byte, from *net.UDPAddr) {
	local := s.localAddr()

	s.mu.Lock()
	sess := s.sessions[from.String()]
	s.mu.Unlock()

	if sess != nil {
		aesKey, macKey := sess.sessionOrIntroKeys()
		if p, err := parsePacket(macKey, aesKey, pkt, local, from); err == nil {
			s.dispatchPayload(sess, p, from)
			return
		}
	}

	// No session (or wrong keys): try our own intro key; this is how
	// session requests, relay requests, and peer tests arrive.
	p, err := parsePacket(s.introKey, s.introKey, pkt, local, from)
	if err != nil {
		s.log.WithField("remote", from.String()).Debug("dropping undecryptable datagram")
		return
	}
	s.dispatchPayload(sess, p, from)
}

// sessionOrIntroKeys picks the keys inbound packets from this peer are
// expected under for the session's current state.
func (s *Session) sessionOrIntroKeys() (aes, mac [crypto.SessionKeySize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == peer.StateIntroduced && s.dh != nil && s.peerX == nil {
		// Initiator awaiting session-created: the target answers under
		// its own intro key.
		return s.remoteIntroKey, s.remoteIntroKey
	}
	return s.aesKey, s.macKey
}

func (s *Server) dispatchPayload(sess *Session, p *parsedPacket, from *net.UDPAddr) {
	switch p.payloadType {
	case payloadSessionRequest:
		s.handleSessionRequest(p.payload, from)
	case payloadSessionCreated:
		if sess != nil {
			s.handleSessionCreated(sess, p.payload, from)
		}
	case payloadSessionConfirmed:
		if sess != nil {
			s.handleSessionConfirmed(sess, p.payload, from)
		}
	case payloadData:
		if sess != nil && sess.State() == peer.StateEstablished {
			if d, err := parseDataPayload(p.payload); err == nil {
				sess.handleData(d)
			}
		}
	case payloadRelayRequest:
		s.handleRelayRequest(p.payload, from)
	case payloadRelayResponse:
		s.handleRelayResponse(p.payload, from)
	case payloadRelayIntro:
		s.handleRelayIntro(p.payload, from)
	case payloadPeerTest:
		s.handlePeerTest(p.payload, from)
	case payloadSessionDestroyed:
		if sess != nil {
			s.removeSession(sess)
		}
	default:
		// Unknown payload type in the first decrypted byte: the same
		// first-byte error class that bans an IP on the stream side.
		if s.bans != nil {
			s.bans.Ban(from.IP.String())
		}
	}
}

// Initiate starts the handshake toward a remote SSU endpoint whose intro
// key and identity are known from its router-info.
func (s *Server) Initiate(remote *net.UDPAddr, introKey [crypto.SessionKeySize]byte, remoteIdentity *identity.Identity) (*Session, error) {
	s.mu.Lock()
	if existing, ok := s.sessions[remote.String()]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	sess := newSession(s, remote)
	sess.remoteIntroKey = introKey
	sess.remoteIdentity = remoteIdentity
	sess.state = peer.StateIntroduced
	s.sessions[remote.String()] = sess
	s.mu.Unlock()

	kp, err := s.dhPool.Acquire()
	if err != nil {
		s.removeSession(sess)
		return nil, err
	}
	sess.mu.Lock()
	sess.dh = kp
	sess.mu.Unlock()

	req := &sessionRequest{TargetIP: remote.IP}
	copy(req.X[:], kp.Public[:])
	pkt, err := buildPacket(introKey, introKey, payloadSessionRequest, req.serialize(), remote, s.localAddr())
	if err != nil {
		s.removeSession(sess)
		return nil, err
	}
	if err := s.send(remote, pkt); err != nil {
		s.removeSession(sess)
		return nil, err
	}
	return sess, nil
}

// handleSessionRequest runs the target side of the handshake: derive the
// session keys from the initiator's X, issue a relay tag if we act as an
// introducer, and answer with a signed session-created.
func (s *Server) handleSessionRequest(payload []byte, from *net.UDPAddr) {
	req, err := parseSessionRequest(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[from.String()]
	if !ok {
		sess = newSession(s, from)
		s.sessions[from.String()] = sess
	}
	s.mu.Unlock()

	kp, err := s.dhPool.Acquire()
	if err != nil {
		return
	}
	secret := kp.Agree(req.X[:])

	var relayTag uint32
	if s.cfg.Introducer {
		relayTag = s.issueRelayTag(sess)
	}

	sess.mu.Lock()
	sess.state = peer.StateIntroduced
	sess.dh = kp
	sess.peerX = append([]byte(nil), req.X[:]...)
	if err := sess.deriveKeys(secret); err != nil {
		sess.mu.Unlock()
		s.removeSession(sess)
		return
	}
	sess.relayTag = relayTag
	// The tuple's target endpoint is our address as the initiator
	// observes it, carried in the request; the confirm signature is
	// checked against the same endpoint.
	targetAddr := &net.UDPAddr{IP: req.TargetIP, Port: s.localAddr().Port}
	sess.hsTargetAddr = targetAddr
	sess.mu.Unlock()
	signedOn := uint32(time.Now().Unix())
	base := handshakeSignatureBase(req.X[:], kp.Public[:], from, targetAddr, relayTag, signedOn)
	sig, err := s.ownKeys.Sign(base)
	if err != nil {
		return
	}

	created := &sessionCreated{
		InitiatorIP: from.IP,
		Port:        uint16(from.Port),
		RelayTag:    relayTag,
		SignedOn:    signedOn,
		Signature:   sig,
	}
	copy(created.Y[:], kp.Public[:])

	pkt, err := buildPacket(s.introKey, s.introKey, payloadSessionCreated, created.serialize(), from, s.localAddr())
	if err != nil {
		return
	}
	_ = s.send(from, pkt)
}

// issueRelayTag registers a fresh introduction tag for sess.
func (s *Server) issueRelayTag(sess *Session) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTag++
	if s.nextTag == 0 {
		s.nextTag = 1
	}
	s.relayTags[s.nextTag] = sess
	return s.nextTag
}

// handleSessionCreated runs the initiator side of step 2: verify the
// target's signature, derive keys, confirm with our identity and
// signature, and mark the session established.
func (s *Server) handleSessionCreated(sess *Session, payload []byte, from *net.UDPAddr) {
	created, err := parseSessionCreated(payload)
	if err != nil {
		return
	}

	sess.mu.Lock()
	kp := sess.dh
	remoteIdentity := sess.remoteIdentity
	sess.mu.Unlock()
	if kp == nil || remoteIdentity == nil {
		return
	}

	// Our external endpoint as the target observed it, the target's as
	// we dialed it.
	initiatorAddr := &net.UDPAddr{IP: created.InitiatorIP, Port: int(created.Port)}
	base := handshakeSignatureBase(kp.Public[:], created.Y[:], initiatorAddr, from, created.RelayTag, created.SignedOn)
	if !remoteIdentity.Verify(base, created.Signature) {
		s.log.WithField("remote", from.String()).Warn("session-created signature failed")
		sess.fail()
		s.removeSession(sess)
		return
	}

	secret := kp.Agree(created.Y[:])
	sess.mu.Lock()
	if err := sess.deriveKeys(secret); err != nil {
		sess.mu.Unlock()
		sess.fail()
		s.removeSession(sess)
		return
	}
	sess.relayTag = created.RelayTag
	// A session through which we can be introduced is kept alive far
	// longer than an ordinary one.
	sess.isIntroducer = created.RelayTag != 0
	aesKey, macKey := sess.aesKey, sess.macKey
	x := append([]byte(nil), kp.Public[:]...)
	sess.mu.Unlock()

	signedOn := uint32(time.Now().Unix())
	confirmBase := handshakeSignatureBase(x, created.Y[:], initiatorAddr, from, created.RelayTag, signedOn)
	sig, err := s.ownKeys.Sign(confirmBase)
	if err != nil {
		return
	}

	maxChunk := sess.maxFragmentSize() - 16
	for _, f := range confirmedIdentityFragments(&s.ownKeys.Identity, signedOn, sig, maxChunk) {
		pkt, err := buildPacket(macKey, aesKey, payloadSessionConfirmed, f.serialize(), from, s.localAddr())
		if err != nil {
			return
		}
		if err := s.send(from, pkt); err != nil {
			return
		}
	}

	s.installSession(sess, remoteIdentity)
}

// handleSessionConfirmed runs the target side of step 3: reassemble the
// initiator's identity, verify its signature over the tuple, refuse a
// duplicate identity binding, and confirm liveness with a
// delivery-status.
func (s *Server) handleSessionConfirmed(sess *Session, payload []byte, from *net.UDPAddr) {
	frag, err := parseSessionConfirmed(payload)
	if err != nil {
		return
	}

	sess.mu.Lock()
	if sess.state == peer.StateEstablished {
		sess.mu.Unlock()
		return
	}
	if sess.confirmedChunks == nil {
		sess.confirmedChunks = make(map[uint8][]byte)
	}
	sess.confirmedChunks[frag.FragmentNum] = frag.IdentityChunk
	if frag.Signature != nil {
		sess.confirmedTotal = frag.TotalFrags
		sess.confirmedSignedOn = frag.SignedOn
		sess.confirmedSig = frag.Signature
	}
	total := sess.confirmedTotal
	signedOn := sess.confirmedSignedOn
	signature := sess.confirmedSig
	haveAll := total > 0 && len(sess.confirmedChunks) == int(total)
	peerX := sess.peerX
	var y []byte
	if sess.dh != nil {
		y = append([]byte(nil), sess.dh.Public[:]...)
	}
	relayTag := sess.relayTag
	targetAddr := sess.hsTargetAddr
	var raw []byte
	if haveAll {
		for i := uint8(0); i < total; i++ {
			raw = append(raw, sess.confirmedChunks[i]...)
		}
	}
	sess.mu.Unlock()

	if !haveAll || peerX == nil || y == nil {
		return
	}
	remoteIdentity, err := identity.Parse(raw)
	if err != nil {
		s.terminate(sess, from)
		return
	}

	if targetAddr == nil {
		targetAddr = s.localAddr()
	}
	// The trailer runs to the end of the decrypted body, so it carries the
	// packet's zero padding after the signature; keep only the signature.
	if n := crypto.SignatureSize(remoteIdentity.SigType); len(signature) > n {
		signature = signature[:n]
	}
	base := handshakeSignatureBase(peerX, y, from, targetAddr, relayTag, signedOn)
	if !remoteIdentity.Verify(base, signature) {
		s.log.WithField("remote", from.String()).Warn("session-confirmed signature failed")
		s.terminate(sess, from)
		return
	}

	hash := remoteIdentity.Hash()
	s.mu.Lock()
	if existing, ok := s.byHash[hash]; ok && existing != sess {
		s.mu.Unlock()
		s.terminate(sess, from)
		return
	}
	s.mu.Unlock()

	s.installSession(sess, remoteIdentity)

	// Liveness confirmation: a delivery-status carrying the session
	// establishment time.
	status := make([]byte, 12)
	binary.BigEndian.PutUint32(status[0:4], newMessageID())
	binary.BigEndian.PutUint64(status[4:12], uint64(time.Now().UnixMilli()))
	_ = sess.Send([]*i2np.Message{{
		Type:       i2np.TypeDeliveryStatus,
		MessageID:  newMessageID(),
		Expiration: time.Now().Add(time.Minute),
		Payload:    status,
	}})
}

func (s *Server) installSession(sess *Session, remote *identity.Identity) {
	sess.markEstablished(remote)
	hash := remote.Hash()
	s.mu.Lock()
	s.byHash[hash] = sess
	s.mu.Unlock()
	if s.onEstablished != nil {
		s.onEstablished(sess)
	}
}

// terminate tears a misbehaving handshake down and releases its state.
func (s *Server) terminate(sess *Session, from *net.UDPAddr) {
	sess.fail()
	s.removeSession(sess)
	if s.bans != nil {
		s.bans.Ban(from.IP.String())
	}
}

// AnyEstablished returns one established session, or nil; used to pick
// a Bob for reachability probes.
func (s *Server) AnyEstablished() *Session {
	s.mu.Lock()
	snapshot := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
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

// SessionByHash returns the established session bound to a remote
// identity, if any.
func (s *Server) SessionByHash(hash [crypto.HashSize]byte) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byHash[hash]
}

func (s *Server) removeSession(sess *Session) {
	sess.mu.Lock()
	remoteAddr := sess.remoteAddr
	remoteIdentity := sess.remoteIdentity
	sess.mu.Unlock()

	s.mu.Lock()
	delete(s.sessions, remoteAddr.String())
	for tag, t := range s.relayTags {
		if t == sess {
			delete(s.relayTags, tag)
		}
	}
	if remoteIdentity != nil {
		hash := remoteIdentity.Hash()
		if s.byHash[hash] == sess {
			delete(s.byHash, hash)
		}
	}
	s.mu.Unlock()
}

// maintenanceLoop drives resends, keep-alives, reassembly expiry, and
// session termination off one shared ticker.
func (s *Server) maintenanceLoop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	lastKeepAlive := time.Now()
	for {
		select {
		case <-s.closed:
			return
		case now := <-tick.C:
			s.mu.Lock()
			sessions := make([]*Session, 0, len(s.sessions))
			for _, sess := range s.sessions {
				sessions = append(sessions, sess)
			}
			s.mu.Unlock()

			doKeepAlive := now.Sub(lastKeepAlive) >= keepAliveInterval
			if doKeepAlive {
				lastKeepAlive = now
			}

			for _, sess := range sessions {
				sess.resendPass(now)
				sess.purgeIncomplete(now)

				sess.mu.Lock()
				idle := now.Sub(sess.lastActivity)
				established := sess.state == peer.StateEstablished
				handshaking := sess.state == peer.StateIntroduced
				sess.mu.Unlock()

				switch {
				case established && idle > sess.idleDeadline():
					_ = sess.Close()
				case handshaking && idle > connectTimeout:
					sess.fail()
					s.removeSession(sess)
				case established && doKeepAlive:
					sess.keepAlive()
				}
			}
			s.expirePeerTests(now)
			s.expireRelayWaits(now)
		}
	}
}

// Close shuts the socket down; all sessions are dropped without
// per-session teardown packets.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// errNoDatagramAddress helps the connector report a router-info with no
// usable SSU endpoint.
var errNoDatagramAddress = xerrors.NewDecodeError("ssu address", xerrors.ErrNotFound)
