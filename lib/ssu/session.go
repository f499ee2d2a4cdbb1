package ssu

import (
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// Timers.
const (
	connectTimeout      = 5 * time.Second
	terminationTimeout  = 330 * time.Second
	keepAliveInterval   = 30 * time.Second
	introducerKeepAlive = 3600 * time.Second
)

// Per-family packet-size ceilings, MTU-derived and already multiples of
// the AES block size.
const (
	maxPacketSizeV4 = 1456
	maxPacketSizeV6 = 1424
)

// Session is one datagram-transport peer session: handshake state while
// establishing, then the reliable fragmented data channel once
// established. All mutation happens under mu; the server's read loop,
// its timer pass, and callers of Send and Close all write to it.
type Session struct {
	srv *Server

	mu             sync.Mutex
	state          peer.State
	remoteAddr     *net.UDPAddr
	remoteIdentity *identity.Identity
	remoteIntroKey [crypto.SessionKeySize]byte
	aesKey         [crypto.SessionKeySize]byte
	macKey         [crypto.SessionKeySize]byte

	packetSize   int
	createdAt    time.Time
	lastActivity time.Time

	// Handshake state, cleared once established.
	dh           *crypto.DHKeyPair
	peerX        []byte       // responder: initiator's DH public
	hsTargetAddr *net.UDPAddr // our endpoint as the initiator observes it
	relayTag        uint32 // tag issued to us (initiator) or by us (introducer)
	isIntroducer    bool   // remote issued us a relay tag; keep alive longer
	confirmedChunks   map[uint8][]byte
	confirmedTotal    uint8
	confirmedSignedOn uint32
	confirmedSig      []byte

	incomplete map[uint32]*incompleteMessage
	sentMsgs   map[uint32]*sentMessage
	recent     *lru.Cache[uint32, time.Time]

	pendingACKs      []uint32
	pendingBitfields []ackBitfield

	established chan struct{}
	closed      bool
}

func newSession(srv *Server, remote *net.UDPAddr) *Session {
	recent, _ := lru.New[uint32, time.Time](recentMessageCap)
	s := &Session{
		srv:             srv,
		state:           peer.StateUnknown,
		remoteAddr:      remote,
		packetSize:      packetSizeFor(remote.IP),
		createdAt:       time.Now(),
		lastActivity:    time.Now(),
		confirmedChunks: make(map[uint8][]byte),
		incomplete:      make(map[uint32]*incompleteMessage),
		sentMsgs:        make(map[uint32]*sentMessage),
		recent:          recent,
		established:     make(chan struct{}),
	}
	return s
}

func packetSizeFor(ip net.IP) int {
	size := maxPacketSizeV6
	if ip.To4() != nil {
		size = maxPacketSizeV4
	}
	return size - size%crypto.BlockSize
}

// clampMTU shrinks the session's packet size to an MTU the remote
// router-info advertises.
func (s *Session) clampMTU(mtu uint16) {
	if mtu == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	size := int(mtu) - int(mtu)%crypto.BlockSize
	if size > 0 && size < s.packetSize {
		s.packetSize = size
	}
}

// maxFragmentSize is the data-fragment split point: packet size minus
// the MAC/IV header, the 5-byte flag/timestamp body prefix, and the 9
// bytes of per-fragment data-payload framing.
func (s *Session) maxFragmentSize() int {
	return s.packetSize - headerOverhead - bodyPrefixSize - 9
}

// State reports the session's lifecycle position.
func (s *Session) State() peer.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Keys returns the derived session keys once established.
func (s *Session) Keys() (aes, mac [crypto.SessionKeySize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aesKey, s.macKey
}

// RemoteIdentity returns the authenticated peer identity, nil before the
// handshake completes.
func (s *Session) RemoteIdentity() *identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIdentity
}

// RemoteAddr satisfies peer.Transport.
func (s *Session) RemoteAddr() string { return s.remoteAddr.String() }

// RelayTag returns the introduction tag the remote issued during the
// handshake, 0 when it declined to introduce.
func (s *Session) RelayTag() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relayTag
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// deriveKeys installs the AES and MAC session keys from a completed DH
// agreement. The AES key follows the same truncation rule as the stream
// transport; the MAC key is the SHA-256 of the full shared secret,
// giving the second independent 32-byte key the session needs.
func (s *Session) deriveKeys(secret []byte) error {
	aesKey, err := crypto.SessionKeyFromSecret(secret)
	if err != nil {
		return err
	}
	s.aesKey = aesKey
	s.macKey = crypto.SHA256(secret)
	return nil
}

func (s *Session) markEstablished(remote *identity.Identity) {
	s.mu.Lock()
	if s.state == peer.StateEstablished {
		s.mu.Unlock()
		return
	}
	s.state = peer.StateEstablished
	s.remoteIdentity = remote
	s.dh = nil
	s.peerX = nil
	s.confirmedChunks = nil
	close(s.established)
	s.mu.Unlock()
}

func (s *Session) fail() {
	s.mu.Lock()
	if s.state == peer.StateEstablished || s.state == peer.StateClosed || s.state == peer.StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = peer.StateFailed
	s.mu.Unlock()
}

// WaitEstablished blocks until the handshake completes or the connect
// timeout elapses.
func (s *Session) WaitEstablished() error {
	select {
	case <-s.established:
		return nil
	case <-time.After(connectTimeout):
		s.fail()
		return xerrors.NewProtocolError("ssu-connect", xerrors.ErrTimeout)
	}
}

// newMessageID draws a random nonzero message id for the datagram
// framing layer.
func newMessageID() uint32 {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			continue
		}
		if id := binary.BigEndian.Uint32(b[:]); id != 0 {
			return id
		}
	}
}

// Send fragments each message and transmits the pieces, recording
// retransmit state per message.
// Messages go out in submission order.
func (s *Session) Send(msgs []*i2np.Message) error {
	for _, m := range msgs {
		if err := s.sendOne(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendOne(m *i2np.Message) error {
	data, err := m.ToShort()
	if err != nil {
		return err
	}
	msgID := m.MessageID
	if msgID == 0 {
		msgID = newMessageID()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return xerrors.ErrSessionClosed
	}
	maxFrag := s.maxFragmentSize()
	acks := s.takePendingACKsLocked()
	s.mu.Unlock()

	total := (len(data) + maxFrag - 1) / maxFrag
	if total == 0 {
		total = 1
	}
	if total > maxFragmentNumber {
		return xerrors.NewProtocolError("ssu-fragment", xerrors.ErrProtocolViolation)
	}

	sm := &sentMessage{
		fragments:  make([][]byte, total),
		nextResend: time.Now().Add(resendInterval),
	}
	for i := 0; i < total; i++ {
		end := (i + 1) * maxFrag
		if end > len(data) {
			end = len(data)
		}
		d := &dataPayload{
			Fragments: []fragment{{
				MessageID: msgID,
				Number:    uint8(i),
				IsLast:    i == total-1,
				Data:      data[i*maxFrag : end],
			}},
		}
		if i == 0 {
			d.ExplicitACKs = acks.ExplicitACKs
			d.Bitfields = acks.Bitfields
		}
		pkt, err := s.buildDataPacket(d)
		if err != nil {
			return err
		}
		sm.fragments[i] = pkt
		if err := s.srv.send(s.remoteAddr, pkt); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.sentMsgs[msgID] = sm
	s.lastActivity = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Session) buildDataPacket(d *dataPayload) ([]byte, error) {
	s.mu.Lock()
	aesKey, macKey := s.aesKey, s.macKey
	remote := s.remoteAddr
	s.mu.Unlock()
	return buildPacket(macKey, aesKey, payloadData, d.serialize(), remote, s.srv.localAddr())
}

// takePendingACKsLocked drains queued acknowledgments for piggybacking.
// Caller holds mu.
func (s *Session) takePendingACKsLocked() dataPayload {
	out := dataPayload{ExplicitACKs: s.pendingACKs, Bitfields: s.pendingBitfields}
	s.pendingACKs = nil
	s.pendingBitfields = nil
	return out
}

// handleData processes one received type-6 payload: apply ACKs to our
// retransmit state, feed fragments through reassembly, and emit the
// acknowledgments the sender is waiting on.
func (s *Session) handleData(d *dataPayload) {
	s.touch()

	s.mu.Lock()
	for _, id := range d.ExplicitACKs {
		delete(s.sentMsgs, id)
	}
	for _, bf := range d.Bitfields {
		if sm, ok := s.sentMsgs[bf.MessageID]; ok {
			sm.applyBitfield(bf.Bits)
			if sm.allAcked() {
				delete(s.sentMsgs, bf.MessageID)
			}
		}
	}
	s.mu.Unlock()

	var completed []*i2np.Message
	s.mu.Lock()
	for _, f := range d.Fragments {
		if _, seen := s.recent.Get(f.MessageID); seen {
			s.pendingACKs = append(s.pendingACKs, f.MessageID)
			continue
		}
		im, ok := s.incomplete[f.MessageID]
		if !ok {
			// Size the buffer up front from the fragment metadata: the
			// highest fragment number seen so far bounds the message.
			hint := (int(f.Number) + 1) * len(f.Data)
			if hint > i2np.MaxShortMessageSize+i2np.ShortHeaderSize {
				hint = i2np.MaxShortMessageSize + i2np.ShortHeaderSize
			}
			im = newIncompleteMessage(f.MessageID, hint)
			s.incomplete[f.MessageID] = im
		}
		done, dup := im.accept(f)
		switch {
		case done:
			delete(s.incomplete, f.MessageID)
			s.recent.Add(f.MessageID, time.Now())
			s.pendingACKs = append(s.pendingACKs, f.MessageID)
			if msg, err := i2np.FromShort(im.buf, f.MessageID); err == nil {
				completed = append(completed, msg)
			}
		case dup:
			s.pendingACKs = append(s.pendingACKs, f.MessageID)
		case f.Number > im.nextFragment:
			// Out-of-order: acknowledge the individual fragment.
			bits := make([]bool, f.Number+1)
			bits[f.Number] = true
			for n := range im.saved {
				if int(n) < len(bits) {
					bits[n] = true
				}
			}
			s.pendingBitfields = append(s.pendingBitfields, ackBitfield{MessageID: f.MessageID, Bits: bits})
		}
	}
	mustReply := d.WantReply || len(s.pendingACKs) > 0 || len(s.pendingBitfields) > 0
	s.mu.Unlock()

	if mustReply {
		s.flushACKs()
	}
	for _, msg := range completed {
		s.srv.deliver(s, msg)
	}
}

// flushACKs sends a fragment-free data packet carrying any queued
// acknowledgments.
func (s *Session) flushACKs() {
	s.mu.Lock()
	d := s.takePendingACKsLocked()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	pkt, err := s.buildDataPacket(&d)
	if err != nil {
		return
	}
	_ = s.srv.send(s.remoteAddr, pkt)
}

// keepAlive sends an empty want-reply data packet.
func (s *Session) keepAlive() {
	pkt, err := s.buildDataPacket(&dataPayload{WantReply: true})
	if err != nil {
		return
	}
	_ = s.srv.send(s.remoteAddr, pkt)
}

// resendPass retransmits fragments still awaiting acknowledgment and
// abandons messages past the resend cap.
func (s *Session) resendPass(now time.Time) {
	s.mu.Lock()
	var toSend [][]byte
	for id, sm := range s.sentMsgs {
		if now.Before(sm.nextResend) {
			continue
		}
		sm.resendCount++
		if sm.resendCount > maxResendCount {
			delete(s.sentMsgs, id)
			continue
		}
		sm.nextResend = now.Add(resendInterval)
		for _, pkt := range sm.fragments {
			if pkt != nil {
				toSend = append(toSend, pkt)
			}
		}
	}
	remote := s.remoteAddr
	s.mu.Unlock()

	for _, pkt := range toSend {
		_ = s.srv.send(remote, pkt)
	}
}

// purgeIncomplete drops reassembly entries idle past the 30 s timeout
// and recently-received records past the quiet window.
func (s *Session) purgeIncomplete(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, im := range s.incomplete {
		if now.Sub(im.lastInsert) > incompleteMessageTimeout {
			delete(s.incomplete, id)
		}
	}
	for _, id := range s.recent.Keys() {
		if t, ok := s.recent.Peek(id); ok && now.Sub(t) > recentMessageAge {
			s.recent.Remove(id)
		}
	}
}

// idleDeadline is how long this session may stay silent before the
// server's termination pass tears it down.
func (s *Session) idleDeadline() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isIntroducer {
		return introducerKeepAlive
	}
	return terminationTimeout
}

// Close sends session-destroyed and removes the session from the server.
// After Close no further message is delivered upward.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasEstablished := s.state == peer.StateEstablished
	s.state = peer.StateClosed
	aesKey, macKey := s.aesKey, s.macKey
	remote := s.remoteAddr
	s.mu.Unlock()

	if wasEstablished {
		if pkt, err := buildPacket(macKey, aesKey, payloadSessionDestroyed, nil, remote, s.srv.localAddr()); err == nil {
			_ = s.srv.send(remote, pkt)
		}
	}
	s.srv.removeSession(s)
	return nil
}

var _ peer.Transport = (*Session)(nil)
