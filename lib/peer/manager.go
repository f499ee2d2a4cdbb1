package peer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/reactor"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

const (
	cleanupInterval = 50 * time.Second
	peerGraceWindow = 10 * time.Second
)

// Peer is one remote identity the manager knows about, with however many
// sessions (stream, datagram) are currently open to it.
type Peer struct {
	mu sync.Mutex

	hash         [32]byte
	attemptCount int
	routerInfo   *routerinfo.RouterInfo
	sessions     []*Session
	createdAt    time.Time
	delayed      []*i2np.Message
}

// Connector dials a transport to a peer whose router-info is known.
// NTCP and SSU each register one; attempt 0 tries stream, attempt 1
// tries datagram.
type Connector interface {
	Connect(ri *routerinfo.RouterInfo) (Transport, [32]byte, [32]byte, error)
}

// NetDb is the subset of the network database the peer manager needs: an
// asynchronous router-info lookup with a completion callback.
type NetDb interface {
	Lookup(hash [32]byte, exploratory bool, onResult func(*routerinfo.RouterInfo))
}

// Manager is the peer map plus its supporting DH pool and ban list.
// Its periodic ticks run on the reactor it is attached to; the peer map
// and each peer are guarded by mutexes, so other goroutines call it
// directly.
type Manager struct {
	loop    *reactor.Loop
	log     *logrus.Entry
	ownHash [32]byte

	netDb      NetDb
	streamConn Connector // attempt 0
	dgramConn  Connector // attempt 1

	mu    sync.Mutex
	peers map[[32]byte]*Peer

	Bans   *BanList
	DHPool *DHPool

	bwIn, bwOut *bandwidthEstimator
}

// NewManager constructs a Manager bound to the given reactor loop. Its
// periodic cleanup and bandwidth ticks are scheduled immediately.
func NewManager(loop *reactor.Loop, ownHash [32]byte, netDb NetDb, streamConn, dgramConn Connector, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		loop:       loop,
		log:        log.WithField("component", "peer-manager"),
		ownHash:    ownHash,
		netDb:      netDb,
		streamConn: streamConn,
		dgramConn:  dgramConn,
		peers:      make(map[[32]byte]*Peer),
		Bans:       NewBanList(),
		DHPool:     NewDHPool(),
		bwIn:       newBandwidthEstimator(),
		bwOut:      newBandwidthEstimator(),
	}
	loop.Every(cleanupInterval, m.cleanup)
	loop.Every(time.Second, func() {
		m.bwIn.Tick()
		m.bwOut.Tick()
	})
	return m
}

// SetConnectors installs the transport dialers after construction; the
// transports themselves need the manager's DH pool and ban list to come
// up, so the wiring is necessarily two-phase.
func (m *Manager) SetConnectors(stream, dgram Connector) {
	m.streamConn = stream
	m.dgramConn = dgram
}

func (m *Manager) getOrCreatePeer(hash [32]byte) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[hash]
	if !ok {
		p = &Peer{hash: hash, createdAt: time.Now()}
		m.peers[hash] = p
	}
	return p
}

func (m *Manager) getPeer(hash [32]byte) *Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peers[hash]
}

// Send routes messages to a peer: over an existing session if one is
// open, else after connecting (resolving the router-info first when
// unknown). It may be called from any goroutine; connecting runs on the
// caller's goroutine.
func (m *Manager) Send(identityHash [32]byte, msgs []*i2np.Message) error {
	if identityHash == m.ownHash {
		// Local dispatch is the caller's responsibility once Send
		// returns nil for the own-identity case; the peer manager only
		// routes to remote peers.
		return nil
	}

	p := m.getOrCreatePeer(identityHash)

	p.mu.Lock()
	if len(p.sessions) > 0 {
		session := p.sessions[0]
		p.mu.Unlock()
		return session.Send(msgs)
	}
	haveRI := p.routerInfo != nil
	p.delayed = append(p.delayed, msgs...)
	p.mu.Unlock()

	if haveRI {
		m.connect(p)
		return nil
	}

	m.netDb.Lookup(identityHash, false, func(ri *routerinfo.RouterInfo) {
		if ri == nil {
			return
		}
		p.mu.Lock()
		p.routerInfo = ri
		p.mu.Unlock()
		m.connect(p)
	})
	return nil
}

// connect walks the transport ladder: attempt 0 tries the stream
// transport, attempt 1 the datagram transport; if neither succeeds the
// peer is dropped and its delayed messages fail.
func (m *Manager) connect(p *Peer) {
	p.mu.Lock()
	ri := p.routerInfo
	attempt := p.attemptCount
	p.attemptCount++
	p.mu.Unlock()

	if ri == nil {
		return
	}

	var connector Connector
	switch attempt {
	case 0:
		connector = m.streamConn
	case 1:
		connector = m.dgramConn
	default:
		m.dropPeer(p)
		return
	}
	if connector == nil {
		m.connect(p) // this transport unavailable, fall through to the next attempt
		return
	}

	transport, aesKey, macKey, err := connector.Connect(ri)
	if err != nil {
		m.connect(p)
		return
	}

	session := NewSession(ri.Identity, aesKey, macKey, transport)
	m.PeerConnected(p.hash, session)
}

// PeerConnected installs a newly established session: append to the
// peer's session list and flush delayed messages.
func (m *Manager) PeerConnected(identityHash [32]byte, session *Session) {
	p := m.getOrCreatePeer(identityHash)
	p.mu.Lock()
	p.sessions = append(p.sessions, session)
	delayed := p.delayed
	p.delayed = nil
	p.mu.Unlock()

	if len(delayed) > 0 {
		_ = session.Send(delayed)
	}
}

// PeerDisconnected removes a dead session from the peer's list; if
// messages remain queued, the connection is re-attempted, else the
// entry is dropped on the next cleanup pass.
func (m *Manager) PeerDisconnected(identityHash [32]byte, session *Session) {
	p := m.getPeer(identityHash)
	if p == nil {
		return
	}
	p.mu.Lock()
	for i, s := range p.sessions {
		if s == session {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			break
		}
	}
	hasQueued := len(p.delayed) > 0
	p.mu.Unlock()

	if hasQueued {
		m.connect(p)
	}
}

func (m *Manager) dropPeer(p *Peer) {
	p.mu.Lock()
	dropped := len(p.delayed)
	p.delayed = nil
	p.mu.Unlock()
	if dropped > 0 {
		m.log.WithField("count", dropped).Debug("dropping peer, failing queued messages")
	}

	m.mu.Lock()
	delete(m.peers, p.hash)
	m.mu.Unlock()
}

// cleanup drops peers with no sessions whose entry has aged past the
// grace window.
func (m *Manager) cleanup() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, p := range m.peers {
		p.mu.Lock()
		empty := len(p.sessions) == 0 && now.Sub(p.createdAt) > peerGraceWindow
		p.mu.Unlock()
		if empty {
			delete(m.peers, hash)
		}
	}
}

// BandwidthEstimate returns the rolling in/out byte-per-second estimate.
func (m *Manager) BandwidthEstimate() (in, out float64) {
	return m.bwIn.BytesPerSecond(), m.bwOut.BytesPerSecond()
}

// RecordBytes feeds the rolling bandwidth estimators, called from
// transport receive/send paths.
func (m *Manager) RecordBytes(in, out uint64) {
	if in > 0 {
		m.bwIn.Add(in)
	}
	if out > 0 {
		m.bwOut.Add(out)
	}
}
