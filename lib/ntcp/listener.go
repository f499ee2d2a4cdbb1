package ntcp

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
)

// Listener accepts inbound stream connections and runs the responder
// handshake on each, handing completed sessions to onAccept (typically
// peer.Manager.PeerConnected).
type Listener struct {
	ln      net.Listener
	ownKeys *identity.PrivateKeys
	dhPool  *peer.DHPool
	bans    *peer.BanList
	log     *logrus.Entry

	onAccept func(session *Session)
}

// Listen binds addr ("host:port") and returns a Listener ready to Serve.
func Listen(addr string, ownKeys *identity.PrivateKeys, dhPool *peer.DHPool, bans *peer.BanList, onAccept func(*Session)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:       ln,
		ownKeys:  ownKeys,
		dhPool:   dhPool,
		bans:     bans,
		onAccept: onAccept,
		log:      logrus.WithField("component", "ntcp-listener"),
	}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until the listener is closed. Each
// accepted connection is handshaked on its own goroutine so a single
// slow or malicious peer cannot stall acceptance.
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err == nil && l.bans != nil && l.bans.IsBanned(host) {
		conn.Close()
		return
	}

	session, err := ResponderHandshake(conn, l.ownKeys, l.dhPool)
	if err != nil {
		l.log.WithError(err).WithField("remote", conn.RemoteAddr().String()).Debug("responder handshake failed")
		if host != "" && l.bans != nil {
			l.bans.Ban(host)
		}
		conn.Close()
		return
	}
	session.SetBanList(l.bans)

	if l.onAccept != nil {
		l.onAccept(session)
	}
	session.Serve()
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
