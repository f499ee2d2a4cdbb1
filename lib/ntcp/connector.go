package ntcp

import (
	"encoding/hex"
	"net"
	"strconv"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
	"github.com/go-i2p/go-i2p-core/lib/xerrors"
)

// dialTimeout bounds how long an outbound attempt waits for the TCP
// handshake before giving up to the peer manager's next transport.
const dialTimeout = 10 * time.Second

// Connector dials the stream transport on behalf of the peer manager,
// satisfying peer.Connector.
type Connector struct {
	ownKeys *identity.PrivateKeys
	dhPool  *peer.DHPool
	bans    *peer.BanList
	onReady func(*Session)
}

// NewConnector builds a Connector bound to this router's own keys and
// DH pool. onReady, if non-nil, is invoked for every outbound session
// this connector establishes before it is handed back to the caller.
// Inbound sessions do not pass through it; the Listener has its own
// accept callback.
func NewConnector(ownKeys *identity.PrivateKeys, dhPool *peer.DHPool, bans *peer.BanList, onReady func(*Session)) *Connector {
	return &Connector{ownKeys: ownKeys, dhPool: dhPool, bans: bans, onReady: onReady}
}

// Connect implements peer.Connector: finds a stream address in ri,
// dials it, and runs the initiator handshake.
func (c *Connector) Connect(ri *routerinfo.RouterInfo) (peer.Transport, [32]byte, [32]byte, error) {
	var zero [32]byte
	addr := streamAddress(ri)
	if addr == nil {
		hash := ri.Identity.Hash()
		return nil, zero, zero, xerrors.NewPeerError(hex.EncodeToString(hash[:]), "ntcp-connect", xerrors.ErrNotFound)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port))), dialTimeout)
	if err != nil {
		return nil, zero, zero, err
	}

	session, err := InitiatorHandshake(conn, c.ownKeys, ri.Identity, c.dhPool)
	if err != nil {
		conn.Close()
		return nil, zero, zero, err
	}
	session.SetBanList(c.bans)
	if c.onReady != nil {
		c.onReady(session)
	}
	go session.Serve()

	return session, session.aesKey, zero, nil
}

func streamAddress(ri *routerinfo.RouterInfo) *routerinfo.Address {
	for i := range ri.Addresses {
		if ri.Addresses[i].Style == routerinfo.StyleStream {
			return &ri.Addresses[i]
		}
	}
	return nil
}
