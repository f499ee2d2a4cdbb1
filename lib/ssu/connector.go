package ssu

import (
	"net"
	"strconv"

	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

// Connector dials the datagram transport on behalf of the peer manager,
// satisfying peer.Connector.
type Connector struct {
	srv *Server
}

// NewConnector wraps a running Server as a peer.Connector.
func NewConnector(srv *Server) *Connector {
	return &Connector{srv: srv}
}

// Connect finds a datagram address in ri, runs the session handshake,
// and blocks until the session establishes or the 5 s connect timeout
// fires. The remote's advertised MTU clamps the session's packet size.
func (c *Connector) Connect(ri *routerinfo.RouterInfo) (peer.Transport, [32]byte, [32]byte, error) {
	var zero [32]byte
	addr := datagramAddress(ri)
	if addr == nil || !addr.HasIntroKey {
		return nil, zero, zero, errNoDatagramAddress
	}

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port))))
	if err != nil {
		return nil, zero, zero, err
	}

	sess, err := c.srv.Initiate(udpAddr, addr.IntroKey, ri.Identity)
	if err != nil {
		return nil, zero, zero, err
	}
	if err := sess.WaitEstablished(); err != nil {
		c.srv.removeSession(sess)
		return nil, zero, zero, err
	}
	sess.clampMTU(addr.MTU)

	aesKey, macKey := sess.Keys()
	return sess, aesKey, macKey, nil
}

func datagramAddress(ri *routerinfo.RouterInfo) *routerinfo.Address {
	for i := range ri.Addresses {
		if ri.Addresses[i].Style == routerinfo.StyleDatagram {
			return &ri.Addresses[i]
		}
	}
	return nil
}
