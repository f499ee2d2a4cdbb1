// Package node assembles the transport core into a running router: the
// per-subsystem reactors, both transports, the peer manager, the network
// database, and the dispatcher, all owned by one Node value so tests can
// construct fresh instances without ambient globals.
package node

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-core/lib/config"
	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/dispatch"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/metrics"
	"github.com/go-i2p/go-i2p-core/lib/netdb"
	"github.com/go-i2p/go-i2p-core/lib/ntcp"
	"github.com/go-i2p/go-i2p-core/lib/peer"
	"github.com/go-i2p/go-i2p-core/lib/reactor"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
	"github.com/go-i2p/go-i2p-core/lib/ssu"
)

// keyFileName is the private-key container persisted beside the data
// directory's router-info.
const keyFileName = "router.keys"

// Node is one fully wired router core.
type Node struct {
	opts *config.Options
	log  *logrus.Logger

	Keys    *identity.PrivateKeys
	ownHash [crypto.HashSize]byte
	ownRI   *routerinfo.RouterInfo

	transportLoop *reactor.Loop
	dbLoop        *reactor.Loop

	NetDb      *netdb.NetDb
	Peers      *peer.Manager
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics

	ntcpListener *ntcp.Listener
	ssuServer    *ssu.Server

	cancel context.CancelFunc
}

// New constructs a Node from options. upstream is the tunnel-layer
// collaborator (nil for a transport-only deployment); reg is the metric
// registry (nil disables registration).
func New(opts *config.Options, upstream dispatch.Upstream, reg prometheus.Registerer, log *logrus.Logger) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
		return nil, err
	}

	keys, err := loadOrCreateKeys(filepath.Join(opts.DataDir, keyFileName))
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:          opts,
		log:           log,
		Keys:          keys,
		ownHash:       keys.Identity.Hash(),
		transportLoop: reactor.New("transport", log),
		dbLoop:        reactor.New("netdb", log),
		Metrics:       metrics.New(reg),
	}

	n.NetDb, err = netdb.New(n.dbLoop, keys, func() *routerinfo.RouterInfo { return n.ownRI }, opts.DataDir, opts.Floodfill, log)
	if err != nil {
		return nil, err
	}

	n.Peers = peer.NewManager(n.transportLoop, n.ownHash, n.NetDb, nil, nil, log)
	n.NetDb.SetSender(n.Peers)
	n.Dispatcher = dispatch.New(n.NetDb, upstream, log)

	bind := net.JoinHostPort("", strconv.Itoa(int(opts.Port)))
	var streamConn, dgramConn peer.Connector

	if opts.EnableNTCP {
		n.ntcpListener, err = ntcp.Listen(bind, keys, n.Peers.DHPool, n.Peers.Bans, n.acceptNTCP)
		if err != nil {
			return nil, err
		}
		streamConn = ntcp.NewConnector(keys, n.Peers.DHPool, n.Peers.Bans, n.wireNTCP)
	}

	if opts.EnableSSU {
		// The datagram MAC binds each packet to its endpoints, so the
		// socket must be bound to the published address, not a wildcard.
		ssuBind := net.JoinHostPort(opts.Host, strconv.Itoa(int(opts.Port)))
		n.ssuServer, err = ssu.Listen(ssuBind, keys, ssu.Config{
			Introducer:  opts.SSUIntroducer,
			PeerTesting: opts.SSUTesting,
		}, n.Peers.DHPool, n.Peers.Bans)
		if err != nil {
			if n.ntcpListener != nil {
				n.ntcpListener.Close()
			}
			return nil, err
		}
		n.ssuServer.OnEstablished(n.acceptSSU)
		n.ssuServer.OnMessage(func(sess *ssu.Session, msg *i2np.Message) {
			n.Metrics.BytesIn.Add(float64(i2np.HeaderSize + len(msg.Payload)))
			n.Dispatcher.Dispatch([]*i2np.Message{msg})
		})
		dgramConn = ssu.NewConnector(n.ssuServer)
	}

	n.Peers.SetConnectors(streamConn, dgramConn)

	n.ownRI, err = n.buildRouterInfo()
	if err != nil {
		return nil, err
	}
	n.NetDb.AddRouterInfo(n.ownRI)
	return n, nil
}

func loadOrCreateKeys(path string) (*identity.PrivateKeys, error) {
	if buf, err := os.ReadFile(path); err == nil {
		return identity.ParsePrivateKeys(buf)
	}
	keys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, keys.Bytes(), 0o600); err != nil {
		return nil, err
	}
	return keys, nil
}

// buildRouterInfo publishes one address per enabled transport under the
// configured capability string.
func (n *Node) buildRouterInfo() (*routerinfo.RouterInfo, error) {
	var addrs []routerinfo.Address
	if n.opts.EnableNTCP {
		addrs = append(addrs, routerinfo.Address{
			Style: routerinfo.StyleStream,
			Host:  n.opts.Host,
			Port:  n.opts.Port,
		})
	}
	if n.opts.EnableSSU && n.ssuServer != nil {
		addrs = append(addrs, routerinfo.Address{
			Style:       routerinfo.StyleDatagram,
			Host:        n.opts.Host,
			Port:        n.opts.Port,
			MTU:         uint16(maxMTUFor(n.opts.Host)),
			IntroKey:    n.ssuServer.IntroKey(),
			HasIntroKey: true,
		})
	}
	return routerinfo.CreateFor(n.Keys, addrs, n.opts.Caps(), uint64(time.Now().UnixMilli()))
}

func maxMTUFor(host string) int {
	ip := net.ParseIP(host)
	if ip != nil && ip.To4() == nil {
		return 1424
	}
	return 1456
}

// acceptNTCP installs an inbound stream session into the peer manager.
func (n *Node) acceptNTCP(sess *ntcp.Session) {
	n.wireNTCP(sess)
	hash := sess.RemoteIdentity().Hash()
	var zero [crypto.SessionKeySize]byte
	n.Peers.PeerConnected(hash, peer.NewSession(sess.RemoteIdentity(), sess.AESKey(), zero, sess))
	n.Metrics.SessionsActive.WithLabelValues("ntcp").Inc()
}

// wireNTCP attaches the dispatcher to a stream session's receive path;
// shared by the listener and the outbound connector.
func (n *Node) wireNTCP(sess *ntcp.Session) {
	sess.OnMessage(func(msg *i2np.Message) {
		n.Metrics.BytesIn.Add(float64(i2np.HeaderSize + len(msg.Payload)))
		n.Dispatcher.Dispatch([]*i2np.Message{msg})
	})
}

// acceptSSU installs an established datagram session into the peer
// manager.
func (n *Node) acceptSSU(sess *ssu.Session) {
	remote := sess.RemoteIdentity()
	if remote == nil {
		return
	}
	aesKey, macKey := sess.Keys()
	n.Peers.PeerConnected(remote.Hash(), peer.NewSession(remote, aesKey, macKey, sess))
	n.Metrics.SessionsActive.WithLabelValues("ssu").Inc()
}

// Run starts the reactors and transport accept loops and blocks until
// ctx is cancelled, then shuts down gracefully.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	sup := reactor.NewSupervisor(ctx)
	sup.Supervise(n.transportLoop)
	sup.Supervise(n.dbLoop)

	if n.ntcpListener != nil {
		go func() {
			if err := n.ntcpListener.Serve(); err != nil {
				n.log.WithError(err).Debug("ntcp listener stopped")
			}
		}()
	}
	if n.ssuServer != nil {
		go func() {
			if err := n.ssuServer.Serve(); err != nil {
				n.log.WithError(err).Debug("ssu server stopped")
			}
		}()
	}

	n.transportLoop.Every(10*time.Second, func() {
		n.Metrics.RoutersKnown.Set(float64(n.NetDb.RouterCount()))
	})
	if n.ssuServer != nil && n.opts.SSUTesting {
		// Reachability is re-probed periodically through any
		// established datagram session.
		n.transportLoop.Every(50*time.Second, n.runPeerTest)
	}

	err := sup.Wait()
	n.shutdown()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Stop requests a graceful shutdown; Run returns once it completes.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Node) shutdown() {
	if n.ntcpListener != nil {
		_ = n.ntcpListener.Close()
	}
	if n.ssuServer != nil {
		_ = n.ssuServer.Close()
	}
	n.NetDb.Shutdown()
}

// runPeerTest probes our own reachability through an established
// datagram session, adjusting the published reachable flag.
func (n *Node) runPeerTest() {
	bob := n.ssuServer.AnyEstablished()
	if bob == nil {
		return
	}
	if err := n.ssuServer.StartPeerTest(bob, func(reachable bool) {
		n.ownRI.Reachable = reachable
	}); err != nil {
		n.log.WithError(err).Debug("peer test start failed")
	}
}

// OwnRouterInfo returns the signed self-description this node publishes.
func (n *Node) OwnRouterInfo() *routerinfo.RouterInfo { return n.ownRI }
