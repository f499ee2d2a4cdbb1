// Package dispatch routes received I2NP messages from the transports to
// the network database or the tunnel layer: a pure
// type-switch with two small per-call batches for tunnel traffic.
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-core/lib/i2np"
)

// Database is the slice of the network database the dispatcher feeds.
type Database interface {
	HandleMessage(msg *i2np.Message)
}

// Upstream is the out-of-scope collaborator boundary: the
// tunnel layer and garlic processor a full router would implement.
// Batches of tunnel-data and tunnel-gateway messages are flushed at the
// end of each Dispatch call.
type Upstream interface {
	HandleGarlic(msg *i2np.Message)
	HandleDeliveryStatus(msg *i2np.Message)
	HandleTunnelBuild(msg *i2np.Message)
	HandleTunnelBuildReply(msg *i2np.Message)
	HandleData(msg *i2np.Message)
	HandleTunnelData(msgs []*i2np.Message)
	HandleTunnelGateway(msgs []*i2np.Message)
}

// Dispatcher fans messages out by type. It is stateless between calls;
// the tunnel batches live only for the duration of one Dispatch.
type Dispatcher struct {
	db       Database
	upstream Upstream
	log      *logrus.Entry
}

// New builds a Dispatcher. upstream may be nil in a transport-only
// deployment; tunnel-bound messages are then dropped with a debug log.
func New(db Database, upstream Upstream, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{db: db, upstream: upstream, log: log.WithField("component", "dispatch")}
}

// Dispatch routes a batch of received messages. Database messages go to
// the netdb worker; tunnel-data and tunnel-gateway messages are
// collected and handed up in one call each at the end.
func (d *Dispatcher) Dispatch(msgs []*i2np.Message) {
	var tunnelData, tunnelGateway []*i2np.Message

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		switch msg.Type {
		case i2np.TypeDatabaseStore, i2np.TypeDatabaseLookup, i2np.TypeDatabaseSearchReply:
			if d.db != nil {
				d.db.HandleMessage(msg)
			}

		case i2np.TypeDeliveryStatus:
			if d.upstream != nil {
				d.upstream.HandleDeliveryStatus(msg)
			}

		case i2np.TypeGarlic:
			if d.upstream != nil {
				d.upstream.HandleGarlic(msg)
			}

		case i2np.TypeTunnelData:
			tunnelData = append(tunnelData, msg)

		case i2np.TypeTunnelGateway:
			tunnelGateway = append(tunnelGateway, msg)

		case i2np.TypeData:
			if d.upstream != nil {
				d.upstream.HandleData(msg)
			}

		case i2np.TypeTunnelBuild, i2np.TypeVariableTunnelBuild:
			if d.upstream != nil {
				d.upstream.HandleTunnelBuild(msg)
			}

		case i2np.TypeTunnelBuildReply, i2np.TypeVariableTunnelBuildReply:
			if d.upstream != nil {
				d.upstream.HandleTunnelBuildReply(msg)
			}

		default:
			d.log.WithField("type", msg.Type).Debug("dropping unrecognized message type")
		}
	}

	if d.upstream != nil {
		if len(tunnelData) > 0 {
			d.upstream.HandleTunnelData(tunnelData)
		}
		if len(tunnelGateway) > 0 {
			d.upstream.HandleTunnelGateway(tunnelGateway)
		}
	}
}
