// Package metrics registers the core's Prometheus collectors. Entirely
// optional: pass a nil Registerer and every instrument becomes a no-op,
// keeping observability out of the correctness path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the instruments the transports, peer manager, and
// network database update.
type Metrics struct {
	SessionsActive  *prometheus.GaugeVec // by transport: "ntcp" | "ssu"
	BansActive      prometheus.Gauge
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	RoutersKnown    prometheus.Gauge
	LeaseSetsKnown  prometheus.Gauge
	LookupsPending  prometheus.Gauge
	LookupsFailed   prometheus.Counter
	MessagesIn      *prometheus.CounterVec // by i2np type name
	HandshakesFailed *prometheus.CounterVec // by transport
}

// New builds and registers the instrument set. reg may be nil, in which
// case nothing is registered and the instruments discard their updates.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "i2pcore", Name: "sessions_active",
			Help: "Established transport sessions.",
		}, []string{"transport"}),
		BansActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "i2pcore", Name: "bans_active",
			Help: "IPs currently on the ban list.",
		}),
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i2pcore", Name: "bytes_in_total",
			Help: "Bytes received across all sessions.",
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i2pcore", Name: "bytes_out_total",
			Help: "Bytes sent across all sessions.",
		}),
		RoutersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "i2pcore", Name: "netdb_routers",
			Help: "Router-infos in the network database.",
		}),
		LeaseSetsKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "i2pcore", Name: "netdb_leasesets",
			Help: "Lease sets in the network database.",
		}),
		LookupsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "i2pcore", Name: "netdb_lookups_pending",
			Help: "Outstanding database lookups.",
		}),
		LookupsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "i2pcore", Name: "netdb_lookups_failed_total",
			Help: "Database lookups that exhausted their attempt budget.",
		}),
		MessagesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "i2pcore", Name: "messages_in_total",
			Help: "I2NP messages received, by type.",
		}, []string{"type"}),
		HandshakesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "i2pcore", Name: "handshakes_failed_total",
			Help: "Transport handshakes that did not establish.",
		}, []string{"transport"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive, m.BansActive, m.BytesIn, m.BytesOut,
			m.RoutersKnown, m.LeaseSetsKnown, m.LookupsPending,
			m.LookupsFailed, m.MessagesIn, m.HandshakesFailed,
		)
	}
	return m
}
