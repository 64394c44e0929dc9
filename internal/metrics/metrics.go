// Package metrics registers the Prometheus gauges and counters that replace
// the original SendJobsVariables custom Z_I64GAUGE macro, grounded on
// original_source/src/libNetwork/SendJobs.cpp and the prometheus/client_golang
// usage in poaiw-blockchain-paw/go.mod and shurlinet-shurli/go.mod.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the networking core exposes. Callers should
// construct one Registry per process and pass it by reference into the
// components that update it.
type Registry struct {
	SendToPeerTotal       prometheus.Counter
	SendToPeerFailedTotal prometheus.Counter
	SendToPeerSyncTotal   prometheus.Counter
	ActivePeers           prometheus.Gauge
	ReconnectTotal        prometheus.Counter
	SlowSendTotal         prometheus.Counter

	GossipRoundsTotal  prometheus.Counter
	GossipDispatchedTotal prometheus.Counter

	BlacklistSize      prometheus.Gauge
	DSCommitteeSize    prometheus.Gauge
	BroadcastSeenGauge prometheus.Gauge
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SendToPeerTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendjobs_send_to_peer_total",
			Help: "Total messages handed to SendJobs for delivery.",
		}),
		SendToPeerFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendjobs_send_to_peer_failed_total",
			Help: "Total messages that failed to send after retries were exhausted.",
		}),
		SendToPeerSyncTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendjobs_send_to_peer_sync_total",
			Help: "Total synchronous (CLI escape-hatch) sends.",
		}),
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sendjobs_active_peers",
			Help: "Number of peers with a live PeerSendQueue.",
		}),
		ReconnectTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendjobs_reconnect_total",
			Help: "Total reconnect attempts across all peer send queues.",
		}),
		SlowSendTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sendjobs_slow_send_total",
			Help: "Total writes that exceeded the slow-send-to-report threshold.",
		}),
		GossipRoundsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rumor_rounds_total",
			Help: "Total gossip rounds advanced.",
		}),
		GossipDispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rumor_dispatched_total",
			Help: "Total rumours dispatched upward exactly once.",
		}),
		BlacklistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blacklist_size",
			Help: "Current number of blacklisted peer identities.",
		}),
		DSCommitteeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ds_committee_size",
			Help: "Current size of the DS committee deque.",
		}),
		BroadcastSeenGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gossip_broadcast_seen",
			Help: "Current number of broadcast hashes tracked for dedup.",
		}),
	}

	for _, c := range []prometheus.Collector{
		r.SendToPeerTotal, r.SendToPeerFailedTotal, r.SendToPeerSyncTotal,
		r.ActivePeers, r.ReconnectTotal, r.SlowSendTotal,
		r.GossipRoundsTotal, r.GossipDispatchedTotal,
		r.BlacklistSize, r.DSCommitteeSize, r.BroadcastSeenGauge,
	} {
		reg.MustRegister(c)
	}
	return r
}
