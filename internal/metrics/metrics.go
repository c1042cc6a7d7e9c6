// Package metrics exposes pipeline counters for the monitor server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PacketsRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_udp_packets_read_total",
		Help: "RREF response packets read from the simulator.",
	})
	ValuesEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_values_enqueued_total",
		Help: "Dataref values decoded and enqueued for dispatch.",
	})
	DatarefUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_dataref_updates_total",
		Help: "Dataref value updates applied.",
	})
	DatarefChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_dataref_changes_total",
		Help: "Dataref updates whose rounded value changed.",
	})
	StaleValues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_stale_values_total",
		Help: "Values discarded because their subscription index is gone.",
	})
	SocketTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_socket_timeouts_total",
		Help: "UDP read timeouts on the data socket.",
	})
	ReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tpxplane_reconnect_attempts_total",
		Help: "Beacon searches that did not find a running simulator.",
	})
	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tpxplane_subscriptions",
		Help: "Datarefs currently subscribed at the simulator.",
	})
	QueueBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tpxplane_queue_backlog",
		Help: "Values waiting between the UDP reader and the dispatcher.",
	})
)
