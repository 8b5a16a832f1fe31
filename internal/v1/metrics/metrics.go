package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the DropHub rendezvous service.
//
// Naming convention: namespace_subsystem_name
// - namespace: drophub
// - subsystem: websocket, room, transfer
//
// Metric Types:
// - Gauge: Current state (connections, rooms, peers, transfers)
// - Counter: Cumulative events (blocks relayed, rpc calls, invites)
// - Histogram: Latency distributions (rpc handling time)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "drophub",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "drophub",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomPeers tracks the number of peers in each room
	RoomPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "drophub",
		Subsystem: "room",
		Name:      "peers_count",
		Help:      "Number of peers in each room",
	}, []string{"room_id"})

	// InvitesIssued counts invites minted across all rooms
	InvitesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drophub",
		Subsystem: "room",
		Name:      "invites_issued_total",
		Help:      "Total invites issued",
	})

	// ActiveTransfers tracks in-flight downloads
	ActiveTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "drophub",
		Subsystem: "transfer",
		Name:      "transfers_active",
		Help:      "Current number of in-flight transfers",
	})

	// BlocksRelayed counts blocks moved owner -> downloader
	BlocksRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drophub",
		Subsystem: "transfer",
		Name:      "blocks_relayed_total",
		Help:      "Total blocks relayed through the server",
	})

	// BytesRelayed counts payload bytes moved owner -> downloader
	BytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drophub",
		Subsystem: "transfer",
		Name:      "bytes_relayed_total",
		Help:      "Total payload bytes relayed through the server",
	})

	// RPCRequests counts JSON-RPC calls by method and status
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drophub",
		Subsystem: "websocket",
		Name:      "rpc_requests_total",
		Help:      "Total JSON-RPC requests processed",
	}, []string{"method", "status"})

	// RPCDuration tracks time spent handling JSON-RPC calls
	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "drophub",
		Subsystem: "websocket",
		Name:      "rpc_duration_seconds",
		Help:      "Time spent handling JSON-RPC calls",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"method"})

	// RateLimitExceeded counts rejected connections and RPC calls by scope
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drophub",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope", "kind"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
