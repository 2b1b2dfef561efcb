package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Bidding
	BidsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bids_accepted_total",
			Help: "Total accepted bids",
		},
	)
	BidsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bids_rejected_total",
			Help: "Total rejected bids by error kind",
		},
		[]string{"kind"}, // validation|not_found|insufficient_funds|conflict|internal
	)
	BidRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bid_conflict_retries_total",
			Help: "Bid attempts retried after losing a concurrency race",
		},
	)

	// Wallet
	WalletMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_movements_total",
			Help: "Committed balance changes by reason",
		},
		[]string{"reason"},
	)

	// Lifecycle
	AuctionsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auctions_settled_total",
			Help: "Auctions closed by the sweeper",
		},
		[]string{"outcome"}, // won|no_bids
	)
	SettlementFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Per-auction settlement attempts that failed and will be retried",
		},
	)
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lifecycle_sweep_duration_seconds",
			Help:    "Duration of one lifecycle sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Fanout
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_events_published_total",
			Help: "Events published by channel kind",
		},
		[]string{"channel"}, // auction|user
	)
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)
	FanoutQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_queue_depth",
			Help: "Current fanout delivery queue depth",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestLatency,
			BidsAccepted,
			BidsRejected,
			BidRetries,
			WalletMovements,
			AuctionsSettled,
			SettlementFailures,
			SweepDuration,
			EventsPublished,
			EventsDropped,
			FanoutQueueDepth,
		)
	})
}

// Handler serves the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
