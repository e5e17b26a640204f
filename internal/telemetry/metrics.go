package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AuctionsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "auctions_created_total", Help: "Auctions created"})
	BidsAccepted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "auction_bids_accepted_total", Help: "Bids accepted"})
	BidsRejected      = prometheus.NewCounter(prometheus.CounterOpts{Name: "auction_bids_rejected_total", Help: "Bids rejected by price or state guards"})
	AuctionsSettled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "auctions_settled_total", Help: "Auctions stopped and settled"})
	SchedulerSweeps   = prometheus.NewCounter(prometheus.CounterOpts{Name: "auction_scheduler_sweeps_total", Help: "Scheduler trigger sweeps"})
	SchedulerFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "auction_scheduler_failures_total", Help: "Per-auction failures during scheduler sweeps"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "auction_rate_limit_rejects_total", Help: "Bid requests rejected by rate limiter"})
	ActiveAuctions    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "auctions_active", Help: "Auctions currently active or paused"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AuctionsCreated,
			BidsAccepted,
			BidsRejected,
			AuctionsSettled,
			SchedulerSweeps,
			SchedulerFailures,
			RateLimitRejects,
			ActiveAuctions,
		)
	})
	return promhttp.Handler()
}
