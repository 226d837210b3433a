package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AuctionsCreated counts auctions created by kind (classic/reserve/dutch)
var AuctionsCreated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_auctions_created_total",
		Help: "Total number of auctions created by the engine",
	},
	[]string{"kind"},
)

// BidsAccepted counts accepted bids by auction kind
var BidsAccepted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_bids_accepted_total",
		Help: "Total number of bids accepted by the engine",
	},
	[]string{"kind"},
)

// BidsRejected counts rejected bids by reason code
var BidsRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_bids_rejected_total",
		Help: "Total number of bids rejected by the engine",
	},
	[]string{"reason"},
)

// Settlements counts completed settlements by path (auction/match)
var Settlements = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_settlements_total",
		Help: "Total number of completed settlements",
	},
	[]string{"path"},
)

// PayoutLegs records the number of payout legs per settlement
var PayoutLegs = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "settlement_payout_legs",
		Help:    "Distribution of payout legs per settlement",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	},
)

// TransferFailures counts transfer legs that failed, by asset class
var TransferFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settlement_transfer_failures_total",
		Help: "Total number of failed transfer legs",
	},
	[]string{"asset_class"},
)

func init() {
	prometheus.MustRegister(AuctionsCreated, BidsAccepted, BidsRejected)
	prometheus.MustRegister(Settlements, PayoutLegs, TransferFailures)
}
