package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger metrics
	LedgerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmarket_ledger_calls_total",
			Help: "Ledger calls by kind and result code",
		},
		[]string{"kind", "code"},
	)

	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentmarket_ledger_call_duration_seconds",
			Help:    "Time spent applying a ledger call, journal append included",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"kind"},
	)

	LedgerHalted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentmarket_ledger_halted",
			Help: "1 when the ledger refuses writes after a storage failure",
		},
	)

	JournalAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmarket_journal_appends_total",
			Help: "Journal append attempts",
		},
		[]string{"result"}, // "ok" or "error"
	)

	// Market metrics
	ActiveListings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentmarket_active_listings",
			Help: "Listings that can currently be bought",
		},
	)

	SettledVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentmarket_settled_volume_wei",
			Help: "Sum of sale prices routed to sellers",
		},
	)

	RefundedVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentmarket_refunded_volume_wei",
			Help: "Sum of overpayments refunded to buyers",
		},
	)

	// Pipeline metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentmarket_operations_total",
			Help: "Queued operations by terminal status",
		},
		[]string{"kind", "status"},
	)
)

// ObserveLedgerCall records one ledger call outcome.
func ObserveLedgerCall(kind, code string, duration time.Duration) {
	LedgerCallsTotal.WithLabelValues(kind, code).Inc()
	LedgerCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveSettlement adds a completed sale to the volume counters.
func ObserveSettlement(price, refund *big.Int) {
	if v := weiFloat(price); v > 0 {
		SettledVolume.Add(v)
	}
	if v := weiFloat(refund); v > 0 {
		RefundedVolume.Add(v)
	}
}

// ObserveJournalAppend counts journal writes.
func ObserveJournalAppend(err error) {
	if err != nil {
		JournalAppends.WithLabelValues("error").Inc()
		return
	}
	JournalAppends.WithLabelValues("ok").Inc()
}

// SetActiveListings publishes the live listing count.
func SetActiveListings(n int) {
	ActiveListings.Set(float64(n))
}

// SetLedgerHalted flips the halted gauge.
func SetLedgerHalted(halted bool) {
	if halted {
		LedgerHalted.Set(1)
		return
	}
	LedgerHalted.Set(0)
}

// ObserveOperation counts an operation reaching a terminal status.
func ObserveOperation(kind, status string) {
	OperationsTotal.WithLabelValues(kind, status).Inc()
}

func weiFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
