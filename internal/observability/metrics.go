package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the deterministic core.
type Metrics struct {
	InstructionsApplied  *prometheus.CounterVec
	InstructionsRejected *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	FillsMatched         prometheus.Counter
	FillVolume           prometheus.Counter
	LiquidationsApplied  prometheus.Counter
	ADLHaircuts          prometheus.Counter
	FeePoolBalance       prometheus.Gauge
	InsuranceFundBalance prometheus.Gauge
	CoreSequence         prometheus.Gauge
}

// NewMetrics creates and registers all core metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		InstructionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_instructions_applied_total",
			Help: "Instructions successfully applied by the core",
		}, []string{"instruction"}),

		InstructionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perpcore_instructions_rejected_total",
			Help: "Instructions rejected with a defined error",
		}, []string{"instruction", "reason"}),

		InstructionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perpcore_instruction_apply_duration_seconds",
			Help:    "Time to apply a single instruction",
			Buckets: latencyBuckets,
		}, []string{"instruction"}),

		FillsMatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpcore_fills_matched_total",
			Help: "Fill receipts produced by the order slab",
		}),

		FillVolume: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpcore_fill_volume_total",
			Help: "Matched size across all fills, money scale",
		}),

		LiquidationsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpcore_liquidations_applied_total",
			Help: "Accounts force-closed by liquidation",
		}),

		ADLHaircuts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "perpcore_adl_haircuts_total",
			Help: "ADL haircuts applied",
		}),

		FeePoolBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpcore_fee_pool_balance",
			Help: "Fee pool balance, money scale",
		}),

		InsuranceFundBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpcore_insurance_fund_balance",
			Help: "Insurance fund balance, money scale",
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "perpcore_sequence",
			Help: "Current instruction sequence number",
		}),
	}
}
