// Package metrics registers the prometheus counters/histograms each
// component touches, grounded on the per-service metrics.go files in the
// teacher (services/validator/metrics.go, services/blockvalidation/metrics.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BlocksAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Subsystem: "validator",
		Name:      "blocks_accepted_total",
		Help:      "Blocks that passed the full validation pipeline.",
	})

	BlocksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Subsystem: "validator",
		Name:      "blocks_rejected_total",
		Help:      "Blocks rejected by the validation pipeline, labeled by reason.",
	}, []string{"reason"})

	ValidateBlockDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ledgerd",
		Subsystem: "validator",
		Name:      "check_block_duration_seconds",
		Help:      "Time spent in the block-validation pipeline.",
	})

	MempoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ledgerd",
		Subsystem: "mempool",
		Name:      "size",
		Help:      "Current number of pending transactions.",
	})

	MempoolEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Subsystem: "mempool",
		Name:      "evictions_total",
		Help:      "Pending transactions removed, labeled by reason.",
	}, []string{"reason"})

	TemplateBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ledgerd",
		Subsystem: "templatebuilder",
		Name:      "build_duration_seconds",
		Help:      "Time spent assembling a mining template.",
	})

	ReorgDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ledgerd",
		Subsystem: "reorg",
		Name:      "depth",
		Help:      "Depth of common-ancestor walk-back on accepted reorgs.",
	})

	PeerReputationViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Subsystem: "peerregistry",
		Name:      "violations_total",
		Help:      "Reputation violations recorded, labeled by violation type.",
	}, []string{"type"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ledgerd",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests handled, labeled by path and status class.",
	}, []string{"path", "status"})
)
