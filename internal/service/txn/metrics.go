package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopledger",
			Name:      "tx_total",
			Help:      "Units of work by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	txDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shopledger",
			Name:      "tx_duration_seconds",
			Help:      "Duration of units of work in seconds, including queue wait",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	txWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shopledger",
			Name:      "tx_waiting",
			Help:      "Units of work waiting for a free slot",
		},
	)
)
