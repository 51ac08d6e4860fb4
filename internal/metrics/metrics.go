// Package metrics defines the Prometheus collectors exported by the collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as the "reason" label.
const (
	ReasonRateLimited = "rate_limited"
	ReasonTooSmall    = "too_small"
	ReasonSignature   = "signature"
	ReasonDecode      = "decode"
	ReasonStale       = "stale"
	ReasonBadRequest  = "bad_request"
	ReasonSink        = "sink"
)

// Metrics groups the collector's counters, gauges and histograms.
type Metrics struct {
	BeaconsReceived *prometheus.CounterVec
	RecordsReceived *prometheus.CounterVec
	EmptyBeacons    prometheus.Counter
	Rejected        *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	IngestDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BeaconsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eumbeacon_beacons_received_total",
			Help: "Beacons accepted, by transport.",
		}, []string{"transport"}),
		RecordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eumbeacon_records_received_total",
			Help: "Data records accepted, by record kind.",
		}, []string{"kind"}),
		EmptyBeacons: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eumbeacon_empty_beacons_total",
			Help: "Beacons accepted that carried no records.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eumbeacon_rejected_total",
			Help: "Beacons dropped before ingestion, by reason.",
		}, []string{"reason"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eumbeacon_sessions_active",
			Help: "Sessions currently marked active in the store.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eumbeacon_ingest_duration_seconds",
			Help:    "Time spent storing and publishing one beacon.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BeaconsReceived,
			m.RecordsReceived,
			m.EmptyBeacons,
			m.Rejected,
			m.SessionsActive,
			m.IngestDuration,
		)
	}
	return m
}

// Reject counts a dropped beacon. Safe to call on a nil *Metrics.
func (m *Metrics) Reject(reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(reason).Inc()
}
