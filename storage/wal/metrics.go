package wal

import "github.com/prometheus/client_golang/prometheus"

type WalMetrics struct {
	appendsTotal     prometheus.Counter
	writesFailed     prometheus.Counter
	rotationsTotal   prometheus.Counter
	truncationsTotal prometheus.Counter
	fsyncDuration    prometheus.Summary
}

func NewWalMetrics(registerer prometheus.Registerer) *WalMetrics {
	m := &WalMetrics{}

	m.appendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "appends_total",
		Help: "Total number of appended records.",
	})

	m.writesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "writes_failed_total",
		Help: "Total number of write log writes that failed.",
	})

	m.rotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rotations_total",
		Help: "Total number of segment rotations.",
	})

	m.truncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "truncations_total",
		Help: "Total number of full log truncations.",
	})

	m.fsyncDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "fsync_duration_seconds",
		Help:       "Duration of write log fsync.",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	if registerer != nil {
		registerer.MustRegister(
			m.appendsTotal,
			m.writesFailed,
			m.rotationsTotal,
			m.truncationsTotal,
			m.fsyncDuration,
		)
	}

	return m
}
