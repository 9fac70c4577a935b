// Package metricsx contains the prometheus metrics exported by the
// TLS connection providers.
package metricsx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Values for the side label.
const (
	SideClient = "client"
	SideServer = "server"
)

// Values for the result label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// summaryObjectives returns the summary objectives for promauto.NewSummaryVec.
func summaryObjectives() map[float64]float64 {
	return map[float64]float64{
		0.25: 0.010, // 0.240 <= φ <= 0.260
		0.5:  0.010, // 0.490 <= φ <= 0.510
		0.75: 0.010, // 0.740 <= φ <= 0.760
		0.9:  0.010, // 0.899 <= φ <= 0.901
		0.99: 0.001, // 0.989 <= φ <= 0.991
	}
}

var (
	// ConnectionsTotal counts the connections attempts by side and result.
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tlsprovider_connections_total",
		Help: "Total number of TLS connection attempts",
	}, []string{"side", "result"})

	// AcceptErrorsTotal counts the non-fatal errors returned by accept.
	AcceptErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tlsprovider_accept_errors_total",
		Help: "Total number of accept errors",
	})

	// ConnectionsInflight gauges the number of connections not closed yet.
	ConnectionsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tlsprovider_connections_inflight_gauge",
		Help: "The number of TLS connections currently open",
	})

	// HandshakeDurationSeconds summarizes the duration of successful handshakes.
	HandshakeDurationSeconds = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "tlsprovider_handshake_duration_seconds",
		Help:       "Summarizes the time to complete the TLS handshake (in seconds)",
		Objectives: summaryObjectives(),
	}, []string{"side"})
)

// ObserveHandshake records the outcome of a handshake that started at t0.
func ObserveHandshake(side string, t0 time.Time, err error) {
	if err != nil {
		ConnectionsTotal.WithLabelValues(side, ResultFailure).Inc()
		return
	}
	ConnectionsTotal.WithLabelValues(side, ResultSuccess).Inc()
	HandshakeDurationSeconds.WithLabelValues(side).Observe(time.Since(t0).Seconds())
}
