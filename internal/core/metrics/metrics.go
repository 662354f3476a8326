// Package metrics prometheus 指标集中定义，/metrics 由管理端口暴露
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests"},
		[]string{"path", "method", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"},
	)
	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ez_reservations_total", Help: "Reservation attempts by result"},
		[]string{"result"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ez_transaction_transitions_total", Help: "Transaction status changes by target status"},
		[]string{"to"},
	)
	expired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ez_reservations_expired_total", Help: "Reservations cancelled by the sweeper"},
	)
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ez_ws_clients", Help: "Connected slot websocket clients"},
	)
)

func init() {
	prometheus.MustRegister(httpReqTotal, httpLatency, reservations, transitions, expired, wsClients)
}

func ObserveHTTP(path, method, status string, d time.Duration) {
	httpReqTotal.WithLabelValues(path, method, status).Inc()
	httpLatency.WithLabelValues(path, method).Observe(d.Seconds())
}

// Reservation result: ok / taken / banned / error
func Reservation(result string) { reservations.WithLabelValues(result).Inc() }

func Transition(to string) { transitions.WithLabelValues(to).Inc() }

func Expired(n int) { expired.Add(float64(n)) }

func WSClients(delta float64) { wsClients.Add(delta) }
