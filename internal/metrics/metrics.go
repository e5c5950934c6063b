// Package metrics provides Prometheus instrumentation for the liquidation engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiquidationsTotal counts executor calls by source and outcome.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statera_liquidations_total",
		Help: "Liquidation attempts by source and outcome",
	}, []string{"source", "outcome"})

	LiquidationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "statera_liquidation_latency_seconds",
		Help:    "Latency of the liquidation contract call",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	// MonitorTicks counts monitor evaluations by result.
	MonitorTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statera_monitor_ticks_total",
		Help: "Position monitor ticks by result",
	}, []string{"result"})

	ActiveMonitors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statera_active_monitors",
		Help: "Position monitors currently watching",
	})

	// OraclePrice is the last accepted price per asset.
	OraclePrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "statera_oracle_price",
		Help: "Last accepted oracle price",
	}, []string{"asset"})

	OracleRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statera_oracle_rejections_total",
		Help: "Oracle samples rejected by reason",
	}, []string{"reason"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statera_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statera_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statera_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
