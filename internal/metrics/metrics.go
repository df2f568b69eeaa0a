// Package metrics exposes Prometheus instrumentation for the propagation
// engine.
//
// Metrics:
//   - fantoche_events_total{kind} - change events received
//   - fantoche_events_rejected_total{reason} - events dropped before copying
//   - fantoche_propagations_total{result} - copy attempts per dependent
//   - fantoche_propagation_duration_seconds - copy latency
//   - fantoche_guard_size - destinations recorded by the guard
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/fantoche/internal/propagate"
)

// Metrics implements propagate.Recorder on top of Prometheus collectors.
type Metrics struct {
	EventsTotal         *prometheus.CounterVec
	EventsRejectedTotal *prometheus.CounterVec
	PropagationsTotal   *prometheus.CounterVec
	PropagationDuration prometheus.Histogram
	GuardEntries        prometheus.Gauge
}

var _ propagate.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fantoche_events_total",
				Help: "Total number of change events received",
			},
			[]string{"kind"},
		),
		EventsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fantoche_events_rejected_total",
				Help: "Total number of change events dropped before propagation",
			},
			[]string{"reason"},
		),
		PropagationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fantoche_propagations_total",
				Help: "Total number of copy attempts per dependent",
			},
			[]string{"result"},
		),
		PropagationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fantoche_propagation_duration_seconds",
				Help:    "Duration of a single file copy in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),
		GuardEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fantoche_guard_size",
				Help: "Number of destination paths recorded by the dedup guard",
			},
		),
	}
}

// EventReceived implements propagate.Recorder.
func (m *Metrics) EventReceived(kind propagate.Kind) {
	m.EventsTotal.WithLabelValues(kind.String()).Inc()
}

// EventRejected implements propagate.Recorder.
func (m *Metrics) EventRejected(reason string) {
	m.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// Propagated implements propagate.Recorder. Only copies that were attempted
// contribute to the duration histogram.
func (m *Metrics) Propagated(result string, elapsed time.Duration) {
	m.PropagationsTotal.WithLabelValues(result).Inc()

	if result != propagate.ResultSkipped && elapsed > 0 {
		m.PropagationDuration.Observe(elapsed.Seconds())
	}
}

// GuardSize implements propagate.Recorder.
func (m *Metrics) GuardSize(n int) {
	m.GuardEntries.Set(float64(n))
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics: %w", err)
	}

	return nil
}
