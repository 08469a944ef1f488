// Package metrics registers tradecore's prometheus instruments on a
// private registry and serves them over the configured listener. Every
// component receives the shared *Metrics and records through it; no
// component talks to prometheus directly.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics carries the instruments tradecore's hot paths record into.
type Metrics struct {
	registry *prometheus.Registry

	BookUpdates       *prometheus.CounterVec // result: applied | rejected
	BookUpdateSeconds prometheus.Histogram
	FeedDrops         prometheus.Counter
	ReconcilerRuns    prometheus.Counter
	Discrepancies     *prometheus.CounterVec // kind
}

// New builds the instrument set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		BookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_book_updates_total",
			Help: "L2 book updates by result",
		}, []string{"result"}),
		BookUpdateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradecore_book_update_seconds",
			Help:    "Latency of one book update",
			Buckets: prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
		FeedDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_feed_drops_total",
			Help: "Feed updates dropped under backpressure (drop-oldest policy)",
		}),
		ReconcilerRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradecore_reconciler_runs_total",
			Help: "Completed reconciliation passes",
		}),
		Discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradecore_discrepancies_total",
			Help: "Reconciliation discrepancies by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.BookUpdates, m.BookUpdateSeconds, m.FeedDrops, m.ReconcilerRuns, m.Discrepancies)
	return m
}

// Handler serves the registry for the metrics listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server wraps the metrics HTTP listener with start/stop lifecycle.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a listener on addr serving m at path.
func NewServer(addr, path string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
