// Package metrics exposes the feed handler's Prometheus registry,
// adapted from the teacher's infrastructure/prometheus/promclient.go:
// a small set of gauges and counters served over /metrics via
// promhttp, plus the standard Go collector.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkwave/feedhandler/feed"
)

// Registry bundles every metric the feed handler publishes.
type Registry struct {
	registry *prometheus.Registry

	BookValid       *prometheus.GaugeVec
	QuotesPublished *prometheus.CounterVec
	Invalidations   *prometheus.CounterVec
	DroppedEvents   *prometheus.CounterVec
	TradeSeqGaps    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		BookValid: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "feedhandler_book_valid",
			Help: "1 if the symbol's order book is VALID, 0 otherwise",
		}, []string{"symbol"}),
		QuotesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhandler_quotes_published_total",
			Help: "quotes published to the outbound sink",
		}, []string{"symbol"}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhandler_invalidations_total",
			Help: "VALID to INVALID transitions",
		}, []string{"symbol"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhandler_dropped_events_total",
			Help: "inbound events dropped (unknown symbol, malformed payload)",
		}, []string{"provider", "reason"}),
		TradeSeqGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedhandler_trade_seq_gaps_total",
			Help: "sequence anomalies detected on the trade path",
		}, []string{"symbol", "kind"}),
	}

	r.registry.MustRegister(r.BookValid, r.QuotesPublished, r.Invalidations, r.DroppedEvents, r.TradeSeqGaps)
	r.registry.MustRegister(collectors.NewGoCollector())
	return r
}

// Serve blocks, serving /metrics on addr until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serve %s: %w", addr, err)
		}
		return nil
	}
}

// InstrumentedQuoteSink decorates a feed.QuoteSink, recording publish
// counts and book validity per symbol before delegating.
type InstrumentedQuoteSink struct {
	feed.QuoteSink
	registry *Registry
	wasValid map[string]bool
}

func NewInstrumentedQuoteSink(sink feed.QuoteSink, registry *Registry) *InstrumentedQuoteSink {
	return &InstrumentedQuoteSink{
		QuoteSink: sink,
		registry:  registry,
		wasValid:  make(map[string]bool),
	}
}

func (s *InstrumentedQuoteSink) Publish(ctx context.Context, q feed.Quote) error {
	if q.IsValid {
		s.registry.BookValid.WithLabelValues(q.Symbol).Set(1)
	} else {
		s.registry.BookValid.WithLabelValues(q.Symbol).Set(0)
		if s.wasValid[q.Symbol] {
			s.registry.Invalidations.WithLabelValues(q.Symbol).Inc()
		}
	}
	s.wasValid[q.Symbol] = q.IsValid

	s.registry.QuotesPublished.WithLabelValues(q.Symbol).Inc()
	return s.QuoteSink.Publish(ctx, q)
}
