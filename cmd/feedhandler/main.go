// Command feedhandler runs the market-data feed handler: it maintains
// a reconstructed order book per configured symbol, normalizes trade
// prints, and publishes both to a tick-capture service over gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arkwave/feedhandler/config"
	"github.com/arkwave/feedhandler/domain"
	"github.com/arkwave/feedhandler/feed"
	"github.com/arkwave/feedhandler/health"
	"github.com/arkwave/feedhandler/metrics"
	"github.com/arkwave/feedhandler/provider"
	"github.com/arkwave/feedhandler/rpc"
	"github.com/arkwave/feedhandler/trade"
)

// healthPublishInterval mirrors the original implementation's
// HEALTH_INTERVAL_SEC.
const healthPublishInterval = 5 * time.Second

var logger = log.New(os.Stdout, "[feedhandler] ", log.LstdFlags)

func main() {
	configPath := flag.String("config", "config/feedhandler.json", "path to the feed handler's JSON config file")
	flag.Parse()
	if flag.NArg() > 0 {
		*configPath = flag.Arg(0)
	}

	if err := godotenv.Load(); err != nil {
		logger.Printf("no .env file found, continuing with process environment")
	}

	if err := run(*configPath); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	symbolKeys := make([]string, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		ms, err := domain.NewMarketSymbol(sc.Base, sc.Quote)
		if err != nil {
			return fmt.Errorf("symbol %s/%s: %w", sc.Base, sc.Quote, err)
		}
		symbolKeys = append(symbolKeys, ms.CanonicalKey())
	}

	if cfg.Logging.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
		}
		logger.SetOutput(fileWriter)
		provider.SetLogOutput(fileWriter)
	}

	handlerID, err := os.Hostname()
	if err != nil || handlerID == "" {
		handlerID = "feedhandler"
	}

	tracker := health.NewTracker(time.Now().UnixNano())

	mgr, err := provider.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("build provider manager: %w", err)
	}
	tracker.SetState(health.Connecting)
	if err := mgr.Connect(); err != nil {
		return fmt.Errorf("connect providers: %w", err)
	}
	tracker.SetState(health.Connected)
	defer mgr.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rpc.RegisterCodec()

	quoteSink, err := rpc.NewQuoteSink(ctx, cfg.Sink.Target)
	if err != nil {
		return fmt.Errorf("dial quote sink: %w", err)
	}
	defer quoteSink.Close()

	tradeSink, err := rpc.NewTradeSink(ctx, cfg.Sink.Target)
	if err != nil {
		return fmt.Errorf("dial trade sink: %w", err)
	}
	defer tradeSink.Close()

	healthSink, err := rpc.NewHealthSink(ctx, cfg.Sink.Target)
	if err != nil {
		return fmt.Errorf("dial health sink: %w", err)
	}
	defer healthSink.Close()

	registry := metrics.NewRegistry()
	instrumentedSink := metrics.NewInstrumentedQuoteSink(quoteSink, registry)
	trackedSink := &trackingQuoteSink{inner: instrumentedSink, tracker: tracker}

	driver := feed.NewDriver(symbolKeys, mgr, trackedSink, cfg.HeartbeatTimeout, cfg.Depth)
	tradeHandler := trade.NewHandler()

	depthCh := make(chan feed.Envelope, 1024)
	tradeCh := make(chan tradeEvent, 1024)

	for _, key := range symbolKeys {
		if err := subscribeDepth(ctx, mgr, key, depthCh, tracker); err != nil {
			return fmt.Errorf("subscribe depth for %s: %w", key, err)
		}
		if err := subscribeTrades(ctx, mgr, key, tradeCh, tracker); err != nil {
			return fmt.Errorf("subscribe trades for %s: %w", key, err)
		}
	}

	metricsErrCh := make(chan error, 1)
	go func() { metricsErrCh <- registry.Serve(ctx, cfg.Metrics.Addr) }()

	go publishHealthLoop(ctx, healthSink, tracker, handlerID, len(symbolKeys))

	logger.Printf("feed handler running: %d symbols, sink=%s, metrics=%s", len(symbolKeys), cfg.Sink.Target, cfg.Metrics.Addr)
	runLoop(ctx, driver, mgr, tradeHandler, tradeSink, registry, tracker, depthCh, tradeCh)

	if err := <-metricsErrCh; err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// trackingQuoteSink records every published quote on the health
// tracker before forwarding it to the real sink.
type trackingQuoteSink struct {
	inner   feed.QuoteSink
	tracker *health.Tracker
}

func (s *trackingQuoteSink) Publish(ctx context.Context, q feed.Quote) error {
	s.tracker.RecordPublished(time.Now().UnixNano())
	return s.inner.Publish(ctx, q)
}

func (s *trackingQuoteSink) Reconnect(ctx context.Context) error {
	return s.inner.Reconnect(ctx)
}

// publishHealthLoop periodically snapshots tracker and publishes it to
// the tick-capture service, per the original's HEALTH_INTERVAL_SEC.
func publishHealthLoop(ctx context.Context, sink *rpc.HealthSink, tracker *health.Tracker, handlerID string, symbolCount int) {
	ticker := time.NewTicker(healthPublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := tracker.Snapshot(time.Now().UnixNano())
			row := rpc.HealthRow{
				CurrentTimeNs:  snap.CurrentTimeNs,
				HandlerID:      handlerID,
				StartTimeNs:    snap.StartTimeNs,
				UptimeSec:      snap.UptimeSec,
				ReceivedCount:  snap.ReceivedCount,
				PublishedCount: snap.PublishedCount,
				LastRecvTimeNs: snap.LastRecvTimeNs,
				LastPubTimeNs:  snap.LastPubTimeNs,
				ConnState:      snap.ConnState,
				SymbolCount:    symbolCount,
			}
			if err := sink.Publish(ctx, row); err != nil {
				if rerr := sink.Reconnect(ctx); rerr == nil {
					_ = sink.Publish(ctx, row)
				}
			}
		}
	}
}

type tradeEvent struct {
	symbol string
	print  trade.Print
}

func subscribeDepth(ctx context.Context, mgr *provider.Manager, canonicalKey string, out chan<- feed.Envelope, tracker *health.Tracker) error {
	deltas, _, err := mgr.DepthDiffStream(canonicalKey)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deltas:
				if !ok {
					return
				}
				tracker.RecordReceived(time.Now().UnixNano())
				out <- feed.Envelope{Symbol: canonicalKey, Delta: d}
			}
		}
	}()
	return nil
}

func subscribeTrades(ctx context.Context, mgr *provider.Manager, canonicalKey string, out chan<- tradeEvent, tracker *health.Tracker) error {
	prints, _, err := mgr.TradeStream(canonicalKey)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-prints:
				if !ok {
					return
				}
				tracker.RecordReceived(time.Now().UnixNano())
				out <- tradeEvent{symbol: canonicalKey, print: p}
			}
		}
	}()
	return nil
}

// runLoop is the single-threaded event loop every symbol's depth and
// trade events funnel through, per the feed handler's cooperative
// concurrency model.
func runLoop(
	ctx context.Context,
	driver *feed.Driver,
	mgr *provider.Manager,
	tradeHandler *trade.Handler,
	tradeSink *rpc.TradeSink,
	registry *metrics.Registry,
	tracker *health.Tracker,
	depthCh <-chan feed.Envelope,
	tradeCh <-chan tradeEvent,
) {
	resets := mgr.UpstreamResets()

	for {
		select {
		case <-ctx.Done():
			return

		case <-resets:
			logger.Printf("upstream transport reset: resetting every symbol to INIT")
			tracker.SetState(health.Reconnecting)
			driver.Reset()
			tracker.SetState(health.Connected)

		case ev := <-depthCh:
			if driver.ProcessEnvelope(ctx, ev) < 0 {
				registry.DroppedEvents.WithLabelValues("unknown", "unknown_symbol").Inc()
			}

		case te := <-tradeCh:
			row, gap := tradeHandler.Normalize(te.print, time.Now().UnixNano())
			if gap.Kind != trade.NoGap {
				registry.TradeSeqGaps.WithLabelValues(te.symbol, gap.Kind.String()).Inc()
				logger.Printf("trade gap: %s", gap)
			}
			if err := tradeSink.Publish(ctx, row); err != nil {
				if rerr := tradeSink.Reconnect(ctx); rerr == nil {
					_ = tradeSink.Publish(ctx, row)
				}
			}
			tracker.RecordPublished(time.Now().UnixNano())
		}
	}
}
