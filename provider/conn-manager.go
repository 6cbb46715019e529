// Package provider wires the exchange-specific collaborators
// (provider/binance, provider/kucoin) behind a single provider-agnostic
// surface the feed handler's core depends on, adapted from the
// teacher's conn-manager.go.
package provider

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/arkwave/feedhandler/config"
	"github.com/arkwave/feedhandler/domain"
	"github.com/arkwave/feedhandler/feed"
	"github.com/arkwave/feedhandler/provider/binance"
	"github.com/arkwave/feedhandler/provider/kucoin"
	"github.com/arkwave/feedhandler/rpc"
	"github.com/arkwave/feedhandler/trade"
)

var supportedProviders = rpc.NewValidationService(&rpc.ValidationServiceConfig{
	AvailableProviders: []string{string(config.Binance), string(config.Kucoin)},
})

var logger = log.New(os.Stdout, "[conn-manager] ", log.LstdFlags)

// SetLogOutput redirects this package's log output and that of every
// provider collaborator it wires, e.g. to a rotating file writer
// configured at startup.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
	binance.SetLogOutput(w)
	kucoin.SetLogOutput(w)
}

// StreamAPI is the provider-agnostic surface the feed handler's event
// loop drives: a depth-diff channel and a trade-print channel per
// symbol, each with its own unsubscribe closure.
type StreamAPI interface {
	DepthDiffStream(canonicalKey string) (<-chan feed.Delta, func(), error)
	TradeStream(canonicalKey string) (<-chan trade.Print, func(), error)
}

// Manager owns every provider's wire connections and routes
// per-symbol snapshot/stream requests to the collaborator the symbol
// is configured for.
type Manager struct {
	binanceStream *binance.StreamClient
	kucoinStream  *kucoin.StreamClient

	byProvider map[config.Provider]StreamAPI
	bySymbol   map[string]config.Provider

	binanceSync feed.SnapshotFetcher
	kucoinSync  feed.SnapshotFetcher

	resetCh chan struct{}
}

// NewManager builds every configured provider's collaborators without
// dialing out. Call Connect before streaming.
func NewManager(cfg *config.Config) (*Manager, error) {
	m := &Manager{
		byProvider: make(map[config.Provider]StreamAPI),
		bySymbol:   make(map[string]config.Provider),
		resetCh:    make(chan struct{}, 1),
	}

	var binanceSymbols, kucoinSymbols []*domain.MarketSymbol
	for _, sc := range cfg.Symbols {
		ms, err := domain.NewMarketSymbol(sc.Base, sc.Quote)
		if err != nil {
			return nil, fmt.Errorf("provider: symbol %s/%s: %w", sc.Base, sc.Quote, err)
		}
		if !supportedProviders.IsSupportedProvider(string(sc.Provider)) {
			return nil, fmt.Errorf("provider: symbol %s/%s has unsupported provider %q", sc.Base, sc.Quote, sc.Provider)
		}

		m.bySymbol[ms.CanonicalKey()] = sc.Provider
		switch sc.Provider {
		case config.Binance:
			binanceSymbols = append(binanceSymbols, ms)
		case config.Kucoin:
			kucoinSymbols = append(kucoinSymbols, ms)
		}
	}

	minBackoff := time.Duration(cfg.Reconnect.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(cfg.Reconnect.MaxBackoffMs) * time.Millisecond

	if len(binanceSymbols) > 0 {
		m.binanceStream = binance.NewStreamClient(minBackoff, maxBackoff)
		m.byProvider[config.Binance] = binance.NewStreamAPI(m.binanceStream)

		syncAPI, err := binance.NewSyncAPI()
		if err != nil {
			return nil, fmt.Errorf("provider: binance sync api: %w", err)
		}
		m.binanceSync = syncAPI
	}

	if len(kucoinSymbols) > 0 {
		registry := kucoin.NewSymbolRegistry(kucoinSymbols)
		syncAPI := kucoin.NewSyncAPI(registry)

		connOpts, err := syncAPI.WsConnOpts()
		if err != nil {
			return nil, fmt.Errorf("provider: kucoin ws connection options: %w", err)
		}

		m.kucoinStream = kucoin.NewStreamClient(connOpts, minBackoff, maxBackoff)
		m.byProvider[config.Kucoin] = kucoin.NewStreamAPI(m.kucoinStream, registry)
		m.kucoinSync = syncAPI
	}

	m.fanInResets()
	return m, nil
}

// fanInResets forwards every configured provider's upstream-reset
// signal onto a single channel the driver selects on, per spec §4.5.
func (m *Manager) fanInResets() {
	if m.binanceStream != nil {
		go relayResets(m.binanceStream.Resets(), m.resetCh)
	}
	if m.kucoinStream != nil {
		go relayResets(m.kucoinStream.Resets(), m.resetCh)
	}
}

func relayResets(in <-chan struct{}, out chan<- struct{}) {
	for range in {
		select {
		case out <- struct{}{}:
		default:
		}
	}
}

// UpstreamResets reports every upstream read failure across every
// configured provider. The driver must call Reset on receipt.
func (m *Manager) UpstreamResets() <-chan struct{} {
	return m.resetCh
}

// Connect dials every configured provider's streaming websocket
// concurrently and returns the first error encountered, if any.
func (m *Manager) Connect() error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if m.binanceStream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.binanceStream.Connect(); err != nil {
				errs <- fmt.Errorf("provider: binance connect: %w", err)
				return
			}
			logger.Printf("binance stream connected")
		}()
	}
	if m.kucoinStream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.kucoinStream.Connect(); err != nil {
				errs <- fmt.Errorf("provider: kucoin connect: %w", err)
				return
			}
			logger.Printf("kucoin stream connected")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close tears down every provider's streaming websocket.
func (m *Manager) Close() {
	if m.binanceStream != nil {
		_ = m.binanceStream.Close()
	}
	if m.kucoinStream != nil {
		_ = m.kucoinStream.Close()
	}
}

// DepthDiffStream routes to the StreamAPI for the provider canonicalKey
// is configured under.
func (m *Manager) DepthDiffStream(canonicalKey string) (<-chan feed.Delta, func(), error) {
	api, err := m.streamAPIFor(canonicalKey)
	if err != nil {
		return nil, nil, err
	}
	return api.DepthDiffStream(canonicalKey)
}

// TradeStream routes to the StreamAPI for the provider canonicalKey is
// configured under.
func (m *Manager) TradeStream(canonicalKey string) (<-chan trade.Print, func(), error) {
	api, err := m.streamAPIFor(canonicalKey)
	if err != nil {
		return nil, nil, err
	}
	return api.TradeStream(canonicalKey)
}

func (m *Manager) streamAPIFor(canonicalKey string) (StreamAPI, error) {
	p, ok := m.bySymbol[canonicalKey]
	if !ok {
		return nil, fmt.Errorf("provider: unconfigured symbol %q", canonicalKey)
	}
	api, ok := m.byProvider[p]
	if !ok {
		return nil, fmt.Errorf("provider: no stream api wired for provider %q", p)
	}
	return api, nil
}

// FetchSnapshot implements feed.SnapshotFetcher by routing to the
// SyncAPI for the provider symbol is configured under.
func (m *Manager) FetchSnapshot(ctx context.Context, symbol string, limit int) (feed.Snapshot, error) {
	p, ok := m.bySymbol[symbol]
	if !ok {
		return feed.Snapshot{}, fmt.Errorf("provider: unconfigured symbol %q", symbol)
	}

	switch p {
	case config.Binance:
		if m.binanceSync == nil {
			return feed.Snapshot{}, fmt.Errorf("provider: binance sync api not wired")
		}
		return m.binanceSync.FetchSnapshot(ctx, symbol, limit)
	case config.Kucoin:
		if m.kucoinSync == nil {
			return feed.Snapshot{}, fmt.Errorf("provider: kucoin sync api not wired")
		}
		return m.kucoinSync.FetchSnapshot(ctx, symbol, limit)
	default:
		return feed.Snapshot{}, fmt.Errorf("provider: unsupported provider %q", p)
	}
}
