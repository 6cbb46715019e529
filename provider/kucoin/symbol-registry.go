package kucoin

import (
	"fmt"

	"github.com/arkwave/feedhandler/domain"
)

// SymbolRegistry maps the engine's canonical, separator-free symbol key
// (e.g. "BTCUSDT") back to the *domain.MarketSymbol it was built from,
// so provider calls can reconstruct Kucoin's dashed wire format
// ("BTC-USDT") without trying to re-split the canonical key, which is
// ambiguous once the separator is gone.
type SymbolRegistry struct {
	byCanonicalKey map[string]*domain.MarketSymbol
}

func NewSymbolRegistry(symbols []*domain.MarketSymbol) *SymbolRegistry {
	r := &SymbolRegistry{byCanonicalKey: make(map[string]*domain.MarketSymbol, len(symbols))}
	for _, s := range symbols {
		r.byCanonicalKey[s.CanonicalKey()] = s
	}
	return r
}

func (r *SymbolRegistry) resolve(canonicalKey string) (*domain.MarketSymbol, error) {
	s, ok := r.byCanonicalKey[canonicalKey]
	if !ok {
		return nil, fmt.Errorf("kucoin: unknown symbol %q", canonicalKey)
	}
	return s, nil
}
