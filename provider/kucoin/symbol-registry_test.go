package kucoin

import (
	"testing"

	"github.com/arkwave/feedhandler/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolRegistry_ResolveKnownSymbol(t *testing.T) {
	ms, err := domain.NewMarketSymbol("BTC", "USDT")
	require.NoError(t, err)

	r := NewSymbolRegistry([]*domain.MarketSymbol{ms})

	resolved, err := r.resolve("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, ms, resolved)
}

func TestSymbolRegistry_ResolveUnknownSymbol(t *testing.T) {
	r := NewSymbolRegistry(nil)

	_, err := r.resolve("ETHUSDT")
	assert.Error(t, err)
}
