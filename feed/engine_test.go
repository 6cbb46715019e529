package feed_test

import (
	"testing"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(symbols ...string) *feed.Engine {
	return feed.NewEngine(symbols)
}

func TestEngine_SymbolIndexUnknownSymbol(t *testing.T) {
	e := newTestEngine("BTCUSDT", "ETHUSDT")
	_, ok := e.SymbolIndex("DOGEUSDT")
	assert.False(t, ok)

	i, ok := e.SymbolIndex("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 1, i)
}

func TestEngine_NeedsSnapshotOnlyBeforeRequested(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	assert.True(t, e.NeedsSnapshot(0))

	e.MarkSnapshotRequested(0)
	assert.False(t, e.NeedsSnapshot(0))
}

func TestEngine_ApplySnapshotMovesToSyncing(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.ApplySnapshot(0, feed.Snapshot{LastUpdateID: 42, Bids: []book.Level{lvl(10, 1)}})
	assert.Equal(t, feed.Syncing, e.Phase(0))
}

func TestEngine_ApplyReplayDeltaStaleSkipsWithoutPromoting(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.ApplySnapshot(0, feed.Snapshot{LastUpdateID: 100})

	result := e.ApplyReplayDelta(0, feed.Delta{FirstUpdateID: 90, FinalUpdateID: 95})
	assert.Equal(t, feed.Syncing, e.Phase(0), "a stale delta must not change phase")
	_ = result
}

func TestEngine_ApplyReplayDeltaGapInvalidates(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.ApplySnapshot(0, feed.Snapshot{LastUpdateID: 100})

	e.ApplyReplayDelta(0, feed.Delta{FirstUpdateID: 105, FinalUpdateID: 110})
	assert.Equal(t, feed.Invalid, e.Phase(0))
}

func TestEngine_ApplyReplayDeltaStraddlePromotesToValid(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.ApplySnapshot(0, feed.Snapshot{LastUpdateID: 100})

	e.ApplyReplayDelta(0, feed.Delta{FirstUpdateID: 99, FinalUpdateID: 105})
	assert.Equal(t, feed.Valid, e.Phase(0))
}

func TestEngine_ApplyReplayDeltaPanicsOutsideSyncing(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	assert.Panics(t, func() {
		e.ApplyReplayDelta(0, feed.Delta{FirstUpdateID: 1, FinalUpdateID: 1})
	})
}

func TestEngine_ApplyLiveDeltaPanicsOutsideValid(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	assert.Panics(t, func() {
		e.ApplyLiveDelta(0, feed.Delta{FirstUpdateID: 1, FinalUpdateID: 1})
	})
}

func TestEngine_ResetFromInvalidPanicsOutsideInvalid(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	assert.Panics(t, func() {
		e.ResetFromInvalid(0)
	})
}

func TestEngine_DrainBufferedEmptiesInFIFOOrder(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 1})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 2})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 3})

	out := e.DrainBuffered(0)
	require.Len(t, out, 3)
	assert.Equal(t, uint64(1), out[0].FirstUpdateID)
	assert.Equal(t, uint64(2), out[1].FirstUpdateID)
	assert.Equal(t, uint64(3), out[2].FirstUpdateID)

	assert.Empty(t, e.DrainBuffered(0), "buffer must be empty after a drain")
}

func TestEngine_InvalidateClearsLadders(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.ApplySnapshot(0, feed.Snapshot{LastUpdateID: 100, Bids: []book.Level{lvl(10, 1)}})
	e.ApplyReplayDelta(0, feed.Delta{FirstUpdateID: 100, FinalUpdateID: 101})
	require.Equal(t, feed.Valid, e.Phase(0))

	e.ApplyLiveDelta(0, feed.Delta{FirstUpdateID: 500, FinalUpdateID: 500})
	assert.Equal(t, feed.Invalid, e.Phase(0))

	q := e.ExtractQuote(0, 0, 0)
	assert.Equal(t, [book.Depth]book.Level{}, q.Bids)
	assert.False(t, q.IsValid)
}

func TestEngine_NextSeqIsMonotonic(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	a := e.NextSeq()
	b := e.NextSeq()
	assert.Less(t, a, b)
}
