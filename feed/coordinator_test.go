package feed_test

import (
	"context"
	"errors"
	"testing"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_SyncAppliesSnapshotAndReplays(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 99, FinalUpdateID: 105})
	e.MarkSnapshotRequested(0)

	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 100, Bids: []book.Level{lvl(10, 1)}}}
	c := feed.NewCoordinator(fetcher, feed.DefaultSnapshotDepth)

	edge := c.Sync(context.Background(), e, 0)
	assert.Equal(t, feed.EdgeToValid, edge)
	assert.Equal(t, feed.Valid, e.Phase(0))
}

func TestCoordinator_SyncSkipsStaleThenAppliesStraddle(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 50, FinalUpdateID: 60})  // stale
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 99, FinalUpdateID: 101}) // straddle
	e.MarkSnapshotRequested(0)

	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 100}}
	c := feed.NewCoordinator(fetcher, feed.DefaultSnapshotDepth)

	edge := c.Sync(context.Background(), e, 0)
	assert.Equal(t, feed.EdgeToValid, edge)
}

func TestCoordinator_SyncContinuesUnderLiveRuleAfterPromotion(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 99, FinalUpdateID: 100})  // straddle, promotes
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 101, FinalUpdateID: 101}) // live-rule extension
	e.MarkSnapshotRequested(0)

	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 99}}
	c := feed.NewCoordinator(fetcher, feed.DefaultSnapshotDepth)

	edge := c.Sync(context.Background(), e, 0)
	require.Equal(t, feed.EdgeToValid, edge)

	// A third delta must now be validated against lastUpdateID=101, not
	// the snapshot anchor, proving the promoted buffered entry above was
	// actually applied under the live rule.
	result := e.ApplyLiveDelta(0, feed.Delta{FirstUpdateID: 102, FinalUpdateID: 102})
	assert.Equal(t, feed.Valid, e.Phase(0))
	_ = result
}

func TestCoordinator_SyncGapMidReplayInvalidates(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 99, FinalUpdateID: 100})  // straddle, promotes
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 150, FinalUpdateID: 155}) // gap under live rule
	e.MarkSnapshotRequested(0)

	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 99}}
	c := feed.NewCoordinator(fetcher, feed.DefaultSnapshotDepth)

	edge := c.Sync(context.Background(), e, 0)
	assert.Equal(t, feed.EdgeToInvalid, edge)
	assert.Equal(t, feed.Invalid, e.Phase(0))
}

func TestCoordinator_SyncFetchFailureInvalidates(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 1, FinalUpdateID: 1})
	e.MarkSnapshotRequested(0)

	fetcher := &fakeFetcher{err: errors.New("snapshot: http 503")}
	c := feed.NewCoordinator(fetcher, feed.DefaultSnapshotDepth)

	edge := c.Sync(context.Background(), e, 0)
	assert.Equal(t, feed.EdgeToInvalid, edge)
	assert.Equal(t, feed.Invalid, e.Phase(0))
}

func TestCoordinator_SyncAllStaleStaysInSyncing(t *testing.T) {
	e := feed.NewEngine([]string{"BTCUSDT"})
	e.BufferDelta(0, feed.Delta{FirstUpdateID: 1, FinalUpdateID: 5})
	e.MarkSnapshotRequested(0)

	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 100}}
	c := feed.NewCoordinator(fetcher, feed.DefaultSnapshotDepth)

	edge := c.Sync(context.Background(), e, 0)
	assert.Equal(t, feed.NoEdge, edge)
	assert.Equal(t, feed.Syncing, e.Phase(0))
}
