package feed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	snap Snapshot
	err  error
	fn   func(symbol string) (feed.Snapshot, error)
}

type Snapshot = feed.Snapshot

func (f *fakeFetcher) FetchSnapshot(_ context.Context, symbol string, _ int) (feed.Snapshot, error) {
	if f.fn != nil {
		return f.fn(symbol)
	}
	return f.snap, f.err
}

type fakeSink struct {
	published     []feed.Quote
	failNext      int
	reconnectErrs int
}

func (s *fakeSink) Publish(_ context.Context, q feed.Quote) error {
	if s.failNext > 0 {
		s.failNext--
		return errors.New("sink: write failed")
	}
	s.published = append(s.published, q)
	return nil
}

func (s *fakeSink) Reconnect(_ context.Context) error {
	if s.reconnectErrs > 0 {
		s.reconnectErrs--
		return errors.New("sink: reconnect failed")
	}
	return nil
}

func lvl(price, qty float64) book.Level { return book.Level{Price: price, Qty: qty} }

func newTestDriver(t *testing.T, fetcher feed.SnapshotFetcher, sink feed.QuoteSink) *feed.Driver {
	t.Helper()
	d := feed.NewDriver([]string{"BTCUSDT"}, fetcher, sink, 0, feed.DefaultSnapshotDepth)
	clockNs := int64(0)
	d.Clock = func() int64 {
		clockNs++
		return clockNs
	}
	return d
}

// Scenario 1: clean bring-up.
func TestDriver_CleanBringUp(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{
		LastUpdateID: 108,
		Bids:         []book.Level{lvl(10.0, 1), lvl(9.5, 2)},
		Asks:         []book.Level{lvl(10.5, 3)},
	}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 100, FinalUpdateID: 110,
	}})
	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 111, FinalUpdateID: 115,
	}})

	require.NotEmpty(t, sink.published)
	assert.True(t, sink.published[0].IsValid, "first emission must be a valid quote")
	assert.Equal(t, feed.Valid, d.Engine.Phase(0))
}

// Scenario 2: stale snapshot invalidates and re-arms on the next delta.
func TestDriver_StaleSnapshotInvalidates(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 80}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 100, FinalUpdateID: 110,
	}})

	assert.Equal(t, feed.Invalid, d.Engine.Phase(0))
	require.Len(t, sink.published, 1)
	assert.False(t, sink.published[0].IsValid)

	// Next delta re-arms the fetch (INVALID -> INIT -> buffer -> sync).
	fetcher.snap = feed.Snapshot{LastUpdateID: 120}
	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 120, FinalUpdateID: 125,
	}})
	assert.Equal(t, feed.Valid, d.Engine.Phase(0))
}

// Scenario 3: sequence gap in VALID invalidates and resets.
func TestDriver_SequenceGapInValid(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 499}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 500, FinalUpdateID: 500,
	}})
	require.Equal(t, feed.Valid, d.Engine.Phase(0))

	published := len(sink.published)
	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 502, FinalUpdateID: 505,
	}})

	assert.Equal(t, feed.Invalid, d.Engine.Phase(0))
	require.Greater(t, len(sink.published), published)
	last := sink.published[len(sink.published)-1]
	assert.False(t, last.IsValid)
	assert.Equal(t, [book.Depth]book.Level{}, last.Bids)
}

// Scenario 4/5 are covered in book/store_test.go; here we check they
// flow through the driver's publish path with a live delta.
func TestDriver_LiveDeltaAppliesLevels(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{
		LastUpdateID: 99,
		Bids:         []book.Level{lvl(10, 1)},
	}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 100, FinalUpdateID: 100,
	}})
	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 101, FinalUpdateID: 101,
		BidUpdates: []book.Level{lvl(10, 5)},
	}})

	last := sink.published[len(sink.published)-1]
	assert.Equal(t, float64(5), last.Bids[0].Qty)
}

// Scenario 7: validity oscillation produces exactly two edge emissions.
func TestDriver_ValidityOscillation(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 199}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 200, FinalUpdateID: 200,
	}})
	require.Equal(t, feed.Valid, d.Engine.Phase(0))
	firstValidEmission := sink.published[len(sink.published)-1]
	require.True(t, firstValidEmission.IsValid)

	// gap -> INVALID
	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 250, FinalUpdateID: 255,
	}})
	require.Equal(t, feed.Invalid, d.Engine.Phase(0))
	invalidationEmission := sink.published[len(sink.published)-1]
	require.False(t, invalidationEmission.IsValid)

	// reset -> buffer -> snapshot -> VALID
	fetcher.snap = feed.Snapshot{LastUpdateID: 299}
	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 300, FinalUpdateID: 300,
	}})
	require.Equal(t, feed.Valid, d.Engine.Phase(0))
	secondValidEmission := sink.published[len(sink.published)-1]
	require.True(t, secondValidEmission.IsValid)

	assert.Less(t, invalidationEmission.SeqNo, secondValidEmission.SeqNo)
	assert.Less(t, firstValidEmission.SeqNo, invalidationEmission.SeqNo)
}

// P4: sequence numbers strictly increase across all emissions.
func TestDriver_SequenceNumbersStrictlyIncrease(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 9}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{FirstUpdateID: 10, FinalUpdateID: 10}})
	for u := uint64(11); u < 20; u++ {
		d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{FirstUpdateID: u, FinalUpdateID: u}})
	}

	var last uint64
	for idx, q := range sink.published {
		if idx > 0 {
			assert.Greater(t, q.SeqNo, last)
		}
		last = q.SeqNo
	}
}

func TestDriver_UnknownSymbolDropped(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)

	idx := d.ProcessEnvelope(context.Background(), feed.Envelope{Symbol: "DOGEUSDT", Delta: feed.Delta{}})
	assert.Equal(t, -1, idx)
	assert.Empty(t, sink.published)
}

func TestDriver_PublishRetriesOnceOnSinkFailure(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 9}}
	sink := &fakeSink{failNext: 1}
	// A long heartbeat keeps the post-event sweep from adding a second
	// emission, so only the retried publish is counted.
	d := feed.NewDriver([]string{"BTCUSDT"}, fetcher, sink, time.Hour, feed.DefaultSnapshotDepth)

	d.ProcessEnvelope(context.Background(), feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{
		FirstUpdateID: 10, FinalUpdateID: 10,
	}})

	require.Len(t, sink.published, 1, "retry after reconnect must succeed and publish once")
}

func TestDriver_ResetDrivesAllSymbolsToInit(t *testing.T) {
	fetcher := &fakeFetcher{snap: feed.Snapshot{LastUpdateID: 9}}
	sink := &fakeSink{}
	d := newTestDriver(t, fetcher, sink)
	ctx := context.Background()

	d.ProcessEnvelope(ctx, feed.Envelope{Symbol: "BTCUSDT", Delta: feed.Delta{FirstUpdateID: 10, FinalUpdateID: 10}})
	require.Equal(t, feed.Valid, d.Engine.Phase(0))

	d.Reset()

	assert.Equal(t, feed.Init, d.Engine.Phase(0))
}
