package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/arkwave/feedhandler/book"
)

// QuoteSink is the outbound collaborator quotes are published to. A
// non-nil error models the "null return" transport failure from spec
// §6/§7: the driver rebuilds the connection via Reconnect and retries
// exactly once before dropping the quote.
type QuoteSink interface {
	Publish(ctx context.Context, q Quote) error
	Reconnect(ctx context.Context) error
}

// Envelope is one decoded delta event together with the raw symbol
// string it was addressed to. The driver resolves the symbol to an
// index itself and drops events for symbols it does not recognize.
type Envelope struct {
	Symbol string
	Delta  Delta
}

// Driver is the single-threaded event loop that binds the book, the
// state machine, the synchronization coordinator, and the
// change-detection publisher together, per spec §4.5.
type Driver struct {
	Engine      *Engine
	Coordinator *Coordinator
	Publisher   *Publisher
	Sink        QuoteSink

	// Clock returns the current wall-clock time in nanoseconds; stubbed
	// out in tests to make receive timestamps deterministic.
	Clock func() int64
}

// NewDriver wires the core components into a driver ready to process
// events. fetcher and sink are the external collaborators; heartbeat is
// the publish-silence threshold (spec canonical: 50ms); snapshotDepth is
// the number of levels requested per snapshot fetch. A snapshotDepth
// that isn't strictly greater than book.Depth falls back to
// DefaultSnapshotDepth, since a shallower snapshot can't survive replay
// truncation.
func NewDriver(symbols []string, fetcher SnapshotFetcher, sink QuoteSink, heartbeat time.Duration, snapshotDepth int) *Driver {
	if snapshotDepth <= book.Depth {
		snapshotDepth = DefaultSnapshotDepth
	}
	return &Driver{
		Engine:      NewEngine(symbols),
		Coordinator: NewCoordinator(fetcher, snapshotDepth),
		Publisher:   NewPublisher(heartbeat),
		Sink:        sink,
		Clock:       func() int64 { return time.Now().UnixNano() },
	}
}

// ProcessEnvelope dispatches one inbound event through the state
// machine, runs the heartbeat sweep, and returns the symbol index it
// touched (or -1 if the event was dropped for an unknown symbol).
func (d *Driver) ProcessEnvelope(ctx context.Context, ev Envelope) int {
	i, ok := d.Engine.SymbolIndex(ev.Symbol)
	if !ok {
		return -1
	}

	recvTimeNs := d.Clock()
	d.dispatch(ctx, i, ev.Delta, recvTimeNs)
	d.sweepHeartbeats(ctx, recvTimeNs)
	return i
}

func (d *Driver) dispatch(ctx context.Context, i int, delta Delta, recvTimeNs int64) {
	switch d.Engine.Phase(i) {
	case Invalid:
		d.Engine.ResetFromInvalid(i)
		fallthrough
	case Init:
		d.Engine.BufferDelta(i, delta)
		if d.Engine.NeedsSnapshot(i) {
			d.Engine.MarkSnapshotRequested(i)
			d.handleEdge(ctx, i, d.Coordinator.Sync(ctx, d.Engine, i), recvTimeNs)
		}

	case Syncing:
		// A fresh delta arriving while still SYNCING (the buffer held
		// only stale entries on the last Sync call) is accepted under
		// the same straddle rule as a replayed one.
		switch d.Engine.ApplyReplayDelta(i, delta) {
		case resultApplied:
			d.handleEdge(ctx, i, EdgeToValid, recvTimeNs)
		case resultGap:
			d.handleEdge(ctx, i, EdgeToInvalid, recvTimeNs)
		case resultStale:
		}

	case Valid:
		if d.Engine.ApplyLiveDelta(i, delta) == resultGap {
			d.handleEdge(ctx, i, EdgeToInvalid, recvTimeNs)
		} else {
			d.maybePublish(ctx, i, recvTimeNs)
		}

	default:
		panic(fmt.Sprintf("feed: unhandled phase %s for symbol %d", d.Engine.Phase(i), i))
	}
}

func (d *Driver) handleEdge(ctx context.Context, i int, edge Edge, recvTimeNs int64) {
	switch edge {
	case EdgeToValid:
		d.maybePublish(ctx, i, recvTimeNs)
	case EdgeToInvalid:
		q := d.Engine.InvalidationQuote(i, recvTimeNs, d.Engine.NextSeq())
		d.publish(ctx, i, q)
	case NoEdge:
	}
}

// maybePublish extracts the current quote for symbol i and publishes
// it if the change-detection publisher approves.
func (d *Driver) maybePublish(ctx context.Context, i int, recvTimeNs int64) {
	q := d.Engine.ExtractQuote(i, recvTimeNs, d.Engine.NextSeq())
	if d.Publisher.ShouldPublish(d.Engine, i, q) {
		d.publish(ctx, i, q)
	}
}

// sweepHeartbeats publishes one quote for every VALID symbol that has
// gone quiet for at least the heartbeat threshold. Run after every
// processed event, satisfying the "not less often than once per
// received message" bound from spec §4.4.
func (d *Driver) sweepHeartbeats(ctx context.Context, recvTimeNs int64) {
	for i := 0; i < d.Engine.NumSymbols(); i++ {
		if d.Publisher.HeartbeatDue(d.Engine, i) {
			q := d.Engine.ExtractQuote(i, recvTimeNs, d.Engine.NextSeq())
			d.publish(ctx, i, q)
		}
	}
}

// publish records q as the latest heartbeat/edge/heartbeat emission
// for symbol i and hands it to the sink, rebuilding the connection and
// retrying exactly once on failure before dropping it (spec §4.5, §7).
func (d *Driver) publish(ctx context.Context, i int, q Quote) {
	d.Publisher.RecordPublish(d.Engine, i, q)

	if err := d.Sink.Publish(ctx, q); err != nil {
		if rerr := d.Sink.Reconnect(ctx); rerr == nil {
			_ = d.Sink.Publish(ctx, q)
		}
	}
}

// Reset drives every symbol back to INIT, discarding all in-flight
// state. Called on an upstream transport reset; no attempt is made to
// resume from last_update_id because the exchange gives none.
func (d *Driver) Reset() {
	d.Engine.ResetAll()
}
