package feed

import "context"

// DefaultSnapshotDepth is the depth requested from the snapshot
// collaborator when the caller doesn't configure one. It is strictly
// greater than book.Depth so a truncated or slightly-stale snapshot
// still leaves enough levels to reconstruct the top book.Depth ranks
// after replay.
const DefaultSnapshotDepth = 50

// SnapshotFetcher is the external collaborator that serves point-in-
// time top-of-book captures. Its transport (HTTPS, WS request/response,
// …) is outside the core's concern; the core only needs the result.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol string, limit int) (Snapshot, error)
}

// Coordinator orchestrates the snapshot request, buffered-delta replay,
// and transition to live operation for one symbol at a time. It is
// invoked synchronously from the feed loop: the fetch is allowed to
// block because other symbols' buffers absorb deltas meanwhile (spec
// §4.3, §5).
type Coordinator struct {
	fetcher       SnapshotFetcher
	snapshotDepth int
}

// NewCoordinator builds a coordinator that requests snapshotDepth
// levels per fetch. snapshotDepth must stay strictly greater than
// book.Depth; callers below clamp to DefaultSnapshotDepth otherwise.
func NewCoordinator(fetcher SnapshotFetcher, snapshotDepth int) *Coordinator {
	return &Coordinator{fetcher: fetcher, snapshotDepth: snapshotDepth}
}

// Edge reports what happened to symbol i's phase across a Sync call, so
// the driver knows which emissions (if any) to fire.
type Edge uint8

const (
	NoEdge Edge = iota
	EdgeToValid
	EdgeToInvalid
)

// Sync fetches a snapshot for symbol i, applies it, and replays the
// symbol's buffered deltas in FIFO order until the buffer is empty or
// the symbol goes INVALID. On fetch failure the symbol is marked
// INVALID directly, which clears its ladders and buffered deltas; the
// next inbound delta re-arms the fetch (handled by the driver's
// INVALID→INIT edge).
func (c *Coordinator) Sync(ctx context.Context, e *Engine, i int) Edge {
	snap, err := c.fetcher.FetchSnapshot(ctx, e.Symbol(i), c.snapshotDepth)
	if err != nil {
		e.invalidate(i)
		return EdgeToInvalid
	}

	e.ApplySnapshot(i, snap)

	buffered := e.DrainBuffered(i)
	promoted := false
	for _, d := range buffered {
		if !promoted {
			switch e.ApplyReplayDelta(i, d) {
			case resultGap:
				return EdgeToInvalid
			case resultStale:
				continue
			case resultApplied:
				promoted = true
			}
			continue
		}

		// Once promoted to VALID mid-replay, the remaining buffered
		// deltas are accepted under the live rule, not the SYNCING
		// straddle rule.
		if e.ApplyLiveDelta(i, d) == resultGap {
			return EdgeToInvalid
		}
	}

	if promoted {
		return EdgeToValid
	}
	return NoEdge
}
