package feed

import "github.com/arkwave/feedhandler/book"

// Phase is the per-symbol lifecycle state. Each phase is meaningful
// only with a subset of the slot's fields; the slot stores all of them
// regardless of phase, and nothing in slot.go guards which fields are
// read in which phase.
type Phase uint8

const (
	Init Phase = iota
	Syncing
	Valid
	Invalid
)

func (p Phase) String() string {
	switch p {
	case Init:
		return "INIT"
	case Syncing:
		return "SYNCING"
	case Valid:
		return "VALID"
	case Invalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Delta is a decoded depth-update event covering the contiguous
// exchange update-ID range [FirstUpdateID, FinalUpdateID].
type Delta struct {
	FirstUpdateID   uint64
	FinalUpdateID   uint64
	ExchEventTimeMs int64
	BidUpdates      []book.Level
	AskUpdates      []book.Level
}

// Snapshot is a point-in-time top-of-book capture, bids descending and
// asks ascending, tagged with the exchange's last_update_id.
type Snapshot struct {
	LastUpdateID uint64
	Bids         []book.Level
	Asks         []book.Level
}

// Quote is the publisher-visible projection of a symbol slot.
type Quote struct {
	SymbolIndex     int
	Symbol          string
	Bids            [book.Depth]book.Level
	Asks            [book.Depth]book.Level
	IsValid         bool
	ExchEventTimeMs int64
	RecvTimeNs      int64
	SeqNo           uint64
}

// samePrices reports whether q and other carry identical 2*Depth price
// and 2*Depth quantity fields. Used by the publisher's change test.
func (q Quote) samePrices(other Quote) bool {
	return q.Bids == other.Bids && q.Asks == other.Asks
}

// applyResult distinguishes a sequence-validation outcome so replay can
// tell "stale, skip and keep going" from "gap, invalidate and stop" —
// the one behavior the source's control flow depends on without naming
// it (see DESIGN.md).
type applyResult uint8

const (
	resultApplied applyResult = iota
	resultStale
	resultGap
)
