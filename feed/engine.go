package feed

import (
	"fmt"

	"github.com/arkwave/feedhandler/book"
)

// Engine is the single owner of every symbol's book, sequencing state,
// delta buffer, and publisher cache. It is not safe for concurrent use;
// the whole point of the single-threaded cooperative model (spec §5)
// is that nothing else needs to be.
type Engine struct {
	store   *book.Store
	slots   []*slot
	symbols []string
	index   map[string]int
	seq     uint64
}

// NewEngine builds an engine for the given symbols (already normalized
// to the caller's preferred case; spec.md uses uppercase internal
// keys). Each symbol gets a stable index equal to its position here.
func NewEngine(symbols []string) *Engine {
	e := &Engine{
		store:   book.NewStore(len(symbols)),
		slots:   make([]*slot, len(symbols)),
		symbols: append([]string(nil), symbols...),
		index:   make(map[string]int, len(symbols)),
	}
	for i, sym := range symbols {
		e.index[sym] = i
		e.slots[i] = newSlot()
	}
	return e
}

// SymbolIndex resolves a symbol to its opaque index, or (-1, false) if
// the symbol is not configured — the caller must drop the event.
func (e *Engine) SymbolIndex(symbol string) (int, bool) {
	i, ok := e.index[symbol]
	if !ok {
		return -1, false
	}
	return i, true
}

func (e *Engine) NextSeq() uint64 {
	e.seq++
	return e.seq
}

func (e *Engine) Phase(i int) Phase { return e.slots[i].phase }

func (e *Engine) NeedsSnapshot(i int) bool {
	s := e.slots[i]
	return s.phase == Init && !s.snapshotRequested
}

// BufferDelta appends d to symbol i's FIFO buffer. Valid only while the
// symbol is in INIT or SYNCING; the buffer is the sole repository of
// received events during that window (invariant 5).
func (e *Engine) BufferDelta(i int, d Delta) {
	e.slots[i].buffer.PushBack(d)
}

func (e *Engine) MarkSnapshotRequested(i int) {
	e.slots[i].snapshotRequested = true
}

// ApplySnapshot writes the snapshot into symbol i's ladders, anchors
// the slot's sequence bookkeeping to it, and moves the symbol into
// SYNCING so the coordinator can begin replaying its buffered deltas.
func (e *Engine) ApplySnapshot(i int, snap Snapshot) {
	e.store.ApplySnapshot(i, snap.Bids, snap.Asks)
	s := e.slots[i]
	s.snapshotUpdateID = snap.LastUpdateID
	s.lastUpdateID = snap.LastUpdateID
	s.phase = Syncing
}

// ApplyReplayDelta applies one buffered delta against a SYNCING slot
// using the acceptance rule from spec §4.2: U ≤ snapshotUpdateID+1 ≤ u.
// A delta whose range ends before the anchor is stale and is skipped
// without changing phase; one whose range starts after the anchor is a
// gap and invalidates the symbol. The straddling delta both applies
// its updates and promotes the slot to VALID.
func (e *Engine) ApplyReplayDelta(i int, d Delta) applyResult {
	s := e.slots[i]
	if s.phase != Syncing {
		panic(fmt.Sprintf("feed: ApplyReplayDelta called while symbol %d is %s, not SYNCING", i, s.phase))
	}

	anchor := s.snapshotUpdateID + 1
	switch {
	case d.FinalUpdateID < anchor:
		return resultStale
	case d.FirstUpdateID > anchor:
		e.invalidate(i)
		return resultGap
	}

	e.applyLevels(i, d)
	s.lastUpdateID = d.FinalUpdateID
	s.exchEventTimeMs = d.ExchEventTimeMs
	s.phase = Valid
	return resultApplied
}

// ApplyLiveDelta applies a delta arriving while symbol i is VALID. It
// must extend the sequence exactly; any other range is a gap.
func (e *Engine) ApplyLiveDelta(i int, d Delta) applyResult {
	s := e.slots[i]
	if s.phase != Valid {
		panic(fmt.Sprintf("feed: ApplyLiveDelta called while symbol %d is %s, not VALID", i, s.phase))
	}

	if d.FirstUpdateID != s.lastUpdateID+1 {
		e.invalidate(i)
		return resultGap
	}

	e.applyLevels(i, d)
	s.lastUpdateID = d.FinalUpdateID
	s.exchEventTimeMs = d.ExchEventTimeMs
	return resultApplied
}

func (e *Engine) applyLevels(i int, d Delta) {
	for _, lvl := range d.BidUpdates {
		e.store.ApplyLevelUpdate(i, book.Bid, lvl.Price, lvl.Qty)
	}
	for _, lvl := range d.AskUpdates {
		e.store.ApplyLevelUpdate(i, book.Ask, lvl.Price, lvl.Qty)
	}
}

// invalidate scrubs ladder and sequencing state and marks the symbol
// INVALID. The phase stays INVALID — not INIT — until the next inbound
// delta arrives; see ResetFromInvalid.
func (e *Engine) invalidate(i int) {
	e.store.Clear(i)
	e.slots[i].clear()
	e.slots[i].phase = Invalid
}

// ResetFromInvalid performs the INVALID→INIT edge: the slot's data was
// already scrubbed when it entered INVALID, so this only flips the
// phase tag, making the engine ready to buffer the delta that triggered
// the call.
func (e *Engine) ResetFromInvalid(i int) {
	s := e.slots[i]
	if s.phase != Invalid {
		panic(fmt.Sprintf("feed: ResetFromInvalid called while symbol %d is %s, not INVALID", i, s.phase))
	}
	s.phase = Init
}

// ResetAll drives every symbol back to INIT with empty ladders and
// buffers, discarding any residue. Used on an upstream transport reset,
// where resumption from last_update_id is not possible.
func (e *Engine) ResetAll() {
	for i := range e.slots {
		e.store.Clear(i)
		e.slots[i].clear()
		e.slots[i].phase = Init
	}
}

// ExtractQuote copies symbol i's current ladders and validity into a
// Quote, stamping the supplied receive time and sequence number.
func (e *Engine) ExtractQuote(i int, recvTimeNs int64, seqNo uint64) Quote {
	s := e.slots[i]
	bids, asks := e.store.ExtractQuote(i)
	return Quote{
		SymbolIndex:     i,
		Symbol:          e.symbols[i],
		Bids:            bids,
		Asks:            asks,
		IsValid:         s.phase == Valid,
		ExchEventTimeMs: s.exchEventTimeMs,
		RecvTimeNs:      recvTimeNs,
		SeqNo:           seqNo,
	}
}

// InvalidationQuote builds the synthetic, zeroed quote emitted exactly
// once per VALID→INVALID edge.
func (e *Engine) InvalidationQuote(i int, recvTimeNs int64, seqNo uint64) Quote {
	return Quote{
		SymbolIndex: i,
		Symbol:      e.symbols[i],
		IsValid:     false,
		RecvTimeNs:  recvTimeNs,
		SeqNo:       seqNo,
	}
}

// DrainBuffered pops and returns every delta currently buffered for
// symbol i, in FIFO order, emptying the buffer.
func (e *Engine) DrainBuffered(i int) []Delta {
	s := e.slots[i]
	out := make([]Delta, 0, s.buffer.Len())
	for s.buffer.Len() > 0 {
		out = append(out, s.buffer.PopFront())
	}
	return out
}

func (e *Engine) NumSymbols() int { return len(e.slots) }

func (e *Engine) Symbol(i int) string { return e.symbols[i] }
