// Package trade normalizes raw exchange trade prints into a single
// outbound schema and reports each print's trade-ID sequence state
// alongside the row (the row itself carries no gap field).
// Unlike the depth-update state machine in package feed, a trade print
// carries no notion of VALID/INVALID: every print is normalized and
// forwarded, and a gap only ever produces a log line plus a counter,
// never a stall.
package trade

import "fmt"

// Print is one decoded trade event for a single symbol.
type Print struct {
	Symbol          string
	TradeID         int64
	Price           float64
	Qty             float64
	BuyerIsMaker    bool
	ExchEventTimeMs int64
	ExchTradeTimeMs int64
}

// Row is the normalized, sequence-stamped record handed to the outbound
// sink. RecvTimeNs and SeqNo are stamped by the Handler, not the
// exchange, so downstream consumers can reconstruct feed-handler latency.
type Row struct {
	Symbol          string
	TradeID         int64
	Price           float64
	Qty             float64
	BuyerIsMaker    bool
	ExchEventTimeMs int64
	ExchTradeTimeMs int64
	RecvTimeNs      int64
	SeqNo           uint64
}

// GapReport describes a sequence anomaly detected in a symbol's trade
// ID stream: out-of-order, duplicate, or missed IDs.
type GapReport struct {
	Symbol  string
	Kind    GapKind
	Last    int64
	Current int64
	Missed  int64
}

type GapKind uint8

const (
	NoGap GapKind = iota
	OutOfOrder
	Duplicate
	Missed
)

func (k GapKind) String() string {
	switch k {
	case OutOfOrder:
		return "out-of-order"
	case Duplicate:
		return "duplicate"
	case Missed:
		return "missed"
	default:
		return "none"
	}
}

// Handler is a stateless-per-event normalizer that keeps only the last
// trade ID seen per symbol, purely to detect gaps for observability —
// unlike the depth feed, a gap never invalidates or buffers anything.
type Handler struct {
	lastTradeID map[string]int64
	seq         uint64
}

func NewHandler() *Handler {
	return &Handler{lastTradeID: make(map[string]int64)}
}

// Normalize stamps p into a Row and reports any sequence anomaly found
// against the previous trade ID seen for p.Symbol.
func (h *Handler) Normalize(p Print, recvTimeNs int64) (Row, GapReport) {
	report := h.validateTradeID(p.Symbol, p.TradeID)
	h.lastTradeID[p.Symbol] = p.TradeID

	h.seq++
	row := Row{
		Symbol:          p.Symbol,
		TradeID:         p.TradeID,
		Price:           p.Price,
		Qty:             p.Qty,
		BuyerIsMaker:    p.BuyerIsMaker,
		ExchEventTimeMs: p.ExchEventTimeMs,
		ExchTradeTimeMs: p.ExchTradeTimeMs,
		RecvTimeNs:      recvTimeNs,
		SeqNo:           h.seq,
	}
	return row, report
}

func (h *Handler) validateTradeID(symbol string, tradeID int64) GapReport {
	last, ok := h.lastTradeID[symbol]
	if !ok {
		return GapReport{Symbol: symbol, Kind: NoGap}
	}

	switch {
	case tradeID < last:
		return GapReport{Symbol: symbol, Kind: OutOfOrder, Last: last, Current: tradeID}
	case tradeID == last:
		return GapReport{Symbol: symbol, Kind: Duplicate, Last: last, Current: tradeID}
	case tradeID > last+1:
		return GapReport{
			Symbol: symbol, Kind: Missed, Last: last, Current: tradeID,
			Missed: tradeID - last - 1,
		}
	default:
		return GapReport{Symbol: symbol, Kind: NoGap}
	}
}

func (g GapReport) String() string {
	switch g.Kind {
	case NoGap:
		return ""
	case Missed:
		return fmt.Sprintf("trade: %s missed %d (last=%d got=%d)", g.Symbol, g.Missed, g.Last, g.Current)
	default:
		return fmt.Sprintf("trade: %s %s last=%d got=%d", g.Symbol, g.Kind, g.Last, g.Current)
	}
}
