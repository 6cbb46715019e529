package rpc

// QuoteRow is the wire schema for one published top-of-book quote: it
// leads with the receive-wall-clock timestamp so the tick-capture
// service can order rows across symbols without decoding the rest of
// the row. RecvTimeNs is the raw wall-clock receive time in Unix
// nanoseconds as stamped by the feed driver; no epoch adjustment is
// applied, and the row carries no second, adjusted receive timestamp.
type QuoteRow struct {
	RecvTimeNs      int64
	Symbol          string
	BidPrices       [5]float64
	BidQtys         [5]float64
	AskPrices       [5]float64
	AskQtys         [5]float64
	IsValid         bool
	ExchEventTimeMs int64
	SeqNo           uint64
}

// HealthRow is the wire schema for the feed handler's periodic
// liveness record, per spec.md §6's heartbeat record: carried on a
// separate sink table from QuoteRow/TradeRow so the tick-capture
// service can route it without inspecting payload content.
type HealthRow struct {
	CurrentTimeNs  int64
	HandlerID      string
	StartTimeNs    int64
	UptimeSec      int64
	ReceivedCount  int64
	PublishedCount int64
	LastRecvTimeNs int64
	LastPubTimeNs  int64
	ConnState      string
	SymbolCount    int
}

// TradeRow is the wire schema for one normalized trade print, per
// spec.md §6's outbound trade row (A8).
type TradeRow struct {
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

const (
	serviceName         = "feedhandler.TickCapture"
	methodPublishQuote  = "/" + serviceName + "/PublishQuote"
	methodPublishTrade  = "/" + serviceName + "/PublishTrade"
	methodPublishHealth = "/" + serviceName + "/PublishHealth"
)
