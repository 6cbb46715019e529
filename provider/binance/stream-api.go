package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
	"github.com/arkwave/feedhandler/trade"
)

// StreamAPI decodes Binance's "<symbol>@depth" combined-stream topic
// into feed.Delta values.
type StreamAPI struct {
	client *StreamClient
}

func NewStreamAPI(client *StreamClient) *StreamAPI {
	return &StreamAPI{client: client}
}

type depthUpdateData struct {
	EventTimeMs   int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// DepthDiffStream subscribes to the depth-diff topic for symbol and
// decodes every message into a feed.Delta, pushed to the returned
// channel until unsubscribe is called or the client closes it.
func (s *StreamAPI) DepthDiffStream(symbol string) (<-chan feed.Delta, func(), error) {
	topic := fmt.Sprintf("%s@depth", toLowerSymbol(symbol))
	raw, unsubscribe, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan feed.Delta, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var envelope Message[depthUpdateData]
			if err := json.Unmarshal(msg, &envelope); err != nil {
				logger.Printf("malformed depth update: %v", err)
				continue
			}

			delta, err := toDelta(envelope.Data)
			if err != nil {
				logger.Printf("bad depth update levels: %v", err)
				continue
			}
			out <- delta
		}
	}()

	return out, unsubscribe, nil
}

type tradeData struct {
	EventTimeMs  int64  `json:"E"`
	TradeTimeMs  int64  `json:"T"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	BuyerIsMaker bool   `json:"m"`
}

// TradeStream subscribes to the "<symbol>@trade" combined-stream topic
// and decodes every message into a trade.Print.
func (s *StreamAPI) TradeStream(symbol string) (<-chan trade.Print, func(), error) {
	topic := fmt.Sprintf("%s@trade", toLowerSymbol(symbol))
	raw, unsubscribe, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan trade.Print, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var envelope Message[tradeData]
			if err := json.Unmarshal(msg, &envelope); err != nil {
				logger.Printf("malformed trade print: %v", err)
				continue
			}

			price, err := strconv.ParseFloat(envelope.Data.Price, 64)
			if err != nil {
				logger.Printf("bad trade price: %v", err)
				continue
			}
			qty, err := strconv.ParseFloat(envelope.Data.Qty, 64)
			if err != nil {
				logger.Printf("bad trade qty: %v", err)
				continue
			}

			out <- trade.Print{
				Symbol:          envelope.Data.Symbol,
				TradeID:         envelope.Data.TradeID,
				Price:           price,
				Qty:             qty,
				BuyerIsMaker:    envelope.Data.BuyerIsMaker,
				ExchEventTimeMs: envelope.Data.EventTimeMs,
				ExchTradeTimeMs: envelope.Data.TradeTimeMs,
			}
		}
	}()

	return out, unsubscribe, nil
}

func toDelta(d depthUpdateData) (feed.Delta, error) {
	bids, err := toLevels(d.Bids)
	if err != nil {
		return feed.Delta{}, err
	}
	asks, err := toLevels(d.Asks)
	if err != nil {
		return feed.Delta{}, err
	}
	return feed.Delta{
		FirstUpdateID:   d.FirstUpdateID,
		FinalUpdateID:   d.FinalUpdateID,
		ExchEventTimeMs: d.EventTimeMs,
		BidUpdates:      bids,
		AskUpdates:      asks,
	}, nil
}

func toLevels(raw [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("binance: level pair has %d fields, want 2", len(pair))
		}
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("binance: parse qty %q: %w", pair[1], err)
		}
		levels = append(levels, book.Level{Price: price, Qty: qty})
	}
	return levels, nil
}

func toLowerSymbol(symbol string) string {
	out := make([]byte, len(symbol))
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
