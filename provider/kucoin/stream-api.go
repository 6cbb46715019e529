package kucoin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/domain"
	"github.com/arkwave/feedhandler/feed"
	"github.com/arkwave/feedhandler/trade"
)

// StreamAPI decodes Kucoin's "/market/level2:<SYMBOL>" topic into
// feed.Delta values.
type StreamAPI struct {
	client   *StreamClient
	registry *SymbolRegistry
}

func NewStreamAPI(client *StreamClient, registry *SymbolRegistry) *StreamAPI {
	return &StreamAPI{client: client, registry: registry}
}

type depthUpdateMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Changes       orderBookChanges `json:"changes"`
		SequenceEnd   uint64           `json:"sequenceEnd"`
		SequenceStart uint64           `json:"sequenceStart"`
		Time          int64            `json:"time"`
	} `json:"data"`
}

type orderBookChanges struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

// DepthDiffStream subscribes to the level2 topic for symbol and decodes
// every message into a feed.Delta.
func (s *StreamAPI) DepthDiffStream(canonicalKey string) (<-chan feed.Delta, func(), error) {
	ms, err := s.registry.resolve(canonicalKey)
	if err != nil {
		return nil, nil, err
	}

	topic := fmt.Sprintf("/market/level2:%s", toKucoinSymbol(ms))
	raw, unsubscribe, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan feed.Delta, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var message depthUpdateMessage
			if err := json.Unmarshal(msg, &message); err != nil {
				logger.Printf("malformed depth update: %v", err)
				continue
			}

			delta, err := toDelta(message)
			if err != nil {
				logger.Printf("bad depth update levels: %v", err)
				continue
			}
			out <- delta
		}
	}()

	return out, unsubscribe, nil
}

func toDelta(m depthUpdateMessage) (feed.Delta, error) {
	bids, err := toChangeLevels(m.Data.Changes.Bids)
	if err != nil {
		return feed.Delta{}, err
	}
	asks, err := toChangeLevels(m.Data.Changes.Asks)
	if err != nil {
		return feed.Delta{}, err
	}
	return feed.Delta{
		FirstUpdateID:   m.Data.SequenceStart,
		FinalUpdateID:   m.Data.SequenceEnd,
		ExchEventTimeMs: m.Data.Time / 1e6,
		BidUpdates:      bids,
		AskUpdates:      asks,
	}, nil
}

// toChangeLevels decodes Kucoin's [price, size, sequence] triples. The
// trailing sequence field is Kucoin-specific per-level bookkeeping the
// feed engine has no use for once the delta's own range is known.
func toChangeLevels(raw [][]string) ([]book.Level, error) {
	levels := make([]book.Level, 0, len(raw))
	for _, triple := range raw {
		if len(triple) != 3 {
			return nil, fmt.Errorf("kucoin: level triple has %d fields, want 3", len(triple))
		}
		price, err := strconv.ParseFloat(triple[0], 64)
		if err != nil {
			return nil, fmt.Errorf("kucoin: parse price %q: %w", triple[0], err)
		}
		qty, err := strconv.ParseFloat(triple[1], 64)
		if err != nil {
			return nil, fmt.Errorf("kucoin: parse qty %q: %w", triple[1], err)
		}
		levels = append(levels, book.Level{Price: price, Qty: qty})
	}
	return levels, nil
}

func toKucoinSymbol(ms *domain.MarketSymbol) string {
	return strings.ToUpper(ms.Join("-"))
}

type matchMessage struct {
	Data struct {
		Sequence  string `json:"sequence"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		TakerSide string `json:"side"`
		Time      string `json:"time"`
		TradeID   string `json:"tradeId"`
	} `json:"data"`
}

// TradeStream subscribes to the "/market/match:<SYMBOL>" topic and
// decodes every execution into a trade.Print.
func (s *StreamAPI) TradeStream(canonicalKey string) (<-chan trade.Print, func(), error) {
	ms, err := s.registry.resolve(canonicalKey)
	if err != nil {
		return nil, nil, err
	}

	topic := fmt.Sprintf("/market/match:%s", toKucoinSymbol(ms))
	raw, unsubscribe, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan trade.Print, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var m matchMessage
			if err := json.Unmarshal(msg, &m); err != nil {
				logger.Printf("malformed match: %v", err)
				continue
			}

			p, err := toPrint(canonicalKey, m)
			if err != nil {
				logger.Printf("bad match fields: %v", err)
				continue
			}
			out <- p
		}
	}()

	return out, unsubscribe, nil
}

func toPrint(canonicalKey string, m matchMessage) (trade.Print, error) {
	price, err := strconv.ParseFloat(m.Data.Price, 64)
	if err != nil {
		return trade.Print{}, fmt.Errorf("kucoin: parse price %q: %w", m.Data.Price, err)
	}
	qty, err := strconv.ParseFloat(m.Data.Size, 64)
	if err != nil {
		return trade.Print{}, fmt.Errorf("kucoin: parse size %q: %w", m.Data.Size, err)
	}
	tradeID, err := strconv.ParseInt(m.Data.TradeID, 10, 64)
	if err != nil {
		return trade.Print{}, fmt.Errorf("kucoin: parse tradeId %q: %w", m.Data.TradeID, err)
	}
	timeNs, err := strconv.ParseInt(m.Data.Time, 10, 64)
	if err != nil {
		return trade.Print{}, fmt.Errorf("kucoin: parse time %q: %w", m.Data.Time, err)
	}

	return trade.Print{
		Symbol:          canonicalKey,
		TradeID:         tradeID,
		Price:           price,
		Qty:             qty,
		BuyerIsMaker:    m.Data.TakerSide == "sell",
		ExchEventTimeMs: timeNs / 1e6,
		ExchTradeTimeMs: timeNs / 1e6,
	}, nil
}
