package rpc

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/arkwave/feedhandler/book"
	"github.com/arkwave/feedhandler/feed"
	"github.com/arkwave/feedhandler/trade"
)

// QuoteSink publishes quotes to the tick-capture service over a gRPC
// connection carrying the gob codec. It implements feed.QuoteSink.
type QuoteSink struct {
	target string
	dialMu sync.Mutex
	cc     *grpc.ClientConn
}

// NewQuoteSink dials target immediately; Reconnect re-dials on demand
// if the connection is later found dead.
func NewQuoteSink(ctx context.Context, target string) (*QuoteSink, error) {
	s := &QuoteSink{target: target}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *QuoteSink) dial(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	cc, err := grpc.DialContext(ctx, s.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", s.target, err)
	}
	s.cc = cc
	return nil
}

// Publish implements feed.QuoteSink.
func (s *QuoteSink) Publish(ctx context.Context, q feed.Quote) error {
	row := toQuoteRow(q)
	var reply struct{}
	if err := s.cc.Invoke(ctx, methodPublishQuote, &row, &reply); err != nil {
		return fmt.Errorf("rpc: publish quote for %s: %w", q.Symbol, err)
	}
	return nil
}

// Reconnect implements feed.QuoteSink.
func (s *QuoteSink) Reconnect(ctx context.Context) error {
	s.dialMu.Lock()
	old := s.cc
	s.dialMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return s.dial(ctx)
}

func (s *QuoteSink) Close() error {
	return s.cc.Close()
}

func toQuoteRow(q feed.Quote) QuoteRow {
	var row QuoteRow
	row.Symbol = q.Symbol
	row.IsValid = q.IsValid
	row.ExchEventTimeMs = q.ExchEventTimeMs
	row.RecvTimeNs = q.RecvTimeNs
	row.SeqNo = q.SeqNo
	for r := 0; r < book.Depth; r++ {
		row.BidPrices[r] = q.Bids[r].Price
		row.BidQtys[r] = q.Bids[r].Qty
		row.AskPrices[r] = q.Asks[r].Price
		row.AskQtys[r] = q.Asks[r].Qty
	}
	return row
}

// TradeSink publishes normalized trade rows to the tick-capture
// service over the same gRPC connection shape as QuoteSink.
type TradeSink struct {
	target string
	dialMu sync.Mutex
	cc     *grpc.ClientConn
}

func NewTradeSink(ctx context.Context, target string) (*TradeSink, error) {
	s := &TradeSink{target: target}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TradeSink) dial(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	cc, err := grpc.DialContext(ctx, s.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", s.target, err)
	}
	s.cc = cc
	return nil
}

func (s *TradeSink) Publish(ctx context.Context, row trade.Row) error {
	wire := TradeRow(row)
	var reply struct{}
	if err := s.cc.Invoke(ctx, methodPublishTrade, &wire, &reply); err != nil {
		return fmt.Errorf("rpc: publish trade for %s: %w", row.Symbol, err)
	}
	return nil
}

func (s *TradeSink) Reconnect(ctx context.Context) error {
	s.dialMu.Lock()
	old := s.cc
	s.dialMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return s.dial(ctx)
}

func (s *TradeSink) Close() error {
	return s.cc.Close()
}

// HealthSink publishes periodic liveness records to the tick-capture
// service over the same gRPC connection shape as QuoteSink/TradeSink.
type HealthSink struct {
	target string
	dialMu sync.Mutex
	cc     *grpc.ClientConn
}

func NewHealthSink(ctx context.Context, target string) (*HealthSink, error) {
	s := &HealthSink{target: target}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *HealthSink) dial(ctx context.Context) error {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	cc, err := grpc.DialContext(ctx, s.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", s.target, err)
	}
	s.cc = cc
	return nil
}

func (s *HealthSink) Publish(ctx context.Context, row HealthRow) error {
	var reply struct{}
	if err := s.cc.Invoke(ctx, methodPublishHealth, &row, &reply); err != nil {
		return fmt.Errorf("rpc: publish health for %s: %w", row.HandlerID, err)
	}
	return nil
}

func (s *HealthSink) Reconnect(ctx context.Context) error {
	s.dialMu.Lock()
	old := s.cc
	s.dialMu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return s.dial(ctx)
}

func (s *HealthSink) Close() error {
	return s.cc.Close()
}
