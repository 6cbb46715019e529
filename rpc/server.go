package rpc

import (
	"context"
	"sync"

	"google.golang.org/grpc"
)

// Server is a reference/test-double tick-capture service: it accepts
// QuoteRow and TradeRow messages and appends them to in-memory logs, so
// QuoteSink/TradeSink can be exercised end-to-end without a real
// downstream tickerplant.
type Server struct {
	mu     sync.Mutex
	quotes []QuoteRow
	trades []TradeRow
	health []HealthRow
}

func NewServer() *Server {
	return &Server{}
}

func (s *Server) publishQuote(_ context.Context, row *QuoteRow) (*struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, *row)
	return &struct{}{}, nil
}

func (s *Server) publishTrade(_ context.Context, row *TradeRow) (*struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *row)
	return &struct{}{}, nil
}

func (s *Server) publishHealth(_ context.Context, row *HealthRow) (*struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = append(s.health, *row)
	return &struct{}{}, nil
}

func (s *Server) Quotes() []QuoteRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QuoteRow(nil), s.quotes...)
}

func (s *Server) Trades() []TradeRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TradeRow(nil), s.trades...)
}

func (s *Server) Health() []HealthRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HealthRow(nil), s.health...)
}

// tickCaptureServer is the interface grpc.Server.RegisterService checks
// the registered implementation against; HandlerType must reference an
// interface type, not the concrete *Server type.
type tickCaptureServer interface {
	publishQuote(context.Context, *QuoteRow) (*struct{}, error)
	publishTrade(context.Context, *TradeRow) (*struct{}, error)
	publishHealth(context.Context, *HealthRow) (*struct{}, error)
}

// serviceDesc is hand-written in place of a protoc-generated one: each
// method decodes its gob-encoded request directly, since there is no
// protoreflect message type to dispatch through.
func (s *Server) serviceDesc() grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*tickCaptureServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "PublishQuote",
				Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					var row QuoteRow
					if err := dec(&row); err != nil {
						return nil, err
					}
					return srv.(*Server).publishQuote(ctx, &row)
				},
			},
			{
				MethodName: "PublishTrade",
				Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					var row TradeRow
					if err := dec(&row); err != nil {
						return nil, err
					}
					return srv.(*Server).publishTrade(ctx, &row)
				},
			},
			{
				MethodName: "PublishHealth",
				Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					var row HealthRow
					if err := dec(&row); err != nil {
						return nil, err
					}
					return srv.(*Server).publishHealth(ctx, &row)
				},
			},
		},
		Streams: []grpc.StreamDesc{},
	}
}

// Register installs s onto grpcServer under the tick-capture service
// name, so it can be served the same way a protoc-generated
// *_ServiceServer would be.
func (s *Server) Register(grpcServer *grpc.Server) {
	desc := s.serviceDesc()
	grpcServer.RegisterService(&desc, s)
}
