// Package api REST 接口
package api

import (
	"context"
	"net/http"

	"github.com/cockroachdb/apd"
	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/internal/service"
	"github.com/exchange/emulator/pkg/health"
	"github.com/exchange/emulator/pkg/logger"
	"github.com/exchange/emulator/pkg/response"
	"github.com/exchange/emulator/pkg/tracing"
	"github.com/google/uuid"
)

// Exchange 接口层依赖的交易所操作
type Exchange interface {
	SubmitOrder(ctx context.Context, req service.SubmitOrderRequest) (*service.OrderResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, accountID string) (model.Order, error)
	ForceCancel(ctx context.Context, orderID uuid.UUID) (model.Order, error)
	OrderBook(depth int) model.BookSnapshot
	Orders(accountID string) []model.Order
	BestPrices() service.Quotes
	Account() model.Account
	Portfolio(ref *apd.Decimal) *apd.Decimal
	MaxLots(isBuy bool, ref *apd.Decimal) (int64, error)
	Reset(ctx context.Context) error
	FindInstrument(query string) []service.Instrument
	TradingStatus(id string) (service.TradingStatus, error)
	InstrumentID() string
	Currency() string
	PriceScale() int32
	ManagedAccountID() string
}

// Config 路由配置
type Config struct {
	APIToken   string
	AdminToken string
	// BookDepth 未指定 depth 时的默认档位
	BookDepth int
}

// Server REST 处理器
type Server struct {
	cfg Config
	x   Exchange
	log *logger.Logger
}

func NewServer(cfg Config, x Exchange, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = 20
	}
	return &Server{cfg: cfg, x: x, log: log}
}

// Routes 组装完整路由。ws 可为 nil
func (s *Server) Routes(h *health.Health, ws http.Handler) http.Handler {
	mux := http.NewServeMux()

	user := func(fn http.HandlerFunc) http.Handler {
		return bearerAuth(s.cfg.APIToken)(fn)
	}
	admin := func(fn http.HandlerFunc) http.Handler {
		return bearerAuth(s.cfg.AdminToken)(fn)
	}

	mux.Handle("POST /api/orders", user(s.handleSubmit))
	mux.Handle("DELETE /api/orders/{id}", user(s.handleCancel))
	mux.Handle("GET /api/orders", user(s.handleOrders))
	mux.Handle("GET /api/orderbook", user(s.handleOrderBook))
	mux.Handle("GET /api/quotes", user(s.handleQuotes))
	mux.Handle("GET /api/account", user(s.handleAccount))
	mux.Handle("GET /api/portfolio", user(s.handlePortfolio))
	mux.Handle("GET /api/maxlots", user(s.handleMaxLots))
	mux.Handle("GET /api/instruments", user(s.handleFindInstrument))
	mux.Handle("GET /api/instruments/{id}/status", user(s.handleTradingStatus))

	mux.Handle("POST /api/admin/orders", admin(s.handleAdminSubmit))
	mux.Handle("DELETE /api/admin/orders/{id}", admin(s.handleAdminCancel))
	mux.Handle("GET /api/admin/orders", admin(s.handleAdminOrders))
	mux.Handle("POST /api/admin/reset", admin(s.handleReset))

	if h != nil {
		mux.Handle("GET /health", h.LiveHandler())
		mux.Handle("GET /ready", h.ReadyHandler())
	}
	mux.Handle("GET /metrics", metrics.Handler())
	if ws != nil {
		mux.Handle("GET /ws", ws)
	}

	return chain(mux,
		response.RequestIDMiddleware,
		tracing.HTTPMiddleware,
		accessLog(s.log),
		response.Recovery(s.log),
	)
}
