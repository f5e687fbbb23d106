// Package service 交易所门面：下单、撤单与查询
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/apd"
	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/ledger"
	"github.com/exchange/emulator/internal/matching"
	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/internal/orderbook"
	"github.com/exchange/emulator/pkg/decimal"
	commonerrors "github.com/exchange/emulator/pkg/errors"
	"github.com/exchange/emulator/pkg/logger"
	"github.com/exchange/emulator/pkg/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Config 门面配置
type Config struct {
	InstrumentID string
	Ticker       string
	FIGI         string
	Name         string
	Lot          int64
	Currency     string
	PriceScale   int32
	// FallbackPrice 订单簿两侧都为空时的估值价
	FallbackPrice *apd.Decimal

	// 启动做市报价，0 表示不挂
	InitialBid         int64
	InitialAsk         int64
	InitialQuoteQty    int64
	MarketMakerAccount string
	AdminAccount       string
}

// Exchange 组合订单簿、撮合引擎与受管账户
type Exchange struct {
	cfg    Config
	book   *orderbook.Manager
	engine *matching.Engine
	ledger *ledger.Ledger
	sink   event.Sink
	now    func() time.Time
	log    *logger.Logger

	// submitMu 串行化 撮合→挂单→记账，避免剩余量挂入前被其他委托穿价
	submitMu sync.Mutex
}

func New(cfg Config, book *orderbook.Manager, engine *matching.Engine, led *ledger.Ledger, sink event.Sink, log *logger.Logger) *Exchange {
	if sink == nil {
		sink = event.Discard
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.InitialQuoteQty <= 0 {
		cfg.InitialQuoteQty = 1000
	}
	if cfg.MarketMakerAccount == "" {
		cfg.MarketMakerAccount = "market-maker-init"
	}
	if cfg.AdminAccount == "" {
		cfg.AdminAccount = "admin-market-maker"
	}
	if cfg.Ticker == "" {
		cfg.Ticker = cfg.InstrumentID
	}
	if cfg.Lot <= 0 {
		cfg.Lot = 1
	}
	if cfg.Currency == "" {
		cfg.Currency = "rub"
	}
	return &Exchange{
		cfg:    cfg,
		book:   book,
		engine: engine,
		ledger: led,
		sink:   sink,
		now:    time.Now,
		log:    log,
	}
}

// SubmitOrderRequest 下单请求。OrderID 为空时生成；AccountID 为空时按来源取默认账户
type SubmitOrderRequest struct {
	OrderID      uuid.UUID
	InstrumentID string
	AccountID    string
	Direction    model.Direction
	Type         model.OrderType
	Price        int64
	Quantity     int64
	Origin       model.Origin
}

// OrderResult 下单结果，撮合在返回前完成
type OrderResult struct {
	Order          model.Order
	Trades         []model.Trade
	ExecutedValue  *apd.Decimal
	RequestedValue *apd.Decimal
}

// SubmitOrder 校验、撮合并处理剩余量：限价单挂入订单簿，市价单剩余撤销
func (x *Exchange) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*OrderResult, error) {
	ctx, span := tracing.StartSpan(ctx, "exchange.SubmitOrder")
	defer span.End()
	log := x.log.WithContext(ctx)

	if err := x.normalize(&req); err != nil {
		metrics.IncOrdersRejected(string(err.Code))
		tracing.SetError(ctx, err)
		log.Warnf("order rejected", map[string]any{
			"code":      string(err.Code),
			"reason":    err.Message,
			"accountId": req.AccountID,
		})
		return nil, err
	}
	metrics.IncOrdersSubmitted(req.Type.String(), req.Origin.String())

	order := model.Order{
		ID:           req.OrderID,
		InstrumentID: req.InstrumentID,
		AccountID:    req.AccountID,
		Direction:    req.Direction,
		Type:         req.Type,
		Price:        req.Price,
		Quantity:     req.Quantity,
		Status:       model.StatusNew,
		CreatedAt:    x.now(),
		Origin:       req.Origin,
	}

	x.submitMu.Lock()
	defer x.submitMu.Unlock()

	if _, exists := x.book.GetOrder(order.ID); exists {
		err := commonerrors.New(commonerrors.CodeAlreadyExists, "order id already resting in book")
		metrics.IncOrdersRejected(string(err.Code))
		tracing.SetError(ctx, err)
		return nil, err
	}

	x.sink.Publish(event.OrderChanged(order, order.CreatedAt))
	trades := x.engine.ExecuteOrder(&order)
	tracing.AddEvent(ctx, "matched", attribute.Int("trades", len(trades)), attribute.Int64("filled", order.FilledQuantity))

	if order.Remaining() > 0 {
		if order.Type == model.OrderTypeLimit {
			if err := x.book.AddOrder(&order); err != nil {
				log.WithError(err).Warnf("limit remainder not rested", map[string]any{"orderId": order.ID.String()})
				x.cancelUnrested(&order)
			}
		} else {
			x.cancelUnrested(&order)
		}
	}

	for _, t := range trades {
		x.ledger.ApplyTrade(t)
	}
	if n := len(trades); n > 0 {
		x.ledger.MarkPrice(order.InstrumentID, decimal.FromTicks(trades[n-1].Price, x.cfg.PriceScale))
	}

	res := &OrderResult{
		Order:          order,
		Trades:         trades,
		ExecutedValue:  x.value(trades),
		RequestedValue: decimal.Zero(),
	}
	if order.Type == model.OrderTypeLimit {
		res.RequestedValue = decimal.Mul(decimal.FromTicks(order.Price, x.cfg.PriceScale), decimal.FromInt(order.Quantity))
	} else {
		res.RequestedValue = res.ExecutedValue
	}

	log.Infof("order processed", map[string]any{
		"orderId":   order.ID.String(),
		"accountId": order.AccountID,
		"direction": order.Direction.String(),
		"type":      order.Type.String(),
		"origin":    order.Origin.String(),
		"quantity":  order.Quantity,
		"filled":    order.FilledQuantity,
		"status":    order.Status.String(),
		"trades":    len(trades),
		"executed":  decimal.String(res.ExecutedValue),
	})
	return res, nil
}

func (x *Exchange) cancelUnrested(o *model.Order) {
	if o.Cancel() {
		x.sink.Publish(event.OrderChanged(*o, x.now()))
	}
}

func (x *Exchange) normalize(req *SubmitOrderRequest) *commonerrors.Error {
	if req.Origin == 0 {
		req.Origin = model.OriginAPI
	}
	switch req.Origin {
	case model.OriginAPI, model.OriginAdminPanel:
	default:
		return commonerrors.NewWithDefault(commonerrors.CodeInvalidOrigin, "")
	}
	if req.AccountID == "" {
		if req.Origin == model.OriginAPI {
			req.AccountID = x.ledger.AccountID()
		} else {
			req.AccountID = x.cfg.AdminAccount
		}
	}
	if req.InstrumentID == "" {
		req.InstrumentID = x.cfg.InstrumentID
	}
	if req.InstrumentID != x.cfg.InstrumentID {
		return commonerrors.Newf(commonerrors.CodeInstrumentNotFound, "instrument %s is not traded here", req.InstrumentID)
	}
	if req.Direction != model.DirectionBuy && req.Direction != model.DirectionSell {
		return commonerrors.NewWithDefault(commonerrors.CodeInvalidSide, "")
	}
	if req.Quantity <= 0 {
		return commonerrors.Newf(commonerrors.CodeInvalidQuantity, "quantity must be positive, got %d", req.Quantity)
	}
	switch req.Type {
	case model.OrderTypeLimit:
		if req.Price <= 0 {
			return commonerrors.New(commonerrors.CodeInvalidPrice, "limit order requires a positive price")
		}
	case model.OrderTypeMarket:
		req.Price = 0
	default:
		return commonerrors.NewWithDefault(commonerrors.CodeInvalidOrderType, "")
	}
	if req.OrderID == uuid.Nil {
		req.OrderID = uuid.New()
	}
	return nil
}

func (x *Exchange) value(trades []model.Trade) *apd.Decimal {
	total := decimal.Zero()
	for _, t := range trades {
		total = decimal.Add(total, decimal.Mul(decimal.FromTicks(t.Price, x.cfg.PriceScale), decimal.FromInt(t.Quantity)))
	}
	return total
}

// CancelOrder 撤销 accountID 自己的挂单
func (x *Exchange) CancelOrder(ctx context.Context, orderID uuid.UUID, accountID string) (model.Order, error) {
	ctx, span := tracing.StartSpan(ctx, "exchange.CancelOrder")
	defer span.End()

	if accountID == "" {
		accountID = x.ledger.AccountID()
	}
	result, o := x.book.CancelOrder(orderID, accountID)
	metrics.IncCancel(result.String())

	fields := map[string]any{"orderId": orderID.String(), "accountId": accountID, "result": result.String()}
	switch result {
	case orderbook.CancelOK:
		x.log.WithContext(ctx).Infof("order cancelled", fields)
		return o, nil
	case orderbook.CancelDenied:
		err := commonerrors.New(commonerrors.CodePermissionDenied, "order belongs to another account")
		tracing.SetError(ctx, err)
		x.log.WithContext(ctx).Warnf("cancel denied", fields)
		return model.Order{}, err
	default:
		x.log.WithContext(ctx).Debugf("cancel target not found", fields)
		return model.Order{}, commonerrors.ErrOrderNotFound
	}
}

// ForceCancel 管理端撤单，不校验归属
func (x *Exchange) ForceCancel(ctx context.Context, orderID uuid.UUID) (model.Order, error) {
	o, ok := x.book.ForceCancel(orderID)
	if !ok {
		metrics.IncCancel(orderbook.CancelNotFound.String())
		return model.Order{}, commonerrors.ErrOrderNotFound
	}
	metrics.IncCancel(orderbook.CancelOK.String())
	x.log.WithContext(ctx).Infof("order force cancelled", map[string]any{"orderId": orderID.String(), "accountId": o.AccountID})
	return o, nil
}

// OrderBook depth<=0 返回全部档位
func (x *Exchange) OrderBook(depth int) model.BookSnapshot {
	return x.book.Snapshot(depth)
}

// Orders accountID 为空时返回全部挂单
func (x *Exchange) Orders(accountID string) []model.Order {
	if accountID == "" {
		return x.book.AllOrders()
	}
	return x.book.OrdersForAccount(accountID)
}

// Quotes 最优买卖价
type Quotes struct {
	Bid    int64
	HasBid bool
	Ask    int64
	HasAsk bool
}

func (x *Exchange) BestPrices() Quotes {
	var q Quotes
	q.Bid, q.HasBid = x.book.BestBid()
	q.Ask, q.HasAsk = x.book.BestAsk()
	return q
}

func (x *Exchange) Account() model.Account {
	return x.ledger.Account()
}

// Portfolio 组合价值。ref 为空时依次取最优买价、最优卖价、兜底价
func (x *Exchange) Portfolio(ref *apd.Decimal) *apd.Decimal {
	if ref == nil {
		q := x.BestPrices()
		switch {
		case q.HasBid:
			ref = decimal.FromTicks(q.Bid, x.cfg.PriceScale)
		case q.HasAsk:
			ref = decimal.FromTicks(q.Ask, x.cfg.PriceScale)
		default:
			ref = x.cfg.FallbackPrice
		}
	}
	return x.ledger.PortfolioValue(ref)
}

// MaxLots 可买/可卖手数。ref 为空或为 0 时依次取最优卖价、最优买价，都没有时返回 0
func (x *Exchange) MaxLots(isBuy bool, ref *apd.Decimal) (int64, error) {
	if ref != nil && ref.Sign() < 0 {
		return 0, commonerrors.New(commonerrors.CodeInvalidPrice, "reference price must not be negative")
	}
	if ref == nil || ref.Sign() == 0 {
		q := x.BestPrices()
		switch {
		case q.HasAsk:
			ref = decimal.FromTicks(q.Ask, x.cfg.PriceScale)
		case q.HasBid:
			ref = decimal.FromTicks(q.Bid, x.cfg.PriceScale)
		default:
			return 0, nil
		}
	}
	return x.ledger.MaxLots(isBuy, ref), nil
}

// Seed 挂入启动做市报价
func (x *Exchange) Seed(ctx context.Context) error {
	quotes := []struct {
		dir   model.Direction
		price int64
	}{
		{model.DirectionBuy, x.cfg.InitialBid},
		{model.DirectionSell, x.cfg.InitialAsk},
	}
	for _, q := range quotes {
		if q.price <= 0 {
			continue
		}
		if _, err := x.SubmitOrder(ctx, SubmitOrderRequest{
			AccountID: x.cfg.MarketMakerAccount,
			Direction: q.dir,
			Type:      model.OrderTypeLimit,
			Price:     q.price,
			Quantity:  x.cfg.InitialQuoteQty,
			Origin:    model.OriginAdminPanel,
		}); err != nil {
			return err
		}
		x.log.Infof("initial quote placed", map[string]any{
			"direction": q.dir.String(),
			"price":     decimal.FormatTicks(q.price, x.cfg.PriceScale),
			"quantity":  x.cfg.InitialQuoteQty,
		})
	}
	return nil
}

// Reset 清空订单簿、恢复账户并重新挂做市报价
func (x *Exchange) Reset(ctx context.Context) error {
	x.submitMu.Lock()
	x.book.Clear()
	x.ledger.Reset()
	x.submitMu.Unlock()
	x.log.WithContext(ctx).Warn("exchange reset")
	return x.Seed(ctx)
}

// Codec 对外视图编码
func (x *Exchange) Codec() event.Codec {
	return event.Codec{PriceScale: x.cfg.PriceScale}
}

// InstrumentID 交易标的
func (x *Exchange) InstrumentID() string { return x.cfg.InstrumentID }

// Currency 账户与估值币种
func (x *Exchange) Currency() string { return x.cfg.Currency }

// Instrument 标的描述
type Instrument struct {
	ID                string
	Ticker            string
	FIGI              string
	Name              string
	ClassCode         string
	Lot               int64
	Currency          string
	PriceScale        int32
	APITradeAvailable bool
}

// TradingStatus 标的交易状态。模拟器始终处于正常交易
type TradingStatus struct {
	InstrumentID         string
	Status               string
	LimitOrderAvailable  bool
	MarketOrderAvailable bool
	APITradeAvailable    bool
}

const (
	classCode           = "TQBR"
	statusNormalTrading = "NORMAL_TRADING"
)

func (x *Exchange) instrument() Instrument {
	name := x.cfg.Name
	if name == "" {
		name = x.cfg.Ticker
	}
	return Instrument{
		ID:                x.cfg.InstrumentID,
		Ticker:            x.cfg.Ticker,
		FIGI:              x.cfg.FIGI,
		Name:              name,
		ClassCode:         classCode,
		Lot:               x.cfg.Lot,
		Currency:          x.cfg.Currency,
		PriceScale:        x.cfg.PriceScale,
		APITradeAvailable: true,
	}
}

// FindInstrument 按 id、ticker 或 FIGI 不区分大小写精确匹配，无匹配返回空切片
func (x *Exchange) FindInstrument(query string) []Instrument {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Instrument{}
	}
	in := x.instrument()
	for _, key := range []string{in.ID, in.Ticker, in.FIGI} {
		if key != "" && strings.EqualFold(key, query) {
			return []Instrument{in}
		}
	}
	return []Instrument{}
}

// TradingStatus 查询交易状态，仅识别本标的的 id、ticker 或 FIGI
func (x *Exchange) TradingStatus(id string) (TradingStatus, error) {
	found := x.FindInstrument(id)
	if len(found) == 0 {
		return TradingStatus{}, commonerrors.Newf(commonerrors.CodeInstrumentNotFound, "instrument %s not found", id)
	}
	return TradingStatus{
		InstrumentID:         found[0].ID,
		Status:               statusNormalTrading,
		LimitOrderAvailable:  true,
		MarketOrderAvailable: true,
		APITradeAvailable:    true,
	}, nil
}

// RefreshBook 重新推送当前订单簿快照，供定时保活
func (x *Exchange) RefreshBook() {
	x.book.NotifyChange()
}

// PriceScale 价格小数位
func (x *Exchange) PriceScale() int32 { return x.cfg.PriceScale }

// ManagedAccountID 受管账户 id
func (x *Exchange) ManagedAccountID() string { return x.ledger.AccountID() }

// Totals 两侧档位与挂单量，用于指标
func (x *Exchange) Totals() (bidLevels int, bidQty int64, askLevels int, askQty int64) {
	return x.book.Totals()
}
