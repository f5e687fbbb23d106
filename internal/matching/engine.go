// Package matching 价格优先、同价位按比例分配的撮合引擎
package matching

import (
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/internal/orderbook"
	"github.com/exchange/emulator/pkg/decimal"
	"github.com/exchange/emulator/pkg/logger"
)

// IDGenerator 成交 ID 来源
type IDGenerator interface {
	Next() int64
}

// Engine 撮合引擎，无自身状态，全部修改在订单簿写锁内完成
type Engine struct {
	book       *orderbook.Manager
	sink       event.Sink
	ids        IDGenerator
	now        func() time.Time
	log        *logger.Logger
	priceScale int32
}

type Option func(*Engine)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPriceScale 仅用于日志中的价格格式
func WithPriceScale(scale int32) Option {
	return func(e *Engine) { e.priceScale = scale }
}

func NewEngine(book *orderbook.Manager, sink event.Sink, ids IDGenerator, log *logger.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = event.Discard
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		book: book,
		sink: sink,
		ids:  ids,
		now:  time.Now,
		log:  log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteOrder 以 aggressor 对订单簿撮合，就地更新 aggressor 的成交量与状态，
// 返回按执行顺序排列的成交。aggressor 本身不会挂入订单簿
func (e *Engine) ExecuteOrder(aggressor *model.Order) []model.Trade {
	// 已终结的订单不得再成交
	if aggressor == nil || aggressor.Quantity <= 0 || aggressor.Remaining() <= 0 || aggressor.IsTerminal() {
		return nil
	}

	start := time.Now()
	var trades []model.Trade
	e.book.Match(func(b *orderbook.Book) bool {
		trades = e.walk(b, aggressor)
		return len(trades) > 0
	})

	metrics.ObserveMatchingLatency(time.Since(start))
	metrics.AddMatchingThroughput(1)
	return trades
}

func (e *Engine) walk(b *orderbook.Book, aggressor *model.Order) []model.Trade {
	var trades []model.Trade
	opposite := aggressor.Direction.Opposite()

	for aggressor.Remaining() > 0 {
		price, ok := b.BestPrice(opposite)
		if !ok {
			e.log.Debugf("opposite side empty", map[string]any{"orderId": aggressor.ID.String()})
			break
		}
		if !crosses(aggressor, price) {
			e.log.Debugf("limit reached", map[string]any{
				"orderId": aggressor.ID.String(),
				"limit":   e.format(aggressor.Price),
				"best":    e.format(price),
			})
			break
		}

		passive := b.LevelOrders(opposite, price)
		remaining := make([]int64, len(passive))
		for i, p := range passive {
			remaining[i] = p.Remaining()
		}
		qty := min(aggressor.Remaining(), b.LevelTotal(opposite, price))
		alloc := Allocate(qty, remaining)

		e.log.Debugf("matching level", map[string]any{
			"orderId": aggressor.ID.String(),
			"price":   e.format(price),
			"qty":     qty,
			"orders":  len(passive),
		})

		for i, p := range passive {
			if alloc[i] <= 0 {
				continue
			}
			filled, _ := b.Fill(p.ID, alloc[i])
			if filled <= 0 {
				continue
			}
			aggressor.Fill(filled)

			t := model.Trade{
				ID:                 e.ids.Next(),
				InstrumentID:       b.InstrumentID(),
				AggressorOrderID:   aggressor.ID,
				AggressorAccountID: aggressor.AccountID,
				AggressorOrigin:    aggressor.Origin,
				AggressorDirection: aggressor.Direction,
				PassiveOrderID:     p.ID,
				PassiveAccountID:   p.AccountID,
				PassiveOrigin:      p.Origin,
				Price:              price,
				Quantity:           filled,
				Timestamp:          e.now(),
			}
			trades = append(trades, t)
			metrics.RecordTrade(t.InstrumentID, t.Quantity)

			e.sink.Publish(event.TradeExecuted(t))
			e.sink.Publish(event.OrderChanged(*p, t.Timestamp))
			e.sink.Publish(event.OrderChanged(*aggressor, t.Timestamp))

			e.log.Infof("trade executed", map[string]any{
				"tradeId":   t.ID,
				"price":     e.format(price),
				"qty":       filled,
				"aggressor": aggressor.ID.String(),
				"passive":   p.ID.String(),
			})
		}

		// 价位未被吃光说明 aggressor 已无剩余
		if b.HasLevel(opposite, price) {
			break
		}
	}
	return trades
}

// crosses 市价单不受价格限制；限价买单在卖价高于限价时停止，卖单在买价低于限价时停止
func crosses(o *model.Order, best int64) bool {
	if o.Type == model.OrderTypeMarket {
		return true
	}
	if o.Direction == model.DirectionBuy {
		return best <= o.Price
	}
	return best >= o.Price
}

func (e *Engine) format(ticks int64) string {
	return decimal.FormatTicks(ticks, e.priceScale)
}
