package event

import (
	"encoding/json"
	"time"

	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/pkg/decimal"
)

// Envelope 所有传输共用的 JSON 外壳
type Envelope struct {
	Type        Type  `json:"type"`
	Seq         int64 `json:"seq"`
	TimestampMs int64 `json:"timestampMs"`
	Data        any   `json:"data"`
}

type OrderView struct {
	OrderID        string            `json:"orderId"`
	InstrumentID   string            `json:"instrumentId"`
	AccountID      string            `json:"accountId"`
	Direction      model.Direction   `json:"direction"`
	OrderType      model.OrderType   `json:"orderType"`
	Price          string            `json:"price"`
	PriceTicks     int64             `json:"priceTicks"`
	Quantity       int64             `json:"quantity"`
	FilledQuantity int64             `json:"filledQuantity"`
	Remaining      int64             `json:"remaining"`
	Status         model.OrderStatus `json:"status"`
	Origin         model.Origin      `json:"origin"`
	CreatedAt      time.Time         `json:"createdAt"`
}

type TradeView struct {
	TradeID            int64           `json:"tradeId"`
	InstrumentID       string          `json:"instrumentId"`
	AggressorOrderID   string          `json:"aggressorOrderId"`
	AggressorAccountID string          `json:"aggressorAccountId"`
	AggressorOrigin    model.Origin    `json:"aggressorOrigin"`
	AggressorDirection model.Direction `json:"aggressorDirection"`
	PassiveOrderID     string          `json:"passiveOrderId"`
	PassiveAccountID   string          `json:"passiveAccountId"`
	PassiveOrigin      model.Origin    `json:"passiveOrigin"`
	Price              string          `json:"price"`
	PriceTicks         int64           `json:"priceTicks"`
	Quantity           int64           `json:"quantity"`
	Timestamp          time.Time       `json:"timestamp"`
}

type LevelView struct {
	Price       string      `json:"price"`
	PriceTicks  int64       `json:"priceTicks"`
	Quantity    int64       `json:"quantity"`
	APIQuantity int64       `json:"apiQuantity"`
	Orders      []OrderView `json:"orders,omitempty"`
}

type BookView struct {
	InstrumentID string      `json:"instrumentId"`
	Bids         []LevelView `json:"bids"`
	Asks         []LevelView `json:"asks"`
	TimestampMs  int64       `json:"timestampMs"`
}

// Codec 将领域值渲染为对外视图。价格同时给出 tick 整数与十进制字符串
type Codec struct {
	PriceScale int32
	// LevelOrders 为 true 时订单簿视图携带每档订单
	LevelOrders bool
}

func (c Codec) Order(o model.Order) OrderView {
	return OrderView{
		OrderID:        o.ID.String(),
		InstrumentID:   o.InstrumentID,
		AccountID:      o.AccountID,
		Direction:      o.Direction,
		OrderType:      o.Type,
		Price:          decimal.FormatTicks(o.Price, c.PriceScale),
		PriceTicks:     o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Remaining:      o.Remaining(),
		Status:         o.Status,
		Origin:         o.Origin,
		CreatedAt:      o.CreatedAt,
	}
}

func (c Codec) Orders(orders []model.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, c.Order(o))
	}
	return out
}

func (c Codec) Trade(t model.Trade) TradeView {
	return TradeView{
		TradeID:            t.ID,
		InstrumentID:       t.InstrumentID,
		AggressorOrderID:   t.AggressorOrderID.String(),
		AggressorAccountID: t.AggressorAccountID,
		AggressorOrigin:    t.AggressorOrigin,
		AggressorDirection: t.AggressorDirection,
		PassiveOrderID:     t.PassiveOrderID.String(),
		PassiveAccountID:   t.PassiveAccountID,
		PassiveOrigin:      t.PassiveOrigin,
		Price:              decimal.FormatTicks(t.Price, c.PriceScale),
		PriceTicks:         t.Price,
		Quantity:           t.Quantity,
		Timestamp:          t.Timestamp,
	}
}

func (c Codec) Trades(trades []model.Trade) []TradeView {
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, c.Trade(t))
	}
	return out
}

func (c Codec) Book(s model.BookSnapshot) BookView {
	return BookView{
		InstrumentID: s.InstrumentID,
		Bids:         c.levels(s.Bids),
		Asks:         c.levels(s.Asks),
		TimestampMs:  s.Timestamp.UnixMilli(),
	}
}

func (c Codec) levels(in []model.BookLevel) []LevelView {
	out := make([]LevelView, 0, len(in))
	for _, l := range in {
		v := LevelView{
			Price:       decimal.FormatTicks(l.Price, c.PriceScale),
			PriceTicks:  l.Price,
			Quantity:    l.Quantity,
			APIQuantity: l.APIQuantity,
		}
		if c.LevelOrders {
			v.Orders = c.Orders(l.Orders)
		}
		out = append(out, v)
	}
	return out
}

// View 渲染事件负载，未知类型原样返回
func (c Codec) View(data any) any {
	switch d := data.(type) {
	case model.BookSnapshot:
		return c.Book(d)
	case model.Order:
		return c.Order(d)
	case model.Trade:
		return c.Trade(d)
	default:
		return d
	}
}

// Envelope 构造外壳
func (c Codec) Envelope(ev Event) Envelope {
	return Envelope{
		Type:        ev.Type,
		Seq:         ev.Seq,
		TimestampMs: ev.Timestamp.UnixMilli(),
		Data:        c.View(ev.Data),
	}
}

// Marshal 编码为 JSON
func (c Codec) Marshal(ev Event) ([]byte, error) {
	return json.Marshal(c.Envelope(ev))
}
