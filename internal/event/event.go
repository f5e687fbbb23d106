// Package event 订单簿、订单与成交事件及其分发
package event

import (
	"time"

	"github.com/exchange/emulator/internal/model"
)

// Type 事件类型
type Type string

const (
	TypeBookChanged   Type = "ORDERBOOK_CHANGED"
	TypeOrderChanged  Type = "ORDER_STATE_CHANGED"
	TypeTradeExecuted Type = "TRADE_EXECUTED"
)

// Event 领域事件。Data 为 model.BookSnapshot / model.Order / model.Trade 值
type Event struct {
	Type      Type
	Seq       int64
	Timestamp time.Time
	Data      any
}

// Sink 事件出口，由订单簿与撮合引擎在持锁时同步调用，不得阻塞
type Sink interface {
	Publish(Event)
}

// SinkFunc 函数适配
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

type discard struct{}

func (discard) Publish(Event) {}

// Discard 丢弃所有事件
var Discard Sink = discard{}

// BookChanged 构造订单簿变化事件
func BookChanged(s model.BookSnapshot) Event {
	return Event{Type: TypeBookChanged, Timestamp: s.Timestamp, Data: s}
}

// OrderChanged 构造订单状态事件
func OrderChanged(o model.Order, at time.Time) Event {
	return Event{Type: TypeOrderChanged, Timestamp: at, Data: o}
}

// TradeExecuted 构造成交事件
func TradeExecuted(t model.Trade) Event {
	return Event{Type: TypeTradeExecuted, Timestamp: t.Timestamp, Data: t}
}

// AccountIDs 订单/成交事件涉及的账户，订单簿事件为空
func (e Event) AccountIDs() []string {
	switch d := e.Data.(type) {
	case model.Order:
		return []string{d.AccountID}
	case model.Trade:
		if d.AggressorAccountID == d.PassiveAccountID {
			return []string{d.AggressorAccountID}
		}
		return []string{d.AggressorAccountID, d.PassiveAccountID}
	default:
		return nil
	}
}
