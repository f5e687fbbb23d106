package model

import (
	"time"

	"github.com/cockroachdb/apd"
	"github.com/google/uuid"
)

// Trade 成交记录，创建后不可变。价格取被动方价位
type Trade struct {
	ID                 int64     `json:"tradeId"`
	InstrumentID       string    `json:"instrumentId"`
	AggressorOrderID   uuid.UUID `json:"aggressorOrderId"`
	AggressorAccountID string    `json:"aggressorAccountId"`
	AggressorOrigin    Origin    `json:"aggressorOrigin"`
	AggressorDirection Direction `json:"aggressorDirection"`
	PassiveOrderID     uuid.UUID `json:"passiveOrderId"`
	PassiveAccountID   string    `json:"passiveAccountId"`
	PassiveOrigin      Origin    `json:"passiveOrigin"`
	Price              int64     `json:"price"`
	Quantity           int64     `json:"quantity"`
	Timestamp          time.Time `json:"timestamp"`
}

// Value price·quantity（最小价格单位）
func (t Trade) Value() int64 {
	return t.Price * t.Quantity
}

// Position 单一标的持仓，Quantity 有符号（空头为负）
type Position struct {
	InstrumentID string
	Quantity     int64
	AveragePrice apd.Decimal
	CurrentPrice apd.Decimal
}

// Account 受管账户
type Account struct {
	ID        string
	Balance   apd.Decimal
	Positions map[string]*Position
}

// Position 获取持仓，不存在时创建空仓
func (a *Account) Position(instrumentID string) *Position {
	if a.Positions == nil {
		a.Positions = make(map[string]*Position)
	}
	p, ok := a.Positions[instrumentID]
	if !ok {
		p = &Position{InstrumentID: instrumentID}
		a.Positions[instrumentID] = p
	}
	return p
}

// Clone 深拷贝
func (a *Account) Clone() Account {
	out := Account{ID: a.ID, Positions: make(map[string]*Position, len(a.Positions))}
	out.Balance.Set(&a.Balance)
	for k, p := range a.Positions {
		cp := &Position{InstrumentID: p.InstrumentID, Quantity: p.Quantity}
		cp.AveragePrice.Set(&p.AveragePrice)
		cp.CurrentPrice.Set(&p.CurrentPrice)
		out.Positions[k] = cp
	}
	return out
}
