// Package model 订单、成交、持仓与账户
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Direction 买卖方向
type Direction int

const (
	DirectionBuy Direction = iota + 1
	DirectionSell
)

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "BUY"
	case DirectionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite 对手方向
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDirection 接受 BUY / SELL（大小写不敏感）
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return DirectionBuy, nil
	case "SELL":
		return DirectionSell, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// OrderType 订单类型
type OrderType int

const (
	OrderTypeLimit OrderType = iota + 1
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return OrderTypeLimit, nil
	case "MARKET":
		return OrderTypeMarket, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

// OrderStatus 订单状态
type OrderStatus int

const (
	StatusNew OrderStatus = iota + 1
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OrderStatus) UnmarshalText(b []byte) error {
	for v := StatusNew; v <= StatusRejected; v++ {
		if strings.EqualFold(v.String(), string(b)) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown order status %q", b)
}

// Origin 订单来源。API 为受管账户自身的委托，ADMIN_PANEL 为做市/管理端
type Origin int

const (
	OriginAPI Origin = iota + 1
	OriginAdminPanel
)

func (o Origin) String() string {
	switch o {
	case OriginAPI:
		return "API"
	case OriginAdminPanel:
		return "ADMIN_PANEL"
	default:
		return "UNKNOWN"
	}
}

func (o Origin) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Origin) UnmarshalText(b []byte) error {
	v, err := ParseOrigin(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func ParseOrigin(s string) (Origin, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "API":
		return OriginAPI, nil
	case "ADMIN_PANEL":
		return OriginAdminPanel, nil
	default:
		return 0, fmt.Errorf("unknown origin %q", s)
	}
}

// Order 委托。Price 为最小价格单位整数，MARKET 单为 0
type Order struct {
	ID             uuid.UUID   `json:"orderId"`
	InstrumentID   string      `json:"instrumentId"`
	AccountID      string      `json:"accountId"`
	Direction      Direction   `json:"direction"`
	Type           OrderType   `json:"orderType"`
	Price          int64       `json:"price"`
	Quantity       int64       `json:"quantity"`
	FilledQuantity int64       `json:"filledQuantity"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"createdAt"`
	Origin         Origin      `json:"origin"`
}

// Remaining 剩余未成交数量
func (o *Order) Remaining() int64 {
	return o.Quantity - o.FilledQuantity
}

func (o *Order) IsFilled() bool {
	return o.FilledQuantity >= o.Quantity
}

// IsTerminal FILLED / CANCELLED / REJECTED
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Fill 记录成交。n<=0 或终态订单忽略，累计量不超过委托量
func (o *Order) Fill(n int64) {
	if n <= 0 || o.IsTerminal() {
		return
	}
	o.FilledQuantity = min(o.FilledQuantity+n, o.Quantity)
	if o.IsFilled() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// Cancel NEW / PARTIALLY_FILLED -> CANCELLED
func (o *Order) Cancel() bool {
	if o.Status != StatusNew && o.Status != StatusPartiallyFilled {
		return false
	}
	o.Status = StatusCancelled
	return true
}

// Reject 仅在校验阶段使用
func (o *Order) Reject() bool {
	if o.Status != StatusNew {
		return false
	}
	o.Status = StatusRejected
	return true
}
