package model

import "time"

// BookLevel 快照中的一个价位，Orders 按到达顺序
type BookLevel struct {
	Price       int64
	Quantity    int64
	APIQuantity int64
	Orders      []Order
}

// BookSnapshot 订单簿深拷贝，与簿后续变化无关
type BookSnapshot struct {
	InstrumentID string
	Bids         []BookLevel
	Asks         []BookLevel
	Timestamp    time.Time
}

// BestBid 第一档买价
func (s *BookSnapshot) BestBid() (int64, bool) {
	if len(s.Bids) == 0 {
		return 0, false
	}
	return s.Bids[0].Price, true
}

// BestAsk 第一档卖价
func (s *BookSnapshot) BestAsk() (int64, bool) {
	if len(s.Asks) == 0 {
		return 0, false
	}
	return s.Asks[0].Price, true
}
