// Package orderbook 单标的订单簿：按价格排序的价位，价位内按到达顺序
package orderbook

import (
	"sort"

	"github.com/exchange/emulator/internal/model"
	"github.com/google/uuid"
)

// priceLevel 只保存订单 id，订单状态唯一存放在 Book.orders
type priceLevel struct {
	price int64
	ids   []uuid.UUID
	total int64 // 剩余数量之和
}

type bookSide struct {
	levels     map[int64]*priceLevel
	prices     []int64 // 买盘降序，卖盘升序
	descending bool
}

func newBookSide(descending bool) *bookSide {
	return &bookSide{levels: make(map[int64]*priceLevel), descending: descending}
}

type entry struct {
	order *model.Order
	seq   uint64
}

// Book 订单簿数据结构，不加锁，由 Manager 持锁访问
type Book struct {
	instrumentID string
	bids         *bookSide
	asks         *bookSide
	orders       map[uuid.UUID]*entry
	byAccount    map[string]map[uuid.UUID]struct{}
	seq          uint64
}

func newBook(instrumentID string) *Book {
	return &Book{
		instrumentID: instrumentID,
		bids:         newBookSide(true),
		asks:         newBookSide(false),
		orders:       make(map[uuid.UUID]*entry),
		byAccount:    make(map[string]map[uuid.UUID]struct{}),
	}
}

// InstrumentID 标的
func (b *Book) InstrumentID() string { return b.instrumentID }

func (b *Book) side(d model.Direction) *bookSide {
	if d == model.DirectionBuy {
		return b.bids
	}
	return b.asks
}

// Contains 订单是否在簿中
func (b *Book) Contains(id uuid.UUID) bool {
	_, ok := b.orders[id]
	return ok
}

// insert 调用方保证 id 不重复且剩余量>0
func (b *Book) insert(o *model.Order) {
	s := b.side(o.Direction)
	lvl, ok := s.levels[o.Price]
	if !ok {
		lvl = &priceLevel{price: o.Price}
		s.levels[o.Price] = lvl
		s.prices = insertPrice(s.prices, o.Price, s.descending)
	}
	lvl.ids = append(lvl.ids, o.ID)
	lvl.total += o.Remaining()

	b.seq++
	b.orders[o.ID] = &entry{order: o, seq: b.seq}
	ids, ok := b.byAccount[o.AccountID]
	if !ok {
		ids = make(map[uuid.UUID]struct{})
		b.byAccount[o.AccountID] = ids
	}
	ids[o.ID] = struct{}{}
}

// remove 从价位、簿和账户索引中同时移除
func (b *Book) remove(id uuid.UUID) (*model.Order, bool) {
	e, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	o := e.order
	s := b.side(o.Direction)
	if lvl, ok := s.levels[o.Price]; ok {
		for i, oid := range lvl.ids {
			if oid == id {
				lvl.ids = append(lvl.ids[:i], lvl.ids[i+1:]...)
				break
			}
		}
		lvl.total -= o.Remaining()
		if len(lvl.ids) == 0 {
			delete(s.levels, o.Price)
			s.prices = removePrice(s.prices, o.Price, s.descending)
		}
	}

	delete(b.orders, id)
	if ids, ok := b.byAccount[o.AccountID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(b.byAccount, o.AccountID)
		}
	}
	return o, true
}

// BestPrice 指定方向的最优价
func (b *Book) BestPrice(d model.Direction) (int64, bool) {
	s := b.side(d)
	if len(s.prices) == 0 {
		return 0, false
	}
	return s.prices[0], true
}

// HasLevel 价位是否存在
func (b *Book) HasLevel(d model.Direction, price int64) bool {
	_, ok := b.side(d).levels[price]
	return ok
}

// LevelTotal 价位剩余总量，不存在为 0
func (b *Book) LevelTotal(d model.Direction, price int64) int64 {
	if lvl, ok := b.side(d).levels[price]; ok {
		return lvl.total
	}
	return 0
}

// LevelOrders 价位内订单（到达顺序）。返回簿内对象，只读，修改须经 Fill
func (b *Book) LevelOrders(d model.Direction, price int64) []*model.Order {
	lvl, ok := b.side(d).levels[price]
	if !ok {
		return nil
	}
	out := make([]*model.Order, 0, len(lvl.ids))
	for _, id := range lvl.ids {
		if e, ok := b.orders[id]; ok {
			out = append(out, e.order)
		}
	}
	return out
}

// Fill 被动方成交 qty（按剩余量截断），维护价位总量；完全成交时移出簿。
// 返回实际成交量与是否已移出
func (b *Book) Fill(id uuid.UUID, qty int64) (filled int64, removed bool) {
	e, ok := b.orders[id]
	if !ok || qty <= 0 {
		return 0, false
	}
	o := e.order
	filled = min(qty, o.Remaining())
	if filled <= 0 {
		return 0, false
	}

	if lvl, ok := b.side(o.Direction).levels[o.Price]; ok {
		lvl.total -= filled
	}
	o.Fill(filled)

	if o.Remaining() == 0 {
		b.remove(id)
		return filled, true
	}
	return filled, false
}

func (b *Book) get(id uuid.UUID) (*model.Order, bool) {
	e, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	return e.order, true
}

func (b *Book) snapshot(depth int) (bids, asks []model.BookLevel) {
	return b.bids.snapshot(b, depth), b.asks.snapshot(b, depth)
}

func (s *bookSide) snapshot(b *Book, depth int) []model.BookLevel {
	n := len(s.prices)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]model.BookLevel, 0, n)
	for _, price := range s.prices[:n] {
		lvl := s.levels[price]
		bl := model.BookLevel{Price: price, Quantity: lvl.total, Orders: make([]model.Order, 0, len(lvl.ids))}
		for _, id := range lvl.ids {
			o := b.orders[id].order
			if o.Origin == model.OriginAPI {
				bl.APIQuantity += o.Remaining()
			}
			bl.Orders = append(bl.Orders, *o)
		}
		out = append(out, bl)
	}
	return out
}

func (s *bookSide) totals() (levels int, qty int64) {
	for _, lvl := range s.levels {
		qty += lvl.total
	}
	return len(s.levels), qty
}

// sortedOrders 按到达顺序复制订单
func (b *Book) sortedOrders(filter func(*model.Order) bool) []model.Order {
	entries := make([]*entry, 0, len(b.orders))
	for _, e := range b.orders {
		if filter == nil || filter(e.order) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]model.Order, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.order)
	}
	return out
}

// insertPrice 插入价格保持有序
func insertPrice(prices []int64, price int64, descending bool) []int64 {
	i := searchPrice(prices, price, descending)
	prices = append(prices, 0)
	copy(prices[i+1:], prices[i:])
	prices[i] = price
	return prices
}

// removePrice 移除价格
func removePrice(prices []int64, price int64, descending bool) []int64 {
	i := searchPrice(prices, price, descending)
	if i < len(prices) && prices[i] == price {
		return append(prices[:i], prices[i+1:]...)
	}
	return prices
}

func searchPrice(prices []int64, price int64, descending bool) int {
	return sort.Search(len(prices), func(i int) bool {
		if descending {
			return prices[i] <= price
		}
		return prices[i] >= price
	})
}
