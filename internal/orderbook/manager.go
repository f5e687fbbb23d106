package orderbook

import (
	"errors"
	"sync"
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/pkg/logger"
	"github.com/google/uuid"
)

// DefaultNotifyDepth 订单簿变化事件携带的档位数
const DefaultNotifyDepth = 50

var (
	ErrDuplicateOrder = errors.New("order already in book")
	ErrEmptyOrder     = errors.New("order has no remaining quantity")
	ErrWrongBook      = errors.New("order instrument does not match book")
)

// CancelResult 撤单结果
type CancelResult int

const (
	CancelOK CancelResult = iota + 1
	CancelNotFound
	CancelDenied
)

func (r CancelResult) String() string {
	switch r {
	case CancelOK:
		return "cancelled"
	case CancelNotFound:
		return "not_found"
	case CancelDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Manager 持有订单簿及其读写锁。增删、撤单与撮合持写锁完成，快照与最优价持读锁
type Manager struct {
	mu          sync.RWMutex
	book        *Book
	sink        event.Sink
	notifyDepth int
	now         func() time.Time
	log         *logger.Logger
}

type Option func(*Manager)

// WithNotifyDepth 订单簿变化事件的档位数
func WithNotifyDepth(depth int) Option {
	return func(m *Manager) {
		if depth > 0 {
			m.notifyDepth = depth
		}
	}
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(instrumentID string, sink event.Sink, log *logger.Logger, opts ...Option) *Manager {
	if sink == nil {
		sink = event.Discard
	}
	if log == nil {
		log = logger.Nop()
	}
	m := &Manager{
		book:        newBook(instrumentID),
		sink:        sink,
		notifyDepth: DefaultNotifyDepth,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) InstrumentID() string { return m.book.instrumentID }

// AddOrder 挂单。簿保存副本；重复 id 返回 ErrDuplicateOrder 且不修改簿
func (m *Manager) AddOrder(o *model.Order) error {
	if o.Remaining() <= 0 {
		return ErrEmptyOrder
	}
	if o.InstrumentID != m.book.instrumentID {
		return ErrWrongBook
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.book.Contains(o.ID) {
		m.log.Warnf("duplicate order ignored", map[string]any{"orderId": o.ID.String()})
		return ErrDuplicateOrder
	}
	cp := *o
	m.book.insert(&cp)
	m.notifyLocked()
	return nil
}

// RemoveOrder 移除订单，不改变其状态。不存在返回 false 且不发事件
func (m *Manager) RemoveOrder(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.book.remove(id); !ok {
		return false
	}
	m.notifyLocked()
	return true
}

// CancelOrder 原子地校验归属并撤单
func (m *Manager) CancelOrder(id uuid.UUID, accountID string) (CancelResult, model.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.book.get(id)
	if !ok {
		return CancelNotFound, model.Order{}
	}
	if o.AccountID != accountID {
		return CancelDenied, model.Order{}
	}
	return CancelOK, m.cancelLocked(id)
}

// ForceCancel 管理端撤单，不校验归属
func (m *Manager) ForceCancel(id uuid.UUID) (model.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.book.Contains(id) {
		return model.Order{}, false
	}
	return m.cancelLocked(id), true
}

func (m *Manager) cancelLocked(id uuid.UUID) model.Order {
	o, _ := m.book.remove(id)
	o.Cancel()
	out := *o
	m.sink.Publish(event.OrderChanged(out, m.now()))
	m.notifyLocked()
	return out
}

// Match 在写锁内执行 fn；fn 返回 true 表示簿有变化，此时发出一次订单簿变化事件
func (m *Manager) Match(fn func(b *Book) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fn(m.book) {
		m.notifyLocked()
	}
}

// NotifyChange 发出一次订单簿变化事件
func (m *Manager) NotifyChange() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.notifyLocked()
}

func (m *Manager) notifyLocked() {
	m.sink.Publish(event.BookChanged(m.snapshotLocked(m.notifyDepth)))
}

// Snapshot 深拷贝前 depth 档（depth<=0 为全部），与后续变化无关
func (m *Manager) Snapshot(depth int) model.BookSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(depth)
}

func (m *Manager) snapshotLocked(depth int) model.BookSnapshot {
	bids, asks := m.book.snapshot(depth)
	return model.BookSnapshot{
		InstrumentID: m.book.instrumentID,
		Bids:         bids,
		Asks:         asks,
		Timestamp:    m.now(),
	}
}

func (m *Manager) BestBid() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.BestPrice(model.DirectionBuy)
}

func (m *Manager) BestAsk() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.BestPrice(model.DirectionSell)
}

// Totals 每侧档位数与挂单总量
func (m *Manager) Totals() (bidLevels int, bidQty int64, askLevels int, askQty int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bidLevels, bidQty = m.book.bids.totals()
	askLevels, askQty = m.book.asks.totals()
	return
}

// GetOrder 返回订单副本
func (m *Manager) GetOrder(id uuid.UUID) (model.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.book.get(id)
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// OrdersForAccount 账户挂单，按到达顺序
func (m *Manager) OrdersForAccount(accountID string) []model.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.book.byAccount[accountID]; !ok {
		return []model.Order{}
	}
	return m.book.sortedOrders(func(o *model.Order) bool { return o.AccountID == accountID })
}

// AllOrders 全部挂单，按到达顺序
func (m *Manager) AllOrders() []model.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.sortedOrders(nil)
}

// Clear 清空订单簿（管理/测试）
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = newBook(m.book.instrumentID)
	m.notifyLocked()
}
