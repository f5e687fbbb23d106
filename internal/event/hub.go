package event

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/pkg/logger"
)

// Subscriber 事件订阅者。Deliver 返回错误或 panic 时被移除
type Subscriber interface {
	Deliver(Event) error
}

// SubscriberFunc 函数适配
type SubscriberFunc func(Event) error

func (f SubscriberFunc) Deliver(ev Event) error { return f(ev) }

// Hub 将事件同步分发给全部订阅者，并分配单调递增序号。
// 序号分配与分发在同一把锁内完成，每个订阅者按序号顺序收到事件；
// Deliver 内不得再调用 Publish
type Hub struct {
	mu        sync.RWMutex
	publishMu sync.Mutex
	subs   map[int64]*subscription
	nextID int64
	seq    atomic.Int64
	now    func() time.Time
	log    *logger.Logger
}

type subscription struct {
	name string
	sub  Subscriber
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		subs: make(map[int64]*subscription),
		now:  time.Now,
		log:  log,
	}
}

// Subscribe 注册订阅者，返回用于退订的 id
func (h *Hub) Subscribe(name string, s Subscriber) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{name: name, sub: s}
	metrics.SetSubscribers(len(h.subs))
	return id
}

// Unsubscribe 重复退订无副作用
func (h *Hub) Unsubscribe(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return false
	}
	delete(h.subs, id)
	metrics.SetSubscribers(len(h.subs))
	return true
}

// Len 当前订阅者数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish 实现 Sink
func (h *Hub) Publish(ev Event) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	ev.Seq = h.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}

	h.mu.RLock()
	targets := make(map[int64]*subscription, len(h.subs))
	for id, s := range h.subs {
		targets[id] = s
	}
	h.mu.RUnlock()

	for id, s := range targets {
		if err := deliver(s.sub, ev); err != nil {
			h.Unsubscribe(id)
			metrics.IncSubscriberDropped(s.name)
			h.log.WithError(err).Warnf("subscriber dropped", map[string]any{
				"subscriber": s.name,
				"eventType":  string(ev.Type),
				"seq":        ev.Seq,
			})
		}
	}
}

func deliver(s Subscriber, ev Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("subscriber panic: %v", v)
		}
	}()
	return s.Deliver(ev)
}
