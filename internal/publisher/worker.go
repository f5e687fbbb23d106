// Package publisher 将领域事件异步转发到 Redis 与 Kafka
package publisher

import (
	"context"
	"time"

	"github.com/exchange/emulator/internal/event"
	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/pkg/health"
	"github.com/exchange/emulator/pkg/logger"
)

const (
	defaultBuffer     = 4096
	heartbeatInterval = 2 * time.Second
)

// Handler 处理单个事件，在 worker goroutine 中调用
type Handler interface {
	Handle(ctx context.Context, ev event.Event) error
}

// Worker 事件中心订阅者：Deliver 非阻塞入队，后台 goroutine 逐个处理
type Worker struct {
	name    string
	handler Handler
	queue   chan event.Event
	monitor *health.LoopMonitor
	log     *logger.Logger

	done chan struct{}
}

func NewWorker(name string, handler Handler, buffer int, log *logger.Logger) *Worker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{
		name:    name,
		handler: handler,
		queue:   make(chan event.Event, buffer),
		monitor: &health.LoopMonitor{},
		log:     log.Component("publisher." + name),
		done:    make(chan struct{}),
	}
}

func (w *Worker) Name() string { return w.name }

// Monitor 用于就绪检查
func (w *Worker) Monitor() *health.LoopMonitor { return w.monitor }

// Deliver 实现 event.Subscriber。队列满时丢弃事件并计数，不移除订阅
func (w *Worker) Deliver(ev event.Event) error {
	select {
	case w.queue <- ev:
	default:
		metrics.IncPublishError(w.name)
		w.log.Warnf("queue full, event dropped", map[string]any{
			"eventType": string(ev.Type),
			"seq":       ev.Seq,
		})
	}
	return nil
}

// Run 处理队列直到 ctx 结束，退出前尽量排空已入队事件
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	w.monitor.Beat()

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case ev := <-w.queue:
			w.handle(ctx, ev)
		case <-ticker.C:
			w.monitor.Beat()
			metrics.SetSinkQueueDepth(w.name, len(w.queue))
		}
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-w.queue:
			w.handle(ctx, ev)
		default:
			return
		}
	}
}

func (w *Worker) handle(ctx context.Context, ev event.Event) {
	err := w.handler.Handle(ctx, ev)
	w.monitor.Record(err)
	if err != nil {
		metrics.IncPublishError(w.name)
		w.log.WithError(err).Errorf("publish failed", map[string]any{
			"eventType": string(ev.Type),
			"seq":       ev.Seq,
		})
	}
}

// Wait 等待 Run 退出
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
