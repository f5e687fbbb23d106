package jobs

import (
	"context"

	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/pkg/logger"
)

// BookSource 可重推订单簿快照的来源
type BookSource interface {
	InstrumentID() string
	RefreshBook()
}

// BookRefresher 定时重推完整订单簿快照，订阅者即使错过增量也能在一个周期内追平
type BookRefresher struct {
	src BookSource
	log *logger.Logger
}

func NewBookRefresher(src BookSource, log *logger.Logger) *BookRefresher {
	if log == nil {
		log = logger.Nop()
	}
	return &BookRefresher{src: src, log: log.Component("book-refresher")}
}

func (b *BookRefresher) RunOnce() {
	b.src.RefreshBook()
	metrics.IncBookRefresh(b.src.InstrumentID())
}

// Start 按 cron 表达式调度，ctx 结束时停止
func (b *BookRefresher) Start(ctx context.Context, spec string) error {
	if err := runScheduled(ctx, spec, b.RunOnce); err != nil {
		return err
	}
	b.log.Infof("book refresh scheduled", map[string]any{"schedule": spec})
	return nil
}
