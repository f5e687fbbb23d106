// Package jobs 定时任务
package jobs

import (
	"context"
	"fmt"

	"github.com/exchange/emulator/internal/metrics"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Source 报表数据来源
type Source interface {
	InstrumentID() string
	Totals() (bidLevels int, bidQty int64, askLevels int, askQty int64)
	Account() model.Account
}

// Reporter 定时刷新订单簿深度与账户指标
type Reporter struct {
	src Source
	log *logger.Logger
}

func NewReporter(src Source, log *logger.Logger) *Reporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{src: src, log: log.Component("reporter")}
}

// RunOnce 采集一次
func (r *Reporter) RunOnce() {
	instrument := r.src.InstrumentID()
	bidLevels, bidQty, askLevels, askQty := r.src.Totals()
	metrics.SetOrderbookDepth(instrument, "bid", bidLevels, bidQty)
	metrics.SetOrderbookDepth(instrument, "ask", askLevels, askQty)

	acc := r.src.Account()
	balance, err := acc.Balance.Float64()
	if err != nil {
		r.log.WithError(err).Warn("balance not representable as float")
	}
	var position int64
	if p, ok := acc.Positions[instrument]; ok {
		position = p.Quantity
	}
	metrics.SetAccount(balance, instrument, position)

	r.log.Debugf("report", map[string]any{
		"bidLevels": bidLevels,
		"bidQty":    bidQty,
		"askLevels": askLevels,
		"askQty":    askQty,
		"balance":   acc.Balance.String(),
		"position":  position,
	})
}

// Start 按 cron 表达式（支持 @every）调度，ctx 结束时停止
func (r *Reporter) Start(ctx context.Context, spec string) error {
	return runScheduled(ctx, spec, r.RunOnce)
}

// runScheduled 立即执行一次 fn，之后按 spec 周期执行
func runScheduled(ctx context.Context, spec string, fn func()) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	fn()
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		fn()
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
