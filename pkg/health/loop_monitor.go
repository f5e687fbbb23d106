package health

import (
	"sync/atomic"
	"time"
)

// LoopMonitor 后台循环的心跳、处理计数与最近一次错误
type LoopMonitor struct {
	lastBeat  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	lastErr   atomic.Pointer[string]
}

// Beat 仅刷新心跳
func (m *LoopMonitor) Beat() {
	m.lastBeat.Store(time.Now().UnixNano())
}

// Record 记录一次处理结果；成功会清除最近错误
func (m *LoopMonitor) Record(err error) {
	m.Beat()
	m.processed.Add(1)
	if err == nil {
		m.lastErr.Store(nil)
		return
	}
	m.failed.Add(1)
	msg := err.Error()
	m.lastErr.Store(&msg)
}

func (m *LoopMonitor) LastError() string {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Counts 已处理与失败次数
func (m *LoopMonitor) Counts() (processed, failed int64) {
	return m.processed.Load(), m.failed.Load()
}

// Healthy 从未心跳时 ok=false；maxAge<=0 取 10s
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastBeat.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	if age = now.Sub(time.Unix(0, last)); age < 0 {
		age = 0
	}
	return age <= maxAge, age, lastErr
}
