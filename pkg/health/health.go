// Package health 存活与就绪检查
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Checker 依赖检查
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type CheckResult struct {
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

type Response struct {
	Status       Status                 `json:"status"`
	Dependencies map[string]CheckResult `json:"dependencies,omitempty"`
}

type Health struct {
	mu       sync.RWMutex
	checkers []Checker
	ready    atomic.Bool
	timeout  time.Duration
}

const defaultCheckTimeout = 2 * time.Second

func New() *Health {
	return &Health{timeout: defaultCheckTimeout}
}

func (h *Health) Register(c Checker) {
	if c == nil {
		return
	}
	h.mu.Lock()
	h.checkers = append(h.checkers, c)
	h.mu.Unlock()
}

func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}

// Live 存活检查（只检查进程是否响应）
func (h *Health) Live() Response {
	return Response{Status: StatusUp}
}

// Ready 就绪检查：未就绪一律 down，否则汇总依赖
func (h *Health) Ready(ctx context.Context) Response {
	deps := h.runChecks(ctx)
	if !h.IsReady() {
		return Response{Status: StatusDown, Dependencies: deps}
	}
	return Response{Status: summarize(deps), Dependencies: deps}
}

func (h *Health) runChecks(ctx context.Context) map[string]CheckResult {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.checkers...)
	h.mu.RUnlock()
	if len(checkers) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := h.checkOne(ctx, c)
			name := c.Name()
			if name == "" {
				name = "unknown"
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(c)
	}

	wg.Wait()
	return results
}

func (h *Health) checkOne(parent context.Context, c Checker) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	resCh := make(chan CheckResult, 1)
	go func() { resCh <- c.Check(ctx) }()

	var res CheckResult
	select {
	case res = <-resCh:
	case <-ctx.Done():
		res = CheckResult{Status: StatusDown, Message: "timeout"}
	}
	if res.Latency <= 0 {
		res.Latency = time.Since(start)
	}
	if res.Status == "" {
		res.Status = StatusDown
	}
	return res
}

func summarize(deps map[string]CheckResult) Status {
	overall := StatusUp
	for _, r := range deps {
		if r.Status != StatusUp {
			overall = StatusDegraded
		}
	}
	return overall
}

func statusCode(s Status) int {
	if s == StatusUp {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Health) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Live()
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Ready(r.Context())
		writeJSON(w, statusCode(resp.Status), resp)
	}
}

// RedisPinger go-redis 客户端子集
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 适配任意 ping 函数
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type pingChecker struct {
	name string
	p    RedisPinger
}

// NewPingChecker 以 ping 结果判断依赖状态
func NewPingChecker(name string, p RedisPinger) Checker {
	return &pingChecker{name: name, p: p}
}

func (c *pingChecker) Name() string { return c.name }

func (c *pingChecker) Check(ctx context.Context) CheckResult {
	if c.p == nil {
		return CheckResult{Status: StatusDown, Message: "nil client"}
	}
	start := time.Now()
	err := c.p.Ping(ctx)
	lat := time.Since(start)
	if err != nil {
		return CheckResult{Status: StatusDown, Latency: lat, Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: lat}
}

type loopChecker struct {
	name   string
	m      *LoopMonitor
	maxAge time.Duration
}

// NewLoopChecker 后台循环最近 maxAge 内有心跳即为 up
func NewLoopChecker(name string, m *LoopMonitor, maxAge time.Duration) Checker {
	return &loopChecker{name: name, m: m, maxAge: maxAge}
}

func (c *loopChecker) Name() string { return c.name }

func (c *loopChecker) Check(context.Context) CheckResult {
	ok, age, lastErr := c.m.Healthy(time.Now(), c.maxAge)
	res := CheckResult{Status: StatusUp, Latency: age}
	if lastErr != "" {
		processed, failed := c.m.Counts()
		res.Message = fmt.Sprintf("%s (failed %d/%d)", lastErr, failed, processed)
	}
	if !ok {
		res.Status = StatusDown
		if res.Message == "" {
			res.Message = "stalled"
		}
	}
	return res
}
