// Package ledger 受管账户的资金与持仓
package ledger

import (
	"sync"

	"github.com/cockroachdb/apd"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/pkg/decimal"
	"github.com/exchange/emulator/pkg/logger"
)

// DefaultAvgPriceScale 持仓均价保留的小数位
const DefaultAvgPriceScale = 9

type Config struct {
	AccountID      string
	InstrumentID   string
	InitialBalance *apd.Decimal
	// 可买/可卖手数的杠杆倍数，nil 视为 1
	MarginMultiplierBuy  *apd.Decimal
	MarginMultiplierSell *apd.Decimal
	PriceScale           int32
	AvgPriceScale        int32
}

// Ledger 账户状态，仅由成交驱动，从不访问订单簿
type Ledger struct {
	mu      sync.Mutex
	cfg     Config
	account model.Account
	log     *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.InitialBalance == nil {
		cfg.InitialBalance = decimal.Zero()
	}
	if cfg.MarginMultiplierBuy == nil {
		cfg.MarginMultiplierBuy = decimal.FromInt(1)
	}
	if cfg.MarginMultiplierSell == nil {
		cfg.MarginMultiplierSell = decimal.FromInt(1)
	}
	if cfg.AvgPriceScale <= 0 {
		cfg.AvgPriceScale = DefaultAvgPriceScale
	}
	l := &Ledger{cfg: cfg, log: log}
	l.resetLocked()
	log.Infof("account initialized", map[string]any{
		"accountId": cfg.AccountID,
		"balance":   decimal.String(cfg.InitialBalance),
	})
	return l
}

func (l *Ledger) resetLocked() {
	l.account = model.Account{ID: l.cfg.AccountID, Positions: make(map[string]*model.Position)}
	l.account.Balance.Set(l.cfg.InitialBalance)
}

// Reset 恢复初始资金并清空持仓
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

// AccountID 受管账户 id
func (l *Ledger) AccountID() string { return l.cfg.AccountID }

// UpdateState 按一笔成交更新资金与持仓：买入扣减 price·qty，卖出增加
func (l *Ledger) UpdateState(instrumentID string, qty int64, price *apd.Decimal, isBuy bool) {
	if qty <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updateLocked(instrumentID, qty, price, isBuy)
}

func (l *Ledger) updateLocked(instrumentID string, qty int64, price *apd.Decimal, isBuy bool) {
	cost := decimal.Mul(price, decimal.FromInt(qty))
	delta := qty
	if isBuy {
		l.account.Balance.Set(decimal.Sub(&l.account.Balance, cost))
	} else {
		l.account.Balance.Set(decimal.Add(&l.account.Balance, cost))
		delta = -qty
	}

	p := l.account.Position(instrumentID)
	l.applyPosition(p, delta, price)
	p.CurrentPrice.Set(price)

	l.log.Infof("account updated", map[string]any{
		"instrumentId": instrumentID,
		"balance":      decimal.String(&l.account.Balance),
		"position":     p.Quantity,
		"avgPrice":     decimal.String(&p.AveragePrice),
	})
}

// applyPosition 均价规则：反手取成交价，归零为 0，加仓加权平均（半进位），减仓不变
func (l *Ledger) applyPosition(p *model.Position, delta int64, price *apd.Decimal) {
	old := p.Quantity
	next := old + delta

	switch {
	case next == 0:
		p.AveragePrice.SetInt64(0)
	case old != 0 && sign(old) != sign(next):
		p.AveragePrice.Set(price)
	case abs(next) > abs(old):
		weighted := decimal.Add(
			decimal.Mul(&p.AveragePrice, decimal.FromInt(abs(old))),
			decimal.Mul(price, decimal.FromInt(abs(delta))),
		)
		avg, err := decimal.Quo(weighted, decimal.FromInt(abs(next)))
		if err == nil {
			p.AveragePrice.Set(decimal.RoundHalfUp(avg, l.cfg.AvgPriceScale))
		}
	}
	p.Quantity = next
}

// ApplyTrade 仅处理涉及 API 来源订单的一方；自成交时两侧都记账
func (l *Ledger) ApplyTrade(t model.Trade) {
	if t.AggressorOrigin != model.OriginAPI && t.PassiveOrigin != model.OriginAPI {
		return
	}
	price := decimal.FromTicks(t.Price, l.cfg.PriceScale)

	l.mu.Lock()
	defer l.mu.Unlock()

	if t.AggressorOrigin == model.OriginAPI {
		l.updateLocked(t.InstrumentID, t.Quantity, price, t.AggressorDirection == model.DirectionBuy)
	}
	if t.PassiveOrigin == model.OriginAPI {
		l.updateLocked(t.InstrumentID, t.Quantity, price, t.AggressorDirection != model.DirectionBuy)
	}
}

// MarkPrice 记录最新市场价，用于估值
func (l *Ledger) MarkPrice(instrumentID string, price *apd.Decimal) {
	if price == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.account.Positions[instrumentID]; ok {
		p.CurrentPrice.Set(price)
	}
}

// PortfolioValue 现金 + Σ 持仓×估值价。估值价依次取 ref、最新价、均价
func (l *Ledger) PortfolioValue(ref *apd.Decimal) *apd.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.portfolioLocked(ref)
}

func (l *Ledger) portfolioLocked(ref *apd.Decimal) *apd.Decimal {
	total := new(apd.Decimal).Set(&l.account.Balance)
	for _, p := range l.account.Positions {
		if p.Quantity == 0 {
			continue
		}
		price := ref
		if price == nil {
			price = &p.CurrentPrice
			if price.IsZero() {
				price = &p.AveragePrice
			}
		}
		total = decimal.Add(total, decimal.Mul(price, decimal.FromInt(p.Quantity)))
	}
	return total
}

// MaxLots floor(组合价值×倍数/ref)，不小于 0；卖出另加现有多头数量。ref 缺失或为 0 时返回 0
func (l *Ledger) MaxLots(isBuy bool, ref *apd.Decimal) int64 {
	if ref == nil || ref.IsZero() {
		l.log.Warn("max lots requested without reference price")
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	mult := l.cfg.MarginMultiplierBuy
	if !isBuy {
		mult = l.cfg.MarginMultiplierSell
	}
	power := decimal.Mul(l.portfolioLocked(ref), mult)
	ratio, err := decimal.Quo(power, ref)
	if err != nil {
		return 0
	}
	lots, err := decimal.FloorInt(ratio)
	if err != nil {
		l.log.WithError(err).Warn("max lots out of range")
		return 0
	}
	lots = max(lots, 0)

	if !isBuy {
		if p, ok := l.account.Positions[l.cfg.InstrumentID]; ok && p.Quantity > 0 {
			lots += p.Quantity
		}
	}
	return lots
}

// Account 账户深拷贝
func (l *Ledger) Account() model.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Clone()
}

// Position 持仓副本，不存在时为空仓
func (l *Ledger) Position(instrumentID string) model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := model.Position{InstrumentID: instrumentID}
	if p, ok := l.account.Positions[instrumentID]; ok {
		out.Quantity = p.Quantity
		out.AveragePrice.Set(&p.AveragePrice)
		out.CurrentPrice.Set(&p.CurrentPrice)
	}
	return out
}

func sign(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
