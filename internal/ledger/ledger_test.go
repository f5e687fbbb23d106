package ledger

import (
	"testing"

	"github.com/cockroachdb/apd"
	"github.com/exchange/emulator/internal/model"
	"github.com/exchange/emulator/pkg/decimal"
)

const instrument = "SBER"

func newLedger(balance string) *Ledger {
	return New(Config{
		AccountID:      "acc-1",
		InstrumentID:   instrument,
		InitialBalance: decimal.MustParse(balance),
		PriceScale:     2,
	}, nil)
}

func dec(s string) *apd.Decimal { return decimal.MustParse(s) }

func assertDecimal(t *testing.T, name string, got *apd.Decimal, want string) {
	t.Helper()
	if !decimal.Equal(got, dec(want)) {
		t.Fatalf("%s: expected %s, got %s", name, want, decimal.String(got))
	}
}

func TestBuyThenSellAdjustsCashAndPosition(t *testing.T) {
	l := newLedger("200000")

	l.UpdateState(instrument, 10, dec("100.50"), true)
	acc := l.Account()
	assertDecimal(t, "balance after buy", &acc.Balance, "198995")
	if acc.Positions[instrument].Quantity != 10 {
		t.Fatalf("expected 10 long, got %d", acc.Positions[instrument].Quantity)
	}

	l.UpdateState(instrument, 4, dec("110"), false)
	acc = l.Account()
	assertDecimal(t, "balance after sell", &acc.Balance, "199435")
	p := acc.Positions[instrument]
	if p.Quantity != 6 {
		t.Fatalf("expected 6 long, got %d", p.Quantity)
	}
	assertDecimal(t, "avg after reduce", &p.AveragePrice, "100.50")
}

func TestAveragePriceRules(t *testing.T) {
	tests := []struct {
		name    string
		steps   []func(*Ledger)
		wantQty int64
		wantAvg string
	}{
		{
			name: "extend uses weighted average",
			steps: []func(*Ledger){
				func(l *Ledger) { l.UpdateState(instrument, 10, dec("100"), true) },
				func(l *Ledger) { l.UpdateState(instrument, 20, dec("110"), true) },
			},
			wantQty: 30,
			wantAvg: "106.666666667",
		},
		{
			name: "reduce keeps average",
			steps: []func(*Ledger){
				func(l *Ledger) { l.UpdateState(instrument, 10, dec("100"), true) },
				func(l *Ledger) { l.UpdateState(instrument, 3, dec("150"), false) },
			},
			wantQty: 7,
			wantAvg: "100",
		},
		{
			name: "flat resets to zero",
			steps: []func(*Ledger){
				func(l *Ledger) { l.UpdateState(instrument, 10, dec("100"), true) },
				func(l *Ledger) { l.UpdateState(instrument, 10, dec("120"), false) },
			},
			wantQty: 0,
			wantAvg: "0",
		},
		{
			name: "flip takes execution price",
			steps: []func(*Ledger){
				func(l *Ledger) { l.UpdateState(instrument, 10, dec("100"), true) },
				func(l *Ledger) { l.UpdateState(instrument, 15, dec("90"), false) },
			},
			wantQty: -5,
			wantAvg: "90",
		},
		{
			name: "short extend averages",
			steps: []func(*Ledger){
				func(l *Ledger) { l.UpdateState(instrument, 5, dec("100"), false) },
				func(l *Ledger) { l.UpdateState(instrument, 5, dec("90"), false) },
			},
			wantQty: -10,
			wantAvg: "95",
		},
		{
			name: "short covered through zero",
			steps: []func(*Ledger){
				func(l *Ledger) { l.UpdateState(instrument, 5, dec("100"), false) },
				func(l *Ledger) { l.UpdateState(instrument, 8, dec("97.25"), true) },
			},
			wantQty: 3,
			wantAvg: "97.25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger("1000000")
			for _, step := range tt.steps {
				step(l)
			}
			p := l.Position(instrument)
			if p.Quantity != tt.wantQty {
				t.Fatalf("expected qty %d, got %d", tt.wantQty, p.Quantity)
			}
			assertDecimal(t, "avg", &p.AveragePrice, tt.wantAvg)
		})
	}
}

func TestUpdateStateIgnoresNonPositiveQty(t *testing.T) {
	l := newLedger("100")
	l.UpdateState(instrument, 0, dec("10"), true)
	acc := l.Account()
	assertDecimal(t, "balance", &acc.Balance, "100")
	if len(acc.Positions) != 0 {
		t.Fatalf("expected no positions, got %d", len(acc.Positions))
	}
}

func TestApplyTradeByOrigin(t *testing.T) {
	tests := []struct {
		name        string
		trade       model.Trade
		wantBalance string
		wantQty     int64
	}{
		{
			name: "api aggressor buy",
			trade: model.Trade{InstrumentID: instrument, AggressorOrigin: model.OriginAPI, AggressorDirection: model.DirectionBuy,
				PassiveOrigin: model.OriginAdminPanel, Price: 10050, Quantity: 10},
			wantBalance: "198995",
			wantQty:     10,
		},
		{
			name: "api passive sells when aggressor buys",
			trade: model.Trade{InstrumentID: instrument, AggressorOrigin: model.OriginAdminPanel, AggressorDirection: model.DirectionBuy,
				PassiveOrigin: model.OriginAPI, Price: 11000, Quantity: 5},
			wantBalance: "200550",
			wantQty:     -5,
		},
		{
			name: "admin only trade ignored",
			trade: model.Trade{InstrumentID: instrument, AggressorOrigin: model.OriginAdminPanel, AggressorDirection: model.DirectionBuy,
				PassiveOrigin: model.OriginAdminPanel, Price: 10000, Quantity: 10},
			wantBalance: "200000",
			wantQty:     0,
		},
		{
			name: "self trade nets out",
			trade: model.Trade{InstrumentID: instrument, AggressorOrigin: model.OriginAPI, AggressorDirection: model.DirectionSell,
				PassiveOrigin: model.OriginAPI, Price: 10000, Quantity: 10},
			wantBalance: "200000",
			wantQty:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger("200000")
			l.ApplyTrade(tt.trade)
			acc := l.Account()
			assertDecimal(t, "balance", &acc.Balance, tt.wantBalance)
			if got := l.Position(instrument).Quantity; got != tt.wantQty {
				t.Fatalf("expected position %d, got %d", tt.wantQty, got)
			}
		})
	}
}

func TestPortfolioValueFallbacks(t *testing.T) {
	l := newLedger("1000")
	l.UpdateState(instrument, 10, dec("50"), true) // cash 500, current 50

	assertDecimal(t, "with ref", l.PortfolioValue(dec("60")), "1100")
	assertDecimal(t, "current price", l.PortfolioValue(nil), "1000")

	l.MarkPrice(instrument, dec("55"))
	assertDecimal(t, "after mark", l.PortfolioValue(nil), "1050")
	l.MarkPrice("UNKNOWN", dec("1"))
}

func TestMaxLots(t *testing.T) {
	l := New(Config{
		AccountID:            "acc-1",
		InstrumentID:         instrument,
		InitialBalance:       dec("1000"),
		MarginMultiplierBuy:  dec("2"),
		MarginMultiplierSell: dec("1.5"),
		PriceScale:           2,
	}, nil)

	if got := l.MaxLots(true, dec("30")); got != 66 {
		t.Fatalf("buy: expected floor(2000/30)=66, got %d", got)
	}
	if got := l.MaxLots(true, nil); got != 0 {
		t.Fatalf("expected 0 without price, got %d", got)
	}
	if got := l.MaxLots(false, decimal.Zero()); got != 0 {
		t.Fatalf("expected 0 for zero price, got %d", got)
	}

	l.UpdateState(instrument, 4, dec("25"), true) // cash 900, 4 long
	// portfolio at 30 = 900 + 120 = 1020; sell power 1530/30 = 51, plus 4 long
	if got := l.MaxLots(false, dec("30")); got != 55 {
		t.Fatalf("sell: expected 55, got %d", got)
	}
}

func TestMaxLotsClampedAtZero(t *testing.T) {
	l := newLedger("100")
	l.UpdateState(instrument, 10, dec("50"), false) // cash 600, -10 short
	// at 100: 600 - 1000 = -400 => negative power
	if got := l.MaxLots(true, dec("100")); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}

func TestAccountSnapshotIsIndependent(t *testing.T) {
	l := newLedger("100")
	acc := l.Account()
	l.UpdateState(instrument, 1, dec("10"), true)
	assertDecimal(t, "snapshot balance", &acc.Balance, "100")

	l.Reset()
	acc = l.Account()
	assertDecimal(t, "reset balance", &acc.Balance, "100")
	if len(acc.Positions) != 0 {
		t.Fatal("expected positions cleared on reset")
	}
}
