package position

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/creatureboring/accounting-engine/internal/event"
	"github.com/creatureboring/accounting-engine/internal/model"
)

const (
	asset  = "0x00000000000000000000000000000000000000aa"
	trader = "0x00000000000000000000000000000000000000bb"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// buy applies a transfer-in followed by its buy trade.
func buy(t *testing.T, p *model.Position, tokens, eth float64) *model.Position {
	t.Helper()
	p, err := ApplyTransfer(p, asset, trader, d(tokens), d(0.01))
	if err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	p, err = ApplyTrade(p, d(tokens), d(eth), d(0.01))
	if err != nil {
		t.Fatalf("buy trade: %v", err)
	}
	return p
}

// sell applies a transfer-out followed by its sell trade.
func sell(t *testing.T, p *model.Position, tokens, eth float64) *model.Position {
	t.Helper()
	p, err := ApplyTransfer(p, asset, trader, d(-tokens), d(0.01))
	if err != nil {
		t.Fatalf("transfer out: %v", err)
	}
	p, err = ApplyTrade(p, d(-tokens), d(eth), d(0.01))
	if err != nil {
		t.Fatalf("sell trade: %v", err)
	}
	return p
}

func assertPosition(t *testing.T, p *model.Position, balance, cost, sales float64) {
	t.Helper()
	if !p.Balance.Equal(d(balance)) {
		t.Errorf("balance: expected %v, got %s", balance, p.Balance)
	}
	if !p.TotalCost.Equal(d(cost)) {
		t.Errorf("total cost: expected %v, got %s", cost, p.TotalCost)
	}
	if !p.TotalSales.Equal(d(sales)) {
		t.Errorf("total sales: expected %v, got %s", sales, p.TotalSales)
	}
}

// --- Transfers ---

func TestApplyTransfer_CreatesPosition(t *testing.T) {
	p, err := ApplyTransfer(nil, asset, trader, d(1000), d(0.002))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != model.PositionID(asset, trader) {
		t.Errorf("unexpected id %s", p.ID)
	}
	assertPosition(t, p, 1000, 0, 0)
	if !p.LastMarketCap.Equal(d(2)) {
		t.Errorf("expected market cap 2, got %s", p.LastMarketCap)
	}
}

func TestApplyTransfer_DecreaseBeforeIncrease(t *testing.T) {
	_, err := ApplyTransfer(nil, asset, trader, d(-5), d(1))
	if !errors.Is(err, ErrMissingPosition) {
		t.Errorf("expected ErrMissingPosition, got %v", err)
	}
}

func TestApplyTransfer_SentinelNotTracked(t *testing.T) {
	p, err := ApplyTransfer(nil, asset, event.ZeroAddress, d(-1000), d(1))
	if err != nil || p != nil {
		t.Errorf("sentinel should be a no-op, got %v, %v", p, err)
	}
}

func TestApplyTransfer_NeverTouchesBasis(t *testing.T) {
	p := buy(t, nil, 1000, 2)
	p, err := ApplyTransfer(p, asset, trader, d(-400), d(0.01))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertPosition(t, p, 600, 2, 0)
}

func TestApplyTransfer_NegativeBalanceRejected(t *testing.T) {
	p := buy(t, nil, 10, 1)
	_, err := ApplyTransfer(p, asset, trader, d(-11), d(0.01))
	if !errors.Is(err, ErrNegativeBalance) {
		t.Errorf("expected ErrNegativeBalance, got %v", err)
	}
}

func TestApplyTransfer_DoesNotMutateInput(t *testing.T) {
	p := buy(t, nil, 100, 1)
	before := p.Balance
	if _, err := ApplyTransfer(p, asset, trader, d(50), d(0.01)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Balance.Equal(before) {
		t.Errorf("input position mutated: %s", p.Balance)
	}
}

// --- Trades ---

func TestApplyTrade_BuyAccumulation(t *testing.T) {
	p := buy(t, nil, 1000, 1)
	p = buy(t, p, 500, 2)
	assertPosition(t, p, 1500, 3, 0)
}

func TestApplyTrade_ProportionalSell(t *testing.T) {
	p := buy(t, nil, 1000, 2)
	p = sell(t, p, 300, 1)
	assertPosition(t, p, 700, 1.4, 1)
}

func TestApplyTrade_DustClear(t *testing.T) {
	p := buy(t, nil, 1000, 2)
	p = sell(t, p, 999.9995, 3)
	if !p.TotalCost.IsZero() {
		t.Errorf("dust remainder should clear cost, got %s", p.TotalCost)
	}
	if !p.TotalSales.Equal(d(3)) {
		t.Errorf("dust remainder should keep sales, got %s", p.TotalSales)
	}
	if !p.Balance.Equal(d(0.0005)) {
		t.Errorf("expected dust balance 0.0005, got %s", p.Balance)
	}
}

func TestApplyTrade_FullClosureResets(t *testing.T) {
	p := buy(t, nil, 1000, 2)
	p = sell(t, p, 1000, 5) // profitable close
	assertPosition(t, p, 0, 0, 0)

	p = buy(t, p, 200, 0.7)
	assertPosition(t, p, 200, 0.7, 0)
}

func TestApplyTrade_FullClosureAtLoss(t *testing.T) {
	p := buy(t, nil, 1000, 2)
	p = sell(t, p, 1000, 0.5)
	assertPosition(t, p, 0, 0, 0)
}

func TestApplyTrade_MissingPosition(t *testing.T) {
	_, err := ApplyTrade(nil, d(-10), d(1), d(0.1))
	if !errors.Is(err, ErrMissingPosition) {
		t.Errorf("expected ErrMissingPosition, got %v", err)
	}
}

func TestApplyTrade_UpdatesLastPrice(t *testing.T) {
	p, _ := ApplyTransfer(nil, asset, trader, d(100), d(0.01))
	p, err := ApplyTrade(p, d(100), d(1), d(0.05))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.LastPrice.Equal(d(0.05)) {
		t.Errorf("expected last price 0.05, got %s", p.LastPrice)
	}
	if !p.LastMarketCap.Equal(d(5)) {
		t.Errorf("expected market cap 5, got %s", p.LastMarketCap)
	}
}

func TestApplyTrade_CostNeverNegative(t *testing.T) {
	p := buy(t, nil, 3, 1)
	for i := 0; i < 2; i++ {
		p = sell(t, p, 1, 0.1)
		if p.TotalCost.IsNegative() || p.TotalSales.IsNegative() {
			t.Fatalf("basis went negative: cost=%s sales=%s", p.TotalCost, p.TotalSales)
		}
	}
	if !p.Balance.Equal(d(1)) || !p.TotalSales.Equal(d(0.2)) {
		t.Errorf("expected balance 1 and sales 0.2, got %s / %s", p.Balance, p.TotalSales)
	}
	if p.TotalCost.Sub(d(1.0/3)).Abs().GreaterThan(d(0.0000001)) {
		t.Errorf("expected cost ≈ 1/3, got %s", p.TotalCost)
	}
}

func TestNewSnapshot(t *testing.T) {
	p := buy(t, nil, 100, 1)
	s := NewSnapshot(p, d(0.02), "0xtx", 7, 1700000000)
	if s.ID != "0xtx-7-"+trader {
		t.Errorf("unexpected snapshot id %s", s.ID)
	}
	if !s.MarketCap.Equal(d(2)) {
		t.Errorf("expected market cap 2, got %s", s.MarketCap)
	}
}
