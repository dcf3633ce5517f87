package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"forexbot/internal/market"
)

func TestFixedFractionalSize(t *testing.T) {
	// 1% of 10000 is 100 at risk; a 50 point stop gives qty 2.
	inst := market.Instrument{ID: "XAU/USD", PipLocation: 0, QtyStep: 1, MinTradeSize: 1}
	s := NewSizer(Params{PerTradeRiskPct: 0.01, StopLossPips: 50, TakeProfitRatio: 1.5})

	res := s.Size(inst, 10000, 2400, true)
	assert.Equal(t, 2.0, res.Qty)
	assert.Equal(t, 2350.0, res.StopPrice)
	assert.Equal(t, 2475.0, res.TakeProfit)
}

func TestSizeFxPair(t *testing.T) {
	inst := market.Instrument{ID: "EUR/USD", PipLocation: -4, QtyStep: 1000, MinTradeSize: 1000}
	s := NewSizer(Params{PerTradeRiskPct: 0.01, StopLossPips: 50, TakeProfitRatio: 1.5})

	res := s.Size(inst, 10000, 1.1000, true)
	// 100 / 0.005 = 20000, already on the 1000 step
	assert.Equal(t, 20000.0, res.Qty)
	assert.InDelta(t, 1.0950, res.StopPrice, 1e-9)
	assert.InDelta(t, 1.1075, res.TakeProfit, 1e-9)
}

func TestSizeFloorsToStep(t *testing.T) {
	inst := market.Instrument{ID: "EUR/USD", PipLocation: -4, QtyStep: 1000, MinTradeSize: 1000}
	s := NewSizer(Params{PerTradeRiskPct: 0.01, StopLossPips: 50})

	// 101.17 / 0.005 = 20234, floors to the 1000 step
	res := s.Size(inst, 10117, 1.1000, true)
	assert.Equal(t, 20000.0, res.Qty)
}

func TestSizeBelowMinimumIsZero(t *testing.T) {
	inst := market.Instrument{ID: "EUR/USD", PipLocation: -4, QtyStep: 1000, MinTradeSize: 1000}
	s := NewSizer(Params{PerTradeRiskPct: 0.0001, StopLossPips: 500})

	res := s.Size(inst, 1000, 1.1000, true)
	assert.Zero(t, res.Qty)
}

func TestSizeShortLevels(t *testing.T) {
	inst := market.Instrument{ID: "USD/JPY", PipLocation: -2, QtyStep: 1, MinTradeSize: 1}
	s := NewSizer(Params{PerTradeRiskPct: 0.01, StopLossPips: 40, TakeProfitRatio: 2})

	res := s.Size(inst, 10000, 150.00, false)
	assert.InDelta(t, 150.40, res.StopPrice, 1e-9)
	assert.InDelta(t, 149.20, res.TakeProfit, 1e-9)
}

func TestSizeDegenerateInputs(t *testing.T) {
	inst := market.Instrument{ID: "EUR/USD", PipLocation: -4, QtyStep: 1, MinTradeSize: 1}
	s := NewSizer(Params{PerTradeRiskPct: 0.01, StopLossPips: 50})
	assert.Zero(t, s.Size(inst, 0, 1.1, true).Qty)
	assert.Zero(t, s.Size(inst, -50, 1.1, true).Qty)
	assert.Zero(t, s.Size(inst, 10000, 0, true).Qty)
	assert.Zero(t, NewSizer(Params{PerTradeRiskPct: 0.01}).Size(inst, 10000, 1.1, true).Qty)
}
