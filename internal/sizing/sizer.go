// Package sizing converts an approved trade intent into a concrete
// order quantity using fixed-fractional risk.
package sizing

import (
	"github.com/shopspring/decimal"

	"forexbot/internal/market"
)

// Params are the sizing inputs shared by every trade.
type Params struct {
	PerTradeRiskPct float64 // fraction of equity risked per trade, e.g. 0.01
	StopLossPips    float64 // protective stop distance in pips
	TakeProfitRatio float64 // take profit distance as a multiple of the stop
}

// Result is a fully resolved order size with its protective levels.
type Result struct {
	Qty        float64
	StopPrice  float64
	TakeProfit float64
}

// Sizer produces deterministic quantities: identical inputs always
// yield identical output, with instrument step flooring done in
// decimal arithmetic to avoid float drift across runs.
type Sizer struct {
	params Params
}

func NewSizer(p Params) *Sizer {
	return &Sizer{params: p}
}

// QtyForNotional converts a notional amount into a quantity at the
// given price, floored to the instrument's step. Used when the risk
// gate scales an approved entry down to its leverage headroom.
func QtyForNotional(inst market.Instrument, notional, price float64) float64 {
	if notional <= 0 || price <= 0 {
		return 0
	}
	raw := decimal.NewFromFloat(notional).Div(decimal.NewFromFloat(price))
	step := decimal.NewFromFloat(inst.QtyStep)
	q, _ := raw.Div(step).Floor().Mul(step).Float64()
	if q < inst.MinTradeSize {
		return 0
	}
	return q
}

// Size computes the quantity for an entry at price on the instrument,
// given current equity. Risk amount equals equity times the per-trade
// risk fraction; quantity is that amount divided by the stop distance
// in price terms, floored to the instrument's quantity step. A result
// below the instrument's minimum trade size is zero.
func (s *Sizer) Size(inst market.Instrument, equity, price float64, long bool) Result {
	if equity <= 0 || price <= 0 || s.params.StopLossPips <= 0 || s.params.PerTradeRiskPct <= 0 {
		return Result{}
	}
	stopDistance := s.params.StopLossPips * inst.PipSize()
	riskAmount := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.params.PerTradeRiskPct))
	raw := riskAmount.Div(decimal.NewFromFloat(stopDistance))

	step := decimal.NewFromFloat(inst.QtyStep)
	qty := raw.Div(step).Floor().Mul(step)

	q, _ := qty.Float64()
	if q < inst.MinTradeSize {
		return Result{}
	}

	res := Result{Qty: q}
	tpDistance := stopDistance * s.params.TakeProfitRatio
	if long {
		res.StopPrice = price - stopDistance
		if s.params.TakeProfitRatio > 0 {
			res.TakeProfit = price + tpDistance
		}
	} else {
		res.StopPrice = price + stopDistance
		if s.params.TakeProfitRatio > 0 {
			res.TakeProfit = price - tpDistance
		}
	}
	return res
}
