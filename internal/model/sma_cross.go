package model

import (
	"forexbot/internal/market"

	talib "github.com/markcheno/go-talib"
)

// SMACross signals in the direction of a fast/slow moving average cross.
// Strength scales with the normalized distance between the averages so a
// fresh cross starts weak and a running trend reads strong.
type SMACross struct {
	id      string
	fast    int
	slow    int
	horizon string
}

func NewSMACross(id string, fast, slow int, horizon string) *SMACross {
	if fast <= 0 {
		fast = 10
	}
	if slow <= fast {
		slow = fast * 5
	}
	return &SMACross{id: id, fast: fast, slow: slow, horizon: horizon}
}

func (m *SMACross) ID() string { return m.id }

func (m *SMACross) Predict(candles []market.Candle) ([]byte, error) {
	if len(candles) < m.slow+1 {
		return nil, nil // warmup
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	fastArr := talib.Sma(closes, m.fast)
	slowArr := talib.Sma(closes, m.slow)
	last := len(closes) - 1
	fast, slow := fastArr[last], slowArr[last]
	if slow == 0 {
		return nil, nil
	}

	// Distance in units of 0.5% of price saturates strength at ±1.
	spread := (fast - slow) / slow
	strength := clamp(spread/0.005, -1, 1)

	tail := candles[last]
	return marshalOutput(RawOutput{
		Instrument: tail.Instrument,
		Timestamp:  tail.CloseTime,
		Strength:   strength,
		ModelID:    m.id,
		Horizon:    m.horizon,
	})
}
