package model

import (
	"math"

	"forexbot/internal/market"

	talib "github.com/markcheno/go-talib"
)

// RSIReversion fades RSI extremes: oversold suggests long, overbought
// suggests short, neutral readings produce no output.
type RSIReversion struct {
	id         string
	period     int
	overbought float64
	oversold   float64
	horizon    string
}

func NewRSIReversion(id string, period int, horizon string) *RSIReversion {
	if period <= 0 {
		period = 14
	}
	return &RSIReversion{
		id:         id,
		period:     period,
		overbought: 70,
		oversold:   30,
		horizon:    horizon,
	}
}

func (m *RSIReversion) ID() string { return m.id }

func (m *RSIReversion) Predict(candles []market.Candle) ([]byte, error) {
	if len(candles) < m.period+1 {
		return nil, nil
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	// a window with no price change has no RSI; talib reports such a
	// tape as 0, which would otherwise read as maximally oversold
	window := closes[len(closes)-m.period-1:]
	flat := true
	for _, c := range window {
		if c != window[0] {
			flat = false
			break
		}
	}
	if flat {
		return nil, nil
	}

	series := talib.Rsi(closes, m.period)
	rsi := series[len(series)-1]
	if math.IsNaN(rsi) {
		return nil, nil
	}

	var strength float64
	switch {
	case rsi <= m.oversold:
		strength = clamp((m.oversold-rsi)/m.oversold, 0, 1)
	case rsi >= m.overbought:
		strength = -clamp((rsi-m.overbought)/(100-m.overbought), 0, 1)
	default:
		return nil, nil
	}

	tail := candles[len(candles)-1]
	return marshalOutput(RawOutput{
		Instrument: tail.Instrument,
		Timestamp:  tail.CloseTime,
		Strength:   strength,
		ModelID:    m.id,
		Horizon:    m.horizon,
	})
}
