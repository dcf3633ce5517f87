// Package model defines the contract external predictive models fulfil
// and ships two reference implementations so demo and backtest sessions
// can run end to end without an external model service.
package model

import (
	"encoding/json"

	"forexbot/internal/market"
)

// RawOutput is the wire shape every model emits. The signal aggregator
// is its only consumer; it validates and normalizes before anything else
// sees the values.
type RawOutput struct {
	Instrument string  `json:"instrument"`
	Timestamp  int64   `json:"timestamp"`
	Strength   float64 `json:"strength"`
	ModelID    string  `json:"model_id"`
	Horizon    string  `json:"horizon,omitempty"`
}

// Model produces a raw prediction from a candle history. A nil document
// with nil error means the model has no opinion this cycle (warmup, or
// nothing actionable).
type Model interface {
	ID() string
	Predict(candles []market.Candle) ([]byte, error)
}

func marshalOutput(out RawOutput) ([]byte, error) {
	return json.Marshal(out)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
