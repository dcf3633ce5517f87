package model

import (
	"errors"

	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/signal"
)

// Runner fans a candle history through every configured model and
// normalizes the raw outputs through the aggregator. Invalid outputs are
// logged and dropped here so the decision loop only ever sees clean
// signals.
type Runner struct {
	models []Model
	agg    *signal.Aggregator
}

func NewRunner(models []Model, agg *signal.Aggregator) *Runner {
	return &Runner{models: models, agg: agg}
}

// UpdateWeights swaps the aggregator's per-model weights. Only call
// from the goroutine that also calls Evaluate.
func (r *Runner) UpdateWeights(weights map[string]float64) {
	r.agg.SetWeights(weights)
}

// Combine exposes the aggregator's batch combination for the decision
// loop.
func (r *Runner) Combine(signals []signal.Signal) []signal.Signal {
	return r.agg.CombineBatch(signals)
}

// Evaluate runs every model over the history and returns the surviving
// signals in model registration order.
func (r *Runner) Evaluate(candles []market.Candle) []signal.Signal {
	if len(candles) == 0 {
		return nil
	}
	out := make([]signal.Signal, 0, len(r.models))
	for _, m := range r.models {
		raw, err := m.Predict(candles)
		if err != nil {
			logger.Warnf("model %s predict failed: %v", m.ID(), err)
			continue
		}
		if raw == nil {
			continue
		}
		sig, err := r.agg.Ingest(raw)
		if err != nil {
			var inv *signal.InvalidSignalError
			if errors.As(err, &inv) {
				logger.Warnf("dropping signal: %v", inv)
				continue
			}
			logger.Errorf("signal ingest failed for model %s: %v", m.ID(), err)
			continue
		}
		out = append(out, sig)
	}
	return out
}
