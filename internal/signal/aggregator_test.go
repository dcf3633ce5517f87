package signal

import (
	"errors"
	"testing"
	"time"

	"forexbot/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *market.Registry {
	t.Helper()
	reg, err := market.NewRegistry([]market.Instrument{
		{ID: "EUR/USD", PipLocation: -4, MinTradeSize: 1, QtyStep: 1},
		{ID: "GBP/USD", PipLocation: -4, MinTradeSize: 1, QtyStep: 1},
	})
	require.NoError(t, err)
	return reg
}

func TestIngest(t *testing.T) {
	agg := NewAggregator(testRegistry(t), nil, 0.1)

	t.Run("valid long", func(t *testing.T) {
		raw := []byte(`{"instrument":"eur_usd","timestamp":1700000000000,"strength":0.8,"model_id":"sma-cross","horizon":"1h"}`)
		sig, err := agg.Ingest(raw)
		require.NoError(t, err)
		assert.Equal(t, "EUR/USD", sig.Instrument)
		assert.Equal(t, Long, sig.Direction)
		assert.Equal(t, 0.8, sig.Strength)
		assert.Equal(t, "sma-cross", sig.ModelID)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), sig.Time)
	})

	t.Run("negative strength is short", func(t *testing.T) {
		raw := []byte(`{"instrument":"EUR/USD","timestamp":1,"strength":-0.4,"model_id":"rsi"}`)
		sig, err := agg.Ingest(raw)
		require.NoError(t, err)
		assert.Equal(t, Short, sig.Direction)
	})

	t.Run("strength out of range", func(t *testing.T) {
		raw := []byte(`{"instrument":"EUR/USD","timestamp":1,"strength":1.5,"model_id":"rsi"}`)
		_, err := agg.Ingest(raw)
		var inv *InvalidSignalError
		require.ErrorAs(t, err, &inv)
	})

	t.Run("unknown instrument", func(t *testing.T) {
		raw := []byte(`{"instrument":"USD/JPY","timestamp":1,"strength":0.5,"model_id":"rsi"}`)
		_, err := agg.Ingest(raw)
		var inv *InvalidSignalError
		require.ErrorAs(t, err, &inv)
		assert.Contains(t, inv.Reason, "USD/JPY")
	})

	t.Run("missing field", func(t *testing.T) {
		_, err := agg.Ingest([]byte(`{"instrument":"EUR/USD","strength":0.5}`))
		var inv *InvalidSignalError
		require.True(t, errors.As(err, &inv))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := agg.Ingest([]byte(`not json`))
		var inv *InvalidSignalError
		require.True(t, errors.As(err, &inv))
	})
}

func TestCombine(t *testing.T) {
	weights := map[string]float64{"trend": 3, "reversion": 1}
	agg := NewAggregator(testRegistry(t), weights, 0.2)

	ts := time.UnixMilli(1700000000000).UTC()
	batch := []Signal{
		{Instrument: "EUR/USD", Time: ts, Direction: Long, Strength: 0.8, ModelID: "trend"},
		{Instrument: "EUR/USD", Time: ts, Direction: Short, Strength: -0.4, ModelID: "reversion"},
	}

	combined := agg.Combine(batch)
	// (0.8*3 + -0.4*1) / 4 = 0.5
	assert.InDelta(t, 0.5, combined.Strength, 1e-9)
	assert.Equal(t, Long, combined.Direction)
	assert.Equal(t, "EUR/USD", combined.Instrument)

	t.Run("below threshold collapses to flat", func(t *testing.T) {
		weak := agg.Combine([]Signal{
			{Instrument: "EUR/USD", Time: ts, Strength: 0.1, ModelID: "trend"},
		})
		assert.Equal(t, Flat, weak.Direction)
		assert.Zero(t, weak.Strength)
	})

	t.Run("empty batch is flat", func(t *testing.T) {
		assert.True(t, agg.Combine(nil).IsFlat())
	})

	t.Run("unlisted model weighs one", func(t *testing.T) {
		s := agg.Combine([]Signal{
			{Instrument: "EUR/USD", Strength: 0.6, ModelID: "mystery"},
			{Instrument: "EUR/USD", Strength: 0.2, ModelID: "other"},
		})
		assert.InDelta(t, 0.4, s.Strength, 1e-9)
	})
}

func TestCombineBatchOrdering(t *testing.T) {
	agg := NewAggregator(testRegistry(t), nil, 0)
	out := agg.CombineBatch([]Signal{
		{Instrument: "GBP/USD", Strength: 0.3, ModelID: "m"},
		{Instrument: "EUR/USD", Strength: -0.9, ModelID: "m"},
	})
	require.Len(t, out, 2)
	// Strongest absolute strength first: margin goes to the most
	// confident signal when several compete in one cycle.
	assert.Equal(t, "EUR/USD", out[0].Instrument)
	assert.Equal(t, Short, out[0].Direction)
	assert.Equal(t, "GBP/USD", out[1].Instrument)

	t.Run("tie breaks on instrument id", func(t *testing.T) {
		tied := agg.CombineBatch([]Signal{
			{Instrument: "GBP/USD", Strength: 0.5, ModelID: "m"},
			{Instrument: "EUR/USD", Strength: -0.5, ModelID: "m"},
		})
		assert.Equal(t, "EUR/USD", tied[0].Instrument)
	})
}
