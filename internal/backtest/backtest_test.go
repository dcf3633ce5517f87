package backtest

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forexbot/internal/market"
	"forexbot/internal/model"
	"forexbot/internal/risk"
	"forexbot/internal/sizing"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

// pathModel goes long on the first candle and stays quiet after.
type pathModel struct {
	id    string
	calls int
}

func (m *pathModel) ID() string { return m.id }

func (m *pathModel) Predict(candles []market.Candle) ([]byte, error) {
	m.calls++
	if m.calls > 1 {
		return nil, nil
	}
	last := candles[len(candles)-1]
	return json.Marshal(model.RawOutput{
		Instrument: last.Instrument,
		Timestamp:  last.CloseTime,
		Strength:   0.9,
		ModelID:    m.id,
	})
}

func candlesFromCloses(instrument string, closes []float64) []market.Candle {
	out := make([]market.Candle, 0, len(closes))
	for i, c := range closes {
		ct := t0.Add(time.Duration(i) * time.Minute)
		out = append(out, market.Candle{
			Instrument: instrument,
			OpenTime:   ct.Add(-time.Minute).UnixMilli(),
			CloseTime:  ct.UnixMilli(),
			Open:       c, High: c, Low: c, Close: c,
		})
	}
	return out
}

func testParams(models []model.Model) SessionParams {
	registry, _ := market.NewRegistry([]market.Instrument{
		{ID: "EUR/USD", PipLocation: -4, QtyStep: 1000, MinTradeSize: 1000},
	})
	return SessionParams{
		Config: RunConfig{
			Instruments:    []string{"EUR/USD"},
			InitialBalance: 10000,
			Leverage:       30,
		},
		Registry:    registry,
		Models:      models,
		MinStrength: 0.1,
		Limits:      risk.Limits{MaxLeverage: 30, MaxOpenPositions: 5},
		Sizing:      sizing.Params{PerTradeRiskPct: 0.01, StopLossPips: 50, TakeProfitRatio: 1.5},
	}
}

func TestExecuteWinningTrade(t *testing.T) {
	// entry at 1.1000; take profit sits 75 pips up at 1.1075
	closes := []float64{1.1000, 1.1020, 1.1050, 1.1080, 1.1080}
	res, err := Execute(context.Background(), candlesFromCloses("EUR/USD", closes),
		testParams([]model.Model{&pathModel{id: "path"}}))
	require.NoError(t, err)

	assert.Equal(t, RunStatusDone, res.Run.Status)
	require.Equal(t, 1, res.Run.Stats.Trades)
	assert.Equal(t, 1, res.Run.Stats.Wins)
	assert.Equal(t, 1.0, res.Run.Stats.WinRate)
	// 20000 units, entry 1.1000, take-profit trade-through fills at 1.1080
	assert.InDelta(t, 160.0, res.Run.Stats.Profit, 1e-6)
	assert.Len(t, res.Curve, len(closes))
}

func TestExecuteLosingTradeStopsOut(t *testing.T) {
	closes := []float64{1.1000, 1.0970, 1.0940, 1.0940}
	res, err := Execute(context.Background(), candlesFromCloses("EUR/USD", closes),
		testParams([]model.Model{&pathModel{id: "path"}}))
	require.NoError(t, err)

	require.Equal(t, 1, res.Run.Stats.Trades)
	assert.Equal(t, 1, res.Run.Stats.Losses)
	assert.Equal(t, 0.0, res.Run.Stats.WinRate)
	assert.Less(t, res.Run.Stats.Profit, 0.0)
	assert.Greater(t, res.Run.Stats.MaxDrawdownPct, 0.0)
}

func TestExecuteIsDeterministic(t *testing.T) {
	closes := make([]float64, 120)
	price := 1.1000
	for i := range closes {
		// fixed pseudo-random walk
		price += 0.0008 * math.Sin(float64(i)*0.7)
		closes[i] = price
	}
	candles := candlesFromCloses("EUR/USD", closes)

	run := func() []byte {
		res, err := Execute(context.Background(), candles,
			testParams([]model.Model{model.NewSMACross("sma", 5, 20, "1m")}))
		require.NoError(t, err)
		trace, err := res.Trace.Trace()
		require.NoError(t, err)
		return trace
	}
	first := run()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, run())
}

func TestExecuteRejectsBadInput(t *testing.T) {
	_, err := Execute(context.Background(), nil, testParams(nil))
	assert.Error(t, err)

	bad := candlesFromCloses("EUR/USD", []float64{1.1, 0})
	_, err = Execute(context.Background(), bad, testParams(nil))
	assert.Error(t, err)
}

func TestComputeStats(t *testing.T) {
	curve := []EquityPoint{
		{TS: 1, Equity: 10100},
		{TS: 2, Equity: 9900},
		{TS: 3, Equity: 10200},
	}
	trades := []Trade{{PnL: 300}, {PnL: -100}}
	stats := computeStats(10000, curve, trades)

	assert.InDelta(t, 200.0, stats.Profit, 1e-9)
	assert.InDelta(t, 0.02, stats.ReturnPct, 1e-9)
	assert.Equal(t, 2, stats.Trades)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.InDelta(t, 3.0, stats.ProfitFactor, 1e-9)
	// peak 10100 down to 9900
	assert.InDelta(t, 200.0/10100.0, stats.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 10200.0, stats.EquityPeak, 1e-9)
	assert.InDelta(t, 9900.0, stats.EquityValley, 1e-9)
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eurusd.csv")
	data := strings.Join([]string{
		"time,open,high,low,close,volume",
		"2024-03-04T00:01:00Z,1.1000,1.1010,1.0990,1.1005,120",
		"1709510520,1.1005,1.1015,1.1000,1.1010,80",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	candles, err := LoadCSV(path, "eur_usd", time.Minute)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, "EUR/USD", candles[0].Instrument)
	assert.Equal(t, 1.1005, candles[0].Close)
	assert.Equal(t, 120.0, candles[0].Volume)
	assert.Equal(t, candles[0].CloseTime-60_000, candles[0].OpenTime)
	assert.Equal(t, int64(1709510520000), candles[1].CloseTime)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := NewStore(path)
	require.NoError(t, err)
	defer store.Close()

	closes := []float64{1.1000, 1.1020, 1.1050, 1.1080}
	res, err := Execute(context.Background(), candlesFromCloses("EUR/USD", closes),
		testParams([]model.Model{&pathModel{id: "path"}}))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SaveResult(ctx, res))

	got, err := store.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.Run.Status, got.Status)
	assert.Equal(t, res.Run.Stats.Trades, got.Stats.Trades)
	assert.Equal(t, res.Run.Config.InitialBalance, got.Config.InitialBalance)

	curve, err := store.EquityCurve(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Len(t, curve, len(res.Curve))

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.Run.ID, runs[0].ID)

	missing, err := store.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
