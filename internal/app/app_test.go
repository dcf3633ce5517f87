package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forexbot/internal/config"
	"forexbot/internal/journal"
	"forexbot/internal/market"
	"forexbot/internal/notifier"
)

type fakeSource struct {
	history map[string][]market.Candle
	ch      chan market.CandleEvent
}

func (f *fakeSource) FetchHistory(_ context.Context, instrument, _ string, _ int) ([]market.Candle, error) {
	return f.history[market.NormalizeID(instrument)], nil
}

func (f *fakeSource) Subscribe(context.Context, []string, string, market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	return f.ch, nil
}

func (f *fakeSource) Stats() market.SourceStats { return market.SourceStats{} }
func (f *fakeSource) Close() error              { return nil }

func demoConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Mode: config.ModeDemo, LogLevel: "warn"},
		Account: config.AccountConfig{Currency: "USD", Balance: 10000, Leverage: 30},
		Market: config.MarketConfig{
			Interval:  "1s",
			MaxCached: 100,
			Instruments: []config.InstrumentConfig{
				{ID: "EUR/USD", PipLocation: -4, QtyStep: 1000, MinTradeSize: 1000},
			},
		},
		Models: config.ModelsConfig{
			MinStrength: 0.1,
			Entries: []config.ModelEntry{
				{ID: "sma", Type: "sma_cross", Enabled: true, Fast: 5, Slow: 20, Horizon: "1s"},
			},
		},
		Risk:   config.RiskConfig{MaxLeverage: 30, MaxOpenPositions: 5, DailyLossPct: 0.03},
		Sizing: config.SizingConfig{PerTradeRiskPct: 0.01, StopLossPips: 50, TakeProfitRatio: 1.5},
		Engine: config.EngineConfig{
			SubmitTimeoutSeconds: 5,
			SweepIntervalSeconds: 1,
			QueueSize:            64,
			EntryPriceType:       "market",
		},
	}
}

func historyCandles(n int, price float64) []market.Candle {
	base := time.Now().UTC().Add(-time.Duration(n+1) * time.Second)
	out := make([]market.Candle, 0, n)
	for i := 0; i < n; i++ {
		ct := base.Add(time.Duration(i+1) * time.Second)
		out = append(out, market.Candle{
			Instrument: "EUR/USD",
			OpenTime:   ct.Add(-time.Second).UnixMilli(),
			CloseTime:  ct.UnixMilli(),
			Open:       price, High: price, Low: price, Close: price,
		})
	}
	return out
}

func testOptions(src market.Source) []AppBuilderOption {
	return []AppBuilderOption{
		WithSource(func(*config.Config) (market.Source, error) { return src, nil }),
		WithJournal(func(*config.Config) (journal.Recorder, error) { return journal.NewMemory(), nil }),
		WithNotifier(func(*config.Config) notifier.Notifier { return notifier.Noop{} }),
	}
}

func TestBuildDemoApp(t *testing.T) {
	src := &fakeSource{history: map[string][]market.Candle{}, ch: make(chan market.CandleEvent)}
	a, err := NewApp(demoConfig(), testOptions(src)...)
	require.NoError(t, err)
	require.NotNil(t, a.LiveService())
	assert.NotNil(t, a.LiveService().Engine())
}

func TestBuildRejectsUnknownModelType(t *testing.T) {
	cfg := demoConfig()
	cfg.Models.Entries[0].Type = "oracle"
	_, err := NewApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown model type")
}

func TestBuildBacktestNeedsDataDir(t *testing.T) {
	cfg := demoConfig()
	cfg.App.Mode = config.ModeBacktest
	_, err := NewApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_dir")
}

func TestLiveServiceWarmupAndSteps(t *testing.T) {
	src := &fakeSource{
		history: map[string][]market.Candle{
			"EUR/USD": historyCandles(30, 1.1000),
		},
		ch: make(chan market.CandleEvent, 8),
	}
	a, err := NewApp(demoConfig(), testOptions(src)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	eng := a.LiveService().Engine()
	require.Eventually(t, func() bool {
		return !eng.Snapshot().Time.IsZero()
	}, 5*time.Second, 10*time.Millisecond, "warmup step never reached the engine")

	snap := eng.Snapshot()
	assert.Equal(t, 10000.0, snap.Account.Equity)
	assert.False(t, snap.Halted)

	// a staged candle should flow through a scheduled decision step
	ct := time.Now().UTC()
	src.ch <- market.CandleEvent{
		Instrument: "EUR/USD",
		Interval:   "1s",
		Candle: market.Candle{
			Instrument: "EUR/USD",
			OpenTime:   ct.Add(-time.Second).UnixMilli(),
			CloseTime:  ct.UnixMilli(),
			Open:       1.1002, High: 1.1002, Low: 1.1002, Close: 1.1002,
		},
	}
	require.Eventually(t, func() bool {
		return eng.Snapshot().Time.After(snap.Time)
	}, 5*time.Second, 10*time.Millisecond, "scheduled step never advanced the clock")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestLiveServiceFailsWithoutHistory(t *testing.T) {
	src := &fakeSource{history: map[string][]market.Candle{}, ch: make(chan market.CandleEvent)}
	a, err := NewApp(demoConfig(), testOptions(src)...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = a.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warmup")
}

func TestEntryPriceType(t *testing.T) {
	assert.Equal(t, "limit", string(entryPriceType("limit")))
	assert.Equal(t, "market", string(entryPriceType("market")))
	assert.Equal(t, "market", string(entryPriceType("")))
}

