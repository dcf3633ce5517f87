package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"forexbot/internal/backtest"
	"forexbot/internal/config"
	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/model"
	"forexbot/internal/risk"
	"forexbot/internal/scheduler"
	"forexbot/internal/sizing"
)

// BacktestService runs a single replay session from CSV candle files
// and persists the result.
type BacktestService struct {
	cfg      *config.Config
	registry *market.Registry
	models   []model.Model
}

func newBacktestService(cfg *config.Config, registry *market.Registry, models []model.Model) (*BacktestService, error) {
	if strings.TrimSpace(cfg.Backtest.DataDir) == "" {
		return nil, fmt.Errorf("backtest.data_dir is required in backtest mode")
	}
	return &BacktestService{cfg: cfg, registry: registry, models: models}, nil
}

func (s *BacktestService) Run(ctx context.Context) error {
	candles, err := s.loadCandles()
	if err != nil {
		return err
	}

	instruments := s.registry.IDs()
	params := backtest.SessionParams{
		Config: backtest.RunConfig{
			Instruments:     instruments,
			StartTS:         candles[0].CloseTime,
			EndTS:           candles[len(candles)-1].CloseTime,
			InitialBalance:  s.cfg.Backtest.InitialBalance,
			Leverage:        s.cfg.Backtest.Leverage,
			FeeRate:         s.cfg.Backtest.FeeRate,
			SlippageBps:     s.cfg.Backtest.SlippageBps,
			PerTradeRiskPct: s.cfg.Sizing.PerTradeRiskPct,
			StopLossPips:    s.cfg.Sizing.StopLossPips,
			TakeProfitRatio: s.cfg.Sizing.TakeProfitRatio,
		},
		Registry:     s.registry,
		Models:       s.models,
		ModelWeights: s.cfg.Models.Weights,
		MinStrength:  s.cfg.Models.MinStrength,
		Limits: risk.Limits{
			MaxLeverage:      s.cfg.Risk.MaxLeverage,
			MaxOpenPositions: s.cfg.Risk.MaxOpenPositions,
			DailyLossPct:     s.cfg.Risk.DailyLossPct,
			MinNotional:      s.cfg.Risk.MinNotional,
			MaxHoldingTime:   s.cfg.Risk.MaxHoldingTime(),
		},
		Sizing: sizing.Params{
			PerTradeRiskPct: s.cfg.Sizing.PerTradeRiskPct,
			StopLossPips:    s.cfg.Sizing.StopLossPips,
			TakeProfitRatio: s.cfg.Sizing.TakeProfitRatio,
		},
	}

	res, err := backtest.Execute(ctx, candles, params)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	if path := strings.TrimSpace(s.cfg.Backtest.StorePath); path != "" {
		store, err := backtest.NewStore(path)
		if err != nil {
			return fmt.Errorf("backtest store: %w", err)
		}
		defer store.Close()
		if err := store.SaveResult(ctx, res); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		logger.Infof("run %s saved to %s", res.Run.ID, path)
	}

	st := res.Run.Stats
	logger.Infof("backtest finished: status=%s balance=%.2f profit=%.2f trades=%d winrate=%.1f%% maxDD=%.2f%% sharpe=%.2f",
		res.Run.Status, st.FinalBalance, st.Profit, st.Trades, st.WinRate*100, st.MaxDrawdownPct*100, st.Sharpe)
	return nil
}

// loadCandles reads one CSV per instrument from the data directory.
// File naming follows the instrument id: EUR/USD -> eur_usd.csv.
func (s *BacktestService) loadCandles() ([]market.Candle, error) {
	interval, ok := scheduler.ParseInterval(s.cfg.Market.Interval)
	if !ok {
		return nil, fmt.Errorf("invalid interval %q", s.cfg.Market.Interval)
	}
	var all []market.Candle
	for _, id := range s.registry.IDs() {
		name := strings.ToLower(strings.ReplaceAll(id, "/", "_")) + ".csv"
		path := filepath.Join(s.cfg.Backtest.DataDir, name)
		candles, err := backtest.LoadCSV(path, id, interval)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		logger.Infof("loaded %d candles for %s from %s", len(candles), id, name)
		all = append(all, candles...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no candles found under %s", s.cfg.Backtest.DataDir)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CloseTime != all[j].CloseTime {
			return all[i].CloseTime < all[j].CloseTime
		}
		return all[i].Instrument < all[j].Instrument
	})
	return all, nil
}
