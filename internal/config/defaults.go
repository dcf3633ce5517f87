package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv            = "dev"
	defaultAppMode           = ModeDemo
	defaultAppLogLevel       = "info"
	defaultAppLogPath        = "/data/logs/forexbot.log"
	defaultAccountCurrency   = "USD"
	defaultAccountBalance    = 10000
	defaultAccountLeverage   = 30
	defaultMarketInterval    = "15m"
	defaultMarketMaxCached   = 500
	defaultMarketName        = "binance"
	defaultMarketREST        = "https://api.binance.com"
	defaultMinStrength       = 0.1
	defaultRiskLeverage      = 30
	defaultRiskMaxOpen       = 5
	defaultRiskDailyLoss     = 0.03
	defaultSizingRiskPct     = 0.01
	defaultSizingStopPips    = 50
	defaultSizingTPRatio     = 1.5
	defaultEngineOffset      = 5
	defaultEngineSubmitTO    = 10
	defaultEngineSweep       = 30
	defaultEngineOrderAge    = 300
	defaultEngineQueue       = 256
	defaultEnginePriceType   = "market"
	defaultBridgeTimeout     = 15
	defaultBridgeAttempts    = 3
	defaultBridgePoll        = 1
	defaultBridgeBreakerN    = 5
	defaultBridgeBreakerCool = 30
	defaultJournalPath       = "/data/db/journal.db"
	defaultBacktestStore     = "/data/db/backtests.db"
	defaultBacktestBalance   = 10000
	defaultBacktestLeverage  = 30
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Account.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Models.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Sizing.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Bridge.applyDefaults(keys)
	c.Journal.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.mode", &a.Mode, defaultAppMode),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (a *AccountConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("account.currency", &a.Currency, defaultAccountCurrency),
		fieldDefault{
			key:   "account.balance",
			need:  func() bool { return a.Balance <= 0 },
			apply: func() { a.Balance = defaultAccountBalance },
		},
		fieldDefault{
			key:   "account.leverage",
			need:  func() bool { return a.Leverage <= 0 },
			apply: func() { a.Leverage = defaultAccountLeverage },
		},
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		fieldDefault{
			key:   "market.max_cached",
			need:  func() bool { return m.MaxCached <= 0 },
			apply: func() { m.MaxCached = defaultMarketMaxCached },
		},
	)
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (m *ModelsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if m.Weights == nil {
		m.Weights = make(map[string]float64)
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "models.min_strength",
			need:  func() bool { return m.MinStrength <= 0 },
			apply: func() { m.MinStrength = defaultMinStrength },
		},
	)
	for i := range m.Entries {
		e := &m.Entries[i]
		if strings.TrimSpace(e.Horizon) == "" {
			e.Horizon = defaultMarketInterval
		}
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.max_leverage",
			need:  func() bool { return r.MaxLeverage <= 0 },
			apply: func() { r.MaxLeverage = defaultRiskLeverage },
		},
		fieldDefault{
			key:   "risk.max_open_positions",
			need:  func() bool { return r.MaxOpenPositions <= 0 },
			apply: func() { r.MaxOpenPositions = defaultRiskMaxOpen },
		},
		fieldDefault{
			key:   "risk.daily_loss_pct",
			need:  func() bool { return r.DailyLossPct <= 0 },
			apply: func() { r.DailyLossPct = defaultRiskDailyLoss },
		},
	)
	if r.MinNotional < 0 {
		r.MinNotional = 0
	}
	if r.MaxHoldingTimeSeconds < 0 {
		r.MaxHoldingTimeSeconds = 0
	}
}

func (s *SizingConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sizing.per_trade_risk_pct",
			need:  func() bool { return s.PerTradeRiskPct <= 0 },
			apply: func() { s.PerTradeRiskPct = defaultSizingRiskPct },
		},
		fieldDefault{
			key:   "sizing.stop_loss_pips",
			need:  func() bool { return s.StopLossPips <= 0 },
			apply: func() { s.StopLossPips = defaultSizingStopPips },
		},
		fieldDefault{
			key:   "sizing.take_profit_ratio",
			need:  func() bool { return s.TakeProfitRatio <= 0 },
			apply: func() { s.TakeProfitRatio = defaultSizingTPRatio },
		},
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("engine.entry_price_type", &e.EntryPriceType, defaultEnginePriceType),
		fieldDefault{
			key:   "engine.decision_offset_seconds",
			need:  func() bool { return e.DecisionOffsetSeconds == 0 },
			apply: func() { e.DecisionOffsetSeconds = defaultEngineOffset },
		},
		fieldDefault{
			key:   "engine.submit_timeout_seconds",
			need:  func() bool { return e.SubmitTimeoutSeconds <= 0 },
			apply: func() { e.SubmitTimeoutSeconds = defaultEngineSubmitTO },
		},
		fieldDefault{
			key:   "engine.sweep_interval_seconds",
			need:  func() bool { return e.SweepIntervalSeconds <= 0 },
			apply: func() { e.SweepIntervalSeconds = defaultEngineSweep },
		},
		fieldDefault{
			key:   "engine.max_order_age_seconds",
			need:  func() bool { return e.MaxOrderAgeSeconds <= 0 },
			apply: func() { e.MaxOrderAgeSeconds = defaultEngineOrderAge },
		},
		fieldDefault{
			key:   "engine.queue_size",
			need:  func() bool { return e.QueueSize <= 0 },
			apply: func() { e.QueueSize = defaultEngineQueue },
		},
	)
	if e.LimitOffsetPips < 0 {
		e.LimitOffsetPips = 0
	}
}

func (b *BridgeConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "bridge.timeout_seconds",
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBridgeTimeout },
		},
		fieldDefault{
			key:   "bridge.max_attempts",
			need:  func() bool { return b.MaxAttempts <= 0 },
			apply: func() { b.MaxAttempts = defaultBridgeAttempts },
		},
		fieldDefault{
			key:   "bridge.poll_interval_seconds",
			need:  func() bool { return b.PollIntervalSeconds <= 0 },
			apply: func() { b.PollIntervalSeconds = defaultBridgePoll },
		},
		fieldDefault{
			key:   "bridge.breaker_threshold",
			need:  func() bool { return b.BreakerThreshold <= 0 },
			apply: func() { b.BreakerThreshold = defaultBridgeBreakerN },
		},
		fieldDefault{
			key:   "bridge.breaker_cooldown_seconds",
			need:  func() bool { return b.BreakerCooldownSecond <= 0 },
			apply: func() { b.BreakerCooldownSecond = defaultBridgeBreakerCool },
		},
	)
}

func (j *JournalConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("journal.path", &j.Path, defaultJournalPath),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.store_path", &b.StorePath, defaultBacktestStore),
		fieldDefault{
			key:   "backtest.initial_balance",
			need:  func() bool { return b.InitialBalance <= 0 },
			apply: func() { b.InitialBalance = defaultBacktestBalance },
		},
		fieldDefault{
			key:   "backtest.leverage",
			need:  func() bool { return b.Leverage <= 0 },
			apply: func() { b.Leverage = defaultBacktestLeverage },
		},
	)
	if b.FeeRate < 0 {
		b.FeeRate = 0
	}
	if b.SlippageBps < 0 {
		b.SlippageBps = 0
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
