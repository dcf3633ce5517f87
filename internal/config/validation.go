package config

import (
	"fmt"
	"strings"

	"forexbot/internal/scheduler"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Account.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Models.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Sizing.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if c.App.Mode == ModeLive {
		if err := c.Bridge.validate(); err != nil {
			return err
		}
	}
	return c.Notify.validate()
}

func (a *AppConfig) validate() error {
	mode := NormalizeMode(a.Mode)
	if mode == "" {
		return fmt.Errorf("app.mode must be backtest, demo or live, got %q", a.Mode)
	}
	a.Mode = mode
	return nil
}

func (a *AccountConfig) validate() error {
	if a.Balance <= 0 {
		return fmt.Errorf("account.balance must be > 0")
	}
	if a.Leverage <= 0 {
		return fmt.Errorf("account.leverage must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, ok := scheduler.ParseInterval(m.Interval); !ok {
		return fmt.Errorf("market.interval %q is not a valid granularity", m.Interval)
	}
	if m.MaxCached < 50 || m.MaxCached > 5000 {
		return fmt.Errorf("market.max_cached must be in [50,5000]")
	}
	if len(m.Instruments) == 0 {
		return fmt.Errorf("market.instruments requires at least one instrument")
	}
	for _, inst := range m.Instruments {
		if strings.TrimSpace(inst.ID) == "" {
			return fmt.Errorf("market.instruments contains entry without id")
		}
		if inst.QtyStep < 0 || inst.MinTradeSize < 0 {
			return fmt.Errorf("market.instruments.%s has negative size fields", inst.ID)
		}
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if activeName == "" || strings.ToLower(src.Name) == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (m *ModelsConfig) validate() error {
	if m.MinStrength < 0 || m.MinStrength >= 1 {
		return fmt.Errorf("models.min_strength must be in [0,1)")
	}
	enabled := 0
	seen := make(map[string]bool)
	for _, e := range m.Entries {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return fmt.Errorf("models.entries contains entry without id")
		}
		if seen[id] {
			return fmt.Errorf("models.entries contains duplicate id %s", id)
		}
		seen[id] = true
		switch e.Type {
		case "sma_cross":
			if e.Fast <= 0 || e.Slow <= e.Fast {
				return fmt.Errorf("models.entries.%s requires 0 < fast < slow", id)
			}
		case "rsi_reversion":
			if e.Period <= 1 {
				return fmt.Errorf("models.entries.%s requires period > 1", id)
			}
		default:
			return fmt.Errorf("models.entries.%s has unknown type %q", id, e.Type)
		}
		if e.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("models.entries requires at least one enabled model")
	}
	for id, w := range m.Weights {
		if w < 0 {
			return fmt.Errorf("models.weights.%s must be >= 0", id)
		}
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxLeverage <= 0 {
		return fmt.Errorf("risk.max_leverage must be > 0")
	}
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if r.DailyLossPct <= 0 || r.DailyLossPct >= 1 {
		return fmt.Errorf("risk.daily_loss_pct must be in (0,1)")
	}
	return nil
}

func (s *SizingConfig) validate() error {
	if s.PerTradeRiskPct <= 0 || s.PerTradeRiskPct > 0.1 {
		return fmt.Errorf("sizing.per_trade_risk_pct must be in (0,0.1]")
	}
	if s.StopLossPips <= 0 {
		return fmt.Errorf("sizing.stop_loss_pips must be > 0")
	}
	if s.TakeProfitRatio <= 0 {
		return fmt.Errorf("sizing.take_profit_ratio must be > 0")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.DecisionOffsetSeconds < 0 {
		return fmt.Errorf("engine.decision_offset_seconds must be >= 0")
	}
	switch e.EntryPriceType {
	case "market", "limit":
	default:
		return fmt.Errorf("engine.entry_price_type must be market or limit, got %q", e.EntryPriceType)
	}
	return nil
}

func (b *BridgeConfig) validate() error {
	if strings.TrimSpace(b.APIURL) == "" {
		return fmt.Errorf("bridge.api_url cannot be empty in live mode")
	}
	if strings.TrimSpace(b.APIToken) == "" {
		if strings.TrimSpace(b.Username) == "" || strings.TrimSpace(b.Password) == "" {
			return fmt.Errorf("bridge requires api_token or username+password")
		}
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
