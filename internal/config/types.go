package config

import (
	"strings"
	"time"
)

// Config is the main configuration carrier for the bot.
type Config struct {
	App      AppConfig      `toml:"app"`
	Account  AccountConfig  `toml:"account"`
	Market   MarketConfig   `toml:"market"`
	Models   ModelsConfig   `toml:"models"`
	Risk     RiskConfig     `toml:"risk"`
	Sizing   SizingConfig   `toml:"sizing"`
	Engine   EngineConfig   `toml:"engine"`
	Bridge   BridgeConfig   `toml:"bridge"`
	Journal  JournalConfig  `toml:"journal"`
	Notify   NotifyConfig   `toml:"notify"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	Mode     string `toml:"mode"` // backtest | demo | live
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// Mode constants. Demo trades live market data against the simulated
// venue; live routes orders through the execution bridge.
const (
	ModeBacktest = "backtest"
	ModeDemo     = "demo"
	ModeLive     = "live"
)

// NormalizeMode maps mode aliases to canonical values. Returns "" for
// anything unrecognized.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "backtest", "bt", "replay":
		return ModeBacktest
	case "demo", "paper", "sim":
		return ModeDemo
	case "live", "prod":
		return ModeLive
	default:
		return ""
	}
}

// AccountConfig seeds the session ledger in demo and live modes.
type AccountConfig struct {
	Currency string  `toml:"currency"`
	Balance  float64 `toml:"balance"`
	Leverage float64 `toml:"leverage"`
}

type MarketConfig struct {
	Interval     string             `toml:"interval"`
	MaxCached    int                `toml:"max_cached"`
	ActiveSource string             `toml:"active_source"`
	Sources      []MarketSource     `toml:"sources"`
	Instruments  []InstrumentConfig `toml:"instruments"`
}

type MarketSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
}

type InstrumentConfig struct {
	ID           string  `toml:"id"`
	PipLocation  int     `toml:"pip_location"`
	QtyStep      float64 `toml:"qty_step"`
	MinTradeSize float64 `toml:"min_trade_size"`
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://api.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

type ModelsConfig struct {
	MinStrength float64            `toml:"min_strength"`
	Weights     map[string]float64 `toml:"weights"`
	WeightsPath string             `toml:"weights_path"` // hot-reloaded, overrides Weights when set
	Entries     []ModelEntry       `toml:"entries"`
}

type ModelEntry struct {
	ID      string `toml:"id"`
	Type    string `toml:"type"` // sma_cross | rsi_reversion
	Enabled bool   `toml:"enabled"`
	Horizon string `toml:"horizon"`
	Fast    int    `toml:"fast"`
	Slow    int    `toml:"slow"`
	Period  int    `toml:"period"`
}

type RiskConfig struct {
	MaxLeverage           float64 `toml:"max_leverage"`
	MaxOpenPositions      int     `toml:"max_open_positions"`
	DailyLossPct          float64 `toml:"daily_loss_pct"`
	MinNotional           float64 `toml:"min_notional"`
	MaxHoldingTimeSeconds int     `toml:"max_holding_time_seconds"`
}

func (r RiskConfig) MaxHoldingTime() time.Duration {
	return time.Duration(r.MaxHoldingTimeSeconds) * time.Second
}

type SizingConfig struct {
	PerTradeRiskPct float64 `toml:"per_trade_risk_pct"`
	StopLossPips    float64 `toml:"stop_loss_pips"`
	TakeProfitRatio float64 `toml:"take_profit_ratio"`
}

type EngineConfig struct {
	DecisionOffsetSeconds int     `toml:"decision_offset_seconds"`
	SubmitTimeoutSeconds  int     `toml:"submit_timeout_seconds"`
	SweepIntervalSeconds  int     `toml:"sweep_interval_seconds"`
	MaxOrderAgeSeconds    int     `toml:"max_order_age_seconds"`
	QueueSize             int     `toml:"queue_size"`
	EntryPriceType        string  `toml:"entry_price_type"` // market | limit
	LimitOffsetPips       float64 `toml:"limit_offset_pips"`
}

// BridgeConfig describes the external execution engine used in live
// mode.
type BridgeConfig struct {
	APIURL                string `toml:"api_url"`
	APIToken              string `toml:"api_token"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	InsecureSkipVerify    bool   `toml:"insecure_skip_verify"`
	MaxAttempts           int    `toml:"max_attempts"`
	PollIntervalSeconds   int    `toml:"poll_interval_seconds"`
	BreakerThreshold      int    `toml:"breaker_threshold"`
	BreakerCooldownSecond int    `toml:"breaker_cooldown_seconds"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type BacktestConfig struct {
	DataDir        string  `toml:"data_dir"`
	StorePath      string  `toml:"store_path"`
	InitialBalance float64 `toml:"initial_balance"`
	Leverage       float64 `toml:"leverage"`
	FeeRate        float64 `toml:"fee_rate"`
	SlippageBps    float64 `toml:"slippage_bps"`
}

// keySet tracks the field paths explicitly present in the config file,
// so defaults never clobber an explicit zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the defaulting rule for one field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
