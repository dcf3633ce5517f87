// Package backtest replays historical candles through the same engine
// that runs live, against the simulated venue, and summarizes the
// session into persisted run records.
package backtest

import (
	"encoding/json"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// RunConfig is the parameter snapshot of one backtest, stored with the
// run so results stay reproducible.
type RunConfig struct {
	Instruments     []string `json:"instruments"`
	StartTS         int64    `json:"start_ts"`
	EndTS           int64    `json:"end_ts"`
	InitialBalance  float64  `json:"initial_balance"`
	Leverage        float64  `json:"leverage"`
	FeeRate         float64  `json:"fee_rate"`
	SlippageBps     float64  `json:"slippage_bps"`
	PerTradeRiskPct float64  `json:"per_trade_risk_pct"`
	StopLossPips    float64  `json:"stop_loss_pips"`
	TakeProfitRatio float64  `json:"take_profit_ratio"`
	Notes           string   `json:"notes,omitempty"`
}

// RunStats aggregates the performance of a finished run.
type RunStats struct {
	FinalBalance   float64   `json:"final_balance"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"`
	Sharpe         float64   `json:"sharpe"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Orders         int       `json:"orders"`
	FeesPaid       float64   `json:"fees_paid"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Run is one backtest session.
type Run struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Config      RunConfig `json:"config"`
	Stats       RunStats  `json:"stats"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Drawdown float64 `json:"drawdown"`
	Exposure float64 `json:"exposure"`
}

// Trade is one closed round trip, reconstructed from realized PnL
// transitions.
type Trade struct {
	Instrument string    `json:"instrument"`
	PnL        float64   `json:"pnl"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

func (r Run) MarshalConfig() ([]byte, error) { return json.Marshal(r.Config) }
func (r Run) MarshalStats() ([]byte, error)  { return json.Marshal(r.Stats) }
