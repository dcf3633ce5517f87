package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"forexbot/internal/engine"
	"forexbot/internal/journal"
	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/model"
	"forexbot/internal/risk"
	"forexbot/internal/signal"
	"forexbot/internal/sizing"
	"forexbot/internal/venue/sim"
)

// SessionParams are the prepared components for one backtest run.
type SessionParams struct {
	Config       RunConfig
	Registry     *market.Registry
	Models       []model.Model
	ModelWeights map[string]float64
	MinStrength  float64
	Limits       risk.Limits
	Sizing       sizing.Params
	Extra        journal.Recorder // optional persistent journal sink
}

// Result bundles everything a finished run produced.
type Result struct {
	Run    Run
	Curve  []EquityPoint
	Trades []Trade
	Trace  *journal.Memory
}

// Execute replays the candles through a fresh engine against the
// simulated venue. The replay is strictly sequential: every candle
// batch is fully handled, including the venue events it caused, before
// the next one starts, so the same inputs always produce the same
// journal trace.
func Execute(ctx context.Context, candles []market.Candle, p SessionParams) (*Result, error) {
	replay := market.NewReplay(candles)
	if replay.Len() == 0 {
		return nil, fmt.Errorf("backtest input: no candles")
	}
	if err := replay.Validate(); err != nil {
		return nil, fmt.Errorf("backtest input: %w", err)
	}

	vn := sim.New(sim.Config{
		SlippageBps: p.Config.SlippageBps,
		FeeRate:     p.Config.FeeRate,
	})
	ledger := risk.NewLedger("USD", p.Config.InitialBalance, p.Config.Leverage)
	mgr := risk.NewManager(p.Limits, ledger)
	agg := signal.NewAggregator(p.Registry, p.ModelWeights, p.MinStrength)
	runner := model.NewRunner(p.Models, agg)
	sizer := sizing.NewSizer(p.Sizing)

	trace := journal.NewMemory()
	var rec journal.Recorder = trace
	if p.Extra != nil {
		rec = journal.Multi{trace, p.Extra}
	}

	// fixed run tag keeps client order IDs replay-stable
	eng := engine.New(engine.Config{RunID: "backtest"}, p.Registry, runner, ledger, mgr, sizer, vn, rec, nil)
	eng.Start()
	defer eng.Stop()

	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusRunning,
		Config:    p.Config,
		CreatedAt: time.Now(),
	}
	logger.Infof("backtest %s: %d candles", run.ID, replay.Len())

	var curve []EquityPoint
	peak := p.Config.InitialBalance
	orders := 0

	for {
		batch, ok := replay.NextBatch()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			run.Status = RunStatusFailed
			run.Message = err.Error()
			return &Result{Run: run, Curve: curve, Trace: trace}, err
		}
		at := time.UnixMilli(batch[0].CloseTime).UTC()

		for _, c := range batch {
			vn.OnTick(c.Instrument, c.Close, at)
		}
		if err := pump(ctx, eng, vn); err != nil {
			return nil, err
		}
		if err := eng.SendSync(ctx, engine.Envelope{
			Type: engine.EvtStep,
			Step: &engine.StepPayload{Time: at, Candles: batch},
		}); err != nil {
			return nil, fmt.Errorf("step at %s: %w", at, err)
		}
		if err := pump(ctx, eng, vn); err != nil {
			return nil, err
		}

		snap := eng.Snapshot()
		if snap.Account.Equity > peak {
			peak = snap.Account.Equity
		}
		point := EquityPoint{
			TS:       at.Unix(),
			Equity:   snap.Account.Equity,
			Exposure: ledger.GrossNotional(),
		}
		if peak > 0 {
			point.Drawdown = (peak - snap.Account.Equity) / peak
		}
		curve = append(curve, point)
		orders = int(eng.Book().NextID() - 1)

		if snap.Fatal {
			run.Status = RunStatusFailed
			run.Message = snap.FatalErr
			break
		}
	}

	trades := make([]Trade, 0, len(ledger.ClosedTrades()))
	for _, ct := range ledger.ClosedTrades() {
		trades = append(trades, Trade{
			Instrument: ct.Instrument,
			PnL:        ct.PnL,
			OpenedAt:   ct.OpenedAt,
			ClosedAt:   ct.ClosedAt,
		})
	}

	run.Stats = computeStats(p.Config.InitialBalance, curve, trades)
	run.Stats.Orders = orders
	run.Stats.FeesPaid = vn.FeesPaid()
	run.Stats.FinishedAt = time.Now()
	run.CompletedAt = run.Stats.FinishedAt
	if run.Status == RunStatusRunning {
		run.Status = RunStatusDone
	}
	logger.Infof("backtest %s done: return=%.2f%% trades=%d winrate=%.1f%% maxDD=%.2f%%",
		run.ID, run.Stats.ReturnPct*100, run.Stats.Trades, run.Stats.WinRate*100, run.Stats.MaxDrawdownPct*100)

	return &Result{Run: run, Curve: curve, Trades: trades, Trace: trace}, nil
}

// pump forwards queued venue events into the engine until the queue is
// empty. Fills can trigger no further venue activity in the simulator,
// so a single drain pass suffices.
func pump(ctx context.Context, eng *engine.Engine, vn *sim.Venue) error {
	for {
		select {
		case ev := <-vn.Events():
			if err := eng.SendSync(ctx, engine.Envelope{Type: engine.EvtVenue, Venue: &ev}); err != nil {
				return fmt.Errorf("venue event for order %d: %w", ev.OrderID, err)
			}
		default:
			return nil
		}
	}
}
