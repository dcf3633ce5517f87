package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forexbot/internal/journal"
	"forexbot/internal/market"
	"forexbot/internal/model"
	"forexbot/internal/order"
	"forexbot/internal/risk"
	"forexbot/internal/signal"
	"forexbot/internal/sizing"
	"forexbot/internal/venue"
	"forexbot/internal/venue/sim"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// scriptedModel emits a fixed strength sequence, one value per call.
type scriptedModel struct {
	id        string
	strengths []float64
	calls     int
}

func (m *scriptedModel) ID() string { return m.id }

func (m *scriptedModel) Predict(candles []market.Candle) ([]byte, error) {
	if m.calls >= len(m.strengths) {
		return nil, nil
	}
	s := m.strengths[m.calls]
	m.calls++
	last := candles[len(candles)-1]
	return json.Marshal(model.RawOutput{
		Instrument: last.Instrument,
		Timestamp:  last.CloseTime,
		Strength:   s,
		ModelID:    m.id,
	})
}

type harness struct {
	engine *Engine
	venue  *sim.Venue
	trace  *journal.Memory
	ledger *risk.Ledger
	mgr    *risk.Manager
}

func newHarness(t *testing.T, strengths []float64, limits risk.Limits) *harness {
	return newHarnessCfg(t, Config{RunID: "test"}, strengths, limits)
}

func newHarnessCfg(t *testing.T, cfg Config, strengths []float64, limits risk.Limits) *harness {
	return newHarnessSim(t, cfg, sim.Config{}, strengths, limits)
}

func newHarnessSim(t *testing.T, cfg Config, simCfg sim.Config, strengths []float64, limits risk.Limits) *harness {
	t.Helper()
	registry, err := market.NewRegistry([]market.Instrument{
		{ID: "EUR/USD", PipLocation: -4, QtyStep: 1000, MinTradeSize: 1000},
	})
	require.NoError(t, err)

	agg := signal.NewAggregator(registry, nil, 0.1)
	runner := model.NewRunner([]model.Model{&scriptedModel{id: "scripted", strengths: strengths}}, agg)
	ledger := risk.NewLedger("USD", 10000, 30)
	if limits.MaxLeverage == 0 {
		limits.MaxLeverage = 30
	}
	if limits.MaxOpenPositions == 0 {
		limits.MaxOpenPositions = 5
	}
	mgr := risk.NewManager(limits, ledger)
	sizer := sizing.NewSizer(sizing.Params{PerTradeRiskPct: 0.01, StopLossPips: 50, TakeProfitRatio: 1.5})
	vn := sim.New(simCfg)
	trace := journal.NewMemory()

	e := New(cfg, registry, runner, ledger, mgr, sizer, vn, trace, nil)
	e.Start()
	t.Cleanup(e.Stop)
	return &harness{engine: e, venue: vn, trace: trace, ledger: ledger, mgr: mgr}
}

// step advances one decision cycle and pumps the resulting venue
// events back into the loop, the way the backtest runner does.
func (h *harness) step(t *testing.T, at time.Time, price float64) {
	t.Helper()
	c := market.Candle{
		Instrument: "EUR/USD",
		OpenTime:   at.Add(-time.Minute).UnixMilli(),
		CloseTime:  at.UnixMilli(),
		Open:       price, High: price, Low: price, Close: price,
	}
	h.venue.OnTick(c.Instrument, price, at)
	h.pump(t)
	require.NoError(t, h.engine.SendSync(context.Background(),
		Envelope{Type: EvtStep, Step: &StepPayload{Time: at, Candles: []market.Candle{c}}}))
	h.pump(t)
}

func (h *harness) pump(t *testing.T) {
	t.Helper()
	for {
		select {
		case ev := <-h.venue.Events():
			require.NoError(t, h.engine.SendSync(context.Background(),
				Envelope{Type: EvtVenue, Venue: &ev}))
		default:
			return
		}
	}
}

func TestEntryOpensPosition(t *testing.T) {
	h := newHarness(t, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)

	p := h.ledger.Position("EUR/USD")
	require.NotNil(t, p)
	assert.Equal(t, order.Buy, p.Side)
	// 1% of 10000 over a 50 pip stop, floored to the 1000 step
	assert.Equal(t, 20000.0, p.Qty)
	assert.InDelta(t, 1.0950, p.StopPrice, 1e-9)
	assert.InDelta(t, 1.1075, p.TakeProfit, 1e-9)
}

func TestWeakSignalDoesNotTrade(t *testing.T) {
	h := newHarness(t, []float64{0.05}, risk.Limits{})
	h.step(t, t0, 1.1000)
	assert.Nil(t, h.ledger.Position("EUR/USD"))
	assert.Empty(t, h.engine.Book().Open())
}

func TestPositionExistsRejection(t *testing.T) {
	h := newHarness(t, []float64{0.9, 0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)
	require.NotNil(t, h.ledger.Position("EUR/USD"))
	qty := h.ledger.Position("EUR/USD").Qty

	h.step(t, t0.Add(time.Minute), 1.1001)
	assert.Equal(t, qty, h.ledger.Position("EUR/USD").Qty)

	var sawRejection bool
	for _, e := range h.trace.Entries() {
		if e.Kind != journal.KindRisk {
			continue
		}
		var rec journal.RiskRecord
		require.NoError(t, json.Unmarshal(e.Payload, &rec))
		if rec.Action == "entry-rejected" && rec.Reason == "position-exists" {
			sawRejection = true
		}
	}
	assert.True(t, sawRejection)
}

func TestStopLossForcesClose(t *testing.T) {
	h := newHarness(t, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)
	require.NotNil(t, h.ledger.Position("EUR/USD"))

	// trade through the 1.0950 stop
	h.step(t, t0.Add(time.Minute), 1.0940)
	assert.Nil(t, h.ledger.Position("EUR/USD"))
	// 20000 units losing 60 pips
	assert.InDelta(t, -120.0, h.ledger.Snapshot().RealizedPnL, 1e-6)
}

func TestHaltBlocksEntriesButStopsStillClose(t *testing.T) {
	h := newHarness(t, []float64{0.9, 0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)
	require.NotNil(t, h.ledger.Position("EUR/USD"))

	require.NoError(t, h.engine.SendSync(context.Background(),
		Envelope{Type: EvtHalt, Halt: &HaltPayload{Reason: "operator"}}))
	assert.True(t, h.engine.Snapshot().Halted)

	// stop still executes while halted
	h.step(t, t0.Add(time.Minute), 1.0940)
	assert.Nil(t, h.ledger.Position("EUR/USD"))

	// no new entry opens while halted
	h.step(t, t0.Add(2*time.Minute), 1.1000)
	assert.Nil(t, h.ledger.Position("EUR/USD"))

	require.NoError(t, h.engine.SendSync(context.Background(),
		Envelope{Type: EvtHalt, Halt: &HaltPayload{Resume: true}}))
	assert.False(t, h.engine.Snapshot().Halted)
}

func TestDailyLossHaltTriggersFromDrawdown(t *testing.T) {
	h := newHarness(t, []float64{0.9}, risk.Limits{DailyLossPct: 0.005})
	h.step(t, t0, 1.1000)
	require.NotNil(t, h.ledger.Position("EUR/USD"))

	// 30 pip drop on 20000 units is a 60 USD unrealized loss, 0.6%
	h.step(t, t0.Add(time.Minute), 1.0970)
	snap := h.engine.Snapshot()
	assert.True(t, snap.Halted)
	assert.Equal(t, "daily-loss", snap.HaltReason)
}

func TestLateFillAfterTerminalIsDiscarded(t *testing.T) {
	h := newHarness(t, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)
	p := h.ledger.Position("EUR/USD")
	require.NotNil(t, p)
	qty := p.Qty

	// the entry order is already terminal (filled); replay its fill
	ev := venue.Event{Type: venue.EventFill, OrderID: 1, Instrument: "EUR/USD", Qty: qty, Price: 1.1}
	require.NoError(t, h.engine.SendSync(context.Background(), Envelope{Type: EvtVenue, Venue: &ev}))

	// position unchanged: the duplicate was dropped
	assert.Equal(t, qty, h.ledger.Position("EUR/USD").Qty)
	assert.False(t, h.engine.Snapshot().Fatal)
}

func TestFillForUnknownOrderDiscarded(t *testing.T) {
	h := newHarness(t, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)
	qty := h.ledger.Position("EUR/USD").Qty

	ev := venue.Event{Type: venue.EventFill, OrderID: 99, Instrument: "EUR/USD", Qty: 5, Price: 1.1}
	require.NoError(t, h.engine.SendSync(context.Background(), Envelope{Type: EvtVenue, Venue: &ev}))
	assert.Equal(t, qty, h.ledger.Position("EUR/USD").Qty)
}

func TestDeterministicTraces(t *testing.T) {
	run := func() []byte {
		h := newHarness(t, []float64{0.9, 0, -0.3, 0.2, 0}, risk.Limits{})
		prices := []float64{1.1000, 1.1010, 1.0960, 1.0940, 1.1000}
		for i, p := range prices {
			h.step(t, t0.Add(time.Duration(i)*time.Minute), p)
		}
		trace, err := h.trace.Trace()
		require.NoError(t, err)
		return trace
	}
	assert.Equal(t, run(), run())
}

func TestStaleLimitEntryAutoCancels(t *testing.T) {
	// limit entries rest 10 pips below market; price never comes down
	cfg := Config{RunID: "test", EntryPriceType: order.Limit, LimitOffsetPips: 10}
	h := newHarnessCfg(t, cfg, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)

	open := h.engine.Book().Open()
	require.Len(t, open, 1)
	assert.Equal(t, order.StatusSubmitted, open[0].Status)
	assert.InDelta(t, 1.0990, open[0].LimitPrice, 1e-9)

	// under the resting age nothing happens
	require.NoError(t, h.engine.SendSync(context.Background(),
		Envelope{Type: EvtTimer, Timer: &TimerPayload{Time: t0.Add(299 * time.Second)}}))
	h.pump(t)
	assert.Len(t, h.engine.Book().Open(), 1)

	// past the resting age the engine cancels the order
	require.NoError(t, h.engine.SendSync(context.Background(),
		Envelope{Type: EvtTimer, Timer: &TimerPayload{Time: t0.Add(301 * time.Second)}}))
	h.pump(t)
	assert.Empty(t, h.engine.Book().Open())
	o, err := h.engine.Book().Get(open[0].ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)
	// the engine's own tag wins over the venue's generic reason
	assert.Equal(t, "stale", o.Reason)
	assert.Nil(t, h.ledger.Position("EUR/USD"))
}

func TestEngineSnapshotReflectsState(t *testing.T) {
	h := newHarness(t, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)

	snap := h.engine.Snapshot()
	assert.Equal(t, t0, snap.Time)
	assert.Equal(t, 1, snap.Positions)
	assert.False(t, snap.Fatal)
	assert.Equal(t, 10000.0, snap.Account.Equity) // flat price, no move yet
}

func TestRestingLimitEntryBlocksSecondEntry(t *testing.T) {
	// limit entries rest 10 pips below market and never cross at a
	// flat tape; consecutive cycles must not park a second full-size
	// order on the instrument, or both would fill past the cap
	cfg := Config{RunID: "test", EntryPriceType: order.Limit, LimitOffsetPips: 10}
	h := newHarnessCfg(t, cfg, []float64{0.9, 0.9}, risk.Limits{MaxLeverage: 3})

	h.step(t, t0, 1.1000)
	require.Len(t, h.engine.Book().Open(), 1)

	h.step(t, t0.Add(time.Minute), 1.1000)
	assert.Len(t, h.engine.Book().Open(), 1)

	var sawRejection bool
	for _, e := range h.trace.Entries() {
		if e.Kind != journal.KindRisk {
			continue
		}
		var rec journal.RiskRecord
		require.NoError(t, json.Unmarshal(e.Payload, &rec))
		if rec.Action == "entry-rejected" && rec.Reason == "order-in-flight" {
			sawRejection = true
		}
	}
	assert.True(t, sawRejection)

	// price trades through the resting order: exactly one position,
	// gross notional within equity x MaxLeverage
	h.venue.OnTick("EUR/USD", 1.0980, t0.Add(2*time.Minute))
	h.pump(t)
	p := h.ledger.Position("EUR/USD")
	require.NotNil(t, p)
	assert.Equal(t, 20000.0, p.Qty)
	acct := h.ledger.Snapshot()
	assert.LessOrEqual(t, h.ledger.GrossNotional(), acct.Equity*3+1e-6)
}

func TestFillFeesChargeTheAccount(t *testing.T) {
	h := newHarnessSim(t, Config{RunID: "test"}, sim.Config{FeeRate: 0.001}, []float64{0.9}, risk.Limits{})
	h.step(t, t0, 1.1000)

	require.NotNil(t, h.ledger.Position("EUR/USD"))
	// 20000 units at 1.1000: fee = 22000 * 0.001
	assert.InDelta(t, 22.0, h.venue.FeesPaid(), 1e-9)
	assert.InDelta(t, 10000.0-22.0, h.ledger.Snapshot().Equity, 1e-6)
}
