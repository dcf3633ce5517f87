// Package engine is the decision core: a single-goroutine actor that
// serializes market data, execution reports and control messages into
// one queue, so risk checks and order state never race. The same loop
// runs unchanged in backtest, demo and live; only the venue and the
// event feeder differ.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"forexbot/internal/journal"
	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/model"
	"forexbot/internal/notifier"
	"forexbot/internal/order"
	"forexbot/internal/risk"
	"forexbot/internal/sizing"
	"forexbot/internal/venue"
)

// Config holds the engine's own knobs; risk and sizing carry theirs.
type Config struct {
	RunID           string // client order tag prefix, fixed per session
	MaxHistory      int    // candles retained per instrument
	SubmitTimeout   time.Duration
	MaxOrderAge     time.Duration // resting limit entries are cancelled past this age
	QueueSize       int
	EntryPriceType  order.PriceType // market (default) or limit entries
	LimitOffsetPips float64         // limit entries rest this many pips inside the market
}

func (c *Config) withDefaults() {
	if c.RunID == "" {
		c.RunID = "run"
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 500
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.MaxOrderAge <= 0 {
		c.MaxOrderAge = order.DefaultStaleAge
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EntryPriceType == "" {
		c.EntryPriceType = order.Market
	}
}

// Snapshot is the engine's externally visible state, updated after
// every handled event and safe to read from any goroutine.
type Snapshot struct {
	Time       time.Time
	Account    risk.Account
	Positions  int
	OpenOrders int
	Halted     bool
	HaltReason string
	Fatal      bool
	FatalErr   string
}

// Engine wires the aggregation, risk, sizing and order subsystems
// behind a single event loop.
type Engine struct {
	cfg      Config
	registry *market.Registry
	runner   *model.Runner
	book     *order.Book
	ledger   *risk.Ledger
	riskMgr  *risk.Manager
	sizer    *sizing.Sizer
	venue    venue.Venue
	journal  journal.Recorder
	notify   notifier.Notifier

	msgCh  chan Envelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	clock           time.Time
	history         map[string][]market.Candle
	pendingClose    map[string]uint64 // instrument -> in-flight close order ID
	cancelRequested map[uint64]bool
	seq             uint64 // journal sequence
	fatalErr        error

	snapshot atomic.Value
}

func New(cfg Config, registry *market.Registry, runner *model.Runner, ledger *risk.Ledger,
	riskMgr *risk.Manager, sizer *sizing.Sizer, vn venue.Venue, rec journal.Recorder, nt notifier.Notifier) *Engine {
	cfg.withDefaults()
	if rec == nil {
		rec = journal.Discard{}
	}
	if nt == nil {
		nt = notifier.Noop{}
	}
	e := &Engine{
		cfg:             cfg,
		registry:        registry,
		runner:          runner,
		book:            order.NewBook(),
		ledger:          ledger,
		riskMgr:         riskMgr,
		sizer:           sizer,
		venue:           vn,
		journal:         rec,
		notify:          nt,
		msgCh:           make(chan Envelope, cfg.QueueSize),
		stopCh:          make(chan struct{}),
		history:         make(map[string][]market.Candle),
		pendingClose:    make(map[string]uint64),
		cancelRequested: make(map[uint64]bool),
	}
	e.refreshSnapshot()
	return e
}

func (e *Engine) Start() {
	e.wg.Add(1)
	go e.runLoop()
}

func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	if err := e.journal.Close(); err != nil {
		logger.Warnf("engine: journal close failed: %v", err)
	}
}

// Book exposes the order book for inspection by tests and reporting.
// Callers must not mutate orders outside the loop.
func (e *Engine) Book() *order.Book { return e.book }

func (e *Engine) Send(evt Envelope) error {
	select {
	case e.msgCh <- evt:
		return nil
	case <-e.stopCh:
		return fmt.Errorf("engine is stopped")
	}
}

// SendSync submits the event and waits for it to be fully handled.
// Backtests use this to keep the replay strictly sequential.
func (e *Engine) SendSync(ctx context.Context, evt Envelope) error {
	if evt.ReplyCh == nil {
		evt.ReplyCh = make(chan error, 1)
	}
	if err := e.Send(evt); err != nil {
		return err
	}
	select {
	case err := <-evt.ReplyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopCh:
		return fmt.Errorf("engine stopped during sync call")
	}
}

func (e *Engine) Snapshot() Snapshot {
	val := e.snapshot.Load()
	if val == nil {
		return Snapshot{}
	}
	return val.(Snapshot)
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	logger.Infof("engine loop started (run=%s)", e.cfg.RunID)
	for {
		select {
		case evt := <-e.msgCh:
			e.handleEvent(evt)
		case <-e.stopCh:
			logger.Infof("engine loop stopping")
			return
		}
	}
}

// handleEvent dispatches one envelope. A panicking handler is contained
// and surfaced to synchronous callers; it does not kill the loop.
func (e *Engine) handleEvent(evt Envelope) {
	var err error
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine panic handling %s: %v", evt.Type, r)
			debug.PrintStack()
			err = fmt.Errorf("panic: %v", r)
		}
		if evt.ReplyCh != nil {
			evt.ReplyCh <- err
			close(evt.ReplyCh)
		}
		if dur := time.Since(start); dur > 100*time.Millisecond {
			logger.Warnf("slow event %s took %v", evt.Type, dur)
		}
		e.refreshSnapshot()
	}()

	switch evt.Type {
	case EvtStep:
		err = e.onStep(evt.Step)
	case EvtVenue:
		err = e.onVenueEvent(*evt.Venue)
	case EvtTimer:
		err = e.onTimer(evt.Timer)
	case EvtReconfigure:
		err = e.onReconfigure(evt.Reconfigure)
	case EvtHalt:
		err = e.onHalt(evt.Halt)
	default:
		logger.Warnf("no handler for event type %s", evt.Type)
	}
	if err != nil {
		logger.Errorf("engine failed to handle %s: %v", evt.Type, err)
	}
}

// fatal puts the engine into the terminal error state: no further
// entries or closes are issued, only bookkeeping of events already in
// flight. Recovery requires operator intervention and a restart.
func (e *Engine) fatal(err error) {
	if e.fatalErr != nil {
		return
	}
	e.fatalErr = err
	logger.Errorf("engine fatal: %v", err)
	e.record(journal.KindFatal, map[string]string{"error": err.Error()})
	if nerr := e.notify.Notify(fmt.Sprintf("FATAL: trading session halted: %v", err)); nerr != nil {
		logger.Warnf("fatal alert delivery failed: %v", nerr)
	}
}

func (e *Engine) refreshSnapshot() {
	halted, reason := e.riskMgr.Halted()
	snap := Snapshot{
		Time:       e.clock,
		Account:    e.ledger.Snapshot(),
		Positions:  e.ledger.OpenPositions(),
		OpenOrders: len(e.book.Open()),
		Halted:     halted,
		HaltReason: reason,
		Fatal:      e.fatalErr != nil,
	}
	if e.fatalErr != nil {
		snap.FatalErr = e.fatalErr.Error()
	}
	e.snapshot.Store(snap)
}
