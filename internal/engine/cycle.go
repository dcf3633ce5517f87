package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"forexbot/internal/journal"
	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/order"
	"forexbot/internal/risk"
	"forexbot/internal/signal"
	"forexbot/internal/sizing"
	"forexbot/internal/venue"
)

// onStep runs one full decision cycle: mark to market, housekeeping
// (forced closes, halt checks, stale sweep), then signal evaluation
// and entries, and finally the cycle journal record. The cycle order
// is fixed; protective exits always run before new entries.
func (e *Engine) onStep(p *StepPayload) error {
	if p == nil {
		return fmt.Errorf("step payload missing")
	}
	e.clock = p.Time

	for _, c := range p.Candles {
		e.ledger.Mark(c.Instrument, c.Close)
		e.appendHistory(c)
	}

	e.housekeeping()

	if e.fatalErr == nil {
		if halted, _ := e.riskMgr.Halted(); !halted {
			e.evaluateEntries(p.Candles)
		}
	}

	e.recordCycle()
	return nil
}

// onTimer advances the clock between candles: daily rollover, forced
// closes on stale marks and the stale-order sweep, but no entries.
func (e *Engine) onTimer(p *TimerPayload) error {
	if p == nil {
		return fmt.Errorf("timer payload missing")
	}
	e.clock = p.Time
	e.housekeeping()
	return nil
}

func (e *Engine) onReconfigure(p *ReconfigurePayload) error {
	if p == nil {
		return fmt.Errorf("reconfigure payload missing")
	}
	if p.ModelWeights != nil {
		e.runner.UpdateWeights(p.ModelWeights)
		logger.Infof("model weights updated (%d models)", len(p.ModelWeights))
	}
	return nil
}

func (e *Engine) onHalt(p *HaltPayload) error {
	if p == nil {
		return fmt.Errorf("halt payload missing")
	}
	if p.Resume {
		e.riskMgr.Resume()
		e.record(journal.KindRisk, journal.RiskRecord{Action: "resume"})
		return nil
	}
	reason := p.Reason
	if reason == "" {
		reason = "operator"
	}
	e.riskMgr.Halt(reason)
	e.record(journal.KindRisk, journal.RiskRecord{Action: "halt", Reason: reason})
	return nil
}

func (e *Engine) housekeeping() {
	if changed := e.riskMgr.Tick(e.clock); changed {
		halted, reason := e.riskMgr.Halted()
		action := "resume"
		if halted {
			action = "halt"
			e.alert(fmt.Sprintf("trading halted: %s", reason))
		}
		e.record(journal.KindRisk, journal.RiskRecord{Action: action, Reason: reason})
	}

	if e.fatalErr == nil {
		e.executeForcedCloses()
	}
	e.sweepStaleOrders()
}

// executeForcedCloses flattens positions whose stop, take profit or
// holding limit has been hit. These run even while entries are halted.
func (e *Engine) executeForcedCloses() {
	for _, fc := range e.riskMgr.ForcedCloses(e.clock) {
		if _, inFlight := e.pendingClose[fc.Instrument]; inFlight {
			continue
		}
		o := e.book.Create(order.Order{
			ClientID:     e.clientTag(),
			Instrument:   fc.Instrument,
			Side:         fc.Side,
			RequestedQty: fc.Qty,
			PriceType:    order.Market,
			Tag:          fc.Reason,
		}, e.clock)
		e.record(journal.KindRisk, journal.RiskRecord{
			Action:     "forced-close",
			Instrument: fc.Instrument,
			Reason:     fc.Reason,
		})
		if e.submit(o) {
			e.pendingClose[fc.Instrument] = o.ID
		}
		e.alert(fmt.Sprintf("forced close %s (%s)", fc.Instrument, fc.Reason))
	}
}

// sweepStaleOrders requests cancellation of submitted limit orders
// past the resting age. The cancel is idempotent per order; the
// outcome (cancelled, or a fill that won the race) arrives as a venue
// event.
func (e *Engine) sweepStaleOrders() {
	for _, o := range e.book.Stale(e.clock, e.cfg.MaxOrderAge) {
		if e.cancelRequested[o.ID] {
			continue
		}
		e.cancelRequested[o.ID] = true
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
		err := e.venue.Cancel(ctx, venue.CancelRequest{OrderID: o.ID, ClientID: o.ClientID})
		cancel()
		if err != nil {
			logger.Warnf("stale cancel for order %d failed: %v", o.ID, err)
			delete(e.cancelRequested, o.ID)
			continue
		}
		logger.Infof("requested cancel of stale order %d on %s", o.ID, o.Instrument)
	}
}

// evaluateEntries turns the cycle's fresh candles into at most one
// entry per instrument. Combined signals are processed strongest
// first, so when headroom is tight the most convinced trade wins.
func (e *Engine) evaluateEntries(candles []market.Candle) {
	var raw []signal.Signal
	for _, c := range candles {
		raw = append(raw, e.runner.Evaluate(e.history[c.Instrument])...)
	}
	if len(raw) == 0 {
		return
	}
	for _, s := range e.runner.Combine(raw) {
		if s.IsFlat() {
			continue
		}
		e.openEntry(s)
	}
}

// pendingEntryNotional sums the unfilled quantity of open entry
// orders, valued at their limit price (last close for market orders).
// Resting entries count against the leverage headroom exactly like
// positions, otherwise consecutive cycles could park full-size limit
// orders that breach the cap when they all trade through.
func (e *Engine) pendingEntryNotional(instrument string) (inst, total float64) {
	for _, o := range e.book.Open() {
		if o.Tag != "entry" {
			continue
		}
		px := o.LimitPrice
		if px <= 0 {
			px = e.lastClose(o.Instrument)
		}
		if px <= 0 {
			continue
		}
		n := (o.RequestedQty - o.FilledQty) * px
		total += n
		if o.Instrument == instrument {
			inst += n
		}
	}
	return inst, total
}

func (e *Engine) openEntry(s signal.Signal) {
	inst, ok := e.registry.Lookup(s.Instrument)
	if !ok {
		logger.Warnf("combined signal for unknown instrument %s", s.Instrument)
		return
	}
	price := e.lastClose(s.Instrument)
	if price <= 0 {
		return
	}
	long := s.Direction == signal.Long
	equity := e.ledger.Snapshot().Equity
	sz := e.sizer.Size(inst, equity, price, long)
	if sz.Qty <= 0 {
		return
	}

	side := order.Buy
	if !long {
		side = order.Sell
	}
	pendingInst, pendingTotal := e.pendingEntryNotional(s.Instrument)
	verdict := e.riskMgr.Authorize(risk.Intent{
		Instrument:      s.Instrument,
		Side:            side,
		Notional:        sz.Qty * price,
		Price:           price,
		PendingNotional: pendingInst,
		PendingTotal:    pendingTotal,
	})
	if !verdict.Approved {
		logger.Debugf("entry %s rejected: %s", s.Instrument, verdict.Reason)
		e.record(journal.KindRisk, journal.RiskRecord{
			Action:     "entry-rejected",
			Instrument: s.Instrument,
			Reason:     verdict.Reason,
		})
		return
	}
	qty := sz.Qty
	if verdict.Scaled {
		qty = sizing.QtyForNotional(inst, verdict.Notional, price)
		if qty <= 0 {
			return
		}
		e.record(journal.KindRisk, journal.RiskRecord{
			Action:     "entry-scaled",
			Instrument: s.Instrument,
			Notional:   verdict.Notional,
		})
	}

	req := order.Order{
		ClientID:     e.clientTag(),
		Instrument:   s.Instrument,
		Side:         side,
		RequestedQty: qty,
		PriceType:    e.cfg.EntryPriceType,
		StopPrice:    sz.StopPrice,
		TakeProfit:   sz.TakeProfit,
		Tag:          "entry",
	}
	if req.PriceType == order.Limit {
		offset := e.cfg.LimitOffsetPips * inst.PipSize()
		if long {
			req.LimitPrice = price - offset
		} else {
			req.LimitPrice = price + offset
		}
	}
	e.submit(e.book.Create(req, e.clock))
}

// submit synchronously places the order and applies the immediate
// outcome. Returns true if the order reached Submitted.
func (e *Engine) submit(o *order.Order) bool {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
	defer cancel()

	_, err := e.venue.Submit(ctx, venue.SubmitRequest{
		OrderID:    o.ID,
		ClientID:   o.ClientID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Qty:        o.RequestedQty,
		PriceType:  o.PriceType,
		LimitPrice: o.LimitPrice,
	})
	if err != nil {
		reason := "submit failed"
		var rej *venue.RejectedError
		var timeout *venue.TimeoutError
		switch {
		case errors.As(err, &rej):
			reason = rej.Reason
		case errors.As(err, &timeout):
			// the true outcome, if the order did reach the venue,
			// arrives later and reconciles against the terminal state
			reason = "execution timeout"
		}
		logger.Warnf("submit of order %d failed: %v", o.ID, err)
		if ev, rerr := e.book.ApplyReject(o.ID, reason, e.clock); rerr == nil {
			e.record(journal.KindOrder, ev)
		}
		return false
	}

	ev, aerr := e.book.ApplyAck(o.ID, e.clock)
	if aerr != nil {
		e.fatal(fmt.Errorf("%w: ack of fresh order %d failed: %v", risk.ErrInvariant, o.ID, aerr))
		return false
	}
	e.record(journal.KindOrder, ev)
	return true
}

// onVenueEvent applies one execution report to the order book and the
// ledger. Reports for terminal orders and overfills are logged and
// discarded without mutating state.
func (e *Engine) onVenueEvent(ev venue.Event) error {
	switch ev.Type {
	case venue.EventFill:
		return e.applyFill(ev)
	case venue.EventCancelled:
		// the engine knows why it asked for the cancel; venue reasons
		// are generic ("cancel requested")
		reason := ev.Reason
		if e.cancelRequested[ev.OrderID] {
			reason = "stale"
		}
		rec, err := e.book.ApplyCancel(ev.OrderID, reason, e.clock)
		if err != nil {
			return e.dropVenueEvent(ev, err)
		}
		delete(e.cancelRequested, ev.OrderID)
		e.clearPendingClose(ev.OrderID)
		e.record(journal.KindOrder, rec)
		return nil
	case venue.EventExpired:
		rec, err := e.book.Expire(ev.OrderID, ev.Reason, e.clock)
		if err != nil {
			return e.dropVenueEvent(ev, err)
		}
		delete(e.cancelRequested, ev.OrderID)
		e.clearPendingClose(ev.OrderID)
		e.record(journal.KindOrder, rec)
		return nil
	case venue.EventRejected:
		rec, err := e.book.ApplyReject(ev.OrderID, ev.Reason, e.clock)
		if err != nil {
			return e.dropVenueEvent(ev, err)
		}
		e.clearPendingClose(ev.OrderID)
		e.record(journal.KindOrder, rec)
		return nil
	default:
		logger.Warnf("unknown venue event type %q for order %d", ev.Type, ev.OrderID)
		return nil
	}
}

func (e *Engine) applyFill(ev venue.Event) error {
	rec, err := e.book.ApplyFill(ev.OrderID, ev.Qty, ev.Price, e.clock)
	if err != nil {
		if errors.Is(err, order.ErrOverfill) {
			e.record(journal.KindRisk, journal.RiskRecord{
				Action:     "overfill-discarded",
				Instrument: ev.Instrument,
				Reason:     err.Error(),
			})
		}
		return e.dropVenueEvent(ev, err)
	}

	o, gerr := e.book.Get(ev.OrderID)
	if gerr != nil {
		return gerr
	}
	if lerr := e.ledger.ApplyFill(o.Instrument, o.Side, ev.Qty, ev.Price, e.clock); lerr != nil {
		e.fatal(lerr)
		return lerr
	}
	e.ledger.ApplyFee(ev.Fee)
	if o.Tag == "entry" {
		if p := e.ledger.Position(o.Instrument); p != nil {
			p.StopPrice = o.StopPrice
			p.TakeProfit = o.TakeProfit
		}
	}
	if o.Status.Terminal() {
		e.clearPendingClose(o.ID)
	}
	e.record(journal.KindOrder, rec)
	return nil
}

// dropVenueEvent logs a report that cannot be applied (late event for
// a terminal order, unknown order, overfill). The event is discarded;
// order and ledger state stay as they were.
func (e *Engine) dropVenueEvent(ev venue.Event, err error) error {
	logger.Warnf("venue %s for order %d discarded: %v", ev.Type, ev.OrderID, err)
	return nil
}

func (e *Engine) clearPendingClose(orderID uint64) {
	for inst, id := range e.pendingClose {
		if id == orderID {
			delete(e.pendingClose, inst)
			return
		}
	}
}

func (e *Engine) appendHistory(c market.Candle) {
	h := append(e.history[c.Instrument], c)
	if len(h) > e.cfg.MaxHistory {
		h = h[len(h)-e.cfg.MaxHistory:]
	}
	e.history[c.Instrument] = h
}

func (e *Engine) lastClose(instrument string) float64 {
	h := e.history[instrument]
	if len(h) == 0 {
		return 0
	}
	return h[len(h)-1].Close
}

func (e *Engine) clientTag() string {
	return fmt.Sprintf("%s-%d", e.cfg.RunID, e.book.NextID())
}

func (e *Engine) recordCycle() {
	halted, reason := e.riskMgr.Halted()
	acct := e.ledger.Snapshot()
	rec := journal.CycleRecord{
		Equity:        acct.Equity,
		RealizedPnL:   acct.RealizedPnL,
		UnrealizedPnL: acct.UnrealizedPnL,
		Halted:        halted,
		HaltReason:    reason,
		OpenOrders:    len(e.book.Open()),
	}
	if n := e.ledger.OpenPositions(); n > 0 {
		rec.Positions = make(map[string]float64, n)
		for inst, p := range e.ledger.Positions() {
			qty := p.Qty
			if p.Side == order.Sell {
				qty = -qty
			}
			rec.Positions[inst] = qty
		}
	}
	e.record(journal.KindCycle, rec)
}

func (e *Engine) record(kind journal.Kind, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("journal marshal failed for %s: %v", kind, err)
		return
	}
	e.seq++
	if err := e.journal.Append(journal.Entry{
		Seq:     e.seq,
		Time:    e.clock,
		Kind:    kind,
		Payload: data,
	}); err != nil {
		logger.Errorf("journal append failed: %v", err)
	}
}

func (e *Engine) alert(text string) {
	if err := e.notify.Notify(text); err != nil {
		logger.Warnf("alert delivery failed: %v", err)
	}
}
