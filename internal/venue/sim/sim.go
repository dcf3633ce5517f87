// Package sim is the deterministic execution venue used by backtests
// and demo sessions. Fills are a pure function of order flow and
// marks, so a replayed run produces the identical event sequence.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"forexbot/internal/order"
	"forexbot/internal/venue"
)

// Config tunes the fill model.
type Config struct {
	SlippageBps float64 // applied against the order on market fills
	FeeRate     float64 // fraction of notional charged per fill
	FillRatio   float64 // first fill fraction for market orders; 1 means full fill
	Buffer      int     // event channel capacity
}

// Venue simulates an execution venue. Market orders fill on submit at
// the last mark plus slippage; limit orders rest until a mark crosses
// them. All events are queued synchronously so the caller can drain
// them deterministically.
type Venue struct {
	mu      sync.Mutex
	cfg     Config
	marks   map[string]float64
	resting map[uint64]venue.SubmitRequest
	events  chan venue.Event
	fees    float64
	closed  bool
}

func New(cfg Config) *Venue {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.FillRatio <= 0 || cfg.FillRatio > 1 {
		cfg.FillRatio = 1
	}
	return &Venue{
		cfg:     cfg,
		marks:   make(map[string]float64),
		resting: make(map[uint64]venue.SubmitRequest),
		events:  make(chan venue.Event, cfg.Buffer),
	}
}

func (v *Venue) Events() <-chan venue.Event { return v.events }

// FeesPaid returns cumulative simulated fees.
func (v *Venue) FeesPaid() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fees
}

// SetMark records the current price for an instrument without
// triggering resting orders. Used to seed prices before trading.
func (v *Venue) SetMark(instrument string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[instrument] = price
}

// Submit accepts the order and, for market orders, queues the fill
// immediately. Limit orders rest until OnTick crosses their price.
func (v *Venue) Submit(_ context.Context, req venue.SubmitRequest) (venue.Ack, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return venue.Ack{}, fmt.Errorf("sim venue closed")
	}
	if req.Qty <= 0 {
		return venue.Ack{}, &venue.RejectedError{OrderID: req.OrderID, Reason: "non-positive quantity"}
	}

	switch req.PriceType {
	case order.Market:
		mark, ok := v.marks[req.Instrument]
		if !ok {
			return venue.Ack{}, &venue.RejectedError{OrderID: req.OrderID, Reason: "no market price"}
		}
		v.fill(req, mark, time.Time{})
	case order.Limit:
		if req.LimitPrice <= 0 {
			return venue.Ack{}, &venue.RejectedError{OrderID: req.OrderID, Reason: "limit order without price"}
		}
		v.resting[req.OrderID] = req
	default:
		return venue.Ack{}, &venue.RejectedError{OrderID: req.OrderID, Reason: "unsupported price type"}
	}
	return venue.Ack{OrderID: req.OrderID}, nil
}

// Cancel removes a resting order and queues the cancellation event.
// Cancelling an order that is not resting is a no-op: its fill is
// already in the queue and wins the race, mirroring live venues.
func (v *Venue) Cancel(_ context.Context, req venue.CancelRequest) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.resting[req.OrderID]; !ok {
		return nil
	}
	delete(v.resting, req.OrderID)
	v.events <- venue.Event{
		Type:    venue.EventCancelled,
		OrderID: req.OrderID,
		Reason:  "cancel requested",
	}
	return nil
}

// OnTick advances the simulated market: updates the mark and fills any
// resting limit order the new price crosses. Resting orders are
// checked in ID order for determinism.
func (v *Venue) OnTick(instrument string, price float64, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[instrument] = price

	var ids []uint64
	for id, req := range v.resting {
		if req.Instrument == instrument && limitCrossed(req, price) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		req := v.resting[id]
		delete(v.resting, id)
		// limit orders fill at their limit price, no slippage
		v.fillAt(req, req.LimitPrice, req.Qty, at)
	}
}

func (v *Venue) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.events)
	}
	return nil
}

func (v *Venue) fill(req venue.SubmitRequest, mark float64, at time.Time) {
	price := applySlippage(mark, req.Side, v.cfg.SlippageBps)
	first := req.Qty * v.cfg.FillRatio
	v.fillAt(req, price, first, at)
	if rest := req.Qty - first; rest > 1e-9 {
		v.fillAt(req, price, rest, at)
	}
}

func (v *Venue) fillAt(req venue.SubmitRequest, price, qty float64, at time.Time) {
	fee := price * qty * v.cfg.FeeRate
	v.fees += fee
	v.events <- venue.Event{
		Type:       venue.EventFill,
		OrderID:    req.OrderID,
		Instrument: req.Instrument,
		Qty:        qty,
		Price:      price,
		Fee:        fee,
		At:         at,
	}
}

func applySlippage(mark float64, side order.Side, bps float64) float64 {
	adj := mark * bps / 10000
	if side == order.Buy {
		return mark + adj
	}
	return mark - adj
}

func limitCrossed(req venue.SubmitRequest, price float64) bool {
	if req.Side == order.Buy {
		return price <= req.LimitPrice
	}
	return price >= req.LimitPrice
}
