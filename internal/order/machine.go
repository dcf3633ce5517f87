package order

import (
	"errors"
	"fmt"
	"time"

	"forexbot/internal/logger"
)

var (
	ErrUnknownOrder      = errors.New("order: unknown order id")
	ErrInvalidTransition = errors.New("order: invalid transition")
	ErrOverfill          = errors.New("order: fill exceeds requested quantity")
	ErrTerminal          = errors.New("order: order already terminal")
)

// DefaultStaleAge is how long a submitted limit order may rest before
// the engine cancels it, unless the session configures its own age.
const DefaultStaleAge = 300 * time.Second

// Book tracks every order of the session and enforces the lifecycle
// transition table. It is not goroutine safe; the engine loop is the
// only caller.
type Book struct {
	orders map[uint64]*Order
	nextID uint64
}

func NewBook() *Book {
	return &Book{orders: make(map[uint64]*Order), nextID: 1}
}

// Create registers a new order in Pending and assigns the next
// monotonic ID. CreatedAt comes from the engine clock, never wallclock.
func (b *Book) Create(o Order, now time.Time) *Order {
	o.ID = b.nextID
	b.nextID++
	o.Status = StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now
	stored := o
	b.orders[stored.ID] = &stored
	return &stored
}

// NextID returns the ID the next created order will receive.
func (b *Book) NextID() uint64 { return b.nextID }

// Get returns the order or ErrUnknownOrder.
func (b *Book) Get(id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOrder, id)
	}
	return o, nil
}

// Open returns all non-terminal orders, ID ascending.
func (b *Book) Open() []*Order {
	var out []*Order
	for id := uint64(1); id < b.nextID; id++ {
		if o, ok := b.orders[id]; ok && !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Stale returns open Submitted limit orders older than maxAge.
// A non-positive maxAge falls back to DefaultStaleAge.
func (b *Book) Stale(now time.Time, maxAge time.Duration) []*Order {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}
	var out []*Order
	for _, o := range b.Open() {
		if o.Status == StatusSubmitted && o.PriceType == Limit && now.Sub(o.CreatedAt) >= maxAge {
			out = append(out, o)
		}
	}
	return out
}

// ApplyAck moves Pending -> Submitted once the venue accepts.
func (b *Book) ApplyAck(id uint64, now time.Time) (Event, error) {
	o, err := b.Get(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status.Terminal() {
		return Event{}, b.lateEvent(o, "ack")
	}
	if o.Status != StatusPending {
		return Event{}, fmt.Errorf("%w: ack in %s", ErrInvalidTransition, o.Status)
	}
	return b.transition(o, StatusSubmitted, "", 0, 0, now), nil
}

// ApplyFill records a (partial) execution. An overfill leaves the
// order untouched and returns ErrOverfill; the caller logs and drops
// the venue event.
func (b *Book) ApplyFill(id uint64, qty, price float64, now time.Time) (Event, error) {
	o, err := b.Get(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status.Terminal() {
		return Event{}, b.lateEvent(o, "fill")
	}
	if o.Status != StatusSubmitted && o.Status != StatusPartiallyFilled {
		return Event{}, fmt.Errorf("%w: fill in %s", ErrInvalidTransition, o.Status)
	}
	if qty <= 0 {
		return Event{}, fmt.Errorf("%w: non-positive fill qty %v", ErrInvalidTransition, qty)
	}
	if o.FilledQty+qty > o.RequestedQty+qtyEpsilon {
		return Event{}, fmt.Errorf("%w: order %d filled %v + %v > requested %v",
			ErrOverfill, o.ID, o.FilledQty, qty, o.RequestedQty)
	}
	prev := o.FilledQty
	o.AvgFillPrice = (o.AvgFillPrice*prev + price*qty) / (prev + qty)
	o.FilledQty = prev + qty
	to := StatusPartiallyFilled
	if o.Remaining() <= qtyEpsilon {
		o.FilledQty = o.RequestedQty
		to = StatusFilled
	}
	return b.transition(o, to, "", qty, price, now), nil
}

// ApplyReject moves Pending or Submitted to Rejected.
func (b *Book) ApplyReject(id uint64, reason string, now time.Time) (Event, error) {
	o, err := b.Get(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status.Terminal() {
		return Event{}, b.lateEvent(o, "reject")
	}
	if o.Status != StatusPending && o.Status != StatusSubmitted {
		return Event{}, fmt.Errorf("%w: reject in %s", ErrInvalidTransition, o.Status)
	}
	return b.transition(o, StatusRejected, reason, 0, 0, now), nil
}

// ApplyCancel moves an open order to Cancelled. Filled quantity is
// retained; only the remainder is cancelled.
func (b *Book) ApplyCancel(id uint64, reason string, now time.Time) (Event, error) {
	o, err := b.Get(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status.Terminal() {
		return Event{}, b.lateEvent(o, "cancel")
	}
	return b.transition(o, StatusCancelled, reason, 0, 0, now), nil
}

// Expire moves an open order to Expired on a venue-reported
// time-in-force expiry.
func (b *Book) Expire(id uint64, reason string, now time.Time) (Event, error) {
	o, err := b.Get(id)
	if err != nil {
		return Event{}, err
	}
	if o.Status.Terminal() {
		return Event{}, b.lateEvent(o, "expire")
	}
	return b.transition(o, StatusExpired, reason, 0, 0, now), nil
}

const qtyEpsilon = 1e-9

func (b *Book) transition(o *Order, to Status, reason string, fillQty, fillPrice float64, now time.Time) Event {
	from := o.Status
	o.Status = to
	o.UpdatedAt = now
	if reason != "" {
		o.Reason = reason
	}
	return Event{
		OrderID:    o.ID,
		Instrument: o.Instrument,
		From:       from,
		To:         to,
		FillQty:    fillQty,
		FillPrice:  fillPrice,
		FilledQty:  o.FilledQty,
		Reason:     reason,
		Time:       now,
	}
}

func (b *Book) lateEvent(o *Order, kind string) error {
	logger.Warnf("late %s for terminal order %d (%s), discarded", kind, o.ID, o.Status)
	return fmt.Errorf("%w: %s on order %d in %s", ErrTerminal, kind, o.ID, o.Status)
}
