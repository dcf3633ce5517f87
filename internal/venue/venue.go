// Package venue defines the execution adapter surface. The engine
// talks to every venue through the same interface; the simulator and
// the broker bridge are interchangeable, so decision logic never
// branches on mode.
package venue

import (
	"context"
	"fmt"
	"time"

	"forexbot/internal/order"
)

// SubmitRequest carries everything a venue needs to place an order.
type SubmitRequest struct {
	OrderID    uint64
	ClientID   string
	Instrument string
	Side       order.Side
	Qty        float64
	PriceType  order.PriceType
	LimitPrice float64
}

// CancelRequest asks the venue to cancel the remainder of an order.
type CancelRequest struct {
	OrderID  uint64
	ClientID string
}

// Ack is the synchronous acceptance of a submit.
type Ack struct {
	OrderID uint64
	At      time.Time
}

// EventType discriminates asynchronous venue events.
type EventType string

const (
	EventFill      EventType = "fill"
	EventCancelled EventType = "cancelled"
	EventRejected  EventType = "rejected"
	EventExpired   EventType = "expired" // venue-side time-in-force expiry
)

// Event is an asynchronous execution report. Events flow into the
// engine's single queue; the engine applies them to the order book.
type Event struct {
	Type       EventType
	OrderID    uint64
	Instrument string
	Qty        float64 // filled quantity for EventFill
	Price      float64
	Fee        float64 // charged against the account on EventFill
	Reason     string  // for rejected/cancelled
	At         time.Time
}

// Venue is the execution adapter. Submit and Cancel return promptly;
// execution outcomes arrive on Events.
type Venue interface {
	Submit(ctx context.Context, req SubmitRequest) (Ack, error)
	Cancel(ctx context.Context, req CancelRequest) error
	Events() <-chan Event
	Close() error
}

// TimeoutError reports that a venue call exceeded its deadline. The
// order's true state is unknown until reconciled.
type TimeoutError struct {
	Op      string
	OrderID uint64
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("venue %s timed out for order %d after %s", e.Op, e.OrderID, e.Elapsed)
}

// RejectedError reports a synchronous rejection by the venue.
type RejectedError struct {
	OrderID uint64
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("venue rejected order %d: %s", e.OrderID, e.Reason)
}
