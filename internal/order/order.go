// Package order owns the order lifecycle: every order the session
// creates lives in a Book, and all status changes flow through its
// transition table. Nothing else in the system mutates an order.
package order

import (
	"time"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

type PriceType string

const (
	Market PriceType = "market"
	Limit  PriceType = "limit"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusSubmitted       Status = "submitted"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
	StatusExpired         Status = "expired"
)

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Order is one trade intent and its execution progress. IDs are
// monotonic per session so backtest replays assign identical IDs.
type Order struct {
	ID           uint64
	ClientID     string // venue-facing idempotency tag
	Instrument   string
	Side         Side
	RequestedQty float64
	FilledQty    float64
	AvgFillPrice float64
	PriceType    PriceType
	LimitPrice   float64
	StopPrice    float64
	TakeProfit   float64
	Status       Status
	Reason       string // populated on reject/cancel/expire
	Tag          string // entry reason, e.g. "signal" or "stop-loss"
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.RequestedQty - o.FilledQty
}

// Event is one lifecycle transition, consumed by the risk ledger and
// the journal.
type Event struct {
	OrderID    uint64    `json:"order_id"`
	Instrument string    `json:"instrument"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	FillQty    float64   `json:"fill_qty,omitempty"`
	FillPrice  float64   `json:"fill_price,omitempty"`
	FilledQty  float64   `json:"filled_qty"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}
