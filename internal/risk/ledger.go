// Package risk holds the account ledger and the pre-trade risk gate.
// Identical rules run in every mode; the engine consults Authorize
// before any order reaches a venue.
package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"forexbot/internal/order"
)

// ErrInvariant marks a ledger inconsistency that cannot be recovered
// within the session. The engine treats it as fatal.
var ErrInvariant = errors.New("risk: state invariant violation")

// Account is the session's capital snapshot, single currency.
type Account struct {
	Currency        string
	Equity          float64
	AvailableMargin float64
	RealizedPnL     float64
	UnrealizedPnL   float64
}

// Position is the open exposure on one instrument. At most one
// position per instrument exists at any time.
type Position struct {
	Instrument    string
	Side          order.Side
	Qty           float64
	AvgEntryPrice float64
	StopPrice     float64
	TakeProfit    float64
	OpenedAt      time.Time
	UnrealizedPnL float64
}

// ClosedTrade is one realized (partial) close, kept for reporting.
type ClosedTrade struct {
	Instrument string
	Side       order.Side // side of the position that was closed
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Ledger tracks balance and positions and recomputes equity on every
// mutation. Not goroutine safe; owned by the engine loop.
type Ledger struct {
	currency  string
	starting  float64
	balance   float64 // realized cash, including starting capital
	leverage  float64
	positions map[string]*Position
	marks     map[string]float64 // last known mid per instrument
	closed    []ClosedTrade
}

func NewLedger(currency string, startingBalance, leverage float64) *Ledger {
	if leverage <= 0 {
		leverage = 1
	}
	return &Ledger{
		currency:  currency,
		starting:  startingBalance,
		balance:   startingBalance,
		leverage:  leverage,
		positions: make(map[string]*Position),
		marks:     make(map[string]float64),
	}
}

// Position returns the open position for the instrument, or nil.
func (l *Ledger) Position(instrument string) *Position {
	return l.positions[instrument]
}

// OpenPositions returns the number of open positions.
func (l *Ledger) OpenPositions() int { return len(l.positions) }

// Positions returns all open positions keyed by instrument.
func (l *Ledger) Positions() map[string]*Position { return l.positions }

// Mark updates the last known price for an instrument and refreshes
// the unrealized PnL of its position, if any.
func (l *Ledger) Mark(instrument string, price float64) {
	l.marks[instrument] = price
	if p, ok := l.positions[instrument]; ok {
		p.UnrealizedPnL = positionPnL(p, price)
	}
}

// ApplyFill mutates the ledger for one executed fill. Fills in the
// direction of an existing position average into it; fills against it
// reduce and realize PnL. A fill that would flip the position past
// flat is an invariant violation: the sizer never requests more than
// the open quantity on a close.
func (l *Ledger) ApplyFill(instrument string, side order.Side, qty, price float64, at time.Time) error {
	if qty <= 0 || price <= 0 || math.IsNaN(qty) || math.IsNaN(price) {
		return fmt.Errorf("%w: fill qty=%v price=%v", ErrInvariant, qty, price)
	}
	l.marks[instrument] = price

	p, ok := l.positions[instrument]
	if !ok {
		l.positions[instrument] = &Position{
			Instrument:    instrument,
			Side:          side,
			Qty:           qty,
			AvgEntryPrice: price,
			OpenedAt:      at,
		}
		return nil
	}

	if p.Side == side {
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + price*qty) / (p.Qty + qty)
		p.Qty += qty
		p.UnrealizedPnL = positionPnL(p, price)
		return nil
	}

	// opposing fill closes (part of) the position
	if qty > p.Qty+qtyEpsilon {
		return fmt.Errorf("%w: close qty %v exceeds position %v on %s", ErrInvariant, qty, p.Qty, instrument)
	}
	closed := math.Min(qty, p.Qty)
	pnl := closedPnL(p, closed, price)
	l.balance += pnl
	l.closed = append(l.closed, ClosedTrade{
		Instrument: instrument,
		Side:       p.Side,
		Qty:        closed,
		EntryPrice: p.AvgEntryPrice,
		ExitPrice:  price,
		PnL:        pnl,
		OpenedAt:   p.OpenedAt,
		ClosedAt:   at,
	})
	p.Qty -= closed
	if p.Qty <= qtyEpsilon {
		delete(l.positions, instrument)
	} else {
		p.UnrealizedPnL = positionPnL(p, price)
	}
	return nil
}

// ApplyFee deducts an execution fee from the realized balance.
func (l *Ledger) ApplyFee(amount float64) {
	if amount <= 0 || math.IsNaN(amount) {
		return
	}
	l.balance -= amount
}

// ClosedTrades returns all realized closes in execution order.
func (l *Ledger) ClosedTrades() []ClosedTrade {
	out := make([]ClosedTrade, len(l.closed))
	copy(out, l.closed)
	return out
}

// Snapshot computes the current account view from balance, open
// positions and last marks.
func (l *Ledger) Snapshot() Account {
	var unrealized, used float64
	for inst, p := range l.positions {
		mark, ok := l.marks[inst]
		if !ok {
			mark = p.AvgEntryPrice
		}
		unrealized += positionPnL(p, mark)
		used += p.Qty * mark / l.leverage
	}
	equity := l.balance + unrealized
	return Account{
		Currency:        l.currency,
		Equity:          equity,
		AvailableMargin: equity - used,
		RealizedPnL:     l.balance - l.starting,
		UnrealizedPnL:   unrealized,
	}
}

// GrossNotional is the mark-to-market notional across all positions.
func (l *Ledger) GrossNotional() float64 {
	var total float64
	for inst, p := range l.positions {
		mark, ok := l.marks[inst]
		if !ok {
			mark = p.AvgEntryPrice
		}
		total += p.Qty * mark
	}
	return total
}

const qtyEpsilon = 1e-9

func positionPnL(p *Position, mark float64) float64 {
	if p.Side == order.Buy {
		return (mark - p.AvgEntryPrice) * p.Qty
	}
	return (p.AvgEntryPrice - mark) * p.Qty
}

func closedPnL(p *Position, qty, price float64) float64 {
	if p.Side == order.Buy {
		return (price - p.AvgEntryPrice) * qty
	}
	return (p.AvgEntryPrice - price) * qty
}
