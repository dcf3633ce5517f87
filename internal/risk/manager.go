package risk

import (
	"sort"
	"time"

	"forexbot/internal/logger"
	"forexbot/internal/order"
)

// Limits are the hard risk parameters. They apply identically in
// backtest, demo and live.
type Limits struct {
	MaxLeverage      float64       // gross notional / equity ceiling
	MaxOpenPositions int           // distinct instruments with exposure
	DailyLossPct     float64       // fraction of day-start equity, e.g. 0.03
	MinNotional      float64       // below this an approval is pointless
	MaxHoldingTime   time.Duration // 0 disables time-based exit
}

// Verdict is the outcome of Authorize.
type Verdict struct {
	Approved bool
	Reason   string  // populated on rejection
	Notional float64 // approved notional, possibly scaled down
	Scaled   bool
}

// Intent is what the engine asks permission for: open exposure on an
// instrument at a given notional. Pending fields carry the notional
// already committed to resting entry orders, which counts against the
// leverage headroom before any of it has filled.
type Intent struct {
	Instrument      string
	Side            order.Side
	Notional        float64
	Price           float64
	PendingNotional float64 // unfilled entry order notional on this instrument
	PendingTotal    float64 // unfilled entry order notional across the book
}

// ForcedClose instructs the engine to flatten a position immediately.
// Forced closes bypass Authorize and run even while entries are halted.
type ForcedClose struct {
	Instrument string
	Qty        float64
	Side       order.Side // side of the closing order
	Reason     string     // "stop-loss", "take-profit", "max-holding-time"
}

// Manager gates new exposure and watches open positions for forced
// exits. One instance per session, driven by the engine loop.
type Manager struct {
	limits Limits
	ledger *Ledger

	halted         bool
	haltReason     string
	dayStart       time.Time // UTC midnight of the current trading day
	dayStartEquity float64
}

func NewManager(limits Limits, ledger *Ledger) *Manager {
	return &Manager{limits: limits, ledger: ledger}
}

// Halted reports whether new entries are blocked.
func (m *Manager) Halted() (bool, string) { return m.halted, m.haltReason }

// Halt blocks new entries until the next daily reset (or Resume).
func (m *Manager) Halt(reason string) {
	if !m.halted {
		logger.Warnf("trading halted: %s", reason)
	}
	m.halted = true
	m.haltReason = reason
}

// Resume lifts a halt. Called by the daily rollover and operators.
func (m *Manager) Resume() {
	if m.halted {
		logger.Infof("trading resumed")
	}
	m.halted = false
	m.haltReason = ""
}

// Tick advances the manager's clock: rolls the trading day at UTC
// midnight and re-checks the daily loss limit. Returns true if the
// halt state changed.
func (m *Manager) Tick(now time.Time) bool {
	day := now.UTC().Truncate(24 * time.Hour)
	if m.dayStart.IsZero() || day.After(m.dayStart) {
		m.dayStart = day
		m.dayStartEquity = m.ledger.Snapshot().Equity
		if m.halted && m.haltReason == "daily-loss" {
			m.Resume()
			return true
		}
		return false
	}
	if m.halted || m.limits.DailyLossPct <= 0 || m.dayStartEquity <= 0 {
		return false
	}
	equity := m.ledger.Snapshot().Equity
	loss := (m.dayStartEquity - equity) / m.dayStartEquity
	if loss >= m.limits.DailyLossPct {
		m.Halt("daily-loss")
		return true
	}
	return false
}

// Authorize applies the risk rules to a proposed entry. It approves,
// rejects with a reason, or scales the notional down to fit the
// leverage headroom.
func (m *Manager) Authorize(in Intent) Verdict {
	if m.halted {
		return Verdict{Reason: "halted"}
	}
	if m.ledger.Position(in.Instrument) != nil {
		return Verdict{Reason: "position-exists"}
	}
	if in.PendingNotional > 0 {
		return Verdict{Reason: "order-in-flight"}
	}
	if m.limits.MaxOpenPositions > 0 && m.ledger.OpenPositions() >= m.limits.MaxOpenPositions {
		return Verdict{Reason: "max-open-positions"}
	}
	acct := m.ledger.Snapshot()
	if acct.Equity <= 0 {
		return Verdict{Reason: "no-equity"}
	}

	notional := in.Notional
	if m.limits.MaxLeverage > 0 {
		headroom := acct.Equity*m.limits.MaxLeverage - m.ledger.GrossNotional() - in.PendingTotal
		if headroom < m.limits.MinNotional {
			return Verdict{Reason: "leverage"}
		}
		if notional > headroom {
			logger.Infof("scaling %s entry from %.2f to %.2f (leverage headroom)", in.Instrument, notional, headroom)
			return Verdict{Approved: true, Notional: headroom, Scaled: true}
		}
	}
	if notional < m.limits.MinNotional {
		return Verdict{Reason: "below-min-notional"}
	}
	return Verdict{Approved: true, Notional: notional}
}

// ForcedCloses inspects every open position against its stop, take
// profit and maximum holding time and returns the closes the engine
// must execute this cycle. These run regardless of halt state.
func (m *Manager) ForcedCloses(now time.Time) []ForcedClose {
	var out []ForcedClose
	for inst, p := range m.ledger.Positions() {
		mark, ok := m.ledger.marks[inst]
		if !ok {
			continue
		}
		if reason := exitReason(p, mark, now, m.limits.MaxHoldingTime); reason != "" {
			out = append(out, ForcedClose{
				Instrument: inst,
				Qty:        p.Qty,
				Side:       closingSide(p.Side),
				Reason:     reason,
			})
		}
	}
	// deterministic order for replay
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func exitReason(p *Position, mark float64, now time.Time, maxHold time.Duration) string {
	if p.Side == order.Buy {
		if p.StopPrice > 0 && mark <= p.StopPrice {
			return "stop-loss"
		}
		if p.TakeProfit > 0 && mark >= p.TakeProfit {
			return "take-profit"
		}
	} else {
		if p.StopPrice > 0 && mark >= p.StopPrice {
			return "stop-loss"
		}
		if p.TakeProfit > 0 && mark <= p.TakeProfit {
			return "take-profit"
		}
	}
	if maxHold > 0 && !p.OpenedAt.IsZero() && now.Sub(p.OpenedAt) >= maxHold {
		return "max-holding-time"
	}
	return ""
}

func closingSide(s order.Side) order.Side {
	if s == order.Buy {
		return order.Sell
	}
	return order.Buy
}
