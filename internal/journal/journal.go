// Package journal records every decision cycle and order transition
// for audit and replay comparison. Entries carry the engine clock, not
// wallclock, so two runs over the same data journal identically.
package journal

import (
	"encoding/json"
	"time"
)

// Kind labels journal entries.
type Kind string

const (
	KindCycle Kind = "cycle"
	KindOrder Kind = "order"
	KindRisk  Kind = "risk"
	KindFatal Kind = "fatal"
)

// Entry is one journaled record. Seq is assigned by the engine and is
// strictly increasing within a session.
type Entry struct {
	Seq     uint64          `json:"seq"`
	Time    time.Time       `json:"time"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// CycleRecord is the per-cycle account and exposure snapshot.
type CycleRecord struct {
	Equity        float64            `json:"equity"`
	RealizedPnL   float64            `json:"realized_pnl"`
	UnrealizedPnL float64            `json:"unrealized_pnl"`
	Halted        bool               `json:"halted"`
	HaltReason    string             `json:"halt_reason,omitempty"`
	OpenOrders    int                `json:"open_orders"`
	Positions     map[string]float64 `json:"positions,omitempty"` // instrument -> signed qty
}

// RiskRecord notes a risk decision worth auditing: halts, rejections,
// scale-downs, forced closes.
type RiskRecord struct {
	Action     string  `json:"action"`
	Instrument string  `json:"instrument,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Notional   float64 `json:"notional,omitempty"`
}

// Recorder receives journal entries. Implementations must be safe for
// a single writer.
type Recorder interface {
	Append(e Entry) error
	Close() error
}

// Multi fans entries out to several recorders.
type Multi []Recorder

func (m Multi) Append(e Entry) error {
	var firstErr error
	for _, r := range m {
		if err := r.Append(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Close() error {
	var firstErr error
	for _, r := range m {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard drops every entry. Used when journaling is disabled.
type Discard struct{}

func (Discard) Append(Entry) error { return nil }
func (Discard) Close() error       { return nil }
