package signal

import (
	"fmt"
	"time"
)

// Direction is the trade side a signal suggests.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Signal is the unified form of one model prediction for one instrument
// at one moment. Values are immutable once produced; the engine consumes
// and discards them.
type Signal struct {
	Instrument string
	Time       time.Time
	Direction  Direction
	Strength   float64 // [-1, 1], sign matches Direction
	ModelID    string
	Horizon    string
}

// IsFlat reports whether the signal carries no trade intent.
func (s Signal) IsFlat() bool {
	return s.Direction == Flat || s.Strength == 0
}

// InvalidSignalError marks malformed model output. The aggregator logs
// and drops these; they never reach the decision loop.
type InvalidSignalError struct {
	ModelID string
	Reason  string
}

func (e *InvalidSignalError) Error() string {
	if e.ModelID == "" {
		return fmt.Sprintf("invalid signal: %s", e.Reason)
	}
	return fmt.Sprintf("invalid signal from %s: %s", e.ModelID, e.Reason)
}

func directionFor(strength float64) Direction {
	switch {
	case strength > 0:
		return Long
	case strength < 0:
		return Short
	default:
		return Flat
	}
}
