package engine

import (
	"time"

	"forexbot/internal/market"
	"forexbot/internal/venue"
)

type EventType string

const (
	// EvtStep carries a batch of closed candles for one decision cycle.
	EvtStep EventType = "step"
	// EvtVenue carries an asynchronous execution report.
	EvtVenue EventType = "venue"
	// EvtTimer drives housekeeping between candles in live mode.
	EvtTimer EventType = "timer"
	// EvtReconfigure applies a hot configuration change.
	EvtReconfigure EventType = "reconfigure"
	// EvtHalt toggles the manual trading halt.
	EvtHalt EventType = "halt"
)

// Envelope is the single message type flowing through the engine's
// queue. Exactly one payload field is set, matching Type. ReplyCh, when
// non-nil, receives the handling error and is closed afterwards.
type Envelope struct {
	Type        EventType
	Step        *StepPayload
	Venue       *venue.Event
	Timer       *TimerPayload
	Reconfigure *ReconfigurePayload
	Halt        *HaltPayload
	ReplyCh     chan error
}

// StepPayload is one decision step: the candles that closed at Time,
// at most one per instrument.
type StepPayload struct {
	Time    time.Time
	Candles []market.Candle
}

// TimerPayload advances the engine clock without new market data.
type TimerPayload struct {
	Time time.Time
}

// ReconfigurePayload carries the hot-reloadable settings.
type ReconfigurePayload struct {
	ModelWeights map[string]float64
}

// HaltPayload requests a manual halt or resume.
type HaltPayload struct {
	Resume bool
	Reason string
}
