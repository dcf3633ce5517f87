package market

type Candle struct {
	Instrument string  `json:"instrument"`
	OpenTime   int64   `json:"open_time"`
	CloseTime  int64   `json:"close_time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
}

// Tick is a single price observation for one instrument. Backtests
// synthesize ticks from candle closes; live sources emit them as they
// arrive.
type Tick struct {
	Instrument string  `json:"instrument"`
	Bid        float64 `json:"bid"`
	Ask        float64 `json:"ask"`
	Time       int64   `json:"time"` // unix millis
}

// Mid returns the mid price, falling back to whichever side is set.
func (t Tick) Mid() float64 {
	switch {
	case t.Bid > 0 && t.Ask > 0:
		return (t.Bid + t.Ask) / 2
	case t.Bid > 0:
		return t.Bid
	default:
		return t.Ask
	}
}

// TickFromCandle turns a closed candle into a tick at its close price.
func TickFromCandle(c Candle) Tick {
	return Tick{
		Instrument: c.Instrument,
		Bid:        c.Close,
		Ask:        c.Close,
		Time:       c.CloseTime,
	}
}
