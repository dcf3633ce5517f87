package scheduler

import (
	"time"

	"forexbot/internal/market"
)

// DefaultKlineGrace covers exchange publish latency: a candle whose
// close time is inside the grace window may still be revised.
const DefaultKlineGrace = 10 * time.Second

// DropUnclosed drops the trailing candle if it has not closed yet.
// Exchange kline feeds include the in-progress candle as the last
// element, and feeding it to the models would let a half-formed bar
// drive a decision.
func DropUnclosed(candles []market.Candle) []market.Candle {
	return dropUnclosedAt(candles, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedAt(candles []market.Candle, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.CloseTime <= 0 {
		return candles
	}
	if now.UnixMilli() < last.CloseTime+grace.Milliseconds() {
		return candles[:len(candles)-1]
	}
	return candles
}
