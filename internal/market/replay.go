package market

import (
	"context"
	"fmt"
	"sort"
)

// Replay is a finite, restartable Source over a pre-sorted candle set.
// Backtests iterate it with Next; the Subscribe path exists so the same
// wiring code works in every mode.
type Replay struct {
	candles []Candle
	pos     int
}

// NewReplay sorts candles by close time (instrument ID breaks ties) so a
// given data set always replays in the same order.
func NewReplay(candles []Candle) *Replay {
	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CloseTime != sorted[j].CloseTime {
			return sorted[i].CloseTime < sorted[j].CloseTime
		}
		return sorted[i].Instrument < sorted[j].Instrument
	})
	return &Replay{candles: sorted}
}

// Next returns the next candle in replay order, false when exhausted.
func (r *Replay) Next() (Candle, bool) {
	if r.pos >= len(r.candles) {
		return Candle{}, false
	}
	c := r.candles[r.pos]
	r.pos++
	return c, true
}

// NextBatch returns all candles sharing the next close time, at most
// one per instrument, false when exhausted.
func (r *Replay) NextBatch() ([]Candle, bool) {
	if r.pos >= len(r.candles) {
		return nil, false
	}
	start := r.pos
	ct := r.candles[start].CloseTime
	for r.pos < len(r.candles) && r.candles[r.pos].CloseTime == ct {
		r.pos++
	}
	return r.candles[start:r.pos], true
}

// Rewind restarts the replay from the beginning.
func (r *Replay) Rewind() { r.pos = 0 }

// Len reports the total number of candles in the set.
func (r *Replay) Len() int { return len(r.candles) }

func (r *Replay) FetchHistory(_ context.Context, instrument, _ string, limit int) ([]Candle, error) {
	instrument = NormalizeID(instrument)
	var out []Candle
	// History relative to the replay cursor, not the whole data set,
	// so warmup windows never see the future.
	for i := 0; i < r.pos; i++ {
		if r.candles[i].Instrument == instrument {
			out = append(out, r.candles[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *Replay) Subscribe(ctx context.Context, instruments []string, interval string, opts SubscribeOptions) (<-chan CandleEvent, error) {
	want := make(map[string]bool, len(instruments))
	for _, id := range instruments {
		want[NormalizeID(id)] = true
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan CandleEvent, buffer)
	go func() {
		defer close(ch)
		for {
			c, ok := r.Next()
			if !ok {
				return
			}
			if len(want) > 0 && !want[c.Instrument] {
				continue
			}
			select {
			case ch <- CandleEvent{Instrument: c.Instrument, Interval: interval, Candle: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *Replay) Stats() SourceStats { return SourceStats{} }

func (r *Replay) Close() error { return nil }

// Validate rejects replay sets with out-of-order or zero-priced candles
// before a run starts rather than partway through.
func (r *Replay) Validate() error {
	var last int64
	for i, c := range r.candles {
		if c.CloseTime < last {
			return fmt.Errorf("candle %d out of order (%d < %d)", i, c.CloseTime, last)
		}
		if c.Close <= 0 {
			return fmt.Errorf("candle %d has non-positive close %f", i, c.Close)
		}
		last = c.CloseTime
	}
	return nil
}
