package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayOrdering(t *testing.T) {
	candles := []Candle{
		{Instrument: "GBP/USD", CloseTime: 200, Close: 1.31},
		{Instrument: "EUR/USD", CloseTime: 100, Close: 1.10},
		{Instrument: "EUR/USD", CloseTime: 200, Close: 1.11},
		{Instrument: "EUR/USD", CloseTime: 300, Close: 1.12},
	}
	r := NewReplay(candles)
	require.NoError(t, r.Validate())

	first, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, int64(100), first.CloseTime)

	// Same close time: instrument ID breaks the tie deterministically.
	second, _ := r.Next()
	third, _ := r.Next()
	assert.Equal(t, "EUR/USD", second.Instrument)
	assert.Equal(t, "GBP/USD", third.Instrument)

	_, ok = r.Next()
	require.True(t, ok)
	_, ok = r.Next()
	assert.False(t, ok, "replay must be finite")

	r.Rewind()
	again, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, first, again, "rewind restarts from the beginning")
}

func TestReplayHistoryNeverSeesFuture(t *testing.T) {
	r := NewReplay([]Candle{
		{Instrument: "EUR/USD", CloseTime: 100, Close: 1.10},
		{Instrument: "EUR/USD", CloseTime: 200, Close: 1.11},
		{Instrument: "EUR/USD", CloseTime: 300, Close: 1.12},
	})
	r.Next()
	r.Next()

	hist, err := r.FetchHistory(context.Background(), "eur_usd", "", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(200), hist[1].CloseTime)
}

func TestReplayValidate(t *testing.T) {
	bad := &Replay{candles: []Candle{
		{Instrument: "EUR/USD", CloseTime: 200, Close: 1.10},
		{Instrument: "EUR/USD", CloseTime: 100, Close: 1.11},
	}}
	assert.Error(t, bad.Validate())

	zero := &Replay{candles: []Candle{{Instrument: "EUR/USD", CloseTime: 100}}}
	assert.Error(t, zero.Validate())
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "EUR/USD", NormalizeID(" eur_usd "))
	assert.Equal(t, "EUR/USD", NormalizeID("EUR/USD"))
}

func TestTickMid(t *testing.T) {
	assert.Equal(t, 1.105, Tick{Bid: 1.10, Ask: 1.11}.Mid())
	assert.Equal(t, 1.10, Tick{Bid: 1.10}.Mid())
	assert.Equal(t, 1.11, Tick{Ask: 1.11}.Mid())
}
