package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forexbot/internal/order"
	"forexbot/internal/venue"
)

func drain(v *Venue) []venue.Event {
	var out []venue.Event
	for {
		select {
		case ev := <-v.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestMarketOrderFillsWithSlippage(t *testing.T) {
	v := New(Config{SlippageBps: 10})
	v.SetMark("EUR/USD", 1.1000)

	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 1, Instrument: "EUR/USD", Side: order.Buy, Qty: 1000, PriceType: order.Market,
	})
	require.NoError(t, err)

	evs := drain(v)
	require.Len(t, evs, 1)
	assert.Equal(t, venue.EventFill, evs[0].Type)
	assert.Equal(t, 1000.0, evs[0].Qty)
	assert.InDelta(t, 1.1000*(1+0.001), evs[0].Price, 1e-9)

	// sells slip the other way
	_, err = v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 2, Instrument: "EUR/USD", Side: order.Sell, Qty: 500, PriceType: order.Market,
	})
	require.NoError(t, err)
	evs = drain(v)
	require.Len(t, evs, 1)
	assert.InDelta(t, 1.1000*(1-0.001), evs[0].Price, 1e-9)
}

func TestPartialFills(t *testing.T) {
	v := New(Config{FillRatio: 0.4})
	v.SetMark("EUR/USD", 1.1)
	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 1, Instrument: "EUR/USD", Side: order.Buy, Qty: 1000, PriceType: order.Market,
	})
	require.NoError(t, err)

	evs := drain(v)
	require.Len(t, evs, 2)
	assert.InDelta(t, 400.0, evs[0].Qty, 1e-9)
	assert.InDelta(t, 600.0, evs[1].Qty, 1e-9)
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	v := New(Config{SlippageBps: 5})
	v.SetMark("EUR/USD", 1.1000)

	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 7, Instrument: "EUR/USD", Side: order.Buy, Qty: 100,
		PriceType: order.Limit, LimitPrice: 1.0950,
	})
	require.NoError(t, err)
	assert.Empty(t, drain(v))

	v.OnTick("EUR/USD", 1.0970, time.Time{})
	assert.Empty(t, drain(v))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	v.OnTick("EUR/USD", 1.0949, at)
	evs := drain(v)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(7), evs[0].OrderID)
	// limit fills at the limit price, untouched by slippage
	assert.Equal(t, 1.0950, evs[0].Price)
	assert.Equal(t, at, evs[0].At)
}

func TestCancelRestingOrder(t *testing.T) {
	v := New(Config{})
	v.SetMark("EUR/USD", 1.1)
	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 3, Instrument: "EUR/USD", Side: order.Sell, Qty: 100,
		PriceType: order.Limit, LimitPrice: 1.2,
	})
	require.NoError(t, err)

	require.NoError(t, v.Cancel(context.Background(), venue.CancelRequest{OrderID: 3}))
	evs := drain(v)
	require.Len(t, evs, 1)
	assert.Equal(t, venue.EventCancelled, evs[0].Type)

	// order no longer rests
	v.OnTick("EUR/USD", 1.3, time.Time{})
	assert.Empty(t, drain(v))
}

func TestCancelAfterFillIsNoop(t *testing.T) {
	v := New(Config{})
	v.SetMark("EUR/USD", 1.1)
	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 4, Instrument: "EUR/USD", Side: order.Buy, Qty: 100, PriceType: order.Market,
	})
	require.NoError(t, err)

	// fill already queued; cancel must not add a cancelled event
	require.NoError(t, v.Cancel(context.Background(), venue.CancelRequest{OrderID: 4}))
	evs := drain(v)
	require.Len(t, evs, 1)
	assert.Equal(t, venue.EventFill, evs[0].Type)
}

func TestSubmitRejections(t *testing.T) {
	v := New(Config{})

	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 1, Instrument: "EUR/USD", Side: order.Buy, Qty: 100, PriceType: order.Market,
	})
	var rej *venue.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "no market price", rej.Reason)

	_, err = v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 2, Instrument: "EUR/USD", Side: order.Buy, Qty: 0, PriceType: order.Market,
	})
	require.ErrorAs(t, err, &rej)
}

func TestFeesAccumulate(t *testing.T) {
	v := New(Config{FeeRate: 0.001})
	v.SetMark("EUR/USD", 2.0)
	_, err := v.Submit(context.Background(), venue.SubmitRequest{
		OrderID: 1, Instrument: "EUR/USD", Side: order.Buy, Qty: 100, PriceType: order.Market,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, v.FeesPaid(), 1e-9)
}

func TestDeterministicRestingFillOrder(t *testing.T) {
	v := New(Config{})
	v.SetMark("EUR/USD", 1.1)
	for _, id := range []uint64{5, 2, 9} {
		_, err := v.Submit(context.Background(), venue.SubmitRequest{
			OrderID: id, Instrument: "EUR/USD", Side: order.Buy, Qty: 10,
			PriceType: order.Limit, LimitPrice: 1.05,
		})
		require.NoError(t, err)
	}
	v.OnTick("EUR/USD", 1.04, time.Time{})
	evs := drain(v)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].OrderID)
	assert.Equal(t, uint64(5), evs[1].OrderID)
	assert.Equal(t, uint64(9), evs[2].OrderID)
}
