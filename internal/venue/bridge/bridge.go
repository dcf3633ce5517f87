package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"forexbot/internal/logger"
	"forexbot/internal/order"
	"forexbot/internal/pkg/circuit"
	"forexbot/internal/venue"
)

// Config tunes the bridge's resilience behavior.
type Config struct {
	CallTimeout      time.Duration // per-attempt deadline
	MaxAttempts      int           // submit/cancel retry budget
	PollInterval     time.Duration // transaction feed polling cadence
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Buffer           int
}

func (c *Config) withDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// Bridge implements venue.Venue against a live broker. Submissions go
// through a circuit breaker with bounded retries; execution reports
// are polled from the broker's transaction feed and translated into
// venue events.
type Bridge struct {
	client  *Client
	cfg     Config
	breaker *circuit.Breaker
	events  chan venue.Event

	mu      sync.Mutex
	byTag   map[string]uint64 // client order tag -> engine order ID
	lastTxn int64

	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	closeOnce  sync.Once
}

func New(client *Client, cfg Config) *Bridge {
	cfg.withDefaults()
	b := &Bridge{
		client:  client,
		cfg:     cfg,
		breaker: circuit.New("broker", cfg.BreakerThreshold, cfg.BreakerCooldown),
		events:  make(chan venue.Event, cfg.Buffer),
		byTag:   make(map[string]uint64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancelPoll = cancel
	b.pollDone = make(chan struct{})
	go b.pollLoop(ctx)
	return b
}

func (b *Bridge) Events() <-chan venue.Event { return b.events }

// Submit places the order with the broker. A deadline overrun returns
// a TimeoutError and queues a local rejection so the engine does not
// assume exposure it cannot confirm; the poll loop reconciles the true
// outcome if the order did reach the broker.
func (b *Bridge) Submit(ctx context.Context, req venue.SubmitRequest) (venue.Ack, error) {
	if !b.breaker.Allow() {
		return venue.Ack{}, &venue.RejectedError{OrderID: req.OrderID, Reason: "circuit open"}
	}

	b.mu.Lock()
	b.byTag[req.ClientID] = req.OrderID
	b.mu.Unlock()

	payload := orderPayload{
		ClientID:   req.ClientID,
		Instrument: req.Instrument,
		Side:       string(req.Side),
		Units:      req.Qty,
		Type:       string(req.PriceType),
	}
	if req.PriceType == order.Limit {
		price := req.LimitPrice
		payload.Price = &price
	}

	var resp *orderResponse
	err := b.withRetry(ctx, "submit", req.OrderID, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = b.client.placeOrder(callCtx, payload)
		return callErr
	})
	if err != nil {
		var timeoutErr *venue.TimeoutError
		if errors.As(err, &timeoutErr) {
			b.events <- venue.Event{
				Type:       venue.EventRejected,
				OrderID:    req.OrderID,
				Instrument: req.Instrument,
				Reason:     "execution timeout, pending reconciliation",
			}
		}
		return venue.Ack{}, err
	}
	if strings.EqualFold(resp.Status, "rejected") {
		return venue.Ack{}, &venue.RejectedError{OrderID: req.OrderID, Reason: resp.Reason}
	}
	return venue.Ack{OrderID: req.OrderID, At: time.Now()}, nil
}

// Cancel requests cancellation of the order's remainder. The eventual
// cancelled (or fill, if the broker raced us) event arrives via the
// transaction feed.
func (b *Bridge) Cancel(ctx context.Context, req venue.CancelRequest) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("cancel order %d: circuit open", req.OrderID)
	}
	return b.withRetry(ctx, "cancel", req.OrderID, func(callCtx context.Context) error {
		return b.client.cancelOrder(callCtx, req.ClientID)
	})
}

func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		b.cancelPoll()
		<-b.pollDone
		close(b.events)
	})
	return nil
}

// withRetry runs fn up to MaxAttempts times with exponential backoff,
// feeding the circuit breaker. Context cancellation and deadline
// overruns are not retried.
func (b *Bridge) withRetry(ctx context.Context, op string, orderID uint64, fn func(context.Context) error) error {
	bo := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 3 * time.Second, Jitter: true}
	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
		start := time.Now()
		err := fn(callCtx)
		cancel()
		if err == nil {
			b.breaker.Success()
			return nil
		}
		b.breaker.Failure()
		lastErr = err

		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return &venue.TimeoutError{Op: op, OrderID: orderID, Elapsed: time.Since(start)}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < b.cfg.MaxAttempts {
			d := bo.Duration()
			logger.Warnf("broker %s attempt %d/%d failed: %v, retrying in %s", op, attempt, b.cfg.MaxAttempts, err, d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("broker %s failed after %d attempts: %w", op, b.cfg.MaxAttempts, lastErr)
}

func (b *Bridge) pollLoop(ctx context.Context) {
	defer close(b.pollDone)
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.poll(ctx)
		}
	}
}

func (b *Bridge) poll(ctx context.Context) {
	if !b.breaker.Allow() {
		return
	}
	b.mu.Lock()
	since := b.lastTxn
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	txs, err := b.client.transactionsSince(callCtx, since)
	cancel()
	if err != nil {
		b.breaker.Failure()
		logger.Warnf("broker transaction poll failed: %v", err)
		return
	}
	b.breaker.Success()

	for _, tx := range txs {
		b.mu.Lock()
		if tx.ID <= b.lastTxn {
			b.mu.Unlock()
			continue
		}
		b.lastTxn = tx.ID
		orderID, known := b.byTag[tx.ClientID]
		b.mu.Unlock()
		if !known {
			logger.Debugf("transaction %d for unknown client id %s, skipped", tx.ID, tx.ClientID)
			continue
		}
		ev, ok := translate(tx, orderID)
		if !ok {
			continue
		}
		select {
		case b.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func translate(tx transaction, orderID uint64) (venue.Event, bool) {
	at, _ := time.Parse(time.RFC3339, tx.Time)
	switch strings.ToUpper(tx.Type) {
	case "FILL":
		return venue.Event{
			Type:       venue.EventFill,
			OrderID:    orderID,
			Instrument: tx.Instrument,
			Qty:        tx.Units,
			Price:      tx.Price,
			Fee:        tx.Fee,
			At:         at,
		}, true
	case "CANCEL":
		return venue.Event{
			Type:       venue.EventCancelled,
			OrderID:    orderID,
			Instrument: tx.Instrument,
			Reason:     tx.Reason,
			At:         at,
		}, true
	case "EXPIRE":
		return venue.Event{
			Type:       venue.EventExpired,
			OrderID:    orderID,
			Instrument: tx.Instrument,
			Reason:     tx.Reason,
			At:         at,
		}, true
	case "REJECT":
		return venue.Event{
			Type:       venue.EventRejected,
			OrderID:    orderID,
			Instrument: tx.Instrument,
			Reason:     tx.Reason,
			At:         at,
		}, true
	default:
		return venue.Event{}, false
	}
}
