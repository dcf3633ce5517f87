package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/scheduler"
)

const maxHistoryLimit = 1000

// Source implements market.Source on top of the go-binance SDK.
type Source struct {
	cfg    Config
	client *binance.Client

	mu           sync.Mutex
	candleCancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	client := binance.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Source{cfg: final, client: client}
}

func (s *Source) FetchHistory(ctx context.Context, instrument, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	instrument = market.NormalizeID(instrument)
	if instrument == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	svc := s.client.NewKlinesService().
		Symbol(toExchange(instrument)).
		Interval(interval).
		Limit(limit)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			Instrument: instrument,
			OpenTime:   kl.OpenTime,
			CloseTime:  kl.CloseTime,
			Open:       parseFloat(kl.Open),
			High:       parseFloat(kl.High),
			Low:        parseFloat(kl.Low),
			Close:      parseFloat(kl.Close),
			Volume:     parseFloat(kl.Volume),
		})
	}
	if _, ok := scheduler.ParseInterval(interval); ok {
		out = scheduler.DropUnclosed(out)
	}
	return out, nil
}

// Subscribe streams closed candles for the given instruments. Only one
// subscription is active at a time; a second call replaces the first.
func (s *Source) Subscribe(ctx context.Context, instruments []string, interval string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	// exchange symbol back to the id the caller asked for
	backMap := make(map[string]string)
	pairs := make(map[string]string)
	for _, id := range instruments {
		id = market.NormalizeID(id)
		if id == "" {
			continue
		}
		sym := toExchange(id)
		backMap[sym] = id
		pairs[sym] = interval
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no valid instruments for subscription")
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.candleCancel != nil {
		s.candleCancel()
	}
	s.candleCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runKlineLoop(subCtx, pairs, backMap, out, opts)
	}()
	return out, nil
}

func (s *Source) runKlineLoop(ctx context.Context, pairs, backMap map[string]string, out chan<- market.CandleEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *binance.WsKlineEvent) {
			ce, ok := convertKlineEvent(event)
			if !ok {
				return
			}
			if id, ok := backMap[ce.Candle.Instrument]; ok {
				ce.Instrument = id
				ce.Candle.Instrument = id
			}
			select {
			case <-ctx.Done():
				return
			case out <- ce:
			default:
				logger.Warnf("binance: kline channel full, drop %s %s", ce.Instrument, ce.Interval)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}

		doneC, stopC, err := binance.WsCombinedKlineServe(pairs, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candleCancel != nil {
		s.candleCancel()
		s.candleCancel = nil
	}
	return nil
}

// toExchange maps "EUR/USD" to the exchange's "EURUSD" form.
func toExchange(id string) string {
	return strings.ReplaceAll(market.NormalizeID(id), "/", "")
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

// convertKlineEvent keeps only closed candles. The stream repeats the
// in-progress candle on every trade, and a half-formed bar must never
// reach the decision loop.
func convertKlineEvent(ev *binance.WsKlineEvent) (market.CandleEvent, bool) {
	if ev == nil || !ev.Kline.IsFinal {
		return market.CandleEvent{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	interval := strings.ToLower(strings.TrimSpace(ev.Kline.Interval))
	if symbol == "" || interval == "" {
		return market.CandleEvent{}, false
	}
	return market.CandleEvent{
		Instrument: symbol,
		Interval:   interval,
		Candle: market.Candle{
			Instrument: symbol,
			OpenTime:   ev.Kline.StartTime,
			CloseTime:  ev.Kline.EndTime,
			Open:       parseFloat(ev.Kline.Open),
			High:       parseFloat(ev.Kline.High),
			Low:        parseFloat(ev.Kline.Low),
			Close:      parseFloat(ev.Kline.Close),
			Volume:     parseFloat(ev.Kline.Volume),
		},
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
