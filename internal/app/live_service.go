package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"forexbot/internal/config"
	cfgloader "forexbot/internal/config/loader"
	"forexbot/internal/engine"
	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/scheduler"
	"forexbot/internal/venue"
	"forexbot/internal/venue/sim"
)

// LiveService drives one demo or live trading session: it warms the
// engine up with candle history, then forwards closed candles, venue
// events and housekeeping timers into the engine's event loop.
type LiveService struct {
	cfg      *config.Config
	eng      *engine.Engine
	source   market.Source
	vn       venue.Venue
	sim      *sim.Venue // non-nil in demo mode
	registry *market.Registry
	weights  *cfgloader.WeightsLoader // optional hot-reloaded model weights

	interval time.Duration

	mu      sync.Mutex
	pending map[string]market.Candle
}

func newLiveService(cfg *config.Config, eng *engine.Engine, src market.Source, vn venue.Venue,
	simVn *sim.Venue, registry *market.Registry, weights *cfgloader.WeightsLoader) *LiveService {
	interval, _ := scheduler.ParseInterval(cfg.Market.Interval)
	return &LiveService{
		cfg:      cfg,
		eng:      eng,
		source:   src,
		vn:       vn,
		sim:      simVn,
		registry: registry,
		weights:  weights,
		interval: interval,
		pending:  make(map[string]market.Candle),
	}
}

// Engine exposes the session engine for test harnesses.
func (s *LiveService) Engine() *engine.Engine { return s.eng }

// Run blocks until the context is cancelled or the session hits a
// fatal state invariant violation.
func (s *LiveService) Run(ctx context.Context) error {
	s.eng.Start()
	defer s.eng.Stop()
	defer s.vn.Close()
	defer s.source.Close()

	if err := s.warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	ch, err := s.source.Subscribe(ctx, s.registry.IDs(), s.cfg.Market.Interval, market.SubscribeOptions{
		OnConnect:    func() { logger.Infof("market feed connected") },
		OnDisconnect: func(err error) { logger.Warnf("market feed disconnected: %v", err) },
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if s.weights != nil {
		// the file overrides static config weights, including at start
		s.weights.Subscribe(func(snap cfgloader.WeightsSnapshot) {
			evt := engine.Envelope{
				Type:        engine.EvtReconfigure,
				Reconfigure: &engine.ReconfigurePayload{ModelWeights: snap.Weights},
			}
			if err := s.eng.Send(evt); err != nil {
				logger.Warnf("weights update dropped: %v", err)
			}
		})
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.consumeCandles(ctx, ch)
	})
	group.Go(func() error {
		return s.pumpVenueEvents(ctx)
	})
	group.Go(func() error {
		offset := time.Duration(s.cfg.Engine.DecisionOffsetSeconds) * time.Second
		scheduler.NewAligned(ctx, s.interval, offset).Start(func(closeAt time.Time) {
			s.step(ctx, closeAt)
		})
		return nil
	})
	group.Go(func() error {
		sweep := time.Duration(s.cfg.Engine.SweepIntervalSeconds) * time.Second
		scheduler.NewPeriodic(ctx, sweep).Start(func(now time.Time) {
			evt := engine.Envelope{Type: engine.EvtTimer, Timer: &engine.TimerPayload{Time: now.UTC()}}
			if err := s.eng.SendSync(ctx, evt); err != nil && ctx.Err() == nil {
				logger.Warnf("sweep timer failed: %v", err)
			}
		})
		return nil
	})
	group.Go(func() error {
		return s.watchFatal(ctx)
	})

	return group.Wait()
}

// warmup primes model history and marks with one oversized step so the
// first scheduled decision already has full context.
func (s *LiveService) warmup(ctx context.Context) error {
	var all []market.Candle
	for _, id := range s.registry.IDs() {
		candles, err := s.source.FetchHistory(ctx, id, s.cfg.Market.Interval, s.cfg.Market.MaxCached)
		if err != nil {
			return fmt.Errorf("history for %s: %w", id, err)
		}
		if len(candles) == 0 {
			logger.Warnf("no history for %s, skipping warmup", id)
			continue
		}
		all = append(all, candles...)
	}
	if len(all) == 0 {
		return fmt.Errorf("no history for any instrument")
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CloseTime != all[j].CloseTime {
			return all[i].CloseTime < all[j].CloseTime
		}
		return all[i].Instrument < all[j].Instrument
	})

	at := time.UnixMilli(all[len(all)-1].CloseTime).UTC()
	if s.sim != nil {
		for _, c := range all {
			s.sim.OnTick(c.Instrument, c.Close, time.UnixMilli(c.CloseTime).UTC())
		}
	}
	logger.Infof("warmup: %d candles, latest close %s", len(all), at.Format(time.RFC3339))
	return s.eng.SendSync(ctx, engine.Envelope{
		Type: engine.EvtStep,
		Step: &engine.StepPayload{Time: at, Candles: all},
	})
}

func (s *LiveService) consumeCandles(ctx context.Context, ch <-chan market.CandleEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("market feed closed")
			}
			s.stage(ev.Candle)
		}
	}
}

// stage parks a closed candle until the next scheduled decision step.
func (s *LiveService) stage(c market.Candle) {
	if _, ok := s.registry.Lookup(c.Instrument); !ok {
		return
	}
	s.mu.Lock()
	prev, exists := s.pending[c.Instrument]
	if !exists || c.CloseTime >= prev.CloseTime {
		s.pending[c.Instrument] = c
	}
	s.mu.Unlock()
}

func (s *LiveService) takePending() []market.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]market.Candle, 0, len(s.pending))
	for _, c := range s.pending {
		out = append(out, c)
	}
	s.pending = make(map[string]market.Candle)
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (s *LiveService) step(ctx context.Context, closeAt time.Time) {
	batch := s.takePending()
	if len(batch) == 0 {
		evt := engine.Envelope{Type: engine.EvtTimer, Timer: &engine.TimerPayload{Time: closeAt}}
		if err := s.eng.SendSync(ctx, evt); err != nil && ctx.Err() == nil {
			logger.Warnf("timer step failed: %v", err)
		}
		return
	}
	if s.sim != nil {
		for _, c := range batch {
			s.sim.OnTick(c.Instrument, c.Close, closeAt)
		}
	}
	evt := engine.Envelope{
		Type: engine.EvtStep,
		Step: &engine.StepPayload{Time: closeAt, Candles: batch},
	}
	if err := s.eng.SendSync(ctx, evt); err != nil && ctx.Err() == nil {
		logger.Errorf("decision step failed: %v", err)
	}
}

func (s *LiveService) pumpVenueEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.vn.Events():
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("venue event stream closed")
			}
			if err := s.eng.Send(engine.Envelope{Type: engine.EvtVenue, Venue: &ev}); err != nil {
				return err
			}
		}
	}
}

// watchFatal ends the session when a state invariant violation has
// poisoned the engine. Trading is already suspended at that point; the
// remaining goroutines only keep a dead session alive.
func (s *LiveService) watchFatal(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if snap := s.eng.Snapshot(); snap.Fatal {
				return fmt.Errorf("session halted: %s", snap.FatalErr)
			}
		}
	}
}
