package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"forexbot/internal/config"
	cfgloader "forexbot/internal/config/loader"
	"forexbot/internal/engine"
	"forexbot/internal/gateway/binance"
	"forexbot/internal/journal"
	"forexbot/internal/logger"
	"forexbot/internal/market"
	"forexbot/internal/model"
	"forexbot/internal/notifier"
	"forexbot/internal/order"
	"forexbot/internal/risk"
	"forexbot/internal/signal"
	"forexbot/internal/sizing"
	"forexbot/internal/venue"
	"forexbot/internal/venue/bridge"
	"forexbot/internal/venue/sim"
)

// AppBuilder assembles the session from config. The build functions
// are injectable so tests can swap the market source or the venue
// without touching the wiring.
type AppBuilder struct {
	cfg *config.Config

	sourceFn   func(*config.Config) (market.Source, error)
	venueFn    func(*config.Config) (venue.Venue, *sim.Venue, error)
	journalFn  func(*config.Config) (journal.Recorder, error)
	notifierFn func(*config.Config) notifier.Notifier
}

type AppBuilderOption func(*AppBuilder)

func WithSource(fn func(*config.Config) (market.Source, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.sourceFn = fn }
}

func WithVenue(fn func(*config.Config) (venue.Venue, *sim.Venue, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.venueFn = fn }
}

func WithJournal(fn func(*config.Config) (journal.Recorder, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.journalFn = fn }
}

func WithNotifier(fn func(*config.Config) notifier.Notifier) AppBuilderOption {
	return func(b *AppBuilder) { b.notifierFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sourceFn:   buildSource,
		venueFn:    buildVenue,
		journalFn:  buildJournal,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	models, err := buildModels(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.App.Mode == config.ModeBacktest {
		bt, err := newBacktestService(cfg, registry, models)
		if err != nil {
			return nil, err
		}
		return &App{cfg: cfg, backtest: bt}, nil
	}

	src, err := b.sourceFn(cfg)
	if err != nil {
		return nil, err
	}
	vn, simVn, err := b.venueFn(cfg)
	if err != nil {
		return nil, err
	}
	rec, err := b.journalFn(cfg)
	if err != nil {
		return nil, err
	}
	nt := b.notifierFn(cfg)

	ledger := risk.NewLedger(cfg.Account.Currency, cfg.Account.Balance, cfg.Account.Leverage)
	mgr := risk.NewManager(risk.Limits{
		MaxLeverage:      cfg.Risk.MaxLeverage,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		DailyLossPct:     cfg.Risk.DailyLossPct,
		MinNotional:      cfg.Risk.MinNotional,
		MaxHoldingTime:   cfg.Risk.MaxHoldingTime(),
	}, ledger)
	agg := signal.NewAggregator(registry, cfg.Models.Weights, cfg.Models.MinStrength)
	runner := model.NewRunner(models, agg)
	sizer := sizing.NewSizer(sizing.Params{
		PerTradeRiskPct: cfg.Sizing.PerTradeRiskPct,
		StopLossPips:    cfg.Sizing.StopLossPips,
		TakeProfitRatio: cfg.Sizing.TakeProfitRatio,
	})

	eng := engine.New(engine.Config{
		RunID:           cfg.App.Mode + "-" + uuid.NewString()[:8],
		MaxHistory:      cfg.Market.MaxCached,
		SubmitTimeout:   time.Duration(cfg.Engine.SubmitTimeoutSeconds) * time.Second,
		MaxOrderAge:     time.Duration(cfg.Engine.MaxOrderAgeSeconds) * time.Second,
		QueueSize:       cfg.Engine.QueueSize,
		EntryPriceType:  entryPriceType(cfg.Engine.EntryPriceType),
		LimitOffsetPips: cfg.Engine.LimitOffsetPips,
	}, registry, runner, ledger, mgr, sizer, vn, rec, nt)

	var weights *cfgloader.WeightsLoader
	if cfg.Models.WeightsPath != "" {
		weights, err = cfgloader.NewWeightsLoader(cfg.Models.WeightsPath)
		if err != nil {
			return nil, fmt.Errorf("weights loader: %w", err)
		}
	}

	live := newLiveService(cfg, eng, src, vn, simVn, registry, weights)
	return &App{cfg: cfg, live: live}, nil
}

func buildRegistry(cfg *config.Config) (*market.Registry, error) {
	instruments := make([]market.Instrument, 0, len(cfg.Market.Instruments))
	for _, ic := range cfg.Market.Instruments {
		instruments = append(instruments, market.Instrument{
			ID:           ic.ID,
			PipLocation:  ic.PipLocation,
			QtyStep:      ic.QtyStep,
			MinTradeSize: ic.MinTradeSize,
		})
	}
	return market.NewRegistry(instruments)
}

func buildModels(cfg *config.Config) ([]model.Model, error) {
	var out []model.Model
	for _, e := range cfg.Models.Entries {
		if !e.Enabled {
			continue
		}
		switch e.Type {
		case "sma_cross":
			out = append(out, model.NewSMACross(e.ID, e.Fast, e.Slow, e.Horizon))
		case "rsi_reversion":
			out = append(out, model.NewRSIReversion(e.ID, e.Period, e.Horizon))
		default:
			return nil, fmt.Errorf("unknown model type %q (id=%s)", e.Type, e.ID)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled models")
	}
	return out, nil
}

func buildSource(cfg *config.Config) (market.Source, error) {
	src := cfg.Market.ResolveActiveSource()
	switch src.Name {
	case "binance":
		return binance.New(binance.Config{RESTBaseURL: src.RESTBaseURL}), nil
	default:
		return nil, fmt.Errorf("unknown market source %q", src.Name)
	}
}

func buildVenue(cfg *config.Config) (venue.Venue, *sim.Venue, error) {
	if cfg.App.Mode == config.ModeDemo {
		vn := sim.New(sim.Config{})
		return vn, vn, nil
	}
	client, err := bridge.NewClient(bridge.ClientConfig{
		APIURL:             cfg.Bridge.APIURL,
		APIToken:           cfg.Bridge.APIToken,
		Username:           cfg.Bridge.Username,
		Password:           cfg.Bridge.Password,
		Timeout:            time.Duration(cfg.Bridge.TimeoutSeconds) * time.Second,
		InsecureSkipVerify: cfg.Bridge.InsecureSkipVerify,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bridge client: %w", err)
	}
	vn := bridge.New(client, bridge.Config{
		CallTimeout:      time.Duration(cfg.Bridge.TimeoutSeconds) * time.Second,
		MaxAttempts:      cfg.Bridge.MaxAttempts,
		PollInterval:     time.Duration(cfg.Bridge.PollIntervalSeconds) * time.Second,
		BreakerThreshold: cfg.Bridge.BreakerThreshold,
		BreakerCooldown:  time.Duration(cfg.Bridge.BreakerCooldownSecond) * time.Second,
	})
	return vn, nil, nil
}

func buildJournal(cfg *config.Config) (journal.Recorder, error) {
	if cfg.Journal.Path == "" {
		return journal.NewMemory(), nil
	}
	rec, err := journal.NewSQLite(cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("journal store: %w", err)
	}
	return rec, nil
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.Notify.Telegram.Enabled {
		return notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	return notifier.Noop{}
}

func entryPriceType(s string) order.PriceType {
	if s == "limit" {
		return order.Limit
	}
	return order.Market
}
