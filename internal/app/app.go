package app

import (
	"context"
	"fmt"

	"forexbot/internal/config"
)

// App owns application-level orchestration: config in, one running
// session out. Depending on mode that session is either a live/demo
// trading loop or a single backtest run.
type App struct {
	cfg      *config.Config
	live     *LiveService
	backtest *BacktestService
}

func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build()
}

func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	switch {
	case a.backtest != nil:
		return a.backtest.Run(ctx)
	case a.live != nil:
		return a.live.Run(ctx)
	default:
		return fmt.Errorf("no service initialized")
	}
}

// LiveService exposes the underlying session for test harnesses.
func (a *App) LiveService() *LiveService {
	if a == nil {
		return nil
	}
	return a.live
}
