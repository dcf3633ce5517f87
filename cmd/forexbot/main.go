package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"forexbot/internal/app"
	"forexbot/internal/config"
	"forexbot/internal/logger"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (default $FOREXBOT_CONFIG or configs/config.yaml)")
	mode := flag.String("mode", "", "override app.mode: backtest, demo or live")
	flag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("FOREXBOT_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	if *mode != "" {
		m := config.NormalizeMode(*mode)
		if m == "" {
			log.Fatalf("invalid -mode %q", *mode)
		}
		cfg.App.Mode = m
	}

	logFile, err := logger.Session(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("opening log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s mode=%s interval=%s instruments=%d)",
		cfg.App.Env, cfg.App.Mode, cfg.Market.Interval, len(cfg.Market.Instruments))

	a, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("initializing app failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("session failed: %v", err)
	}
	logger.Infof("shutdown complete")
}
