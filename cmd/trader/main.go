package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uhyunpark/nadotrader/params"
	"github.com/uhyunpark/nadotrader/pkg/api"
	"github.com/uhyunpark/nadotrader/pkg/tracker"
	"github.com/uhyunpark/nadotrader/pkg/trader"
	"github.com/uhyunpark/nadotrader/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "data/trader.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile, "mode", cfg.Mode)

	t, err := trader.New(cfg, logger)
	if err != nil {
		sugar.Fatalw("trader_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := t.Connect(ctx); err != nil {
		sugar.Fatalw("connect_failed", "err", err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			sugar.Warnw("shutdown_error", "err", err)
		}
	}()

	// ---- Status API (optional, read-only) ----
	if cfg.StatusAddr != "" {
		statusServer := api.NewServer(t, logger)
		go func() {
			if err := statusServer.Start(cfg.StatusAddr); err != nil {
				sugar.Fatalw("status_server_failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = statusServer.Stop(shutdownCtx)
		}()
	}

	sugar.Infow("session_started",
		"subaccount", t.Subaccount().Hex(),
		"products", len(t.Products()),
		"rate_per_minute", cfg.Dispatch.RatePerMinute,
		"status_addr", cfg.StatusAddr)

	// Progress logging loop
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutting down")
			return
		case <-ticker.C:
			open := t.GetOpenOrders(nil)
			pending := 0
			for _, rec := range open {
				if rec.State == tracker.Pending {
					pending++
				}
			}
			sugar.Infow("session_progress",
				"open_orders", len(open),
				"pending", pending)
		}
	}
}
