// Polymarket trading engine — a real-time, event-driven strategy-execution
// engine for binary prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts the engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires every component and owns the background task topology
//	router/router.go     — tick router: book/price-change/trade events -> ticks -> strategy dispatch
//	streaming/executor.go — book-imbalance streaming executor: a parallel ingest+execute path
//	strategy/*.go        — the six reference strategies plus the Strategy interface
//	position/store.go    — position/leg/spread lifecycle, transactional with the capital ledger
//	capital/ledger.go    — per-strategy capital accounting
//	state/manager.go     — invalidate-before-commit read cache over positions/spreads/capital
//	executor/*.go        — paper slippage simulator and live retrying order placement
//	validate/checks.go   — pre-trade safety checks
//	market/book.go        — local order-book mirror; market/registry.go — tradeable market discovery
//	exchange/*.go        — authenticated CLOB REST client and WebSocket feed
//	db/*.go              — gorm models and the SQL persistence layer
//	store/tickbuffer.go  — buffered tick -> snapshots table writer
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("trading engine started",
		"strategies", len(cfg.Strategies),
		"streaming_enabled", cfg.Streaming.Enabled,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
