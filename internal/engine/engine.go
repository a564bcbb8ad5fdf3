// Package engine is the central orchestrator of the tick-routing and
// strategy-execution trading engine.
//
// It wires together the whole event pipeline:
//
//	WebSocket -> raw event -> Tick (market) -> Router ->
//	filter + cache lookup -> Strategy -> Action -> Validator ->
//	Executor -> Position store + Capital ledger ->
//	State manager invalidation.
//
// The streaming imbalance executor runs alongside the router, sharing
// its book cache, the executor, and the validation pipeline.
//
// Task topology is one goroutine per background concern rather
// than one interleaved loop: WS reader, subscription maintainer, health
// monitor, tick buffer flusher, periodic tick emitter, cleanup sweep, and
// the market registry's own poll loop. The WS reader goroutine is the only
// place book/price_change/last_trade_price events are dispatched into the
// router and streaming executor, so events for a single market are always
// processed in arrival order without an explicit per-market lock.
//
// Lifecycle: New() -> Start() -> [runs until SIGINT] -> Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/capital"
	"polymarket-engine/internal/config"
	"polymarket-engine/internal/db"
	"polymarket-engine/internal/exchange"
	"polymarket-engine/internal/executor"
	"polymarket-engine/internal/market"
	"polymarket-engine/internal/position"
	"polymarket-engine/internal/router"
	"polymarket-engine/internal/state"
	"polymarket-engine/internal/store"
	"polymarket-engine/internal/streaming"
	"polymarket-engine/internal/strategy"
)

const (
	periodicTickInterval  = 5 * time.Second
	subscriptionInterval  = 60 * time.Second
	cleanupInterval       = 60 * time.Second
	healthCheckInterval   = 30 * time.Second
)

// Engine owns the lifecycle of every goroutine in the trading engine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	gdb        *gorm.DB
	auth       *exchange.Auth
	client     *exchange.Client
	marketFeed *exchange.WSFeed
	registry   *market.Registry

	ledger     *capital.Ledger
	state      *state.Manager
	position   *position.Store
	tickBuffer *store.TickBuffer

	router    *router.Router
	streaming *streaming.Executor // nil if the streaming executor is disabled

	liveExec *executor.Live

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New derives exchange credentials, opens the database, and wires every
// component in the data-flow pipeline from the loaded config.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials, deriving API key via L1...")
		creds, err := client.DeriveAPIKey(context.Background())
		if err != nil {
			return nil, err
		}
		auth.SetCredentials(*creds)
	}

	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	registry := market.NewRegistry(cfg, gdb, logger)
	ledger := capital.New(gdb)
	stateMgr := state.New(gdb)
	posStore := position.New(gdb, ledger, stateMgr)
	tickBuffer := store.NewTickBuffer(gdb, cfg.Store.MaxBufferSize)
	marketFeed := exchange.NewMarketFeed(cfg.API.WSMarketURL, logger)

	execDeps := executor.Deps{DB: gdb, Position: posStore, Capital: ledger, State: stateMgr}
	paperExec := executor.NewPaper(execDeps)
	liveExec := executor.NewLive(execDeps, client)

	strategies := make([]strategy.Strategy, 0, len(cfg.Strategies))
	routes := make(map[string]executor.Executor, len(cfg.Strategies)+1)
	for _, sc := range cfg.Strategies {
		if !sc.Enabled {
			continue
		}
		s, err := buildStrategy(sc, stateMgr)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)

		allocation := decimal.NewFromFloat(sc.AllocatedCapital)
		if err := ledger.EnsureStrategy(sc.Name, allocation); err != nil {
			return nil, err
		}

		if sc.Live {
			routes[sc.Name] = liveExec
		} else {
			routes[sc.Name] = paperExec
		}
	}

	if cfg.Streaming.Enabled {
		if cfg.Streaming.Live {
			routes[cfg.Streaming.Name] = liveExec
		} else {
			routes[cfg.Streaming.Name] = paperExec
		}
		if err := ledger.EnsureStrategy(cfg.Streaming.Name, decimal.Zero); err != nil {
			return nil, err
		}
	}

	dispatchExec := executor.NewByStrategy(routes)

	rtr := router.New(router.Deps{
		GDB:             gdb,
		Registry:        registry,
		MarketFeed:      marketFeed,
		Position:        posStore,
		State:           stateMgr,
		Executor:        dispatchExec,
		TickBuffer:      tickBuffer,
		Strategies:      strategies,
		StrategyConfigs: cfg.Strategies,
		Logger:          logger,
	})

	var streamExec *streaming.Executor
	if cfg.Streaming.Enabled {
		streamExec = streaming.New(cfg.Streaming, registry, rtr, stateMgr, dispatchExec, client, gdb, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		gdb:        gdb,
		auth:       auth,
		client:     client,
		marketFeed: marketFeed,
		registry:   registry,
		ledger:     ledger,
		state:      stateMgr,
		position:   posStore,
		tickBuffer: tickBuffer,
		router:     rtr,
		streaming:  streamExec,
		liveExec:   liveExec,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches every background task in the topology above and
// returns once they are all running. It blocks on nothing; callers wait for
// a shutdown signal and then call Stop.
func (e *Engine) Start() error {
	if err := e.liveExec.ReconcileOpenOrders(e.ctx); err != nil {
		e.logger.Warn("startup order reconciliation failed", "error", err)
	}

	e.spawn("market_feed", func() {
		if err := e.marketFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("market feed error", "error", err)
		}
	})

	e.spawn("registry", func() {
		e.registry.Run(e.ctx)
	})

	e.spawn("registry_log", e.logRegistryUpdates)

	// WS reader: the single goroutine that turns raw events into dispatched
	// ticks, preserving per-market arrival order.
	e.spawn("ws_dispatch", e.dispatchMarketEvents)

	e.spawn("periodic_ticks", func() {
		e.router.RunPeriodicTicks(e.ctx, periodicTickInterval)
	})

	e.spawn("subscription_maintainer", func() {
		e.router.RunSubscriptionMaintainer(e.ctx, subscriptionInterval)
	})

	e.spawn("cleanup", func() {
		e.router.RunCleanup(e.ctx, cleanupInterval)
	})

	e.spawn("tick_buffer_flusher", e.runTickBufferFlusher)

	e.spawn("health_monitor", e.runHealthMonitor)

	e.logger.Info("engine started",
		"strategies", len(e.cfg.Strategies),
		"streaming_enabled", e.cfg.Streaming.Enabled,
		"dry_run", e.cfg.DryRun,
	)

	return nil
}

// spawn runs fn on its own goroutine tracked by the engine's WaitGroup, with
// a recover so one background task's panic cannot take the process down
// silently without a log line.
func (e *Engine) spawn(name string, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}

// dispatchMarketEvents is the WS reader task: it selects
// across every typed channel the market feed demultiplexes onto and calls
// the matching router/streaming handler. A book event is applied to the
// router's book first, then (if the streaming executor is enabled) handed
// to it — it reads the same book via router.BookFor rather than keeping a
// second copy, so it must see the post-update state.
func (e *Engine) dispatchMarketEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-e.marketFeed.BookEvents():
			e.router.HandleBookEvent(evt)
			if e.streaming != nil {
				e.streaming.HandleBookEvent(evt)
			}
		case evt := <-e.marketFeed.PriceChangeEvents():
			e.router.HandlePriceChangeEvent(evt)
		case evt := <-e.marketFeed.LastTradePriceEvents():
			e.router.HandleLastTradePriceEvent(evt)
		}
	}
}

// runTickBufferFlusher periodically writes buffered ticks to the snapshots
// table. Failure leaves the buffer intact for the next
// tick so no data is lost, only delayed.
func (e *Engine) runTickBufferFlusher() {
	interval := e.cfg.Store.FlushInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if err := e.tickBuffer.Flush(); err != nil {
				e.logger.Error("tick buffer flush failed", "error", err)
			}
		}
	}
}

// runHealthMonitor forces a market-feed reconnect if no message of any kind
// has arrived within exchange.HealthCheckTimeout. Closing
// the live connection is enough: WSFeed.Run's read loop treats the close as
// a read error and re-enters its own backoff/reconnect cycle, which then
// re-subscribes to every tracked token.
func (e *Engine) runHealthMonitor() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.marketFeed.LastMessageAt().IsZero() {
				continue
			}
			if time.Since(e.marketFeed.LastMessageAt()) > exchange.HealthCheckTimeout {
				e.logger.Warn("market feed silent past health check timeout, forcing reconnect",
					"last_message_at", e.marketFeed.LastMessageAt())
				if err := e.marketFeed.Close(); err != nil {
					e.logger.Error("force-close market feed failed", "error", err)
				}
			}
		}
	}
}

// logRegistryUpdates drains the registry's update channel purely for
// observability — router/state already read the registry's cache directly
// on every dispatch, so nothing downstream needs to react to this signal.
func (e *Engine) logRegistryUpdates() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case upd := <-e.registry.Updates():
			if len(upd.Added) > 0 || len(upd.Resolved) > 0 {
				e.logger.Info("market registry update",
					"added", len(upd.Added), "resolved", len(upd.Resolved))
			}
		}
	}
}

// Stop cancels every background task, flushes the tick buffer one final
// time, and waits for all goroutines to exit.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	// Unblock the WS reader immediately rather than waiting out its read
	// deadline: Run's read loop only notices ctx cancellation when a read
	// returns, and a closed connection returns one right away.
	if err := e.marketFeed.Close(); err != nil {
		e.logger.Error("failed to close market feed", "error", err)
	}

	e.wg.Wait()

	if err := e.tickBuffer.Flush(); err != nil {
		e.logger.Error("final tick buffer flush failed", "error", err)
	}

	if sqlDB, err := e.gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}

	e.logger.Info("shutdown complete")
}

// buildStrategy constructs the concrete Strategy implementation matching
// sc.Name. An unrecognized name is a
// configuration error, not a runtime condition to skip silently.
func buildStrategy(sc config.StrategyConfig, sm *state.Manager) (strategy.Strategy, error) {
	switch sc.Name {
	case "scalp":
		return strategy.NewScalp(sc, sm), nil
	case "favorite_hedge":
		return strategy.NewFavoriteHedge(sc, sm), nil
	case "swing_rebalance":
		return strategy.NewSwingRebalance(sc, sm), nil
	case "map_longshot":
		return strategy.NewMapLongshot(sc, sm), nil
	case "bo3_longshot":
		return strategy.NewBO3Longshot(sc, sm), nil
	case "book_imbalance":
		return strategy.NewBookImbalance(sc, sm), nil
	default:
		return nil, fmt.Errorf("engine: unrecognized strategy name %q", sc.Name)
	}
}
