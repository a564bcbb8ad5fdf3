// Package streaming implements the book-imbalance executor: a parallel
// ingest path that reacts directly to order-book events instead of waiting
// for the router's periodic/polled dispatch. It trades the router's richer
// per-strategy filter set for much tighter freshness tolerances, since a
// book delta a few seconds old is already stale for this purpose.
package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/config"
	"polymarket-engine/internal/db"
	"polymarket-engine/internal/exchange"
	"polymarket-engine/internal/executor"
	"polymarket-engine/internal/market"
	"polymarket-engine/internal/state"
	"polymarket-engine/internal/validate"
	"polymarket-engine/pkg/types"
)

// BookSource is the slice of Router this package depends on. The streaming
// executor deliberately does not keep its own book cache: the router is
// already applying every book/price_change event to the same per-market
// Book, so a second cache would just be a second, possibly-divergent copy
// of the same state.
type BookSource interface {
	BookFor(conditionID string) (*market.Book, bool)
}

// MarketResolver resolves a WS event's condition/asset id to a tracked
// market. Implemented by *market.Registry.
type MarketResolver interface {
	Get(conditionID string) (types.Market, bool)
	MarketForToken(tokenID string) (types.Market, bool)
}

// Executor is the book-imbalance streaming signal generator and executor.
type Executor struct {
	cfg      config.StreamingConfig
	registry MarketResolver
	books    BookSource
	state    *state.Manager
	exec     executor.Executor
	client   *exchange.Client
	gdb      *gorm.DB
	logger   *slog.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time // key: strategy + ":" + market id
}

// New builds a streaming executor. client may be used for a fresh
// price-deviation/fee check before a live execution; it is never consulted
// in paper mode.
func New(cfg config.StreamingConfig, registry MarketResolver, books BookSource, stateMgr *state.Manager, exec executor.Executor, client *exchange.Client, gdb *gorm.DB, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:       cfg,
		registry:  registry,
		books:     books,
		state:     stateMgr,
		exec:      exec,
		client:    client,
		gdb:       gdb,
		logger:    logger.With("component", "streaming_executor"),
		cooldowns: make(map[string]time.Time),
	}
}

// HandleBookEvent evaluates one book snapshot for an imbalance signal. It is
// meant to be called after the router has already applied the same event to
// the shared Book, so the state this reads is already current.
func (e *Executor) HandleBookEvent(evt types.WSBookEvent) {
	if !e.cfg.Enabled {
		return
	}

	mkt, ok := e.resolveMarket(evt.Market, evt.AssetID)
	if !ok || mkt.Resolved {
		return
	}
	if !e.categoryAllowed(mkt.Category) {
		return
	}

	book, ok := e.books.BookFor(mkt.ConditionID)
	if !ok {
		return
	}
	side, ok := book.SideForAsset(evt.AssetID)
	if !ok {
		return
	}

	// 1. Imbalance threshold — cheapest check, evaluated first.
	imbalance := book.Imbalance(side)
	minImb := decimal.NewFromFloat(e.cfg.MinImbalance)
	if imbalance.Abs().LessThan(minImb) {
		return
	}

	mid, hasMid := book.Mid(side)
	if !hasMid {
		return
	}

	// 2. Price zone.
	zoneMin := decimal.NewFromFloat(e.cfg.YesPriceMin)
	zoneMax := decimal.NewFromFloat(e.cfg.YesPriceMax)
	if mid.LessThan(zoneMin) || mid.GreaterThan(zoneMax) {
		return
	}

	// 3. Spread.
	spread, hasSpread := book.Spread(side)
	if !hasSpread {
		return
	}
	if spread.GreaterThan(decimal.NewFromFloat(e.cfg.MaxSpread)) {
		return
	}

	bestBid, bestAsk, hasBidAsk := book.BestBidAskD(side)
	if !hasBidAsk {
		return
	}

	// 4. Time to close: a safety buffer before resolution, not a market
	// selection filter (that already happened at subscription time).
	if e.cfg.MinMinutesToClose > 0 && !mkt.EndTime.IsZero() {
		minutesLeft := time.Until(mkt.EndTime).Minutes()
		if minutesLeft < e.cfg.MinMinutesToClose {
			return
		}
	}

	// 5. Per-strategy open position count, live mode only — paper mode has
	// no capital constraint to enforce.
	if e.cfg.Live && e.cfg.MaxPositions > 0 {
		count, err := e.state.PositionCount(e.cfg.Name)
		if err != nil {
			e.logger.Error("position count check failed", "error", err)
			return
		}
		if count >= e.cfg.MaxPositions {
			return
		}
	}

	// 6. Cooldown on this market.
	if e.inCooldown(mkt.ID) {
		return
	}

	// 7. No existing open position on this market for this strategy.
	if _, hasPos, err := e.state.GetPosition(e.cfg.Name, mkt.ID, ""); err != nil {
		e.logger.Error("get position failed", "error", err)
		return
	} else if hasPos {
		return
	}

	action, signalPrice, actionBid, actionAsk := directionalAction(e.cfg.Name, mkt, book, side, imbalance, bestBid, bestAsk)
	action.SizeUSD = decimal.NewFromFloat(e.cfg.FixedSizeUSD)

	signal := types.Signal{
		ID:               uuid.NewString(),
		StrategyName:     e.cfg.Name,
		MarketID:         mkt.ID,
		TokenID:          action.TokenID,
		Side:             action.Side,
		Reason:           fmt.Sprintf("streaming imbalance %s -> %s", imbalance.StringFixed(2), action.Side),
		PriceAtSignal:    signalPrice,
		SuggestedSizeUSD: action.SizeUSD,
		CreatedAt:        time.Now(),
	}
	e.recordSignal(signal)

	// Execution runs as a detached background task so a slow fill (or a
	// live order round-trip) never blocks the book-event ingest loop.
	go e.execute(signal, action, mkt, actionBid, actionAsk, spread)
}

func (e *Executor) execute(signal types.Signal, action types.Action, mkt types.Market, actionBid, actionAsk, signalSpread decimal.Decimal) {
	ctx := context.Background()

	params := validate.Params{
		StrategyName:   signal.StrategyName,
		MarketID:       signal.MarketID,
		TokenID:        signal.TokenID,
		SizeUSD:        action.SizeUSD,
		EntrySpread:    signalSpread,
		MaxEntrySpread: decimal.NewFromFloat(e.cfg.MaxSpread),
		SignalPrice:    signal.PriceAtSignal,
		Streaming:      true,
		SignalCreatedAt: signal.CreatedAt,
		MaxFeeRateBps:  e.cfg.MaxFeeRateBps,
	}

	if e.cfg.Live && e.client != nil {
		liveMid, feeBps, ok := e.freshQuote(ctx, signal.TokenID)
		if ok {
			params.Live = true
			params.LiveMid = liveMid
			params.SignalMid = signal.PriceAtSignal
			params.FeeRateBps = feeBps
		}
	}

	decision := validate.Validate(params)
	e.recordDecision(decision)
	if !decision.Executed {
		e.logger.Debug("streaming signal rejected", "strategy", signal.StrategyName, "check", decision.CheckName, "reason", decision.RejectedReason)
		return
	}

	tick := types.Tick{
		MessageID: signal.ID,
		Market:    mkt,
		Kind:      types.EventBook,
		Side:      action.Side,
		BestBid:   actionBid,
		BestAsk:   actionAsk,
		HasBidAsk: true,
		Mid:       signal.PriceAtSignal,
		HasMid:    true,
		Timestamp: signal.CreatedAt,
	}

	trade, err := e.exec.Execute(action, tick)
	if err != nil {
		e.logger.Error("streaming execute failed", "strategy", signal.StrategyName, "market_id", signal.MarketID, "error", err)
		return
	}

	e.setCooldown(signal.MarketID)
	e.logger.Info("streaming trade executed", "strategy", signal.StrategyName, "market_id", signal.MarketID, "trade_id", trade.ID, "shares", trade.Shares)
}

// freshQuote fetches a live orderbook for tokenID for the price-deviation
// check and the token's current fee rate. Both are skipped entirely in paper
// mode, which has no live price to deviate from.
func (e *Executor) freshQuote(ctx context.Context, tokenID string) (mid decimal.Decimal, feeBps int, ok bool) {
	resp, err := e.client.GetOrderBook(ctx, tokenID)
	if err != nil || resp == nil || len(resp.Bids) == 0 || len(resp.Asks) == 0 {
		return decimal.Zero, 0, false
	}
	bid, errB := decimal.NewFromString(resp.Bids[0].Price)
	ask, errA := decimal.NewFromString(resp.Asks[0].Price)
	if errB != nil || errA != nil {
		return decimal.Zero, 0, false
	}
	mid = bid.Add(ask).Div(decimal.NewFromInt(2))

	fee, err := e.client.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		fee = 0
	}
	return mid, fee, true
}

// directionalAction follows the imbalance direction (a momentum rule, not a
// mean-reversion one): bid-heavy pressure on a token means buy that token;
// ask-heavy pressure means sellers are dominating it, so buy the other side
// instead. Returns the action plus the bid/ask to execute against — read
// directly off the target side's own book when available, falling back to
// the complementary 1-price formula when it isn't.
func directionalAction(strategyName string, mkt types.Market, book *market.Book, side types.TokenSide, imbalance, bestBid, bestAsk decimal.Decimal) (action types.Action, price, actionBid, actionAsk decimal.Decimal) {
	bidHeavy := imbalance.GreaterThan(decimal.Zero)

	targetSide := side
	actionBid, actionAsk = bestBid, bestAsk
	price = bestAsk
	if !bidHeavy {
		targetSide = otherSide(side)
		if tb, ta, ok := book.BestBidAskD(targetSide); ok {
			actionBid, actionAsk = tb, ta
			price = ta
		} else {
			actionBid = decimal.NewFromInt(1).Sub(bestAsk)
			actionAsk = decimal.NewFromInt(1).Sub(bestBid)
			price = actionAsk
		}
	}

	tokenID := mkt.YesTokenID
	if targetSide == types.TokenNo {
		tokenID = mkt.NoTokenID
	}

	action = types.Action{
		Type:         types.ActionOpenLong,
		StrategyName: strategyName,
		MarketID:     mkt.ID,
		TokenID:      tokenID,
		Side:         targetSide,
		OrderType:    types.OrderMarket,
	}
	return action, price, actionBid, actionAsk
}

func otherSide(ts types.TokenSide) types.TokenSide {
	if ts == types.TokenYes {
		return types.TokenNo
	}
	return types.TokenYes
}

func (e *Executor) resolveMarket(conditionID, assetID string) (types.Market, bool) {
	if conditionID != "" {
		if mkt, ok := e.registry.Get(conditionID); ok {
			return mkt, true
		}
	}
	if assetID != "" {
		return e.registry.MarketForToken(assetID)
	}
	return types.Market{}, false
}

func (e *Executor) categoryAllowed(category string) bool {
	if len(e.cfg.Categories) == 0 {
		return true
	}
	for _, c := range e.cfg.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func (e *Executor) inCooldown(marketID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns[e.cooldownKey(marketID)]
	return ok && time.Now().Before(until)
}

func (e *Executor) setCooldown(marketID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[e.cooldownKey(marketID)] = time.Now().Add(time.Duration(e.cfg.CooldownMinutes) * time.Minute)
}

func (e *Executor) cooldownKey(marketID int64) string {
	return fmt.Sprintf("%s:%d", e.cfg.Name, marketID)
}

func (e *Executor) recordSignal(s types.Signal) {
	row := db.SignalRow{
		ID:               s.ID,
		StrategyName:     s.StrategyName,
		MarketID:         s.MarketID,
		TokenID:          s.TokenID,
		Side:             string(s.Side),
		Reason:           s.Reason,
		Edge:             s.Edge,
		Confidence:       s.Confidence,
		PriceAtSignal:    s.PriceAtSignal,
		SuggestedSizeUSD: s.SuggestedSizeUSD,
		CreatedAt:        s.CreatedAt,
	}
	if err := e.gdb.Create(&row).Error; err != nil {
		e.logger.Error("record streaming signal failed", "error", err)
	}
}

func (e *Executor) recordDecision(d types.TradeDecision) {
	row := db.TradeDecisionRow{
		StrategyName:   d.StrategyName,
		MarketID:       d.MarketID,
		TokenID:        d.TokenID,
		Executed:       d.Executed,
		RejectedReason: d.RejectedReason,
		CheckName:      d.CheckName,
		CreatedAt:      d.CreatedAt,
	}
	if err := e.gdb.Create(&row).Error; err != nil {
		e.logger.Error("record streaming decision failed", "error", err)
	}
}
