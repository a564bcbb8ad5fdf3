// Package router implements the tick router: the single dispatch point
// between raw exchange events and the strategy layer. It maintains one local
// market.Book per active market, turns incoming WS events into immutable
// Ticks, applies the pre-strategy global filter, fans the
// resulting Tick out to every configured strategy's OnTick/OnPositionUpdate,
// and pushes any returned Action through validate.Validate into the
// configured executor.Executor.
//
// The enrich -> global filter -> per-strategy dispatch -> validate ->
// execute sequence runs once per handler method, one handler per event type
// the exchange's own WS taxonomy distinguishes (internal/exchange.WSFeed's
// book/price_change/last_trade_price channels).
package router

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
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
	"polymarket-engine/internal/position"
	"polymarket-engine/internal/state"
	"polymarket-engine/internal/store"
	"polymarket-engine/internal/strategy"
	"polymarket-engine/internal/validate"
	"polymarket-engine/pkg/types"
)

// dedupWindow bounds how long a message ID/hash is remembered before it can
// be reprocessed — WS feeds occasionally replay the last few messages after
// a reconnect.
const dedupWindow = 2 * time.Minute

// whaleNotionalThreshold is the public-print notional above which a trade
// is archived to whale_events.
var whaleNotionalThreshold = decimal.NewFromInt(1000)

// staleBookSkip is how long a book can go without an update before the
// periodic-tick task stops ticking it (the market has likely gone quiet or
// the feed dropped its subscription; RunSubscriptionMaintainer will notice
// and re-subscribe independently).
const staleBookSkip = 5 * time.Minute

// Deps bundles the router's collaborators. All fields are required.
type Deps struct {
	GDB        *gorm.DB
	Registry   *market.Registry
	MarketFeed *exchange.WSFeed
	Position   *position.Store
	State      *state.Manager
	Executor   executor.Executor
	TickBuffer *store.TickBuffer
	Strategies []strategy.Strategy
	// StrategyConfigs is keyed by StrategyConfig.Name, mirroring Strategies —
	// the router needs each strategy's raw config for fields Limits doesn't
	// carry (MaxFeeRateBps).
	StrategyConfigs []config.StrategyConfig
	Logger          *slog.Logger
}

// Router owns the per-market order books and dispatches ticks to every
// configured strategy. Its exported HandleX methods are called from a
// single goroutine (the engine's WS reader). The background Run* tasks run
// on their own goroutines: RunPeriodicTicks dispatches ticks through the
// same strategy/validate/execute path as the handlers, concurrently with
// them; the others touch only the books map, the feed and the database.
type Router struct {
	gdb        *gorm.DB
	registry   *market.Registry
	marketFeed *exchange.WSFeed
	position   *position.Store
	state      *state.Manager
	executor   executor.Executor
	tickBuffer *store.TickBuffer
	strategies []strategy.Strategy
	strategyConfigs map[string]config.StrategyConfig
	logger     *slog.Logger

	booksMu sync.RWMutex
	books   map[string]*market.Book

	velocity *strategy.Tracker
	dedup    *dedupSet

	// quarantined holds strategy names taken out of dispatch after one of
	// their actions triggered a fatal position.ErrInvariant — the offending
	// strategy is quarantined rather than crashing the process. Guarded by
	// quarantinedMu since dispatchTick runs
	// on the WS-reader goroutine while RunCleanup/RunPeriodicTicks run on
	// their own.
	quarantinedMu sync.RWMutex
	quarantined   map[string]bool
}

// New builds a Router from its dependencies.
func New(deps Deps) *Router {
	cfgs := make(map[string]config.StrategyConfig, len(deps.StrategyConfigs))
	for _, c := range deps.StrategyConfigs {
		cfgs[c.Name] = c
	}

	return &Router{
		gdb:             deps.GDB,
		registry:        deps.Registry,
		marketFeed:      deps.MarketFeed,
		position:        deps.Position,
		state:           deps.State,
		executor:        deps.Executor,
		tickBuffer:      deps.TickBuffer,
		strategies:      deps.Strategies,
		strategyConfigs: cfgs,
		logger:          deps.Logger.With("component", "router"),
		books:           make(map[string]*market.Book),
		velocity:        strategy.NewTracker(2 * time.Minute),
		dedup:           newDedupSet(dedupWindow),
		quarantined:     make(map[string]bool),
	}
}

func (r *Router) isQuarantined(strategyName string) bool {
	r.quarantinedMu.RLock()
	defer r.quarantinedMu.RUnlock()
	return r.quarantined[strategyName]
}

func (r *Router) quarantine(strategyName string, cause error) {
	r.quarantinedMu.Lock()
	r.quarantined[strategyName] = true
	r.quarantinedMu.Unlock()
	r.logger.Error("strategy quarantined after invariant violation",
		"strategy", strategyName, "error", cause)
}

// BookFor exposes a market's local book to other components (the streaming
// imbalance executor reads the same books to avoid a second book cache).
func (r *Router) BookFor(conditionID string) (*market.Book, bool) {
	r.booksMu.RLock()
	defer r.booksMu.RUnlock()
	b, ok := r.books[conditionID]
	return b, ok
}

func (r *Router) bookOrCreate(mkt types.Market) *market.Book {
	r.booksMu.Lock()
	defer r.booksMu.Unlock()
	b, ok := r.books[mkt.ConditionID]
	if !ok {
		b = market.NewBook(mkt.ConditionID, mkt.YesTokenID, mkt.NoTokenID)
		r.books[mkt.ConditionID] = b
	}
	return b
}

func (r *Router) resolveMarket(conditionID, assetID string) (types.Market, bool) {
	if conditionID != "" {
		if mkt, ok := r.registry.Get(conditionID); ok {
			return mkt, true
		}
	}
	if assetID != "" {
		return r.registry.MarketForToken(assetID)
	}
	return types.Market{}, false
}

// ————————————————————————————————————————————————————————————————————————
// Event handlers
// ————————————————————————————————————————————————————————————————————————

// HandleBookEvent applies a full order-book snapshot and dispatches the
// resulting tick for whichever token side the event concerns.
func (r *Router) HandleBookEvent(evt types.WSBookEvent) {
	mkt, ok := r.resolveMarket(evt.Market, evt.AssetID)
	if !ok {
		return
	}
	if evt.Hash != "" && !r.dedup.CheckAndSet("book:"+evt.AssetID+":"+evt.Hash, time.Now()) {
		return
	}

	book := r.bookOrCreate(mkt)
	book.ApplyBookEvent(evt)

	side, ok := book.SideForAsset(evt.AssetID)
	if !ok {
		return
	}

	tick := r.buildTick(mkt, book, side, types.EventBook, uuid.NewString(), parseTimestamp(evt.Timestamp))
	r.dispatchTick(tick)
}

// HandlePriceChangeEvent applies an incremental book delta. A single
// message can touch both of a market's tokens; one tick is built and
// dispatched per distinct side actually touched by a new (non-duplicate)
// delta.
func (r *Router) HandlePriceChangeEvent(evt types.WSPriceChangeEvent) {
	mkt, ok := r.resolveMarket(evt.Market, "")
	if !ok {
		return
	}

	book := r.bookOrCreate(mkt)
	book.ApplyPriceChange(evt)

	touched := make(map[types.TokenSide]bool, 2)
	now := time.Now()
	for _, pc := range evt.PriceChanges {
		if pc.Hash != "" && !r.dedup.CheckAndSet("pc:"+pc.AssetID+":"+pc.Hash, now) {
			continue
		}
		if side, ok := book.SideForAsset(pc.AssetID); ok {
			touched[side] = true
		}
	}

	ts := parseTimestamp(evt.Timestamp)
	for side := range touched {
		tick := r.buildTick(mkt, book, side, types.EventPriceChange, uuid.NewString(), ts)
		r.dispatchTick(tick)
	}
}

// HandleLastTradePriceEvent records a public fill against the local book's
// side and dispatches the resulting trade tick. The book itself is not
// mutated by a trade print (only book/price_change carry depth changes);
// this only advances velocity tracking and carries the trade size/side for
// strategies and the streaming executor's whale-print bookkeeping.
func (r *Router) HandleLastTradePriceEvent(evt types.WSLastTradePriceEvent) {
	mkt, ok := r.resolveMarket(evt.Market, evt.AssetID)
	if !ok {
		return
	}
	if !r.dedup.CheckAndSet("trade:"+evt.AssetID+":"+evt.Timestamp+":"+evt.Price+":"+evt.Size, time.Now()) {
		return
	}

	book := r.bookOrCreate(mkt)
	side, ok := book.SideForAsset(evt.AssetID)
	if !ok {
		return
	}

	size, _ := decimal.NewFromString(evt.Size)
	price, _ := decimal.NewFromString(evt.Price)
	tradeSide := types.Side(evt.Side)
	ts := parseTimestamp(evt.Timestamp)

	if notional := size.Mul(price); notional.GreaterThanOrEqual(whaleNotionalThreshold) {
		row := db.WhaleEventRow{
			TokenID:     evt.AssetID,
			Side:        evt.Side,
			Price:       price,
			Size:        size,
			NotionalUSD: notional,
			RecordedAt:  ts,
		}
		if err := r.gdb.Create(&row).Error; err != nil {
			r.logger.Error("record whale event failed", "error", err)
		}
	}

	yesMid, hasYes := book.Mid(types.TokenYes)
	velocity := decimal.Zero
	if hasYes {
		r.velocity.Record(mkt.ConditionID, yesMid, ts)
		if move, ok := r.velocity.MoveSince(mkt.ConditionID, time.Minute, ts); ok {
			velocity = move
		}
	}

	tick := market.BuildTradeTick(book, mkt, side, size, tradeSide, velocity)
	tick.MessageID = uuid.NewString()
	tick.Timestamp = ts
	r.dispatchTick(tick)
}

func (r *Router) buildTick(mkt types.Market, book *market.Book, side types.TokenSide, kind types.EventKind, messageID string, ts time.Time) types.Tick {
	bestBid, bestAsk, hasBidAsk := book.BestBidAskD(side)
	mid, hasMid := book.Mid(side)
	yesMid, hasYes := book.Mid(types.TokenYes)
	noMid, hasNo := book.Mid(types.TokenNo)
	imbalance := book.Imbalance(side)

	velocity := decimal.Zero
	if hasYes {
		r.velocity.Record(mkt.ConditionID, yesMid, ts)
		if move, ok := r.velocity.MoveSince(mkt.ConditionID, time.Minute, ts); ok {
			velocity = move
		}
	}

	return types.Tick{
		MessageID:    messageID,
		Market:       mkt,
		Kind:         kind,
		Side:         side,
		BestBid:      bestBid,
		BestAsk:      bestAsk,
		HasBidAsk:    hasBidAsk,
		Mid:          mid,
		HasMid:       hasMid,
		ActualYesMid: yesMid,
		HasYesMid:    hasYes,
		ActualNoMid:  noMid,
		HasNoMid:     hasNo,
		Velocity1m:   velocity,
		Imbalance:    imbalance,
		HasImbalance: hasBidAsk,
		Timestamp:    ts,
	}
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now()
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}

// ————————————————————————————————————————————————————————————————————————
// Dispatch
// ————————————————————————————————————————————————————————————————————————

func (r *Router) dispatchTick(tick types.Tick) {
	if _, err := r.position.UpdatePrices(tick); err != nil {
		r.logger.Error("update prices failed", "condition_id", tick.Market.ConditionID, "error", err)
	}
	if err := r.tickBuffer.Add(tick); err != nil {
		r.logger.Error("buffer tick failed", "error", err)
	}

	for _, s := range r.strategies {
		r.dispatchStrategy(s, tick)
	}
}

// globalAllowedFormats and globalAllowedMarketTypes define the engine-wide
// trading universe: best-of-3+ series, match or per-map winner markets.
// These are strategy-blind — no per-strategy config widens them.
var (
	globalAllowedFormats     = map[string]bool{"BO3": true, "BO5": true}
	globalAllowedMarketTypes = map[string]bool{"moneyline": true, "child_moneyline": true}
)

// passesGlobalFilter is the pre-strategy global filter: a resolved market,
// a disallowed format, or a disallowed market type is never dispatched to
// any strategy, and a tick priced at the extreme [0.05, 0.95] band is
// skipped unless this strategy's own Limits opt out of it (the longshot
// strategies trade exactly that band).
func passesGlobalFilter(tick types.Tick, limits strategy.Limits) bool {
	if tick.Market.Resolved {
		return false
	}
	if !globalAllowedFormats[tick.Market.Format] {
		return false
	}
	if !globalAllowedMarketTypes[tick.Market.MarketType] {
		return false
	}
	if limits.AllowExtremePrice {
		return true
	}
	yesPrice, ok := tick.YesPrice()
	if !ok {
		return true
	}
	floor := decimal.NewFromFloat(validate.ExtremePriceFloor)
	ceil := decimal.NewFromFloat(validate.ExtremePriceCeiling)
	return !yesPrice.LessThan(floor) && !yesPrice.GreaterThan(ceil)
}

func (r *Router) dispatchStrategy(s strategy.Strategy, tick types.Tick) {
	if r.isQuarantined(s.Name()) {
		return
	}

	limits := s.Limits()
	if !passesGlobalFilter(tick, limits) {
		return
	}
	if !s.FilterTick(tick) {
		return
	}

	pos, hasPos, err := r.state.GetPosition(s.Name(), tick.Market.ID, "")
	if err != nil {
		if errors.Is(err, position.ErrInvariant) {
			r.quarantine(s.Name(), err)
			return
		}
		r.logger.Error("get position failed", "strategy", s.Name(), "error", err)
		return
	}
	spread, hasSpread, err := r.state.GetSpread(s.Name(), tick.Market.ID)
	if err != nil {
		if errors.Is(err, position.ErrInvariant) {
			r.quarantine(s.Name(), err)
			return
		}
		r.logger.Error("get spread failed", "strategy", s.Name(), "error", err)
		return
	}

	var action *types.Action
	if hasPos || hasSpread {
		var posPtr *types.Position
		if hasPos {
			posPtr = &pos
		}
		var spreadPtr *types.Spread
		if hasSpread {
			spreadPtr = &spread
		}
		action = s.OnPositionUpdate(tick, posPtr, spreadPtr)
	} else {
		if limits.MaxPositions > 0 {
			count, err := r.state.PositionCount(s.Name())
			if err != nil {
				r.logger.Error("position count check failed", "strategy", s.Name(), "error", err)
				return
			}
			if count >= limits.MaxPositions {
				return
			}
		}
		action = s.OnTick(tick)
	}
	if action == nil {
		return
	}

	r.handleAction(s.Name(), limits, tick, action, hasPos || hasSpread)
}

func (r *Router) handleAction(strategyName string, limits strategy.Limits, tick types.Tick, action *types.Action, hadPosition bool) {
	now := time.Now()
	isClose := action.Type == types.ActionClose || action.Type == types.ActionPartClose
	isOpen := action.Type == types.ActionOpenLong || action.Type == types.ActionOpenSpread

	sizeUSD := decimal.Zero
	switch action.Type {
	case types.ActionOpenLong:
		sizeUSD = action.SizeUSD
	case types.ActionOpenSpread:
		sizeUSD = action.SizeUSD.Add(action.NoSizeUSD)
	case types.ActionAdd:
		sizeUSD = action.AddSizeUSD
	}

	side := action.Side
	entrySpread, _ := r.spreadFor(tick.Market.ConditionID, side)

	signalPrice := decimal.Zero
	switch {
	case side == types.TokenNo:
		if np, ok := tick.NoPrice(); ok {
			signalPrice = np
		}
	default:
		if yp, ok := tick.YesPrice(); ok {
			signalPrice = yp
		}
	}

	hasRecent, err := r.hasRecentOrder(action.TokenID, now)
	if err != nil {
		r.logger.Error("recent order check failed", "strategy", strategyName, "error", err)
	}

	strategyCfg := r.strategyConfigs[strategyName]

	params := validate.Params{
		StrategyName:   strategyName,
		MarketID:       tick.Market.ID,
		TokenID:        action.TokenID,
		SizeUSD:        sizeUSD,
		MaxPositionUSD: limits.MaxPositionUSD,
		IsClose:        isClose,
		ExitSpread:     entrySpread,
		MaxExitSpread:  limits.MaxExitSpread,
		EntrySpread:    entrySpread,
		MaxEntrySpread: limits.MaxEntrySpread,
		SignalPrice:    signalPrice,
		AllowExtreme:   limits.AllowExtremePrice,
		HasDuplicatePosition: isOpen && hadPosition,
		HasRecentOrder:       hasRecent,
		MaxFeeRateBps:        strategyCfg.MaxFeeRateBps,
		Now:                  now,
	}

	decision := validate.Validate(params)
	r.recordDecision(decision)
	if !decision.Executed {
		r.logger.Debug("trade rejected",
			"strategy", strategyName, "action", action.Type, "check", decision.CheckName, "reason", decision.RejectedReason)
		return
	}

	trade, err := r.executor.Execute(*action, tick)
	if err != nil {
		if errors.Is(err, position.ErrInvariant) {
			r.quarantine(strategyName, err)
			return
		}
		if errors.Is(err, position.ErrDuplicatePosition) {
			r.logger.Debug("duplicate position suppressed", "strategy", strategyName, "token", action.TokenID)
			return
		}
		r.logger.Error("execute action failed", "strategy", strategyName, "action", action.Type, "error", err)
		return
	}
	r.logger.Info("trade executed", "strategy", strategyName, "action", action.Type, "trade_id", trade.ID, "shares", trade.Shares)
}

func (r *Router) spreadFor(conditionID string, side types.TokenSide) (decimal.Decimal, bool) {
	book, ok := r.BookFor(conditionID)
	if !ok {
		return decimal.Zero, false
	}
	if side == "" {
		side = types.TokenYes
	}
	spread, ok := book.Spread(side)
	if !ok {
		return decimal.Zero, false
	}
	return spread, true
}

func (r *Router) hasRecentOrder(tokenID string, now time.Time) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	cutoff := now.Add(-validate.RecentOrderWindow)
	var count int64
	err := r.gdb.Model(&db.OrderRow{}).
		Where("token_id = ? AND submitted_at >= ?", tokenID, cutoff).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Router) recordDecision(d types.TradeDecision) {
	row := db.TradeDecisionRow{
		StrategyName:   d.StrategyName,
		MarketID:       d.MarketID,
		TokenID:        d.TokenID,
		Executed:       d.Executed,
		RejectedReason: d.RejectedReason,
		CheckName:      d.CheckName,
		CreatedAt:      d.CreatedAt,
	}
	if err := r.gdb.Create(&row).Error; err != nil {
		r.logger.Error("record trade decision failed", "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Background tasks
// ————————————————————————————————————————————————————————————————————————

// RunPeriodicTicks re-ticks every tracked market on a fixed cadence so
// multi-stage strategies
// keep progressing even when a market goes quiet between WS messages.
func (r *Router) RunPeriodicTicks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tickAllMarkets()
		}
	}
}

func (r *Router) tickAllMarkets() {
	r.booksMu.RLock()
	books := make(map[string]*market.Book, len(r.books))
	for k, v := range r.books {
		books[k] = v
	}
	r.booksMu.RUnlock()

	now := time.Now()
	for conditionID, book := range books {
		mkt, ok := r.registry.Get(conditionID)
		if !ok || mkt.Resolved {
			continue
		}
		if book.IsStale(staleBookSkip) {
			continue
		}
		for _, side := range []types.TokenSide{types.TokenYes, types.TokenNo} {
			tick := r.buildTick(mkt, book, side, types.EventPeriodic, uuid.NewString(), now)
			r.dispatchTick(tick)
		}
	}
}

// RunSubscriptionMaintainer diffs the registry's desired subscription set
// against what the market WS feed currently tracks, subscribing/
// unsubscribing the delta.
func (r *Router) RunSubscriptionMaintainer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.syncSubscriptions(ctx)
		}
	}
}

func (r *Router) syncSubscriptions(ctx context.Context) {
	want := make(map[string]bool)
	for _, id := range r.registry.Subscriptions() {
		want[id] = true
	}
	have := make(map[string]bool)
	for _, id := range r.marketFeed.SubscribedIDs() {
		have[id] = true
	}

	var toAdd, toRemove []string
	for id := range want {
		if !have[id] {
			toAdd = append(toAdd, id)
		}
	}
	for id := range have {
		if !want[id] {
			toRemove = append(toRemove, id)
		}
	}

	if len(toAdd) > 0 {
		if err := r.marketFeed.Subscribe(ctx, toAdd); err != nil {
			r.logger.Error("subscribe failed", "count", len(toAdd), "error", err)
		}
	}
	if len(toRemove) > 0 {
		if err := r.marketFeed.Unsubscribe(ctx, toRemove); err != nil {
			r.logger.Error("unsubscribe failed", "count", len(toRemove), "error", err)
		}
	}
}

// RunCleanup periodically settles positions whose current price has pinned
// to 0 or 1 (position.Store.CleanupResolvedPositions), and archives each
// live book's top of book alongside.
func (r *Router) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.position.CleanupResolvedPositions()
			if err != nil {
				r.logger.Error("cleanup resolved positions failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("cleaned up resolved positions", "count", n)
			}
			r.archiveBooks()
		}
	}
}

// archiveBooks writes one orderbook_snapshots row per fresh book side, a
// coarse top-of-book archive for post-hoc analysis.
func (r *Router) archiveBooks() {
	r.booksMu.RLock()
	books := make([]*market.Book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, b)
	}
	r.booksMu.RUnlock()

	now := time.Now()
	var rows []db.OrderBookSnapshotRow
	for _, book := range books {
		if book.IsStale(staleBookSkip) {
			continue
		}
		for _, side := range []types.TokenSide{types.TokenYes, types.TokenNo} {
			bid, ask, ok := book.BestBidAskD(side)
			if !ok {
				continue
			}
			rows = append(rows, db.OrderBookSnapshotRow{
				TokenID:    book.AssetForSide(side),
				BestBid:    bid,
				BestAsk:    ask,
				Imbalance:  book.Imbalance(side),
				RecordedAt: now,
			})
		}
	}
	if len(rows) == 0 {
		return
	}
	if err := r.gdb.CreateInBatches(rows, 100).Error; err != nil {
		r.logger.Error("archive orderbook snapshots failed", "error", err)
	}
}
