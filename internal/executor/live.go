package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/db"
	"polymarket-engine/internal/exchange"
	"polymarket-engine/pkg/types"
)

// Live submits real orders against the authenticated exchange: fresh
// bid/ask are pulled immediately before submission, the order is retried
// with backoff on transient failures, filled state is polled and
// unfilled remainders are cancelled, and the actual fill is reconciled
// against the account's trade history rather than trusted blindly from
// the submission response.
type Live struct {
	deps   Deps
	client *exchange.Client

	maxRetries    int
	retryBackoff  time.Duration
	pollInterval  time.Duration
	pollTimeout   time.Duration
}

// NewLive constructs the live executor.
func NewLive(deps Deps, client *exchange.Client) *Live {
	return &Live{
		deps:         deps,
		client:       client,
		maxRetries:   3,
		retryBackoff: 500 * time.Millisecond,
		pollInterval: 2 * time.Second,
		pollTimeout:  30 * time.Second,
	}
}

// Execute mirrors Paper's action dispatch, but fills come from real order
// submission instead of the synthesized slippage model.
func (l *Live) Execute(action types.Action, tick types.Tick) (*types.Trade, error) {
	switch action.Type {
	case types.ActionOpenLong:
		return l.openLong(action, tick)
	case types.ActionOpenSpread:
		return l.openSpread(action, tick)
	case types.ActionClose:
		return l.close(action, tick, decimal.NewFromInt(1))
	case types.ActionPartClose:
		return l.close(action, tick, action.ClosePct)
	case types.ActionAdd:
		return l.add(action, tick)
	case types.ActionRebalance:
		return l.rebalance(action, tick)
	default:
		return nil, fmt.Errorf("executor: unsupported action type %s", action.Type)
	}
}

// minNotionalUSD is the exchange's minimum order notional.
var minNotionalUSD = decimal.NewFromFloat(1.05)

// maxPriceMoveBetweenRetries aborts a retry when the book mid has moved
// more than this fraction since the order was first priced — retrying into
// a moved market just converts a transient error into bad slippage.
var maxPriceMoveBetweenRetries = decimal.NewFromFloat(0.03)

// submission is the result of placing, polling, and reconciling one order.
type submission struct {
	price      decimal.Decimal
	shares     decimal.Decimal
	usd        decimal.Decimal
	slippage   decimal.Decimal
	bid, ask   decimal.Decimal
	negRisk    bool
	orderID    string
	tickSize   types.TickSize
	fromWallet bool // fill detected in trade history, not from our own submission response
}

// trigger is the reason recorded on the resulting Trade row.
func (s submission) trigger() string {
	if s.fromWallet {
		return "detected from wallet"
	}
	return ""
}

// submit places a limit order against the freshest book available, retrying
// transient failures with backoff, polls the exchange until it fills or
// pollTimeout elapses, cancels any remainder, then reconciles the realized
// fill against trade history. Before each retry the wallet is consulted —
// a lost response does not mean a lost order, and re-submitting over a fill
// that already landed would double the position.
func (l *Live) submit(ctx context.Context, tokenID string, side types.Side, basePrice, sizeUSD decimal.Decimal) (submission, error) {
	if sizeUSD.LessThan(minNotionalUSD) {
		return submission{}, fmt.Errorf("order notional %s below exchange minimum %s", sizeUSD, minNotionalUSD)
	}

	book, err := l.client.GetOrderBook(ctx, tokenID)
	if err != nil {
		return submission{}, fmt.Errorf("get order book: %w", err)
	}

	bid, hasBid := bestLevel(book.Bids)
	ask, hasAsk := bestLevel(book.Asks)
	var tickSpread decimal.Decimal
	hasSpread := hasBid && hasAsk
	if hasSpread {
		tickSpread = ask.Sub(bid)
	}

	price, slippage := fillPrice(basePrice, bid, ask, hasBid, hasAsk, side, sizeUSD, tickSpread, hasSpread)
	shares := sizeUSD.Div(price)
	tickSize := types.TickSize(book.TickSize)
	if tickSize == "" {
		tickSize = types.Tick001
	}

	feeBps, err := l.client.GetFeeRateBps(ctx, tokenID)
	if err != nil {
		feeBps = 0
	}

	var entryMid decimal.Decimal
	if hasSpread {
		entryMid = bid.Add(ask).Div(decimal.NewFromInt(2))
	}

	startedAt := time.Now()
	backoff := l.retryBackoff
	var resp *types.OrderResponse
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return submission{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2

			if ws, wp, found := l.walletFillSince(ctx, tokenID, side, startedAt); found {
				return submission{
					price: wp, shares: ws, usd: ws.Mul(wp), slippage: slippage,
					bid: bid, ask: ask, negRisk: book.NegRisk, tickSize: tickSize,
					fromWallet: true,
				}, nil
			}

			fresh, err := l.client.GetOrderBook(ctx, tokenID)
			if err != nil {
				lastErr = err
				continue
			}
			fBid, fHasBid := bestLevel(fresh.Bids)
			fAsk, fHasAsk := bestLevel(fresh.Asks)
			if fHasBid && fHasAsk && !entryMid.IsZero() {
				freshMid := fBid.Add(fAsk).Div(decimal.NewFromInt(2))
				if freshMid.Sub(entryMid).Abs().Div(entryMid).GreaterThan(maxPriceMoveBetweenRetries) {
					return submission{}, fmt.Errorf("price moved %s -> %s between retries, aborting", entryMid, freshMid)
				}
			}
			bid, hasBid = fBid, fHasBid
			ask, hasAsk = fAsk, fHasAsk
			hasSpread = hasBid && hasAsk
			tickSpread = decimal.Zero
			if hasSpread {
				tickSpread = ask.Sub(bid)
			}
			price, slippage = fillPrice(basePrice, bid, ask, hasBid, hasAsk, side, sizeUSD, tickSpread, hasSpread)
			shares = sizeUSD.Div(price)
		}

		order := types.UserOrder{
			TokenID:    tokenID,
			Price:      price.InexactFloat64(),
			Size:       shares.InexactFloat64(),
			Side:       side,
			OrderType:  types.OrderTypeGTC,
			TickSize:   tickSize,
			FeeRateBps: feeBps,
		}

		r, err := l.client.PostOrder(ctx, order, book.NegRisk)
		if err != nil {
			lastErr = err
			continue
		}
		if !r.Success {
			return submission{}, fmt.Errorf("order rejected: %s", r.ErrorMsg)
		}
		resp = r
		break
	}
	if resp == nil {
		return submission{}, fmt.Errorf("submit order after %d attempts: %w", l.maxRetries+1, lastErr)
	}

	filledShares, filledPrice := l.pollAndReconcile(ctx, tokenID, resp.OrderID, side, startedAt, shares, price)

	return submission{
		price:    filledPrice,
		shares:   filledShares,
		usd:      filledShares.Mul(filledPrice),
		slippage: slippage,
		bid:      bid,
		ask:      ask,
		negRisk:  book.NegRisk,
		orderID:  resp.OrderID,
		tickSize: tickSize,
	}, nil
}

// pollAndReconcile waits for the order to fill, cancels any remainder once
// pollTimeout elapses, then cross-checks the filled amount against the
// account's trade history rather than trusting the order-status response
// alone — the two can disagree briefly right after a partial match. When
// the cancel does not take, the order most likely matched while the cancel
// was in flight: the wallet is consulted, and if it shows nothing yet the
// submitted size is conservatively assumed filled and a warning is logged
// for manual review.
func (l *Live) pollAndReconcile(ctx context.Context, tokenID, orderID string, side types.Side, since time.Time, requestedShares, limitPrice decimal.Decimal) (shares, price decimal.Decimal) {
	deadline := time.Now().Add(l.pollTimeout)
	var last *types.OpenOrder
	for time.Now().Before(deadline) {
		status, err := l.client.GetOrderStatus(ctx, orderID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			break
		}
		if err == nil {
			last = status
			if matched, _ := strconv.ParseFloat(status.SizeMatched, 64); matched > 0 {
				if original, _ := strconv.ParseFloat(status.OriginalSize, 64); matched >= original {
					break
				}
			}
		}
		select {
		case <-ctx.Done():
			return l.reconcileFromHistory(ctx, tokenID, side, since, requestedShares, limitPrice)
		case <-time.After(l.pollInterval):
		}
	}

	cancelResp, cancelErr := l.client.CancelOrders(ctx, []string{orderID})
	cancelTook := cancelErr == nil && cancelResp != nil && containsID(cancelResp.Canceled, orderID)

	if last != nil {
		if matched, err := strconv.ParseFloat(last.SizeMatched, 64); err == nil && matched > 0 {
			if p, err := strconv.ParseFloat(last.Price, 64); err == nil {
				return l.reconcileFromHistory(ctx, tokenID, side, since, decimal.NewFromFloat(matched), decimal.NewFromFloat(p))
			}
		}
	}
	if cancelTook {
		return l.reconcileFromHistory(ctx, tokenID, side, since, decimal.Zero, limitPrice)
	}
	if ws, wp, found := l.walletFillSince(ctx, tokenID, side, since); found {
		return ws, wp
	}
	slog.Warn("cancel did not take and trade history shows no fill; assuming submitted size filled, needs manual review",
		"order_id", orderID, "token_id", tokenID, "shares", requestedShares.String(), "price", limitPrice.String())
	return requestedShares, limitPrice
}

// reconcileFromHistory sums the trade history's matching fills since the
// submission started to derive the actual filled size and volume-weighted
// price. Falls back to the order-status-derived estimate when the trade
// feed has nothing yet (settlement lag) so a real partial fill is never
// discarded.
func (l *Live) reconcileFromHistory(ctx context.Context, tokenID string, side types.Side, since time.Time, fallbackShares, fallbackPrice decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	shares, price, found := l.walletFillSince(ctx, tokenID, side, since)
	if !found {
		return fallbackShares, fallbackPrice
	}
	return shares, price
}

// walletFillSince scans trade history for fills on tokenID in the given
// direction at or after since, returning their combined size and VWAP.
func (l *Live) walletFillSince(ctx context.Context, tokenID string, side types.Side, since time.Time) (decimal.Decimal, decimal.Decimal, bool) {
	trades, err := l.client.GetTradeHistory(ctx, tokenID)
	if err != nil {
		return decimal.Zero, decimal.Zero, false
	}

	var totalShares, totalCost decimal.Decimal
	for _, t := range trades {
		if t.Side != "" && t.Side != string(side) {
			continue
		}
		if ts, ok := parseTradeTime(t.Timestamp); ok && ts.Before(since) {
			continue
		}
		size, errSize := decimal.NewFromString(t.Size)
		price, errPrice := decimal.NewFromString(t.Price)
		if errSize != nil || errPrice != nil {
			continue
		}
		totalShares = totalShares.Add(size)
		totalCost = totalCost.Add(size.Mul(price))
	}
	if totalShares.IsZero() {
		return decimal.Zero, decimal.Zero, false
	}
	return totalShares, totalCost.Div(totalShares), true
}

func parseTradeTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func bestLevel(levels []types.PriceLevel) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(levels[0].Price)
	if err != nil {
		return decimal.Zero, false
	}
	return p, true
}

func (l *Live) newOrder(tokenID string, side types.Side, sub submission, signalID string) db.OrderRow {
	return db.OrderRow{
		SignalID:        signalID,
		IsPaper:         false,
		TokenID:         tokenID,
		Side:            string(side),
		OrderType:       "limit",
		LimitPrice:      sub.price,
		ExecutedPrice:   sub.price,
		SizeUSD:         sub.usd,
		SizeShares:      sub.shares,
		FilledShares:    sub.shares,
		Status:          string(types.OrderFilled),
		ExchangeOrderID: sub.orderID,
		StatusMessage:   sub.trigger(),
		SubmittedAt:     time.Now(),
		FilledAt:        time.Now(),
	}
}

func (l *Live) openLong(action types.Action, tick types.Tick) (*types.Trade, error) {
	basePrice, ok := priceForSide(tick, action.Side)
	if !ok {
		return nil, fmt.Errorf("no price available for side %s", action.Side)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.pollTimeout+10*time.Second)
	defer cancel()

	sub, err := l.submit(ctx, action.TokenID, types.BUY, basePrice, action.SizeUSD)
	if err != nil {
		return nil, err
	}
	if sub.shares.IsZero() {
		return nil, fmt.Errorf("executor: order %s did not fill", sub.orderID)
	}

	pos, err := l.deps.Position.OpenPosition(action.StrategyName, action.MarketID, tick.Market.ConditionID, action.TokenID, action.Side, sub.shares, sub.price, tick)
	if err != nil {
		return nil, err
	}

	order := l.newOrder(action.TokenID, types.BUY, sub, "")
	var trade types.Trade
	err = l.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, order, pos.ID, action.TokenID, types.BUY, sub.price, sub.shares, sub.usd, decimal.Zero, sub.bid, sub.ask, sub.slippage, sub.trigger()); err != nil {
			return err
		}
		trade = types.Trade{PositionID: pos.ID, TokenID: action.TokenID, Side: types.BUY, Price: sub.price, Shares: sub.shares, USD: sub.usd, Slippage: sub.slippage, CreatedAt: order.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (l *Live) openSpread(action types.Action, tick types.Tick) (*types.Trade, error) {
	noSize := action.NoSizeUSD
	if noSize.IsZero() {
		noSize = action.SizeUSD
	}

	yesBase, ok := tick.YesPrice()
	if !ok {
		return nil, fmt.Errorf("no yes price available")
	}
	noBase, ok := tick.NoPrice()
	if !ok {
		return nil, fmt.Errorf("no no price available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*(l.pollTimeout+10*time.Second))
	defer cancel()

	yesSub, err := l.submit(ctx, tick.Market.YesTokenID, types.BUY, yesBase, action.SizeUSD)
	if err != nil {
		return nil, err
	}
	noSub, err := l.submit(ctx, tick.Market.NoTokenID, types.BUY, noBase, noSize)
	if err != nil {
		return nil, err
	}
	if yesSub.shares.IsZero() || noSub.shares.IsZero() {
		return nil, fmt.Errorf("executor: spread leg did not fill")
	}

	spread, err := l.deps.Position.OpenSpread(action.StrategyName, action.MarketID, tick.Market.ConditionID,
		tick.Market.YesTokenID, tick.Market.NoTokenID, yesSub.shares, yesSub.price, noSub.shares, noSub.price, tick, types.SpreadScalp)
	if err != nil {
		return nil, err
	}

	yesOrder := l.newOrder(tick.Market.YesTokenID, types.BUY, yesSub, "")
	noOrder := l.newOrder(tick.Market.NoTokenID, types.BUY, noSub, "")

	var trade types.Trade
	err = l.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&yesOrder).Error; err != nil {
			return err
		}
		if err := tx.Create(&noOrder).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, yesOrder, spread.YesPositionID, tick.Market.YesTokenID, types.BUY, yesSub.price, yesSub.shares, yesSub.usd, decimal.Zero, yesSub.bid, yesSub.ask, yesSub.slippage, yesSub.trigger()); err != nil {
			return err
		}
		if err := recordTrade(tx, noOrder, spread.NoPositionID, tick.Market.NoTokenID, types.BUY, noSub.price, noSub.shares, noSub.usd, decimal.Zero, noSub.bid, noSub.ask, noSub.slippage, noSub.trigger()); err != nil {
			return err
		}
		trade = types.Trade{PositionID: spread.YesPositionID, TokenID: tick.Market.YesTokenID, Side: types.BUY, Price: yesSub.price, Shares: yesSub.shares, USD: yesSub.usd, Slippage: yesSub.slippage, CreatedAt: yesOrder.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (l *Live) close(action types.Action, tick types.Tick, closePct decimal.Decimal) (*types.Trade, error) {
	pos, ok, err := l.deps.State.GetPosition(action.StrategyName, action.MarketID, action.Side)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no open position for %s/%d/%s", action.StrategyName, action.MarketID, action.Side)
	}

	sellShares := pos.RemainingShares.Mul(closePct)
	notional := sellShares.Mul(pos.CurrentPrice)

	ctx, cancel := context.WithTimeout(context.Background(), l.pollTimeout+10*time.Second)
	defer cancel()

	sub, err := l.submit(ctx, pos.TokenID, types.SELL, pos.CurrentPrice, notional)
	if err != nil {
		return nil, err
	}
	if sub.shares.IsZero() {
		return nil, fmt.Errorf("executor: close order %s did not fill", sub.orderID)
	}

	var posID int64
	if closePct.Equal(decimal.NewFromInt(1)) {
		updated, err := l.deps.Position.ClosePosition(pos.ID, sub.price, action.Reason)
		if err != nil {
			return nil, err
		}
		posID = updated.ID
	} else {
		updated, _, err := l.deps.Position.PartialClose(pos.ID, closePct, sub.price, action.Reason)
		if err != nil {
			return nil, err
		}
		posID = updated.ID
	}

	order := l.newOrder(action.TokenID, types.SELL, sub, "")
	var trade types.Trade
	err = l.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, order, posID, action.TokenID, types.SELL, sub.price, sub.shares, sub.usd, decimal.Zero, sub.bid, sub.ask, sub.slippage, sub.trigger()); err != nil {
			return err
		}
		trade = types.Trade{PositionID: posID, TokenID: action.TokenID, Side: types.SELL, Price: sub.price, Shares: sub.shares, USD: sub.usd, Slippage: sub.slippage, CreatedAt: order.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (l *Live) add(action types.Action, tick types.Tick) (*types.Trade, error) {
	pos, ok, err := l.deps.State.GetPosition(action.StrategyName, action.MarketID, action.Side)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no open position to add to for %s/%d/%s", action.StrategyName, action.MarketID, action.Side)
	}

	basePrice, ok := priceForSide(tick, action.Side)
	if !ok {
		return nil, fmt.Errorf("no price available for side %s", action.Side)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.pollTimeout+10*time.Second)
	defer cancel()

	sub, err := l.submit(ctx, action.TokenID, types.BUY, basePrice, action.AddSizeUSD)
	if err != nil {
		return nil, err
	}
	if sub.shares.IsZero() {
		return nil, fmt.Errorf("executor: add order %s did not fill", sub.orderID)
	}

	updated, _, err := l.deps.Position.AddToPosition(pos.ID, sub.shares, sub.price)
	if err != nil {
		return nil, err
	}

	order := l.newOrder(action.TokenID, types.BUY, sub, "")
	var trade types.Trade
	err = l.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, order, updated.ID, action.TokenID, types.BUY, sub.price, sub.shares, sub.usd, decimal.Zero, sub.bid, sub.ask, sub.slippage, sub.trigger()); err != nil {
			return err
		}
		trade = types.Trade{PositionID: updated.ID, TokenID: action.TokenID, Side: types.BUY, Price: sub.price, Shares: sub.shares, USD: sub.usd, Slippage: sub.slippage, CreatedAt: order.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (l *Live) rebalance(action types.Action, tick types.Tick) (*types.Trade, error) {
	pos, ok, err := l.deps.State.GetPosition(action.StrategyName, action.MarketID, action.Side)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no open position for rebalance %s/%d/%s", action.StrategyName, action.MarketID, action.Side)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*(l.pollTimeout+10*time.Second))
	defer cancel()

	sellNotional := pos.RemainingShares.Mul(action.ClosePct).Mul(pos.CurrentPrice)
	sellSub, err := l.submit(ctx, pos.TokenID, types.SELL, pos.CurrentPrice, sellNotional)
	if err != nil {
		return nil, err
	}
	_, leg, err := l.deps.Position.PartialClose(pos.ID, action.ClosePct, sellSub.price, action.Reason)
	if err != nil {
		return nil, err
	}
	proceeds := leg.CostDelta

	oppositeSide := types.TokenNo
	if action.Side == types.TokenNo {
		oppositeSide = types.TokenYes
	}
	oppPos, ok, err := l.deps.State.GetPosition(action.StrategyName, action.MarketID, oppositeSide)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no opposite leg to reinvest into for %s/%d", action.StrategyName, action.MarketID)
	}

	oppPrice, ok := priceForSide(tick, oppositeSide)
	if !ok {
		return nil, fmt.Errorf("no price available for side %s", oppositeSide)
	}
	buySub, err := l.submit(ctx, oppPos.TokenID, types.BUY, oppPrice, proceeds)
	if err != nil {
		return nil, err
	}

	updated, _, err := l.deps.Position.AddToPosition(oppPos.ID, buySub.shares, buySub.price)
	if err != nil {
		return nil, err
	}

	sellOrder := l.newOrder(action.TokenID, types.SELL, sellSub, "")
	buyOrder := l.newOrder(oppPos.TokenID, types.BUY, buySub, "")

	var trade types.Trade
	err = l.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sellOrder).Error; err != nil {
			return err
		}
		if err := tx.Create(&buyOrder).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, sellOrder, pos.ID, action.TokenID, types.SELL, sellSub.price, sellSub.shares, sellSub.usd, decimal.Zero, sellSub.bid, sellSub.ask, sellSub.slippage, sellSub.trigger()); err != nil {
			return err
		}
		if err := recordTrade(tx, buyOrder, updated.ID, oppPos.TokenID, types.BUY, buySub.price, buySub.shares, buySub.usd, decimal.Zero, buySub.bid, buySub.ask, buySub.slippage, buySub.trigger()); err != nil {
			return err
		}
		trade = types.Trade{PositionID: updated.ID, TokenID: oppPos.TokenID, Side: types.BUY, Price: buySub.price, Shares: buySub.shares, USD: buySub.usd, Slippage: buySub.slippage, CreatedAt: buyOrder.SubmittedAt}
		return nil
	})
	return &trade, err
}

// ReconcileOpenOrders runs once at startup: every persisted live order still
// marked open/submitted is checked against the exchange, since the process
// may have crashed between submission and fill. Orders the exchange no
// longer knows about are marked cancelled; orders that finished filling
// while the bot was down are marked filled with the matched size.
func (l *Live) ReconcileOpenOrders(ctx context.Context) error {
	var rows []db.OrderRow
	if err := l.deps.DB.Where("is_paper = ? AND status IN ?", false, []string{"submitted", "open"}).Find(&rows).Error; err != nil {
		return fmt.Errorf("reconcile: load open orders: %w", err)
	}

	for _, row := range rows {
		status, err := l.client.GetOrderStatus(ctx, row.ExchangeOrderID)
		if errors.Is(err, exchange.ErrOrderNotFound) {
			row.Status = string(types.OrderCancelled)
			_ = l.deps.DB.Save(&row).Error
			continue
		}
		if err != nil {
			continue
		}
		matched, _ := strconv.ParseFloat(status.SizeMatched, 64)
		original, _ := strconv.ParseFloat(status.OriginalSize, 64)
		row.FilledShares = decimal.NewFromFloat(matched)
		if matched >= original && original > 0 {
			row.Status = string(types.OrderFilled)
			row.FilledAt = time.Now()
		}
		_ = l.deps.DB.Save(&row).Error
	}
	return nil
}
