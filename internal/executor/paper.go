package executor

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

// Paper is the in-process simulator: every fill is synthesized from the
// slippage model in executor.go, the Order is recorded filled immediately,
// and no network call is ever made.
type Paper struct {
	deps Deps
}

// NewPaper constructs the paper executor.
func NewPaper(deps Deps) *Paper {
	return &Paper{deps: deps}
}

func bidAskForSide(tick types.Tick, side types.TokenSide) (bid, ask decimal.Decimal, hasBidAsk bool) {
	if tick.Side == side && tick.HasBidAsk {
		return tick.BestBid, tick.BestAsk, true
	}
	return decimal.Zero, decimal.Zero, false
}

func priceForSide(tick types.Tick, side types.TokenSide) (decimal.Decimal, bool) {
	if side == types.TokenYes {
		return tick.YesPrice()
	}
	return tick.NoPrice()
}

func (p *Paper) fill(tick types.Tick, side types.TokenSide, orderSide types.Side, sizeUSD decimal.Decimal) (fill, slippage, bid, ask decimal.Decimal, err error) {
	base, ok := priceForSide(tick, side)
	if !ok {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, fmt.Errorf("no price available for side %s", side)
	}
	bid, ask, hasBidAsk := bidAskForSide(tick, side)
	fill, slippage = fillPrice(base, bid, ask, hasBidAsk, hasBidAsk, orderSide, sizeUSD, ask.Sub(bid), hasBidAsk)
	return fill, slippage, bid, ask, nil
}

func (p *Paper) newOrder(action types.Action, side types.Side, limitPrice, sizeUSD, sizeShares decimal.Decimal) db.OrderRow {
	return db.OrderRow{
		IsPaper:       true,
		TokenID:       action.TokenID,
		Side:          string(side),
		OrderType:     "market",
		LimitPrice:    limitPrice,
		ExecutedPrice: limitPrice,
		SizeUSD:       sizeUSD,
		SizeShares:    sizeShares,
		FilledShares:  sizeShares,
		Status:        string(types.OrderFilled),
		SubmittedAt:   time.Now(),
		FilledAt:      time.Now(),
	}
}

// Execute translates action into a Trade by synthesizing a fill price and
// delegating the position/capital mutation to internal/position.Store.
func (p *Paper) Execute(action types.Action, tick types.Tick) (*types.Trade, error) {
	switch action.Type {
	case types.ActionOpenLong:
		return p.openLong(action, tick)
	case types.ActionOpenSpread:
		return p.openSpread(action, tick)
	case types.ActionClose:
		return p.close(action, tick, decimal.NewFromInt(1))
	case types.ActionPartClose:
		return p.close(action, tick, action.ClosePct)
	case types.ActionAdd:
		return p.add(action, tick)
	case types.ActionRebalance:
		return p.rebalance(action, tick)
	default:
		return nil, fmt.Errorf("executor: unsupported action type %s", action.Type)
	}
}

func (p *Paper) openLong(action types.Action, tick types.Tick) (*types.Trade, error) {
	fill, slippage, bid, ask, err := p.fill(tick, action.Side, types.BUY, action.SizeUSD)
	if err != nil {
		return nil, err
	}
	shares := action.SizeUSD.Div(fill)

	tokenID := action.TokenID
	pos, err := p.deps.Position.OpenPosition(action.StrategyName, action.MarketID, tick.Market.ConditionID, tokenID, action.Side, shares, fill, tick)
	if err != nil {
		return nil, err
	}

	order := p.newOrder(action, types.BUY, fill, action.SizeUSD, shares)
	var trade types.Trade
	err = p.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, order, pos.ID, tokenID, types.BUY, fill, shares, action.SizeUSD, decimal.Zero, bid, ask, slippage, ""); err != nil {
			return err
		}
		trade = types.Trade{PositionID: pos.ID, TokenID: tokenID, Side: types.BUY, Price: fill, Shares: shares, USD: action.SizeUSD, Slippage: slippage, CreatedAt: order.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (p *Paper) openSpread(action types.Action, tick types.Tick) (*types.Trade, error) {
	noSize := action.NoSizeUSD
	if noSize.IsZero() {
		noSize = action.SizeUSD
	}

	yesFill, yesSlip, yesBid, yesAsk, err := p.fill(tick, types.TokenYes, types.BUY, action.SizeUSD)
	if err != nil {
		return nil, err
	}
	noFill, noSlip, noBid, noAsk, err := p.fill(tick, types.TokenNo, types.BUY, noSize)
	if err != nil {
		return nil, err
	}
	yesShares := action.SizeUSD.Div(yesFill)
	noShares := noSize.Div(noFill)

	spread, err := p.deps.Position.OpenSpread(action.StrategyName, action.MarketID, tick.Market.ConditionID,
		tick.Market.YesTokenID, tick.Market.NoTokenID, yesShares, yesFill, noShares, noFill, tick, types.SpreadScalp)
	if err != nil {
		return nil, err
	}

	yesOrder := p.newOrder(types.Action{TokenID: tick.Market.YesTokenID}, types.BUY, yesFill, action.SizeUSD, yesShares)
	noOrder := p.newOrder(types.Action{TokenID: tick.Market.NoTokenID}, types.BUY, noFill, noSize, noShares)

	var trade types.Trade
	err = p.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&yesOrder).Error; err != nil {
			return err
		}
		if err := tx.Create(&noOrder).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, yesOrder, spread.YesPositionID, tick.Market.YesTokenID, types.BUY, yesFill, yesShares, action.SizeUSD, decimal.Zero, yesBid, yesAsk, yesSlip, ""); err != nil {
			return err
		}
		if err := recordTrade(tx, noOrder, spread.NoPositionID, tick.Market.NoTokenID, types.BUY, noFill, noShares, noSize, decimal.Zero, noBid, noAsk, noSlip, ""); err != nil {
			return err
		}
		trade = types.Trade{PositionID: spread.YesPositionID, TokenID: tick.Market.YesTokenID, Side: types.BUY, Price: yesFill, Shares: yesShares, USD: action.SizeUSD, Slippage: yesSlip, CreatedAt: yesOrder.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (p *Paper) close(action types.Action, tick types.Tick, closePct decimal.Decimal) (*types.Trade, error) {
	pos, ok, err := p.deps.State.GetPosition(action.StrategyName, action.MarketID, action.Side)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no open position for %s/%d/%s", action.StrategyName, action.MarketID, action.Side)
	}

	fill, slippage, bid, ask, err := p.fill(tick, action.Side, types.SELL, pos.RemainingShares.Mul(pos.CurrentPrice))
	if err != nil {
		return nil, err
	}

	sharesClosed := pos.RemainingShares.Mul(closePct)
	usd := sharesClosed.Mul(fill)

	var posID int64
	if closePct.Equal(decimal.NewFromInt(1)) {
		updated, err := p.deps.Position.ClosePosition(pos.ID, fill, action.Reason)
		if err != nil {
			return nil, err
		}
		posID = updated.ID
	} else {
		updated, _, err := p.deps.Position.PartialClose(pos.ID, closePct, fill, action.Reason)
		if err != nil {
			return nil, err
		}
		posID = updated.ID
	}

	order := p.newOrder(action, types.SELL, fill, usd, sharesClosed)
	var trade types.Trade
	err = p.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, order, posID, action.TokenID, types.SELL, fill, sharesClosed, usd, decimal.Zero, bid, ask, slippage, ""); err != nil {
			return err
		}
		trade = types.Trade{PositionID: posID, TokenID: action.TokenID, Side: types.SELL, Price: fill, Shares: sharesClosed, USD: usd, Slippage: slippage, CreatedAt: order.SubmittedAt}
		return nil
	})
	return &trade, err
}

func (p *Paper) add(action types.Action, tick types.Tick) (*types.Trade, error) {
	pos, ok, err := p.deps.State.GetPosition(action.StrategyName, action.MarketID, action.Side)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no open position to add to for %s/%d/%s", action.StrategyName, action.MarketID, action.Side)
	}

	fill, slippage, bid, ask, err := p.fill(tick, action.Side, types.BUY, action.AddSizeUSD)
	if err != nil {
		return nil, err
	}
	shares := action.AddSizeUSD.Div(fill)

	updated, _, err := p.deps.Position.AddToPosition(pos.ID, shares, fill)
	if err != nil {
		return nil, err
	}

	order := p.newOrder(action, types.BUY, fill, action.AddSizeUSD, shares)
	var trade types.Trade
	err = p.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, order, updated.ID, action.TokenID, types.BUY, fill, shares, action.AddSizeUSD, decimal.Zero, bid, ask, slippage, ""); err != nil {
			return err
		}
		trade = types.Trade{PositionID: updated.ID, TokenID: action.TokenID, Side: types.BUY, Price: fill, Shares: shares, USD: action.AddSizeUSD, Slippage: slippage, CreatedAt: order.SubmittedAt}
		return nil
	})
	return &trade, err
}

// rebalance closes ClosePct of action.Side's leg and reinvests the exit
// proceeds into the opposite spread leg — the compound operation
// SwingRebalance's OnPositionUpdate documents (internal/strategy).
func (p *Paper) rebalance(action types.Action, tick types.Tick) (*types.Trade, error) {
	pos, ok, err := p.deps.State.GetPosition(action.StrategyName, action.MarketID, action.Side)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no open position for rebalance %s/%d/%s", action.StrategyName, action.MarketID, action.Side)
	}

	sellFill, sellSlip, sellBid, sellAsk, err := p.fill(tick, action.Side, types.SELL, pos.RemainingShares.Mul(pos.CurrentPrice))
	if err != nil {
		return nil, err
	}
	_, leg, err := p.deps.Position.PartialClose(pos.ID, action.ClosePct, sellFill, action.Reason)
	if err != nil {
		return nil, err
	}
	proceeds := leg.CostDelta

	oppositeSide := types.TokenNo
	if action.Side == types.TokenNo {
		oppositeSide = types.TokenYes
	}
	oppPos, ok, err := p.deps.State.GetPosition(action.StrategyName, action.MarketID, oppositeSide)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("executor: no opposite leg to reinvest into for %s/%d", action.StrategyName, action.MarketID)
	}

	buyFill, buySlip, buyBid, buyAsk, err := p.fill(tick, oppositeSide, types.BUY, proceeds)
	if err != nil {
		return nil, err
	}
	addShares := proceeds.Div(buyFill)
	updated, _, err := p.deps.Position.AddToPosition(oppPos.ID, addShares, buyFill)
	if err != nil {
		return nil, err
	}

	sellOrder := p.newOrder(action, types.SELL, sellFill, leg.CostDelta, leg.SharesDelta.Abs())
	buyOrder := p.newOrder(types.Action{TokenID: oppPos.TokenID}, types.BUY, buyFill, proceeds, addShares)

	var trade types.Trade
	err = p.deps.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sellOrder).Error; err != nil {
			return err
		}
		if err := tx.Create(&buyOrder).Error; err != nil {
			return err
		}
		if err := recordTrade(tx, sellOrder, pos.ID, action.TokenID, types.SELL, sellFill, leg.SharesDelta.Abs(), leg.CostDelta, decimal.Zero, sellBid, sellAsk, sellSlip, ""); err != nil {
			return err
		}
		if err := recordTrade(tx, buyOrder, updated.ID, oppPos.TokenID, types.BUY, buyFill, addShares, proceeds, decimal.Zero, buyBid, buyAsk, buySlip, ""); err != nil {
			return err
		}
		trade = types.Trade{PositionID: updated.ID, TokenID: oppPos.TokenID, Side: types.BUY, Price: buyFill, Shares: addShares, USD: proceeds, Slippage: buySlip, CreatedAt: buyOrder.SubmittedAt}
		return nil
	})
	return &trade, err
}
