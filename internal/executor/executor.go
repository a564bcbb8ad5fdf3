// Package executor implements the Action → Trade translation: a paper
// slippage-model simulator and a live, retrying order-placement path
// against the authenticated exchange. Both share the Order/Trade
// persistence shape and the fill-price math in this file.
package executor

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/capital"
	"polymarket-engine/internal/db"
	"polymarket-engine/internal/position"
	"polymarket-engine/internal/state"
	"polymarket-engine/pkg/types"
)

// Deps bundles the collaborators every executor mode needs.
type Deps struct {
	DB       *gorm.DB
	Position *position.Store
	Capital  *capital.Ledger
	State    *state.Manager
}

// Executor turns a strategy's Action into a recorded Trade and the matching
// position-store mutation.
type Executor interface {
	Execute(action types.Action, tick types.Tick) (*types.Trade, error)
}

// sizeImpactPerHundred is the ±0.1%-per-$100-of-size slippage term shared by
// both modes.
var sizeImpactPerHundred = decimal.NewFromFloat(0.001)

// minFillPrice / maxFillPrice bound every synthesized or live-computed fill
// price.
var (
	minFillPrice = decimal.NewFromFloat(0.001)
	maxFillPrice = decimal.NewFromFloat(0.999)
)

// realisticSpread is the piecewise distance-from-0.5 liquidity heuristic:
// ~2.5% near the middle of the book, widening to 60% near the extremes,
// reflecting how liquidity thins out away from 50/50.
func realisticSpread(price decimal.Decimal) decimal.Decimal {
	half := decimal.NewFromFloat(0.5)
	distance := price.Sub(half).Abs()

	switch {
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.05)):
		return decimal.NewFromFloat(0.025)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.15)):
		return decimal.NewFromFloat(0.04)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.25)):
		return decimal.NewFromFloat(0.06)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.32)):
		return decimal.NewFromFloat(0.10)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.40)):
		return decimal.NewFromFloat(0.18)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.45)):
		return decimal.NewFromFloat(0.30)
	case distance.LessThanOrEqual(decimal.NewFromFloat(0.48)):
		return decimal.NewFromFloat(0.45)
	default:
		return decimal.NewFromFloat(0.60)
	}
}

// effectiveSpread validates the tick's own observed spread against the
// heuristic and falls back to the heuristic when the observed spread is
// absent, out of [0, 1), or more than 3x the heuristic — a sign the quoted
// spread is itself stale or wrong.
func effectiveSpread(observed decimal.Decimal, hasObserved bool, price decimal.Decimal) decimal.Decimal {
	heuristic := realisticSpread(price)
	if !hasObserved {
		return heuristic
	}
	if observed.IsNegative() || observed.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return heuristic
	}
	if observed.GreaterThan(heuristic.Mul(decimal.NewFromInt(3))) {
		return heuristic
	}
	return observed
}

// fillPrice synthesizes (paper mode) or estimates a pre-submission limit
// price (live mode) from a base price, the best known bid/ask, the tick's
// own spread, order side, and size.
func fillPrice(basePrice, bestBid, bestAsk decimal.Decimal, hasBid, hasAsk bool, side types.Side, sizeUSD, tickSpread decimal.Decimal, hasTickSpread bool) (price, slippage decimal.Decimal) {
	spread := effectiveSpread(tickSpread, hasTickSpread, basePrice)
	half := spread.Div(decimal.NewFromInt(2))

	var start decimal.Decimal
	switch side {
	case types.BUY:
		if hasAsk {
			start = bestAsk
		} else {
			start = basePrice.Add(half)
		}
	default: // SELL
		if hasBid {
			start = bestBid
		} else {
			start = basePrice.Sub(half)
		}
	}

	// Size impact is multiplicative, not an additive offset: $20 @ ask 0.51
	// (0.1%/$100 => 0.02% impact) fills at 0.51*1.0002 = 0.510102 -> 0.5101.
	impact := sizeUSD.Div(decimal.NewFromInt(100)).Mul(sizeImpactPerHundred)
	one := decimal.NewFromInt(1)
	if side == types.BUY {
		start = start.Mul(one.Add(impact))
	} else {
		start = start.Mul(one.Sub(impact))
	}

	if start.LessThan(minFillPrice) {
		start = minFillPrice
	}
	if start.GreaterThan(maxFillPrice) {
		start = maxFillPrice
	}

	slip := decimal.Zero
	if !basePrice.IsZero() {
		slip = start.Sub(basePrice).Abs().Div(basePrice)
	}
	return start, slip
}

func recordTrade(tx *gorm.DB, order db.OrderRow, positionID int64, tokenID string, side types.Side, price, shares, usd, feeUSD decimal.Decimal, bestBid, bestAsk decimal.Decimal, slippage decimal.Decimal, triggerEventID string) error {
	row := db.ExecutorTradeRow{
		OrderID:        order.ID,
		PositionID:     positionID,
		TokenID:        tokenID,
		Side:           string(side),
		Price:          price,
		Shares:         shares,
		USD:            usd,
		FeeUSD:         feeUSD,
		BestBid:        bestBid,
		BestAsk:        bestAsk,
		BookSpread:     bestAsk.Sub(bestBid),
		Slippage:       slippage,
		TriggerEventID: triggerEventID,
		CreatedAt:      order.SubmittedAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}
