package strategy

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

var (
	swingMoveThreshold = decimal.NewFromFloat(0.15)
	swingLookback       = 5 * time.Minute
	swingCooldown        = 3 * time.Minute
	swingFloorPct        = decimal.NewFromFloat(0.30)
	swingRebalanceFrac   = decimal.NewFromFloat(0.50)
)

// SwingRebalance enters a balanced YES/NO spread near game start and, on a
// 15-point move within a 5-minute lookback, trims the appreciated leg and
// reinvests into the lagging one — subject to a cooldown and a floor that
// keeps either leg from being rebalanced away entirely.
//
// The 5-minute lookback is tracked with a Tracker (velocity.go).
type SwingRebalance struct {
	BaseFilter
	cfg     config.StrategyConfig
	state   StateReader
	tracker *Tracker
}

func NewSwingRebalance(cfg config.StrategyConfig, sm StateReader) *SwingRebalance {
	return &SwingRebalance{
		BaseFilter: BaseFilter{Limits: Limits{
			MaxEntrySpread: decimalOr(cfg.MaxSpread, 0.05),
			MaxExitSpread:  decimalOr(cfg.MaxExitSpread, 0.08),
			MaxPositions:   intOr(cfg.MaxPositions, 5),
			MaxPositionUSD: decimalOr(cfg.MaxPositionUSD, 60),
		}},
		cfg:     cfg,
		state:   sm,
		tracker: NewTracker(10 * time.Minute),
	}
}

func (r *SwingRebalance) Name() string   { return "swing_rebalance" }
func (r *SwingRebalance) Limits() Limits { return r.BaseFilter.Limits }

func (r *SwingRebalance) OnTick(tick types.Tick) *types.Action {
	if time.Since(tick.Market.GameStart) > time.Minute || time.Since(tick.Market.GameStart) < -time.Minute {
		return nil
	}
	size := decimalOr(r.cfg.FixedSizeUSD, 25)
	return &types.Action{
		Type: types.ActionOpenSpread, StrategyName: r.Name(), MarketID: tick.Market.ID,
		TokenID: tick.Market.YesTokenID, SizeUSD: size, NoSizeUSD: size, Reason: "swing_entry",
	}
}

// OnPositionUpdate interprets the REBALANCE action it returns as: partial-
// close the named TokenID/Side leg by ClosePct at the current price, then
// reinvest the exit proceeds into the opposite spread leg — the executor
// (internal/executor) performs the two halves as a position-store
// PartialClose on this leg followed by an AddToPosition on the opposite leg.
func (r *SwingRebalance) OnPositionUpdate(tick types.Tick, _ *types.Position, spread *types.Spread) *types.Action {
	if spread == nil {
		return nil
	}
	now := time.Now()
	yesPrice, hasYes := tick.YesPrice()
	noPrice, hasNo := tick.NoPrice()
	if hasYes {
		r.tracker.Record(yesKey(tick.Market.ID), yesPrice, now)
	}
	if hasNo {
		r.tracker.Record(noKey(tick.Market.ID), noPrice, now)
	}

	ms, _ := r.state.GetMarketState(r.Name(), tick.Market.ID)
	if ms.Payload == nil {
		ms.Payload = map[string]string{}
	}
	if last, ok := ms.Payload["last_rebalance"]; ok {
		if t, err := time.Parse(time.RFC3339, last); err == nil && now.Sub(t) < swingCooldown {
			return nil
		}
	}

	yesPos, yesOpen, _ := r.state.GetPosition(r.Name(), tick.Market.ID, types.TokenYes)
	noPos, noOpen, _ := r.state.GetPosition(r.Name(), tick.Market.ID, types.TokenNo)

	action := r.checkLeg(tick, now, ms, yesPos, yesOpen, yesPrice, hasYes, types.TokenYes)
	if action == nil {
		action = r.checkLeg(tick, now, ms, noPos, noOpen, noPrice, hasNo, types.TokenNo)
	}
	return action
}

func (r *SwingRebalance) checkLeg(
	tick types.Tick, now time.Time, ms types.StrategyMarketState,
	pos types.Position, open bool, price decimal.Decimal, hasPrice bool, side types.TokenSide,
) *types.Action {
	if !open || !hasPrice {
		return nil
	}

	key := yesKey(tick.Market.ID)
	if side == types.TokenNo {
		key = noKey(tick.Market.ID)
	}
	move, ok := r.tracker.MoveSince(key, swingLookback, now)
	if !ok || move.LessThan(swingMoveThreshold) {
		return nil
	}
	if price.Sub(pos.AvgEntryPrice).LessThan(swingMoveThreshold) {
		return nil
	}

	remainingValue := pos.RemainingShares.Mul(price)
	floor := pos.RemainingShares.Mul(pos.AvgEntryPrice).Mul(swingFloorPct)
	afterClose := remainingValue.Mul(decimal.NewFromInt(1).Sub(swingRebalanceFrac))
	if afterClose.LessThan(floor) {
		return nil
	}

	ms.MarketID = tick.Market.ID
	ms.StrategyName = r.Name()
	ms.Active = true
	if ms.Payload == nil {
		ms.Payload = map[string]string{}
	}
	ms.Payload["last_rebalance"] = now.Format(time.RFC3339)
	_ = r.state.SaveMarketState(ms)

	return &types.Action{
		Type: types.ActionRebalance, StrategyName: r.Name(), MarketID: tick.Market.ID,
		TokenID: pos.TokenID, Side: side, ClosePct: swingRebalanceFrac, Reason: "swing_rebalance",
	}
}

func yesKey(marketID int64) string { return keyOf(marketID, "yes") }
func noKey(marketID int64) string  { return keyOf(marketID, "no") }

func keyOf(marketID int64, side string) string {
	return side + ":" + strconv.FormatInt(marketID, 10)
}
