package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

var (
	favHedgeEntryLow   = decimal.NewFromFloat(0.55)
	favHedgeEntryHigh  = decimal.NewFromFloat(0.65)
	favHedgeSizeLow    = decimal.NewFromFloat(10)
	favHedgeSizeHigh   = decimal.NewFromFloat(50)
	favHedgeTrigger    = decimal.NewFromFloat(0.85)
	favHedgeFraction   = decimal.NewFromFloat(0.25)
)

// FavoriteHedge buys the favored side shortly after game start, sized by
// linear interpolation over the entry zone, and, if that side runs to
// near-certain, adds a hedge on the opposite side sized at one quarter of the
// position's cost basis.
type FavoriteHedge struct {
	BaseFilter
	cfg   config.StrategyConfig
	state StateReader
}

func NewFavoriteHedge(cfg config.StrategyConfig, sm StateReader) *FavoriteHedge {
	return &FavoriteHedge{
		BaseFilter: BaseFilter{Limits: Limits{
			MaxEntrySpread: decimalOr(cfg.MaxSpread, 0.05),
			MaxExitSpread:  decimalOr(cfg.MaxExitSpread, 0.08),
			MaxPositions:   intOr(cfg.MaxPositions, 5),
			MaxPositionUSD: decimalOr(cfg.MaxPositionUSD, 60),
		}},
		cfg:   cfg,
		state: sm,
	}
}

func (f *FavoriteHedge) Name() string   { return "favorite_hedge" }
func (f *FavoriteHedge) Limits() Limits { return f.BaseFilter.Limits }

func (f *FavoriteHedge) OnTick(tick types.Tick) *types.Action {
	minutesIn := time.Since(tick.Market.GameStart).Minutes()
	if minutesIn < 3 || minutesIn > 8 {
		return nil
	}

	yesPrice, hasYes := tick.YesPrice()
	noPrice, hasNo := tick.NoPrice()

	var side types.TokenSide
	var tokenID string
	var price decimal.Decimal
	switch {
	case hasYes && inRange(yesPrice, favHedgeEntryLow, favHedgeEntryHigh):
		side, tokenID, price = types.TokenYes, tick.Market.YesTokenID, yesPrice
	case hasNo && inRange(noPrice, favHedgeEntryLow, favHedgeEntryHigh):
		side, tokenID, price = types.TokenNo, tick.Market.NoTokenID, noPrice
	default:
		return nil
	}

	size := interpolateSize(price, favHedgeEntryLow, favHedgeEntryHigh, favHedgeSizeLow, favHedgeSizeHigh)
	return &types.Action{
		Type: types.ActionOpenLong, StrategyName: f.Name(), MarketID: tick.Market.ID,
		TokenID: tokenID, Side: side, SizeUSD: size, Reason: "favorite_entry",
	}
}

func (f *FavoriteHedge) OnPositionUpdate(tick types.Tick, pos *types.Position, _ *types.Spread) *types.Action {
	if pos == nil || pos.Status == types.PositionClosed {
		return nil
	}

	ms, _ := f.state.GetMarketState(f.Name(), tick.Market.ID)
	if ms.Counters == nil {
		ms.Counters = map[string]int{}
	}
	if ms.Counters["hedged"] > 0 {
		return nil
	}

	var price decimal.Decimal
	var ok bool
	if pos.TokenType == types.TokenYes {
		price, ok = tick.YesPrice()
	} else {
		price, ok = tick.NoPrice()
	}
	if !ok || price.LessThan(favHedgeTrigger) {
		return nil
	}

	oppositeSide := types.TokenNo
	oppositeToken := tick.Market.NoTokenID
	if pos.TokenType == types.TokenNo {
		oppositeSide, oppositeToken = types.TokenYes, tick.Market.YesTokenID
	}
	hedgeSize := pos.CostBasis.Mul(favHedgeFraction)

	ms.MarketID = tick.Market.ID
	ms.StrategyName = f.Name()
	ms.Active = true
	ms.Counters["hedged"] = 1
	_ = f.state.SaveMarketState(ms)

	return &types.Action{
		Type: types.ActionOpenLong, StrategyName: f.Name(), MarketID: tick.Market.ID,
		TokenID: oppositeToken, Side: oppositeSide, SizeUSD: hedgeSize, Reason: "favorite_hedge",
	}
}

func inRange(v, lo, hi decimal.Decimal) bool {
	return v.GreaterThanOrEqual(lo) && v.LessThanOrEqual(hi)
}

// interpolateSize linearly maps price from [loPrice, hiPrice] onto
// [loSize, hiSize], clamping outside the range.
func interpolateSize(price, loPrice, hiPrice, loSize, hiSize decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(loPrice) {
		return loSize
	}
	if price.GreaterThanOrEqual(hiPrice) {
		return hiSize
	}
	frac := price.Sub(loPrice).Div(hiPrice.Sub(loPrice))
	return loSize.Add(frac.Mul(hiSize.Sub(loSize)))
}
