package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

var (
	bo3Window = 90 * time.Minute
	// bo3MinPrice floors every buy: below 5% the token is effectively
	// resolved and there is nothing left to long.
	bo3MinPrice    = decimal.NewFromFloat(0.05)
	bo3Tier1Price  = decimal.NewFromFloat(0.20)
	bo3Tier2Price  = decimal.NewFromFloat(0.10)
	bo3Tier1Size   = decimal.NewFromFloat(20)
	bo3Tier2Size   = decimal.NewFromFloat(30)
	bo3ProfitTarget = decimal.NewFromFloat(1.0) // 100% profit
	bo3ExitFraction = decimal.NewFromFloat(0.70)
)

// BO3Longshot enters a tiered longshot position during the first 90 minutes
// of a best-of-3 match (a $20 tier below 20%, a further $30 below 10% for a
// $50 combined cost), takes 70% profit at a 100% gain, and holds the rest to
// resolution.
type BO3Longshot struct {
	BaseFilter
	cfg   config.StrategyConfig
	state StateReader
}

func NewBO3Longshot(cfg config.StrategyConfig, sm StateReader) *BO3Longshot {
	return &BO3Longshot{
		BaseFilter: BaseFilter{Limits: Limits{
			AllowedFormats:    []string{"BO3"},
			MaxEntrySpread:    decimalOr(cfg.MaxSpread, 0.08),
			MaxExitSpread:     decimalOr(cfg.MaxExitSpread, 0.10),
			MaxPositions:      intOr(cfg.MaxPositions, 5),
			MaxPositionUSD:    decimalOr(cfg.MaxPositionUSD, 50),
			AllowExtremePrice: true,
		}},
		cfg:   cfg,
		state: sm,
	}
}

func (b *BO3Longshot) Name() string   { return "bo3_longshot" }
func (b *BO3Longshot) Limits() Limits { return b.BaseFilter.Limits }

func (b *BO3Longshot) OnTick(tick types.Tick) *types.Action {
	if time.Since(tick.Market.GameStart) > bo3Window || time.Since(tick.Market.GameStart) < 0 {
		return nil
	}
	yesPrice, hasYes := tick.YesPrice()
	noPrice, hasNo := tick.NoPrice()

	if hasYes && yesPrice.GreaterThanOrEqual(bo3MinPrice) && yesPrice.LessThan(bo3Tier1Price) {
		return &types.Action{
			Type: types.ActionOpenLong, StrategyName: b.Name(), MarketID: tick.Market.ID,
			TokenID: tick.Market.YesTokenID, Side: types.TokenYes, SizeUSD: bo3Tier1Size, Reason: "bo3_tier1",
		}
	}
	if hasNo && noPrice.GreaterThanOrEqual(bo3MinPrice) && noPrice.LessThan(bo3Tier1Price) {
		return &types.Action{
			Type: types.ActionOpenLong, StrategyName: b.Name(), MarketID: tick.Market.ID,
			TokenID: tick.Market.NoTokenID, Side: types.TokenNo, SizeUSD: bo3Tier1Size, Reason: "bo3_tier1",
		}
	}
	return nil
}

func (b *BO3Longshot) OnPositionUpdate(tick types.Tick, pos *types.Position, _ *types.Spread) *types.Action {
	if pos == nil || pos.Status == types.PositionClosed {
		return nil
	}
	var price decimal.Decimal
	var ok bool
	if pos.TokenType == types.TokenYes {
		price, ok = tick.YesPrice()
	} else {
		price, ok = tick.NoPrice()
	}
	if !ok {
		return nil
	}

	ms, _ := b.state.GetMarketState(b.Name(), tick.Market.ID)
	if ms.Counters == nil {
		ms.Counters = map[string]int{}
	}

	if ms.Counters["partial_done"] == 0 {
		profitRatio := price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice)
		if profitRatio.GreaterThanOrEqual(bo3ProfitTarget) {
			ms.MarketID, ms.StrategyName, ms.Active = tick.Market.ID, b.Name(), true
			ms.Counters["partial_done"] = 1
			_ = b.state.SaveMarketState(ms)
			return &types.Action{
				Type: types.ActionPartClose, StrategyName: b.Name(), MarketID: tick.Market.ID,
				TokenID: pos.TokenID, Side: pos.TokenType, ClosePct: bo3ExitFraction, Reason: "bo3_profit_take",
			}
		}
	}

	if ms.Counters["tier2_added"] == 0 && time.Since(tick.Market.GameStart) <= bo3Window {
		if price.GreaterThanOrEqual(bo3MinPrice) && price.LessThan(bo3Tier2Price) {
			ms.MarketID, ms.StrategyName, ms.Active = tick.Market.ID, b.Name(), true
			ms.Counters["tier2_added"] = 1
			_ = b.state.SaveMarketState(ms)
			return &types.Action{
				Type: types.ActionAdd, StrategyName: b.Name(), MarketID: tick.Market.ID,
				TokenID: pos.TokenID, Side: pos.TokenType, AddSizeUSD: bo3Tier2Size, Reason: "bo3_tier2",
			}
		}
	}

	return nil
}
