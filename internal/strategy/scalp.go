package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

// scalpMoveThreshold is the "10 points" baseline-move trigger.
var scalpMoveThreshold = decimal.NewFromFloat(0.10)

// scalpExtremeThreshold is the "≥0.90" winning-side close trigger.
var scalpExtremeThreshold = decimal.NewFromFloat(0.90)

// Scalp opens a balanced YES/NO spread in-play near a 50/50 price and
// trims the side that runs, re-baselining after each trim; at an extreme it
// takes the winning side's profit and lets the loser ride to resolution.
type Scalp struct {
	BaseFilter
	cfg   config.StrategyConfig
	state StateReader
}

// NewScalp constructs the scalp strategy from its YAML config block and the
// shared state manager.
func NewScalp(cfg config.StrategyConfig, sm StateReader) *Scalp {
	return &Scalp{
		BaseFilter: BaseFilter{Limits: Limits{
			YesPriceMin:    decimalOr(cfg.YesPriceMin, 0.45),
			YesPriceMax:    decimalOr(cfg.YesPriceMax, 0.55),
			MaxEntrySpread: decimalOr(cfg.MaxSpread, 0.05),
			MaxExitSpread:  decimalOr(cfg.MaxExitSpread, 0.08),
			MaxPositions:   intOr(cfg.MaxPositions, 5),
			MaxPositionUSD: decimalOr(cfg.MaxPositionUSD, 50),
		}},
		cfg:   cfg,
		state: sm,
	}
}

func (s *Scalp) Name() string { return "scalp" }

func (s *Scalp) Limits() Limits { return s.BaseFilter.Limits }

func (s *Scalp) OnTick(tick types.Tick) *types.Action {
	if !tick.IsInPlay(time.Now()) {
		return nil
	}
	yesPrice, ok := tick.YesPrice()
	if !ok {
		return nil
	}
	if !s.InEntryZone(yesPrice) {
		return nil
	}
	size := decimalOr(s.cfg.FixedSizeUSD, 20)
	return &types.Action{
		Type:         types.ActionOpenSpread,
		StrategyName: s.Name(),
		MarketID:     tick.Market.ID,
		TokenID:      tick.Market.YesTokenID,
		SizeUSD:      size,
		NoSizeUSD:    size,
		Reason:       fmt.Sprintf("scalp_entry@%s", yesPrice),
	}
}

func (s *Scalp) OnPositionUpdate(tick types.Tick, _ *types.Position, spread *types.Spread) *types.Action {
	if spread == nil {
		return nil
	}
	yesPrice, hasYes := tick.YesPrice()
	noPrice, hasNo := tick.NoPrice()

	yesPos, yesOpen, _ := s.state.GetPosition(s.Name(), tick.Market.ID, types.TokenYes)
	noPos, noOpen, _ := s.state.GetPosition(s.Name(), tick.Market.ID, types.TokenNo)

	// Extreme check takes priority: close the winning side fully, leave the
	// loser to resolve naturally.
	if hasYes && yesOpen && yesPrice.GreaterThanOrEqual(scalpExtremeThreshold) {
		return &types.Action{
			Type: types.ActionClose, StrategyName: s.Name(), MarketID: tick.Market.ID,
			TokenID: yesPos.TokenID, Side: types.TokenYes, Reason: "scalp_extreme_winner",
		}
	}
	if hasNo && noOpen && noPrice.GreaterThanOrEqual(scalpExtremeThreshold) {
		return &types.Action{
			Type: types.ActionClose, StrategyName: s.Name(), MarketID: tick.Market.ID,
			TokenID: noPos.TokenID, Side: types.TokenNo, Reason: "scalp_extreme_winner",
		}
	}

	ms, _ := s.state.GetMarketState(s.Name(), tick.Market.ID)
	if ms.Payload == nil {
		ms.Payload = map[string]string{}
	}
	yesBase := baselineOrDefault(ms.Payload, "yes_baseline", spread.EntryYesMid)
	noBase := baselineOrDefault(ms.Payload, "no_baseline", decimal.NewFromInt(1).Sub(spread.EntryYesMid))

	// Directional: only an upward move from the baseline trims a side. The
	// losing leg is never force-sold; it rides to resolution.
	if hasYes && yesOpen {
		move := yesPrice.Sub(yesBase)
		if move.GreaterThanOrEqual(scalpMoveThreshold) {
			ms.Payload["yes_baseline"] = yesPrice.String()
			ms.MarketID = tick.Market.ID
			ms.StrategyName = s.Name()
			ms.Active = true
			_ = s.state.SaveMarketState(ms)
			return &types.Action{
				Type: types.ActionPartClose, StrategyName: s.Name(), MarketID: tick.Market.ID,
				TokenID: yesPos.TokenID, Side: types.TokenYes, ClosePct: decimal.NewFromFloat(0.5),
				Reason: "scalp_baseline_move",
			}
		}
	}
	if hasNo && noOpen {
		move := noPrice.Sub(noBase)
		if move.GreaterThanOrEqual(scalpMoveThreshold) {
			ms.Payload["no_baseline"] = noPrice.String()
			ms.MarketID = tick.Market.ID
			ms.StrategyName = s.Name()
			ms.Active = true
			_ = s.state.SaveMarketState(ms)
			return &types.Action{
				Type: types.ActionPartClose, StrategyName: s.Name(), MarketID: tick.Market.ID,
				TokenID: noPos.TokenID, Side: types.TokenNo, ClosePct: decimal.NewFromFloat(0.5),
				Reason: "scalp_baseline_move",
			}
		}
	}

	return nil
}

func baselineOrDefault(payload map[string]string, key string, fallback decimal.Decimal) decimal.Decimal {
	if s, ok := payload[key]; ok {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	payload[key] = fallback.String()
	return fallback
}

func decimalOr(v float64, def float64) decimal.Decimal {
	if v == 0 {
		return decimal.NewFromFloat(def)
	}
	return decimal.NewFromFloat(v)
}

func intOr(v int, def int) int {
	if v == 0 {
		return def
	}
	return v
}
