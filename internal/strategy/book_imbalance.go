package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

var bookImbalanceProfitTarget = decimal.NewFromFloat(0.10) // +10 points
var bookImbalanceMaxHold = 30 * time.Minute

// BookImbalance is the polled reference implementation of the
// imbalance-momentum idea: bid-heavy books favor YES, ask-heavy books favor
// NO, subject to the usual zone/spread/cooldown/position-limit filters. The
// streaming imbalance executor (internal/streaming) implements the same
// direction rule on its own direct ingest path with tighter freshness
// checks; this strategy is its polled, router-dispatched counterpart.
type BookImbalance struct {
	BaseFilter
	cfg       config.StrategyConfig
	state     StateReader
	minImb    decimal.Decimal
	cooldown  time.Duration
}

func NewBookImbalance(cfg config.StrategyConfig, sm StateReader) *BookImbalance {
	return &BookImbalance{
		BaseFilter: BaseFilter{Limits: Limits{
			YesPriceMin:    decimalOr(cfg.YesPriceMin, 0.10),
			YesPriceMax:    decimalOr(cfg.YesPriceMax, 0.90),
			MaxEntrySpread: decimalOr(cfg.MaxSpread, 0.05),
			MaxExitSpread:  decimalOr(cfg.MaxExitSpread, 0.08),
			MaxPositions:   intOr(cfg.MaxPositions, 8),
			MaxPositionUSD: decimalOr(cfg.MaxPositionUSD, 30),
		}},
		cfg:      cfg,
		state:    sm,
		minImb:   decimalOr(cfg.MinImbalance, 0.3),
		cooldown: time.Duration(intOr(cfg.CooldownMinutes, 5)) * time.Minute,
	}
}

func (b *BookImbalance) Name() string   { return "book_imbalance" }
func (b *BookImbalance) Limits() Limits { return b.BaseFilter.Limits }

func (b *BookImbalance) OnTick(tick types.Tick) *types.Action {
	if !tick.HasImbalance {
		return nil
	}
	yesPrice, hasYes := tick.YesPrice()
	if !hasYes || !b.InEntryZone(yesPrice) {
		return nil
	}

	ms, _ := b.state.GetMarketState(b.Name(), tick.Market.ID)
	if ms.Payload != nil {
		if last, ok := ms.Payload["last_entry"]; ok {
			if t, err := time.Parse(time.RFC3339, last); err == nil && time.Since(t) < b.cooldown {
				return nil
			}
		}
	}

	var side types.TokenSide
	var tokenID string
	switch {
	case tick.Imbalance.GreaterThanOrEqual(b.minImb):
		side, tokenID = types.TokenYes, tick.Market.YesTokenID
	case tick.Imbalance.LessThanOrEqual(b.minImb.Neg()):
		side, tokenID = types.TokenNo, tick.Market.NoTokenID
	default:
		return nil
	}

	size := decimalOr(b.cfg.FixedSizeUSD, 15)
	if ms.Payload == nil {
		ms.Payload = map[string]string{}
	}
	ms.Payload["last_entry"] = time.Now().Format(time.RFC3339)
	ms.MarketID = tick.Market.ID
	ms.StrategyName = b.Name()
	ms.Active = true
	_ = b.state.SaveMarketState(ms)

	return &types.Action{
		Type: types.ActionOpenLong, StrategyName: b.Name(), MarketID: tick.Market.ID,
		TokenID: tokenID, Side: side, SizeUSD: size, Reason: "book_imbalance_entry",
	}
}

func (b *BookImbalance) OnPositionUpdate(tick types.Tick, pos *types.Position, _ *types.Spread) *types.Action {
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

	if price.Sub(pos.AvgEntryPrice).GreaterThanOrEqual(bookImbalanceProfitTarget) {
		return &types.Action{
			Type: types.ActionClose, StrategyName: b.Name(), MarketID: tick.Market.ID,
			TokenID: pos.TokenID, Side: pos.TokenType, Reason: "book_imbalance_profit_target",
		}
	}
	if time.Since(pos.OpenedAt) >= bookImbalanceMaxHold {
		return &types.Action{
			Type: types.ActionClose, StrategyName: b.Name(), MarketID: tick.Market.ID,
			TokenID: pos.TokenID, Side: pos.TokenType, Reason: "book_imbalance_max_hold",
		}
	}
	return nil
}
