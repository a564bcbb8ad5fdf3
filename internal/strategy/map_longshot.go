package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

var (
	longshotCrashThreshold = decimal.NewFromFloat(-0.15)
	longshotLookback       = 5 * time.Minute
	longshotSettle         = time.Minute
	longshotZoneLow        = decimal.NewFromFloat(0.05)
	longshotZoneHigh       = decimal.NewFromFloat(0.20)
	longshotRebound        = decimal.NewFromFloat(0.20)
)

// MapLongshot waits for a rapid crash (≥15 points down in 5 minutes), lets
// volume settle for a minute, then buys the depressed side if it's still in
// the [0.05, 0.20] longshot zone, exiting on a 20-point rebound.
type MapLongshot struct {
	BaseFilter
	cfg     config.StrategyConfig
	state   StateReader
	tracker *Tracker
}

func NewMapLongshot(cfg config.StrategyConfig, sm StateReader) *MapLongshot {
	return &MapLongshot{
		BaseFilter: BaseFilter{Limits: Limits{
			MaxEntrySpread:    decimalOr(cfg.MaxSpread, 0.08),
			MaxExitSpread:     decimalOr(cfg.MaxExitSpread, 0.10),
			MaxPositions:      intOr(cfg.MaxPositions, 5),
			MaxPositionUSD:    decimalOr(cfg.MaxPositionUSD, 30),
			AllowExtremePrice: true, // the longshot zone is itself an extreme price
		}},
		cfg:     cfg,
		state:   sm,
		tracker: NewTracker(longshotLookback + longshotSettle),
	}
}

func (m *MapLongshot) Name() string   { return "map_longshot" }
func (m *MapLongshot) Limits() Limits { return m.BaseFilter.Limits }

func (m *MapLongshot) OnTick(tick types.Tick) *types.Action {
	now := time.Now()
	yesPrice, hasYes := tick.YesPrice()
	noPrice, hasNo := tick.NoPrice()
	if hasYes {
		m.tracker.Record(yesKey(tick.Market.ID), yesPrice, now)
	}
	if hasNo {
		m.tracker.Record(noKey(tick.Market.ID), noPrice, now)
	}

	ms, _ := m.state.GetMarketState(m.Name(), tick.Market.ID)
	if ms.Payload == nil {
		ms.Payload = map[string]string{}
	}

	var side types.TokenSide
	var tokenID string
	var price decimal.Decimal
	var ok bool

	if hasYes {
		if move, moved := m.tracker.MoveSince(yesKey(tick.Market.ID), longshotLookback, now); moved && move.LessThanOrEqual(longshotCrashThreshold) {
			side, tokenID, price, ok = types.TokenYes, tick.Market.YesTokenID, yesPrice, true
		}
	}
	if !ok && hasNo {
		if move, moved := m.tracker.MoveSince(noKey(tick.Market.ID), longshotLookback, now); moved && move.LessThanOrEqual(longshotCrashThreshold) {
			side, tokenID, price, ok = types.TokenNo, tick.Market.NoTokenID, noPrice, true
		}
	}

	crashKey := "crash_detected_at"
	if ok {
		if _, already := ms.Payload[crashKey]; !already {
			ms.Payload[crashKey] = now.Format(time.RFC3339)
			ms.MarketID = tick.Market.ID
			ms.StrategyName = m.Name()
			ms.Active = true
			_ = m.state.SaveMarketState(ms)
			return nil
		}
	}

	detectedAt, hasDetected := ms.Payload[crashKey]
	if !hasDetected {
		return nil
	}
	t, err := time.Parse(time.RFC3339, detectedAt)
	if err != nil || now.Sub(t) < longshotSettle {
		return nil
	}

	// Re-evaluate which side is still in the longshot zone after settling.
	if hasYes && inRange(yesPrice, longshotZoneLow, longshotZoneHigh) {
		side, tokenID, price = types.TokenYes, tick.Market.YesTokenID, yesPrice
	} else if hasNo && inRange(noPrice, longshotZoneLow, longshotZoneHigh) {
		side, tokenID, price = types.TokenNo, tick.Market.NoTokenID, noPrice
	} else {
		delete(ms.Payload, crashKey)
		_ = m.state.SaveMarketState(ms)
		return nil
	}

	delete(ms.Payload, crashKey)
	_ = m.state.SaveMarketState(ms)

	size := decimalOr(m.cfg.FixedSizeUSD, 15)
	return &types.Action{
		Type: types.ActionOpenLong, StrategyName: m.Name(), MarketID: tick.Market.ID,
		TokenID: tokenID, Side: side, SizeUSD: size, Reason: "map_longshot_entry@" + price.String(),
	}
}

func (m *MapLongshot) OnPositionUpdate(tick types.Tick, pos *types.Position, _ *types.Spread) *types.Action {
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
	if price.Sub(pos.AvgEntryPrice).GreaterThanOrEqual(longshotRebound) {
		return &types.Action{
			Type: types.ActionClose, StrategyName: m.Name(), MarketID: tick.Market.ID,
			TokenID: pos.TokenID, Side: pos.TokenType, Reason: "map_longshot_rebound",
		}
	}
	return nil
}
