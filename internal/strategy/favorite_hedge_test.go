package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

func TestFavoriteHedgeBuysFavoredSideInWindow(t *testing.T) {
	t.Parallel()

	f := NewFavoriteHedge(config.StrategyConfig{Name: "favorite_hedge"}, nil)
	tick := tickWithYes(0.58, testMarket(time.Now().Add(-4*time.Minute)))

	action := f.OnTick(tick)
	if action == nil {
		t.Fatal("expected an entry at YES 0.58, 4 minutes in")
	}
	if action.Type != types.ActionOpenLong || action.Side != types.TokenYes {
		t.Fatalf("action = %s/%s, want OPEN_LONG/YES", action.Type, action.Side)
	}
	// Linear interpolation: 0.55 -> $10, 0.65 -> $50, so 0.58 -> $22.
	if !action.SizeUSD.Equal(decimal.NewFromInt(22)) {
		t.Fatalf("size = %s, want 22", action.SizeUSD)
	}
}

func TestFavoriteHedgeBuysNoSideWhenNoIsFavored(t *testing.T) {
	t.Parallel()

	f := NewFavoriteHedge(config.StrategyConfig{Name: "favorite_hedge"}, nil)
	tick := tickWithYes(0.40, testMarket(time.Now().Add(-5*time.Minute))) // NO at 0.60

	action := f.OnTick(tick)
	if action == nil {
		t.Fatal("expected an entry on the NO side")
	}
	if action.Side != types.TokenNo || action.TokenID != tick.Market.NoTokenID {
		t.Fatalf("side = %s token = %s, want NO side", action.Side, action.TokenID)
	}
}

func TestFavoriteHedgeSkipsOutsideTimeWindow(t *testing.T) {
	t.Parallel()

	f := NewFavoriteHedge(config.StrategyConfig{Name: "favorite_hedge"}, nil)
	for _, minutesIn := range []time.Duration{time.Minute, 10 * time.Minute} {
		tick := tickWithYes(0.58, testMarket(time.Now().Add(-minutesIn)))
		if action := f.OnTick(tick); action != nil {
			t.Errorf("expected no entry %v after start", minutesIn)
		}
	}
}

func TestFavoriteHedgeSkipsOutsideEntryZone(t *testing.T) {
	t.Parallel()

	f := NewFavoriteHedge(config.StrategyConfig{Name: "favorite_hedge"}, nil)
	tick := tickWithYes(0.50, testMarket(time.Now().Add(-4*time.Minute)))
	if action := f.OnTick(tick); action != nil {
		t.Fatal("neither side in [0.55, 0.65] should mean no entry")
	}
}
