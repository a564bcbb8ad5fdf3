package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

func TestSwingRebalanceEntersNearGameStart(t *testing.T) {
	t.Parallel()

	r := NewSwingRebalance(config.StrategyConfig{Name: "swing_rebalance", FixedSizeUSD: 25}, nil)
	tick := tickWithYes(0.50, testMarket(time.Now().Add(-30*time.Second)))

	action := r.OnTick(tick)
	if action == nil {
		t.Fatal("expected a spread entry within a minute of game start")
	}
	if action.Type != types.ActionOpenSpread {
		t.Fatalf("action = %s, want OPEN_SPREAD", action.Type)
	}
	if !action.SizeUSD.Equal(decimal.NewFromInt(25)) || !action.NoSizeUSD.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("sizes = %s/%s, want balanced 25/25", action.SizeUSD, action.NoSizeUSD)
	}
}

func TestSwingRebalanceSkipsAwayFromGameStart(t *testing.T) {
	t.Parallel()

	r := NewSwingRebalance(config.StrategyConfig{Name: "swing_rebalance"}, nil)
	for _, offset := range []time.Duration{-10 * time.Minute, 10 * time.Minute} {
		tick := tickWithYes(0.50, testMarket(time.Now().Add(offset)))
		if action := r.OnTick(tick); action != nil {
			t.Errorf("expected no entry with game start offset %v", offset)
		}
	}
}

func TestSwingRebalanceRequiresSpread(t *testing.T) {
	t.Parallel()

	r := NewSwingRebalance(config.StrategyConfig{Name: "swing_rebalance"}, nil)
	tick := tickWithYes(0.65, testMarket(time.Now().Add(-10*time.Minute)))
	if action := r.OnPositionUpdate(tick, nil, nil); action != nil {
		t.Fatal("no spread means no rebalance")
	}
}
