package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

func TestBookImbalanceExitsOnProfitTarget(t *testing.T) {
	t.Parallel()

	b := NewBookImbalance(config.StrategyConfig{Name: "book_imbalance"}, nil)
	tick := tickWithYes(0.62, testMarket(time.Now().Add(-time.Hour)))
	pos := &types.Position{
		TokenID:       tick.Market.YesTokenID,
		TokenType:     types.TokenYes,
		AvgEntryPrice: decimal.NewFromFloat(0.50),
		Status:        types.PositionOpen,
		OpenedAt:      time.Now().Add(-5 * time.Minute),
	}

	action := b.OnPositionUpdate(tick, pos, nil)
	if action == nil {
		t.Fatal("+12 points should hit the +10-point profit target")
	}
	if action.Type != types.ActionClose || action.Reason != "book_imbalance_profit_target" {
		t.Fatalf("action = %s (%s), want CLOSE on profit target", action.Type, action.Reason)
	}
}

func TestBookImbalanceExitsOnMaxHold(t *testing.T) {
	t.Parallel()

	b := NewBookImbalance(config.StrategyConfig{Name: "book_imbalance"}, nil)
	tick := tickWithYes(0.52, testMarket(time.Now().Add(-2*time.Hour)))
	pos := &types.Position{
		TokenID:       tick.Market.YesTokenID,
		TokenType:     types.TokenYes,
		AvgEntryPrice: decimal.NewFromFloat(0.50),
		Status:        types.PositionOpen,
		OpenedAt:      time.Now().Add(-time.Hour),
	}

	action := b.OnPositionUpdate(tick, pos, nil)
	if action == nil {
		t.Fatal("an hour-old position past max hold should be closed")
	}
	if action.Reason != "book_imbalance_max_hold" {
		t.Fatalf("reason = %s, want max hold", action.Reason)
	}
}

func TestBookImbalanceHoldsInsideWindow(t *testing.T) {
	t.Parallel()

	b := NewBookImbalance(config.StrategyConfig{Name: "book_imbalance"}, nil)
	tick := tickWithYes(0.52, testMarket(time.Now().Add(-time.Hour)))
	pos := &types.Position{
		TokenID:       tick.Market.YesTokenID,
		TokenType:     types.TokenYes,
		AvgEntryPrice: decimal.NewFromFloat(0.50),
		Status:        types.PositionOpen,
		OpenedAt:      time.Now().Add(-5 * time.Minute),
	}

	if action := b.OnPositionUpdate(tick, pos, nil); action != nil {
		t.Fatal("+2 points inside the hold window should produce no action")
	}
}
