package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

func TestScalpEntersSpreadInZoneInPlay(t *testing.T) {
	t.Parallel()

	s := NewScalp(config.StrategyConfig{Name: "scalp", FixedSizeUSD: 20}, nil)
	tick := tickWithYes(0.50, testMarket(time.Now().Add(-10*time.Minute)))

	action := s.OnTick(tick)
	if action == nil {
		t.Fatal("expected an entry at 0.50 in-play")
	}
	if action.Type != types.ActionOpenSpread {
		t.Fatalf("action type = %s, want OPEN_SPREAD", action.Type)
	}
	if !action.SizeUSD.Equal(decimal.NewFromInt(20)) || !action.NoSizeUSD.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("sizes = %s/%s, want 20/20", action.SizeUSD, action.NoSizeUSD)
	}
}

func TestScalpSkipsOutOfZone(t *testing.T) {
	t.Parallel()

	s := NewScalp(config.StrategyConfig{Name: "scalp"}, nil)
	for _, price := range []float64{0.30, 0.44, 0.56, 0.70} {
		tick := tickWithYes(price, testMarket(time.Now().Add(-10*time.Minute)))
		if action := s.OnTick(tick); action != nil {
			t.Errorf("expected no entry at %v, got %v", price, action.Type)
		}
	}
}

func TestScalpSkipsPreGame(t *testing.T) {
	t.Parallel()

	s := NewScalp(config.StrategyConfig{Name: "scalp"}, nil)
	tick := tickWithYes(0.50, testMarket(time.Now().Add(30*time.Minute)))
	if action := s.OnTick(tick); action != nil {
		t.Fatal("expected no entry before game start")
	}
}

func scalpSpreadFixture() (*types.Spread, *fakeState) {
	spread := &types.Spread{
		ID:          3,
		MarketID:    42,
		EntryYesMid: decimal.NewFromFloat(0.50),
		Status:      types.PositionOpen,
	}
	fake := &fakeState{positions: map[types.TokenSide]types.Position{
		types.TokenYes: {ID: 1, TokenID: "yes-42", TokenType: types.TokenYes, Status: types.PositionOpen},
		types.TokenNo:  {ID: 2, TokenID: "no-42", TokenType: types.TokenNo, Status: types.PositionOpen},
	}}
	return spread, fake
}

func TestScalpTrimsWinningSideOnBaselineMove(t *testing.T) {
	t.Parallel()

	spread, fake := scalpSpreadFixture()
	s := NewScalp(config.StrategyConfig{Name: "scalp"}, fake)
	tick := tickWithYes(0.62, testMarket(time.Now().Add(-10*time.Minute)))

	action := s.OnPositionUpdate(tick, nil, spread)
	if action == nil {
		t.Fatal("a +12-point move on YES should trim the YES leg")
	}
	if action.Type != types.ActionPartClose || action.Side != types.TokenYes {
		t.Fatalf("action = %s/%s, want PARTIAL_CLOSE/YES", action.Type, action.Side)
	}
	if !action.ClosePct.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("close pct = %s, want 0.5", action.ClosePct)
	}
	if len(fake.saved) == 0 {
		t.Fatal("the new baseline should have been saved")
	}
	if got := fake.saved[0].Payload["yes_baseline"]; got != "0.62" {
		t.Fatalf("re-baselined yes at %q, want 0.62", got)
	}
}

func TestScalpHoldsLosingSide(t *testing.T) {
	t.Parallel()

	// Only the losing YES leg is still open; the NO winner closed earlier.
	spread, fake := scalpSpreadFixture()
	delete(fake.positions, types.TokenNo)
	s := NewScalp(config.StrategyConfig{Name: "scalp"}, fake)

	// YES has dropped 14 points from its 0.50 baseline. A downward move
	// must never trigger the trim — the loser rides to resolution.
	tick := tickWithYes(0.36, testMarket(time.Now().Add(-10*time.Minute)))
	if action := s.OnPositionUpdate(tick, nil, spread); action != nil {
		t.Fatalf("losing move produced %s, want no action", action.Type)
	}
	if len(fake.saved) != 0 {
		t.Fatal("a held loser should not re-baseline")
	}
}

func TestScalpClosesWinnerAtExtreme(t *testing.T) {
	t.Parallel()

	spread, fake := scalpSpreadFixture()
	s := NewScalp(config.StrategyConfig{Name: "scalp"}, fake)
	tick := tickWithYes(0.92, testMarket(time.Now().Add(-10*time.Minute)))

	action := s.OnPositionUpdate(tick, nil, spread)
	if action == nil {
		t.Fatal("YES at 0.92 should close the winning side")
	}
	if action.Type != types.ActionClose || action.Side != types.TokenYes {
		t.Fatalf("action = %s/%s, want CLOSE/YES", action.Type, action.Side)
	}
}

func TestScalpPositionUpdateRequiresSpread(t *testing.T) {
	t.Parallel()

	s := NewScalp(config.StrategyConfig{Name: "scalp"}, nil)
	tick := tickWithYes(0.62, testMarket(time.Now().Add(-10*time.Minute)))
	pos := &types.Position{TokenType: types.TokenYes}
	if action := s.OnPositionUpdate(tick, pos, nil); action != nil {
		t.Fatal("a lone position without its spread should produce no action")
	}
}

func TestBaselineOrDefault(t *testing.T) {
	t.Parallel()

	payload := map[string]string{}
	base := baselineOrDefault(payload, "yes_baseline", decimal.NewFromFloat(0.50))
	if !base.Equal(decimal.NewFromFloat(0.50)) {
		t.Fatalf("fallback baseline = %s, want 0.50", base)
	}
	if payload["yes_baseline"] != "0.5" {
		t.Fatalf("fallback should be written back, got %q", payload["yes_baseline"])
	}

	payload["yes_baseline"] = "0.62"
	base = baselineOrDefault(payload, "yes_baseline", decimal.NewFromFloat(0.50))
	if !base.Equal(decimal.NewFromFloat(0.62)) {
		t.Fatalf("stored baseline = %s, want 0.62", base)
	}
}
