package state

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

func TestInvalidatePositionDropsAllTokenTypeKeys(t *testing.T) {
	t.Parallel()
	m := New(nil)

	for _, tt := range []types.TokenSide{"", types.TokenYes, types.TokenNo} {
		key := positionKey{"scalp", 1, tt}
		m.positions[key] = &types.Position{StrategyName: "scalp", MarketID: 1}
	}

	m.InvalidatePosition("scalp", 1)

	for _, tt := range []types.TokenSide{"", types.TokenYes, types.TokenNo} {
		if _, ok := m.positions[positionKey{"scalp", 1, tt}]; ok {
			t.Errorf("expected key for tokenType=%q to be dropped", tt)
		}
	}
}

func TestInvalidateSpreadDropsOnlyThatKey(t *testing.T) {
	t.Parallel()
	m := New(nil)

	m.spreads[marketStateKey{"scalp", 1}] = &types.Spread{StrategyName: "scalp", MarketID: 1}
	m.spreads[marketStateKey{"scalp", 2}] = &types.Spread{StrategyName: "scalp", MarketID: 2}

	m.InvalidateSpread("scalp", 1)

	if _, ok := m.spreads[marketStateKey{"scalp", 1}]; ok {
		t.Error("expected market 1 spread to be dropped")
	}
	if _, ok := m.spreads[marketStateKey{"scalp", 2}]; !ok {
		t.Error("expected market 2 spread to survive")
	}
}

func TestInvalidateStrategyState(t *testing.T) {
	t.Parallel()
	m := New(nil)
	m.strategyState["scalp"] = &types.StrategyCapital{StrategyName: "scalp"}

	m.InvalidateStrategyState("scalp")

	if _, ok := m.strategyState["scalp"]; ok {
		t.Error("expected strategy state to be dropped")
	}
}

func TestClearCache(t *testing.T) {
	t.Parallel()
	m := New(nil)
	m.positions[positionKey{"scalp", 1, ""}] = &types.Position{}
	m.spreads[marketStateKey{"scalp", 1}] = &types.Spread{}
	m.strategyState["scalp"] = &types.StrategyCapital{}
	m.marketState[marketStateKey{"scalp", 1}] = &types.StrategyMarketState{}

	m.ClearCache()

	if len(m.positions) != 0 || len(m.spreads) != 0 || len(m.strategyState) != 0 || len(m.marketState) != 0 {
		t.Error("expected all caches to be empty after ClearCache")
	}
}

func TestMarketStateRowRoundTripsCountersAndPayload(t *testing.T) {
	t.Parallel()

	ms := types.StrategyMarketState{
		StrategyName: "swing_rebalance",
		MarketID:     5,
		Stage:        "ENTERED",
		EntryPrice:   decimal.NewFromFloat(0.6),
		Counters:     map[string]int{"switches": 2},
		Payload:      map[string]string{"team_yes": "Navi"},
		Active:       true,
	}

	row, err := marketStateDomainToRow(ms)
	if err != nil {
		t.Fatalf("marketStateDomainToRow: %v", err)
	}

	back := marketStateRowToDomain(row)
	if back.Counters["switches"] != 2 {
		t.Errorf("Counters[switches] = %d, want 2", back.Counters["switches"])
	}
	if back.Payload["team_yes"] != "Navi" {
		t.Errorf("Payload[team_yes] = %q, want Navi", back.Payload["team_yes"])
	}
	if back.Stage != "ENTERED" {
		t.Errorf("Stage = %q, want ENTERED", back.Stage)
	}
}

func TestCapitalRowToDomain(t *testing.T) {
	t.Parallel()

	row := db.StrategyCapitalRow{
		StrategyName: "scalp",
		Allocated:    decimal.NewFromInt(400),
		Available:    decimal.NewFromInt(350),
		Active:       true,
	}
	cap := capitalRowToDomain(row)
	if !cap.Available.Equal(decimal.NewFromInt(350)) {
		t.Errorf("Available = %v, want 350", cap.Available)
	}
	if !cap.Active {
		t.Error("expected Active=true to carry through")
	}
}
