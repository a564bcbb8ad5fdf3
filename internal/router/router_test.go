package router

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/strategy"
	"polymarket-engine/pkg/types"
)

func filterTick(format, marketType string, yes float64) types.Tick {
	return types.Tick{
		Market: types.Market{
			ID:         7,
			Format:     format,
			MarketType: marketType,
		},
		Side:         types.TokenYes,
		ActualYesMid: decimal.NewFromFloat(yes),
		HasYesMid:    true,
	}
}

func TestGlobalFilterAllowsTradableMarkets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format, marketType string
	}{
		{"BO3", "moneyline"},
		{"BO5", "moneyline"},
		{"BO3", "child_moneyline"},
	}
	for _, tc := range cases {
		tick := filterTick(tc.format, tc.marketType, 0.50)
		if !passesGlobalFilter(tick, strategy.Limits{}) {
			t.Errorf("%s/%s at 0.50 should pass the global filter", tc.format, tc.marketType)
		}
	}
}

func TestGlobalFilterDropsDisallowedFormats(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"BO1", ""} {
		tick := filterTick(format, "moneyline", 0.50)
		if passesGlobalFilter(tick, strategy.Limits{}) {
			t.Errorf("format %q should never reach any strategy", format)
		}
	}
}

func TestGlobalFilterDropsDisallowedMarketTypes(t *testing.T) {
	t.Parallel()

	for _, marketType := range []string{"spread", "totals", ""} {
		tick := filterTick("BO3", marketType, 0.50)
		if passesGlobalFilter(tick, strategy.Limits{}) {
			t.Errorf("market type %q should never reach any strategy", marketType)
		}
	}
}

func TestGlobalFilterDropsResolvedMarkets(t *testing.T) {
	t.Parallel()

	tick := filterTick("BO3", "moneyline", 0.50)
	tick.Market.Resolved = true
	if passesGlobalFilter(tick, strategy.Limits{}) {
		t.Fatal("resolved market should never be dispatched")
	}
}

func TestGlobalFilterExtremePriceHonorsOptOut(t *testing.T) {
	t.Parallel()

	tick := filterTick("BO3", "moneyline", 0.97)
	if passesGlobalFilter(tick, strategy.Limits{}) {
		t.Fatal("0.97 is outside the [0.05, 0.95] band for default strategies")
	}
	if !passesGlobalFilter(tick, strategy.Limits{AllowExtremePrice: true}) {
		t.Fatal("an extreme-price strategy opts out of the band, not the universe filters")
	}

	tick = filterTick("BO1", "moneyline", 0.97)
	if passesGlobalFilter(tick, strategy.Limits{AllowExtremePrice: true}) {
		t.Fatal("the extreme-price opt-out must not bypass the format filter")
	}
}
