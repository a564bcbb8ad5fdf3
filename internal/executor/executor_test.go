package executor

import (
	"testing"

	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRealisticSpreadPiecewiseBands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		price decimal.Decimal
		want  decimal.Decimal
	}{
		{dec("0.50"), dec("0.025")}, // distance 0, innermost band
		{dec("0.54"), dec("0.025")}, // distance 0.04, still innermost
		{dec("0.60"), dec("0.04")},  // distance 0.10
		{dec("0.70"), dec("0.06")},  // distance 0.20
		{dec("0.80"), dec("0.10")},  // distance 0.30
		{dec("0.88"), dec("0.18")},  // distance 0.38
		{dec("0.93"), dec("0.30")},  // distance 0.43
		{dec("0.97"), dec("0.45")},  // distance 0.47
		{dec("0.995"), dec("0.60")}, // distance 0.495, outermost band
	}
	for _, tc := range cases {
		got := realisticSpread(tc.price)
		if !got.Equal(tc.want) {
			t.Errorf("realisticSpread(%s) = %s, want %s", tc.price, got, tc.want)
		}
	}
}

func TestEffectiveSpreadFallsBackToHeuristic(t *testing.T) {
	t.Parallel()
	price := dec("0.50")
	heuristic := realisticSpread(price)

	cases := []struct {
		name     string
		observed decimal.Decimal
		has      bool
		want     decimal.Decimal
	}{
		{"no observed spread", decimal.Zero, false, heuristic},
		{"negative observed spread", dec("-0.1"), true, heuristic},
		{"observed spread >= 1 is nonsensical", dec("1.0"), true, heuristic},
		{"observed spread more than 3x heuristic is distrusted", heuristic.Mul(decimal.NewFromInt(4)), true, heuristic},
		{"plausible observed spread is trusted", dec("0.03"), true, dec("0.03")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := effectiveSpread(tc.observed, tc.has, price)
			if !got.Equal(tc.want) {
				t.Errorf("effectiveSpread() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestFillPriceBuyUsesAskPlusSizeImpact(t *testing.T) {
	t.Parallel()
	price, slip := fillPrice(dec("0.50"), dec("0.49"), dec("0.51"), true, true, types.BUY, dec("200"), dec("0.02"), true)

	// ask (0.51) * (1 + size impact) = 0.51 * 1.002 = 0.51102 — size impact
	// is multiplicative, not an additive offset.
	want := dec("0.51102")
	if !price.Equal(want) {
		t.Errorf("price = %s, want %s", price, want)
	}
	if slip.IsNegative() {
		t.Errorf("slippage should never be negative, got %s", slip)
	}
}

func TestFillPriceSellUsesBidMinusSizeImpact(t *testing.T) {
	t.Parallel()
	price, _ := fillPrice(dec("0.50"), dec("0.49"), dec("0.51"), true, true, types.SELL, dec("100"), dec("0.02"), true)

	// bid (0.49) * (1 - size impact) = 0.49 * 0.999 = 0.48951
	want := dec("0.48951")
	if !price.Equal(want) {
		t.Errorf("price = %s, want %s", price, want)
	}
}

// TestFillPriceScenario1SpreadEntry pins the worked fill example:
// $20 @ ask 0.51 fills at ~0.5101, matching the multiplicative size-impact
// formula (0.51 * 1.0002 = 0.510102).
func TestFillPriceScenario1SpreadEntry(t *testing.T) {
	t.Parallel()
	price, _ := fillPrice(dec("0.50"), dec("0.49"), dec("0.51"), true, true, types.BUY, dec("20"), dec("0.02"), true)

	want := dec("0.510102")
	if !price.Equal(want) {
		t.Errorf("price = %s, want %s", price, want)
	}
	if !price.Round(4).Equal(dec("0.5101")) {
		t.Errorf("price rounded to 4dp = %s, want 0.5101", price.Round(4))
	}
}

func TestFillPriceWithoutBookFallsBackToBasePriceHalfSpread(t *testing.T) {
	t.Parallel()
	base := dec("0.50")
	price, _ := fillPrice(base, decimal.Zero, decimal.Zero, false, false, types.BUY, decimal.Zero, decimal.Zero, false)

	heuristic := realisticSpread(base)
	want := base.Add(heuristic.Div(decimal.NewFromInt(2)))
	if !price.Equal(want) {
		t.Errorf("price = %s, want %s", price, want)
	}
}

func TestFillPriceClampsToBounds(t *testing.T) {
	t.Parallel()

	// Deep extreme price plus heavy buy-side size impact should clamp to maxFillPrice.
	price, _ := fillPrice(dec("0.999"), decimal.Zero, decimal.Zero, false, false, types.BUY, dec("100000"), decimal.Zero, false)
	if !price.Equal(maxFillPrice) {
		t.Errorf("price = %s, want clamped max %s", price, maxFillPrice)
	}

	// Deep extreme low price plus heavy sell-side size impact should clamp to minFillPrice.
	price, _ = fillPrice(dec("0.001"), decimal.Zero, decimal.Zero, false, false, types.SELL, dec("100000"), decimal.Zero, false)
	if !price.Equal(minFillPrice) {
		t.Errorf("price = %s, want clamped min %s", price, minFillPrice)
	}
}

func TestFillPriceSlippageZeroWhenBasePriceZero(t *testing.T) {
	t.Parallel()
	_, slip := fillPrice(decimal.Zero, decimal.Zero, decimal.Zero, false, false, types.BUY, decimal.Zero, decimal.Zero, false)
	if !slip.IsZero() {
		t.Errorf("slippage = %s, want 0 when basePrice is 0 (avoid divide by zero)", slip)
	}
}

func TestPriceForSide(t *testing.T) {
	t.Parallel()
	tick := types.Tick{
		ActualYesMid: dec("0.60"),
		ActualNoMid:  dec("0.40"),
		HasYesMid:    true,
		HasNoMid:     true,
	}
	if p, ok := priceForSide(tick, types.TokenYes); !ok || !p.Equal(dec("0.60")) {
		t.Errorf("priceForSide(yes) = %s, %v", p, ok)
	}
	if p, ok := priceForSide(tick, types.TokenNo); !ok || !p.Equal(dec("0.40")) {
		t.Errorf("priceForSide(no) = %s, %v", p, ok)
	}
}

func TestBidAskForSideOnlyMatchesTickSide(t *testing.T) {
	t.Parallel()
	tick := types.Tick{
		Side:      types.TokenYes,
		BestBid:   dec("0.49"),
		BestAsk:   dec("0.51"),
		HasBidAsk: true,
	}

	bid, ask, ok := bidAskForSide(tick, types.TokenYes)
	if !ok || !bid.Equal(dec("0.49")) || !ask.Equal(dec("0.51")) {
		t.Errorf("bidAskForSide(matching side) = %s, %s, %v", bid, ask, ok)
	}

	_, _, ok = bidAskForSide(tick, types.TokenNo)
	if ok {
		t.Error("bidAskForSide should report no bid/ask for the side the tick wasn't built for")
	}
}
