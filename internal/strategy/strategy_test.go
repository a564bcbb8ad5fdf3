package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

func testMarket(gameStart time.Time) types.Market {
	return types.Market{
		ID:          42,
		ConditionID: "cond-42",
		YesTokenID:  "yes-42",
		NoTokenID:   "no-42",
		Format:      "BO3",
		Category:    "esports",
		MarketType:  "moneyline",
		GameStart:   gameStart,
		EndTime:     time.Now().Add(2 * time.Hour),
	}
}

// fakeState is an in-memory StateReader for exercising OnPositionUpdate
// paths without a database.
type fakeState struct {
	positions map[types.TokenSide]types.Position
	market    types.StrategyMarketState
	saved     []types.StrategyMarketState
}

func (f *fakeState) GetPosition(_ string, _ int64, tokenType types.TokenSide) (types.Position, bool, error) {
	p, ok := f.positions[tokenType]
	return p, ok, nil
}

func (f *fakeState) GetMarketState(strategyName string, marketID int64) (types.StrategyMarketState, error) {
	ms := f.market
	ms.StrategyName = strategyName
	ms.MarketID = marketID
	return ms, nil
}

func (f *fakeState) SaveMarketState(ms types.StrategyMarketState) error {
	f.saved = append(f.saved, ms)
	return nil
}

func tickWithYes(yes float64, mkt types.Market) types.Tick {
	return types.Tick{
		Market:       mkt,
		Kind:         types.EventBook,
		Side:         types.TokenYes,
		BestBid:      decimal.NewFromFloat(yes - 0.01),
		BestAsk:      decimal.NewFromFloat(yes + 0.01),
		HasBidAsk:    true,
		Mid:          decimal.NewFromFloat(yes),
		HasMid:       true,
		ActualYesMid: decimal.NewFromFloat(yes),
		HasYesMid:    true,
		ActualNoMid:  decimal.NewFromFloat(1 - yes),
		HasNoMid:     true,
		Timestamp:    time.Now(),
	}
}

func TestBaseFilterFormatAllowList(t *testing.T) {
	t.Parallel()

	b := BaseFilter{Limits: Limits{AllowedFormats: []string{"BO3", "BO5"}}}

	tick := tickWithYes(0.5, testMarket(time.Now()))
	if !b.FilterTick(tick) {
		t.Fatal("BO3 market should pass a BO3/BO5 allow-list")
	}

	tick.Market.Format = "BO1"
	if b.FilterTick(tick) {
		t.Fatal("BO1 market should be rejected by a BO3/BO5 allow-list")
	}
}

func TestBaseFilterMarketTypeAllowList(t *testing.T) {
	t.Parallel()

	b := BaseFilter{Limits: Limits{AllowedMarketTypes: []string{"esports"}}}

	tick := tickWithYes(0.5, testMarket(time.Now()))
	if !b.FilterTick(tick) {
		t.Fatal("esports market should pass")
	}

	tick.Market.Category = "politics"
	if b.FilterTick(tick) {
		t.Fatal("politics market should be rejected")
	}
}

func TestBaseFilterEntrySpread(t *testing.T) {
	t.Parallel()

	b := BaseFilter{Limits: Limits{MaxEntrySpread: decimal.NewFromFloat(0.05)}}

	tick := tickWithYes(0.5, testMarket(time.Now()))
	if !b.FilterTick(tick) {
		t.Fatal("2-cent spread should pass a 5-cent limit")
	}

	tick.BestBid = decimal.NewFromFloat(0.40)
	tick.BestAsk = decimal.NewFromFloat(0.60)
	if b.FilterTick(tick) {
		t.Fatal("20-cent spread should be rejected by a 5-cent limit")
	}
}

func TestBaseFilterZeroLimitsPassEverything(t *testing.T) {
	t.Parallel()

	b := BaseFilter{}
	tick := tickWithYes(0.99, testMarket(time.Now()))
	tick.BestBid = decimal.NewFromFloat(0.10)
	tick.BestAsk = decimal.NewFromFloat(0.90)
	if !b.FilterTick(tick) {
		t.Fatal("unconfigured filter should pass any tick")
	}
}

func TestInEntryZone(t *testing.T) {
	t.Parallel()

	b := BaseFilter{Limits: Limits{
		YesPriceMin: decimal.NewFromFloat(0.45),
		YesPriceMax: decimal.NewFromFloat(0.55),
	}}

	cases := []struct {
		price float64
		want  bool
	}{
		{0.44, false},
		{0.45, true},
		{0.50, true},
		{0.55, true},
		{0.56, false},
	}
	for _, tc := range cases {
		if got := b.InEntryZone(decimal.NewFromFloat(tc.price)); got != tc.want {
			t.Errorf("InEntryZone(%v) = %v, want %v", tc.price, got, tc.want)
		}
	}
}

func TestInterpolateSize(t *testing.T) {
	t.Parallel()

	lo := decimal.NewFromFloat(0.55)
	hi := decimal.NewFromFloat(0.65)
	loSize := decimal.NewFromFloat(10)
	hiSize := decimal.NewFromFloat(50)

	cases := []struct {
		price float64
		want  float64
	}{
		{0.50, 10}, // clamped below
		{0.55, 10},
		{0.58, 22}, // (0.58-0.55)/0.10 * 40 + 10
		{0.65, 50},
		{0.70, 50}, // clamped above
	}
	for _, tc := range cases {
		got := interpolateSize(decimal.NewFromFloat(tc.price), lo, hi, loSize, hiSize)
		if !got.Equal(decimal.NewFromFloat(tc.want)) {
			t.Errorf("interpolateSize(%v) = %s, want %v", tc.price, got, tc.want)
		}
	}
}

func TestDecimalOrAndIntOr(t *testing.T) {
	t.Parallel()

	if got := decimalOr(0, 20); !got.Equal(decimal.NewFromInt(20)) {
		t.Errorf("decimalOr(0, 20) = %s", got)
	}
	if got := decimalOr(35, 20); !got.Equal(decimal.NewFromInt(35)) {
		t.Errorf("decimalOr(35, 20) = %s", got)
	}
	if got := intOr(0, 5); got != 5 {
		t.Errorf("intOr(0, 5) = %d", got)
	}
	if got := intOr(3, 5); got != 3 {
		t.Errorf("intOr(3, 5) = %d", got)
	}
}
