package market

import (
	"testing"
	"time"

	"polymarket-engine/internal/config"
	"polymarket-engine/pkg/types"
)

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		MinLiquidity:   1000,
		MinVolume24h:   500,
		MaxEndDateDays: 90,
		ExcludeSlugs:   []string{"excluded-slug"},
	}
}

func baseMarket() GammaMarket {
	endDate := time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339)
	return GammaMarket{
		ID:              "m1",
		ConditionID:     "cond1",
		Slug:            "test-market",
		Active:          true,
		Closed:          false,
		AcceptingOrders: true,
		EnableOrderBook: true,
		EndDate:         endDate,
		Liquidity:       "5000",
		Volume24hr:      1000,
		ClobTokenIds:    `["yes-token","no-token"]`,
	}
}

func newTestRegistry() *Registry {
	return &Registry{
		cfg:        testScannerConfig(),
		markets:    make(map[string]types.Market),
		tokenIndex: make(map[string]string),
	}
}

func TestFilterMarketsPassesValid(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	result := r.filterMarkets([]GammaMarket{baseMarket()})
	if len(result) != 1 {
		t.Fatalf("expected 1 market, got %d", len(result))
	}
}

func TestFilterMarketsRejectsInactive(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.Active = false
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for inactive, got %d", len(result))
	}
}

func TestFilterMarketsRejectsClosed(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.Closed = true
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for closed, got %d", len(result))
	}
}

func TestFilterMarketsRejectsLowLiquidity(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.Liquidity = "100"
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for low liquidity, got %d", len(result))
	}
}

func TestFilterMarketsRejectsLowVolume(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.Volume24hr = 100
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for low volume, got %d", len(result))
	}
}

func TestFilterMarketsRejectsExcludedSlug(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.Slug = "excluded-slug"
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for excluded slug, got %d", len(result))
	}
}

func TestFilterMarketsRejectsExpiredEndDate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.EndDate = time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for expired end date, got %d", len(result))
	}
}

func TestFilterMarketsRejectsTooFarEndDate(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.EndDate = time.Now().Add(365 * 24 * time.Hour).Format(time.RFC3339)
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for end date too far, got %d", len(result))
	}
}

func TestFilterMarketsRejectsNoTokenIDs(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()

	m := baseMarket()
	m.ClobTokenIds = ""
	if result := r.filterMarkets([]GammaMarket{m}); len(result) != 0 {
		t.Errorf("expected 0 markets for missing token IDs, got %d", len(result))
	}
}

func TestConvertToMarketParsesTokens(t *testing.T) {
	t.Parallel()
	m := convertToMarket(baseMarket())

	if m.YesTokenID != "yes-token" || m.NoTokenID != "no-token" {
		t.Errorf("token IDs = %s/%s, want yes-token/no-token", m.YesTokenID, m.NoTokenID)
	}
	if m.ConditionID != "cond1" {
		t.Errorf("condition ID = %s, want cond1", m.ConditionID)
	}
}

func TestConvertToMarketParsesGameStart(t *testing.T) {
	t.Parallel()

	gm := baseMarket()
	gm.GameStartTime = "2025-06-01T17:30:00Z"
	m := convertToMarket(gm)

	want := time.Date(2025, 6, 1, 17, 30, 0, 0, time.UTC)
	if !m.GameStart.Equal(want) {
		t.Errorf("game start = %v, want %v", m.GameStart, want)
	}
}

func TestDeriveMarketType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want string
	}{
		{"Team A vs Team B (BO3)", "moneyline"},
		{"Team A vs Team B - Map 2 Winner", "child_moneyline"},
		{"team-a-vs-team-b-map-3", "child_moneyline"},
		{"Will it rain tomorrow?", "moneyline"},
	}
	for _, tc := range cases {
		if got := deriveMarketType(tc.text); got != tc.want {
			t.Errorf("deriveMarketType(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want string
	}{
		{"Team A vs Team B (BO3)", "BO3"},
		{"Finals best of 5 - Team C vs Team D", "BO5"},
		{"Showmatch bo1 grand-final", "BO1"},
		{"Will it rain tomorrow?", ""},
	}
	for _, tc := range cases {
		if got := parseFormat(tc.text); got != tc.want {
			t.Errorf("parseFormat(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
