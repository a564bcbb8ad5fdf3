package validate

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestValidatePasses(t *testing.T) {
	t.Parallel()
	d := Validate(Params{StrategyName: "scalp", MarketID: 1, TokenID: "tok1"})
	if !d.Executed {
		t.Fatalf("expected a clean pass, got rejected: %s (%s)", d.RejectedReason, d.CheckName)
	}
	if d.CheckName != "" {
		t.Errorf("CheckName should be empty on an accepted decision, got %q", d.CheckName)
	}
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	// Both size_limit and fee_rate fail here; size_limit runs first in the
	// pipeline and should be the one reported.
	p := Params{
		SizeUSD:        decimal.NewFromInt(500),
		MaxPositionUSD: decimal.NewFromInt(100),
		FeeRateBps:     10000,
		MaxFeeRateBps:  1,
	}
	d := Validate(p)
	if d.Executed {
		t.Fatal("expected rejection")
	}
	if d.CheckName != "size_limit" {
		t.Errorf("CheckName = %q, want size_limit (pipeline order)", d.CheckName)
	}
}

func TestCheckSizeLimit(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"zero max disables check", Params{SizeUSD: decimal.NewFromInt(1000)}, true},
		{"within limit", Params{SizeUSD: decimal.NewFromInt(50), MaxPositionUSD: decimal.NewFromInt(100)}, true},
		{"exceeds limit", Params{SizeUSD: decimal.NewFromInt(150), MaxPositionUSD: decimal.NewFromInt(100)}, false},
		{"exactly at limit", Params{SizeUSD: decimal.NewFromInt(100), MaxPositionUSD: decimal.NewFromInt(100)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := checkSizeLimit(tc.p)
			if ok != tc.ok {
				t.Errorf("checkSizeLimit(%+v) = %v, want %v", tc.p, ok, tc.ok)
			}
		})
	}
}

func TestCheckExitSpread(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"not a close, ignored", Params{IsClose: false, ExitSpread: decimal.NewFromFloat(0.5)}, true},
		{"zero max disables check", Params{IsClose: true, ExitSpread: decimal.NewFromFloat(0.5)}, true},
		{"within max", Params{IsClose: true, ExitSpread: decimal.NewFromFloat(0.02), MaxExitSpread: decimal.NewFromFloat(0.05)}, true},
		{"too wide", Params{IsClose: true, ExitSpread: decimal.NewFromFloat(0.1), MaxExitSpread: decimal.NewFromFloat(0.05)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := checkExitSpread(tc.p)
			if ok != tc.ok {
				t.Errorf("checkExitSpread(%+v) = %v, want %v", tc.p, ok, tc.ok)
			}
		})
	}
}

func TestCheckSignalAge(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"non-streaming ignored", Params{Streaming: false, SignalCreatedAt: now.Add(-time.Hour), Now: now}, true},
		{"zero time ignored", Params{Streaming: true, Now: now}, true},
		{"fresh", Params{Streaming: true, SignalCreatedAt: now.Add(-2 * time.Second), Now: now}, true},
		{"stale", Params{Streaming: true, SignalCreatedAt: now.Add(-10 * time.Second), Now: now}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := checkSignalAge(tc.p)
			if ok != tc.ok {
				t.Errorf("checkSignalAge(%+v) = %v, want %v", tc.p, ok, tc.ok)
			}
		})
	}
}

func TestCheckPriceDeviation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"paper ignored", Params{Live: false, LiveMid: decimal.NewFromFloat(0.9), SignalMid: decimal.NewFromFloat(0.5)}, true},
		{"zero signal mid ignored", Params{Live: true, LiveMid: decimal.NewFromFloat(0.9)}, true},
		{"within default tolerance", Params{Live: true, LiveMid: decimal.NewFromFloat(0.52), SignalMid: decimal.NewFromFloat(0.5)}, true},
		{"exceeds default tolerance", Params{Live: true, LiveMid: decimal.NewFromFloat(0.6), SignalMid: decimal.NewFromFloat(0.5)}, false},
		{"streaming tighter tolerance rejects a move default would allow",
			Params{Live: true, Streaming: true, LiveMid: decimal.NewFromFloat(0.52), SignalMid: decimal.NewFromFloat(0.5)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := checkPriceDeviation(tc.p)
			if ok != tc.ok {
				t.Errorf("checkPriceDeviation(%+v) = %v, want %v", tc.p, ok, tc.ok)
			}
		})
	}
}

func TestCheckExtremePrice(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"allowed by strategy", Params{AllowExtreme: true, SignalPrice: decimal.NewFromFloat(0.99)}, true},
		{"zero price ignored", Params{SignalPrice: decimal.Zero}, true},
		{"within band", Params{SignalPrice: decimal.NewFromFloat(0.5)}, true},
		{"below floor", Params{SignalPrice: decimal.NewFromFloat(0.01)}, false},
		{"above ceiling", Params{SignalPrice: decimal.NewFromFloat(0.99)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := checkExtremePrice(tc.p)
			if ok != tc.ok {
				t.Errorf("checkExtremePrice(%+v) = %v, want %v", tc.p, ok, tc.ok)
			}
		})
	}
}

func TestCheckDuplicatePositionAndRecentOrder(t *testing.T) {
	t.Parallel()
	if ok, _ := checkDuplicatePosition(Params{HasDuplicatePosition: true}); ok {
		t.Error("duplicate position should fail")
	}
	if ok, _ := checkDuplicatePosition(Params{HasDuplicatePosition: false}); !ok {
		t.Error("no duplicate position should pass")
	}
	if ok, _ := checkRecentOrder(Params{HasRecentOrder: true}); ok {
		t.Error("recent order should fail")
	}
	if ok, _ := checkRecentOrder(Params{HasRecentOrder: false}); !ok {
		t.Error("no recent order should pass")
	}
}

func TestCheckFeeRate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    Params
		ok   bool
	}{
		{"default cap applies when unset", Params{FeeRateBps: DefaultMaxFeeRateBps + 1}, false},
		{"under default cap", Params{FeeRateBps: 10}, true},
		{"strategy override respected", Params{FeeRateBps: 50, MaxFeeRateBps: 25}, false},
		{"at strategy override", Params{FeeRateBps: 25, MaxFeeRateBps: 25}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, _ := checkFeeRate(tc.p)
			if ok != tc.ok {
				t.Errorf("checkFeeRate(%+v) = %v, want %v", tc.p, ok, tc.ok)
			}
		})
	}
}
