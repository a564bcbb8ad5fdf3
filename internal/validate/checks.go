// Package validate implements the uniform pre-trade safety pipeline:
// a fixed, ordered sequence of checks run against every Signal/Action before
// it reaches the executor. The first failing check short-circuits the rest
// and is recorded as a rejected TradeDecision; a clean pass records an
// accepted one.
package validate

import (
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

// Default thresholds shared across strategies unless a StrategyConfig
// overrides them. Signal age is checked only on the streaming path (5 s),
// because the streaming executor reacts directly to book deltas: staleness
// there is a real risk, not just a missed window. The polled path sets no
// signal timestamp, so DefaultMaxSignalAgeSeconds is not applied by any check.
const (
	DefaultMaxSignalAgeSeconds    = 120
	StreamingMaxSignalAgeSeconds  = 5
	DefaultMaxPriceDeviation      = 0.05
	StreamingMaxPriceDeviation    = 0.03
	DefaultMaxFeeRateBps          = 200
	ExtremePriceFloor             = 0.05
	ExtremePriceCeiling           = 0.95
	RecentOrderWindow             = 10 * time.Minute
)

// Params bundles everything a single validation pass needs. Not every field
// applies to every call: LiveMid/SignalMid only matter when Live is true;
// ExitSpread/MaxExitSpread only matter when IsClose is true.
type Params struct {
	StrategyName string
	MarketID     int64
	TokenID      string

	SizeUSD        decimal.Decimal
	MaxPositionUSD decimal.Decimal

	IsClose       bool
	ExitSpread    decimal.Decimal
	MaxExitSpread decimal.Decimal

	Streaming       bool
	SignalCreatedAt time.Time
	Now             time.Time

	Live      bool
	LiveMid   decimal.Decimal
	SignalMid decimal.Decimal

	EntrySpread    decimal.Decimal
	MaxEntrySpread decimal.Decimal

	SignalPrice  decimal.Decimal
	AllowExtreme bool

	HasDuplicatePosition bool
	HasRecentOrder       bool

	FeeRateBps    int
	MaxFeeRateBps int
}

// check is one entry in the fixed pipeline: it returns ok=true to pass, or
// ok=false with a human-readable rejection reason.
type check struct {
	name string
	run  func(p Params) (bool, string)
}

// pipeline is the canonical check order. Do not reorder —
// callers (and tests) rely on the first-failure reason matching this order.
var pipeline = []check{
	{"size_limit", checkSizeLimit},
	{"exit_spread", checkExitSpread},
	{"signal_age", checkSignalAge},
	{"price_deviation", checkPriceDeviation},
	{"entry_spread", checkEntrySpread},
	{"extreme_price", checkExtremePrice},
	{"duplicate_position", checkDuplicatePosition},
	{"recent_order", checkRecentOrder},
	{"fee_rate", checkFeeRate},
}

// Validate runs every check in order, stopping at the first failure. It
// always returns a types.TradeDecision — Executed=true/CheckName="" on a
// clean pass, or Executed=false with the failing check's name and reason.
func Validate(p Params) types.TradeDecision {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}

	for _, c := range pipeline {
		if ok, reason := c.run(p); !ok {
			return types.TradeDecision{
				StrategyName:   p.StrategyName,
				MarketID:       p.MarketID,
				TokenID:        p.TokenID,
				Executed:       false,
				RejectedReason: reason,
				CheckName:      c.name,
				CreatedAt:      p.Now,
			}
		}
	}

	return types.TradeDecision{
		StrategyName: p.StrategyName,
		MarketID:     p.MarketID,
		TokenID:      p.TokenID,
		Executed:     true,
		CreatedAt:    p.Now,
	}
}

func checkSizeLimit(p Params) (bool, string) {
	if p.MaxPositionUSD.IsZero() {
		return true, ""
	}
	if p.SizeUSD.GreaterThan(p.MaxPositionUSD) {
		return false, "size exceeds strategy.max_position_usd"
	}
	return true, ""
}

func checkExitSpread(p Params) (bool, string) {
	if !p.IsClose || p.MaxExitSpread.IsZero() {
		return true, ""
	}
	if p.ExitSpread.GreaterThan(p.MaxExitSpread) {
		return false, "exit spread too wide"
	}
	return true, ""
}

func checkSignalAge(p Params) (bool, string) {
	if !p.Streaming || p.SignalCreatedAt.IsZero() {
		return true, ""
	}
	maxAge := time.Duration(StreamingMaxSignalAgeSeconds) * time.Second
	if p.Now.Sub(p.SignalCreatedAt) > maxAge {
		return false, "signal too old"
	}
	return true, ""
}

func checkPriceDeviation(p Params) (bool, string) {
	if !p.Live || p.SignalMid.IsZero() {
		return true, ""
	}
	maxDev := decimal.NewFromFloat(DefaultMaxPriceDeviation)
	if p.Streaming {
		maxDev = decimal.NewFromFloat(StreamingMaxPriceDeviation)
	}
	diff := p.LiveMid.Sub(p.SignalMid).Abs()
	dev := diff.Div(p.SignalMid)
	if dev.GreaterThan(maxDev) {
		return false, "price moved too much"
	}
	return true, ""
}

func checkEntrySpread(p Params) (bool, string) {
	if p.IsClose || p.MaxEntrySpread.IsZero() {
		return true, ""
	}
	if p.EntrySpread.GreaterThan(p.MaxEntrySpread) {
		return false, "entry spread too wide"
	}
	return true, ""
}

func checkExtremePrice(p Params) (bool, string) {
	if p.AllowExtreme || p.SignalPrice.IsZero() {
		return true, ""
	}
	floor := decimal.NewFromFloat(ExtremePriceFloor)
	ceil := decimal.NewFromFloat(ExtremePriceCeiling)
	if p.SignalPrice.LessThan(floor) || p.SignalPrice.GreaterThan(ceil) {
		return false, "price at extreme"
	}
	return true, ""
}

func checkDuplicatePosition(p Params) (bool, string) {
	if p.HasDuplicatePosition {
		return false, "duplicate open position"
	}
	return true, ""
}

func checkRecentOrder(p Params) (bool, string) {
	if p.HasRecentOrder {
		return false, "recent order on this token"
	}
	return true, ""
}

func checkFeeRate(p Params) (bool, string) {
	maxBps := p.MaxFeeRateBps
	if maxBps == 0 {
		maxBps = DefaultMaxFeeRateBps
	}
	if p.FeeRateBps > maxBps {
		return false, "fee rate too high"
	}
	return true, ""
}
