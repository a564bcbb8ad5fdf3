// Package strategy defines the Strategy interface and the reference
// strategies that implement it. A Strategy is a pure state-holding
// object: all capital accounting and position persistence is externalized
// to internal/capital and internal/position, reached only through
// internal/state's read-mostly cache.
package strategy

import (
	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

// StateReader is the slice of internal/state.Manager the strategies read
// and write through: their own open positions per side, and their
// per-market stage tracker. Accepting the interface keeps strategies free
// of a database dependency.
type StateReader interface {
	GetPosition(strategyName string, marketID int64, tokenType types.TokenSide) (types.Position, bool, error)
	GetMarketState(strategyName string, marketID int64) (types.StrategyMarketState, error)
	SaveMarketState(ms types.StrategyMarketState) error
}

// Limits are a strategy's static configuration: the filters applied before
// on_tick/on_position_update ever run, and the position-sizing caps the
// validator and position store enforce.
type Limits struct {
	AllowedFormats     []string // e.g. ["BO3", "BO5"]; empty = no format filter
	AllowedMarketTypes []string // e.g. ["esports"]; empty = no type filter
	YesPriceMin        decimal.Decimal
	YesPriceMax        decimal.Decimal
	MaxEntrySpread     decimal.Decimal
	MaxExitSpread      decimal.Decimal
	MaxPositions       int
	MaxPositionUSD     decimal.Decimal
	AllowExtremePrice  bool // opts out of the [0.05, 0.95] global filter
}

// Strategy is a stateful entry in the tick router's dispatch table.
// Implementations must be hot-path fast (well under 10ms per call) and
// must not perform blocking I/O — all state reads go through the State
// manager's caches, via the StateReader each strategy is constructed with.
type Strategy interface {
	// Name identifies this strategy for capital, position, and state-manager
	// lookups. It must be stable across restarts.
	Name() string

	// Limits returns this strategy's static filter/sizing configuration.
	Limits() Limits

	// OnTick is invoked only when no open position or spread exists for
	// (strategy, market). A non-nil Action (OPEN_LONG or OPEN_SPREAD)
	// expresses intent to open.
	OnTick(tick types.Tick) *types.Action

	// OnPositionUpdate is invoked when a position or spread already exists
	// for (strategy, market). A non-nil Action expresses intent to manage
	// it (close, partial-close, add, rebalance).
	OnPositionUpdate(tick types.Tick, pos *types.Position, spread *types.Spread) *types.Action

	// FilterTick is a cheap pre-filter run before OnTick/OnPositionUpdate.
	// BaseFilter.FilterTick implements the default format/market-type/
	// entry-spread checks that must hold regardless of whether a position
	// is already open; strategies embed BaseFilter and may override it for
	// extra filtering. A strategy's tight entry-price zone belongs in its
	// own OnTick (see BaseFilter.InEntryZone), not here, since this method
	// also gates OnPositionUpdate.
	FilterTick(tick types.Tick) bool
}

// BaseFilter implements the default FilterTick behavior shared by every
// reference strategy: format allow-list, market-type allow-list, and entry
// spread (the YES price zone is checked separately via InEntryZone). Embed it in a concrete strategy and call
// b.FilterTick(tick) from the strategy's own FilterTick, or rely on it
// directly since Go embedding promotes the method.
type BaseFilter struct {
	Limits Limits
}

// FilterTick applies the default cheap filters: disallowed format or market
// type, or entry spread too wide. This runs before OnTick *and*
// OnPositionUpdate, so it must only apply filters that are valid regardless
// of whether a position already exists — Limits.YesPriceMin/YesPriceMax is
// each strategy's tight *entry* zone, not a standing condition a held
// position must keep satisfying, so it is checked inside each strategy's own
// OnTick instead. Extreme-price and resolved/closed-market filtering are
// applied globally by the router, not repeated per strategy.
func (b BaseFilter) FilterTick(tick types.Tick) bool {
	if len(b.Limits.AllowedFormats) > 0 && !contains(b.Limits.AllowedFormats, tick.Market.Format) {
		return false
	}
	if len(b.Limits.AllowedMarketTypes) > 0 && !contains(b.Limits.AllowedMarketTypes, tick.Market.Category) {
		return false
	}

	if !b.Limits.MaxEntrySpread.IsZero() && tick.HasBidAsk {
		spread := tick.BestAsk.Sub(tick.BestBid)
		if spread.GreaterThan(b.Limits.MaxEntrySpread) {
			return false
		}
	}

	return true
}

// InEntryZone reports whether yesPrice falls inside Limits.YesPriceMin/Max,
// the tight entry-price band a strategy checks from its own OnTick (not from
// FilterTick — see the comment on FilterTick). A zero min/max on that side is
// treated as unbounded.
func (b BaseFilter) InEntryZone(yesPrice decimal.Decimal) bool {
	if !b.Limits.YesPriceMin.IsZero() && yesPrice.LessThan(b.Limits.YesPriceMin) {
		return false
	}
	if !b.Limits.YesPriceMax.IsZero() && yesPrice.GreaterThan(b.Limits.YesPriceMax) {
		return false
	}
	return true
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
