// Package market provides local order book management and market discovery.
//
// Book mirrors the CLOB order book for a single binary market (YES + NO
// tokens). It is updated from two sources:
//   - REST snapshots via ApplyBookResponse (initial load)
//   - WebSocket events via ApplyBookEvent (full snapshots) and
//     ApplyPriceChange (incremental per-level deltas)
//
// The Book is concurrency-safe (RWMutex protected) and provides derived
// values — BestBidAsk, Mid, Spread, Imbalance — consumed by the tick
// builder and the strategy layer.
package market

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

// Book maintains a local mirror of the order book for one market, tracking
// both the YES and NO token books independently (they trade on separate
// books and their mids need not sum to 1).
type Book struct {
	mu       sync.RWMutex
	marketID string
	yesToken string
	noToken  string
	yes      side
	no       side
	lastHash map[string]string
	updated  time.Time
}

type side struct {
	bids []types.PriceLevelD // sorted descending by price
	asks []types.PriceLevelD // sorted ascending by price
}

// NewBook creates a new local order book for a market.
func NewBook(marketID, yesToken, noToken string) *Book {
	return &Book{
		marketID: marketID,
		yesToken: yesToken,
		noToken:  noToken,
		lastHash: make(map[string]string),
	}
}

func (b *Book) sideFor(assetID string) *side {
	switch assetID {
	case b.yesToken:
		return &b.yes
	case b.noToken:
		return &b.no
	default:
		return nil
	}
}

func (b *Book) tokenSideFor(assetID string) (types.TokenSide, bool) {
	switch assetID {
	case b.yesToken:
		return types.TokenYes, true
	case b.noToken:
		return types.TokenNo, true
	default:
		return "", false
	}
}

func convertLevels(levels []types.PriceLevel) []types.PriceLevelD {
	out := make([]types.PriceLevelD, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevelD{Price: price, Size: size})
	}
	return out
}

func sortBids(levels []types.PriceLevelD) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
}

func sortAsks(levels []types.PriceLevelD) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
}

// ApplyBookEvent replaces the book for one token with a full snapshot.
func (b *Book) ApplyBookEvent(event types.WSBookEvent) {
	b.applySnapshot(event.AssetID, event.Buys, event.Sells, event.Hash)
}

// ApplyBookResponse applies a REST API book response.
func (b *Book) ApplyBookResponse(resp *types.BookResponse) {
	b.applySnapshot(resp.AssetID, resp.Bids, resp.Asks, resp.Hash)
}

func (b *Book) applySnapshot(assetID string, bids, asks []types.PriceLevel, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.sideFor(assetID)
	if s == nil {
		return
	}

	s.bids = convertLevels(bids)
	s.asks = convertLevels(asks)
	sortBids(s.bids)
	sortAsks(s.asks)

	b.lastHash[assetID] = hash
	b.updated = time.Now()
}

// ApplyPriceChange applies incremental per-level deltas. A size of 0 removes
// the level; otherwise the level is upserted and the side re-sorted.
func (b *Book) ApplyPriceChange(event types.WSPriceChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	touched := make(map[string]bool)
	for _, pc := range event.PriceChanges {
		s := b.sideFor(pc.AssetID)
		if s == nil {
			continue
		}
		price, err := decimal.NewFromString(pc.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(pc.Size)
		if err != nil {
			continue
		}

		levels := &s.bids
		if pc.Side == "SELL" {
			levels = &s.asks
		}
		*levels = upsertLevel(*levels, price, size)

		b.lastHash[pc.AssetID] = pc.Hash
		touched[pc.AssetID] = true
	}

	for assetID := range touched {
		s := b.sideFor(assetID)
		sortBids(s.bids)
		sortAsks(s.asks)
	}
	if len(event.PriceChanges) > 0 {
		b.updated = time.Now()
	}
}

func upsertLevel(levels []types.PriceLevelD, price, size decimal.Decimal) []types.PriceLevelD {
	for i, lvl := range levels {
		if lvl.Price.Equal(price) {
			if size.IsZero() {
				return append(levels[:i], levels[i+1:]...)
			}
			levels[i].Size = size
			return levels
		}
	}
	if size.IsZero() {
		return levels
	}
	return append(levels, types.PriceLevelD{Price: price, Size: size})
}

// Snapshot returns an immutable view of one side's book for tick building.
func (b *Book) Snapshot(ts types.TokenSide) types.OrderBookView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := &b.yes
	tokenID := b.yesToken
	if ts == types.TokenNo {
		s = &b.no
		tokenID = b.noToken
	}

	view := types.OrderBookView{
		TokenID:    tokenID,
		Bids:       append([]types.PriceLevelD(nil), s.bids...),
		Asks:       append([]types.PriceLevelD(nil), s.asks...),
		LastUpdate: b.updated,
	}
	return view
}

// MidPrice returns the mid price for the YES token as a float64, kept for
// compatibility with legacy float-based callers.
func (b *Book) MidPrice() (float64, bool) {
	mid, ok := b.Mid(types.TokenYes)
	if !ok {
		return 0, false
	}
	f, _ := mid.Float64()
	return f, true
}

// BestBidAsk returns the best bid and ask for the YES token as float64.
func (b *Book) BestBidAsk() (bid, ask float64, ok bool) {
	bidD, askD, ok := b.BestBidAskD(types.TokenYes)
	if !ok {
		return 0, 0, false
	}
	bf, _ := bidD.Float64()
	af, _ := askD.Float64()
	return bf, af, true
}

// BestBidAskD returns the best bid/ask for the given side as decimals.
func (b *Book) BestBidAskD(ts types.TokenSide) (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := &b.yes
	if ts == types.TokenNo {
		s = &b.no
	}
	if len(s.bids) == 0 || len(s.asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return s.bids[0].Price, s.asks[0].Price, true
}

// Mid returns (bid+ask)/2 for the given side.
func (b *Book) Mid(ts types.TokenSide) (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAskD(ts)
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Spread returns ask-bid for the given side.
func (b *Book) Spread(ts types.TokenSide) (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAskD(ts)
	if !ok {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Imbalance computes the signed top-5-level depth ratio for the given side,
// zero when both sides have zero depth.
func (b *Book) Imbalance(ts types.TokenSide) decimal.Decimal {
	view := b.Snapshot(ts)
	return view.Imbalance()
}

// IsStale returns true if the book hasn't been updated within maxAge.
func (b *Book) IsStale(maxAge time.Duration) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.updated.IsZero() {
		return true
	}
	return time.Since(b.updated) > maxAge
}

// LastUpdated returns the timestamp of the last book update.
func (b *Book) LastUpdated() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updated
}

// AssetForSide returns the token ID for the given side.
func (b *Book) AssetForSide(ts types.TokenSide) string {
	if ts == types.TokenNo {
		return b.noToken
	}
	return b.yesToken
}

// SideForAsset reports which side (YES/NO) a token ID belongs to in this book.
func (b *Book) SideForAsset(assetID string) (types.TokenSide, bool) {
	return b.tokenSideFor(assetID)
}
