package market

import (
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/pkg/types"
)

// BuildTick turns the current state of a Book plus the event that triggered
// it into a types.Tick, applying the actual_yes_mid/actual_no_mid preference
// rule: both sides are read straight from the book (they may legitimately
// not sum to 1), and a strategy asking for the "other" side's price falls
// back to 1-price only when that side's own book has no data.
func BuildTick(b *Book, mkt types.Market, kind types.EventKind, side types.TokenSide, velocity decimal.Decimal) types.Tick {
	t := types.Tick{
		Market:     mkt,
		Kind:       kind,
		Side:       side,
		Velocity1m: velocity,
		Timestamp:  time.Now(),
	}

	if bid, ask, ok := b.BestBidAskD(side); ok {
		t.BestBid = bid
		t.BestAsk = ask
		t.HasBidAsk = true
	}
	if mid, ok := b.Mid(side); ok {
		t.Mid = mid
		t.HasMid = true
	}
	if yesMid, ok := b.Mid(types.TokenYes); ok {
		t.ActualYesMid = yesMid
		t.HasYesMid = true
	}
	if noMid, ok := b.Mid(types.TokenNo); ok {
		t.ActualNoMid = noMid
		t.HasNoMid = true
	}
	t.Imbalance = b.Imbalance(side)
	t.HasImbalance = true

	return t
}

// BuildTradeTick builds a tick from a public last-trade-price event,
// recording the traded size/side alongside the current book state.
func BuildTradeTick(b *Book, mkt types.Market, side types.TokenSide, tradeSize decimal.Decimal, tradeSide types.Side, velocity decimal.Decimal) types.Tick {
	t := BuildTick(b, mkt, types.EventTrade, side, velocity)
	t.LastTradeSize = tradeSize
	t.LastTradeSide = tradeSide
	t.HasLastTrade = true
	return t
}
