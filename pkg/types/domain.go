package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Token side / lifecycle enums
// ————————————————————————————————————————————————————————————————————————

// TokenSide identifies which of a binary market's two complementary tokens
// a Tick, Position, or Signal concerns.
type TokenSide string

const (
	TokenYes TokenSide = "YES"
	TokenNo  TokenSide = "NO"
)

// EventKind classifies the raw event a Tick was built from.
type EventKind string

const (
	EventTrade       EventKind = "trade"
	EventBook        EventKind = "book"
	EventPriceChange EventKind = "price_change"
	EventPeriodic    EventKind = "periodic"
)

// PositionStatus is the lifecycle state of a Position or Spread.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionPartial PositionStatus = "partial"
	PositionClosed  PositionStatus = "closed"
)

// LegType classifies a PositionLeg audit record.
type LegType string

const (
	LegEntry       LegType = "entry"
	LegAdd         LegType = "add"
	LegPartialExit LegType = "partial_exit"
	LegFullExit    LegType = "full_exit"
)

// SpreadType classifies why a Spread was opened.
type SpreadType string

const (
	SpreadScalp SpreadType = "scalp"
	SpreadHedge SpreadType = "hedge"
	SpreadArb   SpreadType = "arb"
)

// DomainOrderStatus is the lifecycle state of an executor Order (distinct
// from the exchange-level OpenOrder, which mirrors the CLOB's own view).
type DomainOrderStatus string

const (
	OrderPending   DomainOrderStatus = "pending"
	OrderSubmitted DomainOrderStatus = "submitted"
	OrderFilled    DomainOrderStatus = "filled"
	OrderCancelled DomainOrderStatus = "cancelled"
	OrderFailed    DomainOrderStatus = "failed"
)

// DomainOrderType is the execution style requested for a strategy Action.
type DomainOrderType string

const (
	OrderMarket DomainOrderType = "market"
	OrderLimit  DomainOrderType = "limit"
	OrderSpread DomainOrderType = "spread"
)

// ActionType is the kind of position-management intent a strategy emits
// from OnPositionUpdate (OnTick always implies an open).
type ActionType string

const (
	ActionOpenLong    ActionType = "OPEN_LONG"
	ActionOpenSpread  ActionType = "OPEN_SPREAD"
	ActionClose       ActionType = "CLOSE"
	ActionPartClose   ActionType = "PARTIAL_CLOSE"
	ActionAdd         ActionType = "ADD"
	ActionRebalance   ActionType = "REBALANCE"
)

// ————————————————————————————————————————————————————————————————————————
// Market (external reference data)
// ————————————————————————————————————————————————————————————————————————

// Market is immutable, externally-owned reference data. The trading core
// never mutates a Market row as part of trading — it is read-only here.
type Market struct {
	ID          int64
	ConditionID string
	YesTokenID  string
	NoTokenID   string
	Question    string
	Category    string
	MarketType  string // moneyline, child_moneyline
	Format      string // BO1, BO3, BO5
	EndTime     time.Time
	GameStart   time.Time
	Resolved    bool
	Liquidity   decimal.Decimal
	LastPrice   decimal.Decimal
}

// InPlay reports whether the match clock has started.
func (m Market) InPlay(now time.Time) bool {
	return !m.GameStart.IsZero() && !now.Before(m.GameStart)
}

// ————————————————————————————————————————————————————————————————————————
// Tick & order-book view
// ————————————————————————————————————————————————————————————————————————

// OrderBookView is an immutable point-in-time snapshot of one token's book,
// already sorted (bids desc, asks asc) with derived quantities attached.
type OrderBookView struct {
	TokenID    string
	Bids       []PriceLevelD
	Asks       []PriceLevelD
	LastUpdate time.Time
}

// PriceLevelD is a decimal-typed (price, size) book level.
type PriceLevelD struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BestBidAsk returns the top of book, with ok=false if either side is empty.
func (b OrderBookView) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// Mid returns (bid+ask)/2, with ok=false if either side is empty.
func (b OrderBookView) Mid() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Spread returns ask-bid, with ok=false if either side is empty.
func (b OrderBookView) Spread() (decimal.Decimal, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Imbalance computes the signed top-5-level depth ratio:
//
//	(sum(bid sizes) - sum(ask sizes)) / (sum(bid sizes) + sum(ask sizes))
//
// It is zero when depth on both sides is zero (never NaN), and
// always falls in [-1, 1]. Positive values are bid-heavy.
func (b OrderBookView) Imbalance() decimal.Decimal {
	const depth = 5
	bidSum := sumSizes(b.Bids, depth)
	askSum := sumSizes(b.Asks, depth)
	denom := bidSum.Add(askSum)
	if denom.IsZero() {
		return decimal.Zero
	}
	return bidSum.Sub(askSum).Div(denom)
}

func sumSizes(levels []PriceLevelD, n int) decimal.Decimal {
	sum := decimal.Zero
	for i, lvl := range levels {
		if i >= n {
			break
		}
		sum = sum.Add(lvl.Size)
	}
	return sum
}

// Tick is an immutable snapshot observed at a timestamp for one market.
// actual_yes_mid/actual_no_mid are the separately-quoted YES/NO order-book
// mids; they do not necessarily sum to 1.
type Tick struct {
	MessageID    string // per-tick uuid assigned when the tick is built; dedup does not use it
	Market       Market
	Kind         EventKind
	Side         TokenSide // which token this observation concerns
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	HasBidAsk    bool
	Mid          decimal.Decimal // derived from the order book, NOT this tick's own fields
	HasMid       bool
	LastTradeSize decimal.Decimal
	LastTradeSide Side
	HasLastTrade  bool
	ActualYesMid decimal.Decimal
	HasYesMid    bool
	ActualNoMid  decimal.Decimal
	HasNoMid     bool
	Velocity1m   decimal.Decimal // rolling 1-minute price velocity
	Imbalance    decimal.Decimal // signed top-5 book imbalance, this tick's side
	HasImbalance bool
	Timestamp    time.Time
}

// YesPrice prefers the authoritative actual_yes_mid, then falls back to this
// tick's own mid (if it concerns the YES token), then to 1-no_price.
func (t Tick) YesPrice() (decimal.Decimal, bool) {
	if t.HasYesMid {
		return t.ActualYesMid, true
	}
	if t.Side == TokenYes && t.HasMid {
		return t.Mid, true
	}
	if no, ok := t.NoPrice(); ok {
		return decimal.NewFromInt(1).Sub(no), true
	}
	return decimal.Zero, false
}

// NoPrice is the symmetric counterpart of YesPrice.
func (t Tick) NoPrice() (decimal.Decimal, bool) {
	if t.HasNoMid {
		return t.ActualNoMid, true
	}
	if t.Side == TokenNo && t.HasMid {
		return t.Mid, true
	}
	if yes, ok0 := func() (decimal.Decimal, bool) {
		if t.HasYesMid {
			return t.ActualYesMid, true
		}
		if t.Side == TokenYes && t.HasMid {
			return t.Mid, true
		}
		return decimal.Zero, false
	}(); ok0 {
		return decimal.NewFromInt(1).Sub(yes), true
	}
	return decimal.Zero, false
}

// IsInPlay reports whether the market's game clock has started as of now.
func (t Tick) IsInPlay(now time.Time) bool {
	return t.Market.InPlay(now)
}

// ————————————————————————————————————————————————————————————————————————
// Position, Leg, Spread
// ————————————————————————————————————————————————————————————————————————

// Position is one strategy's holding in a single token on a single market.
type Position struct {
	ID              int64
	StrategyName    string
	MarketID        int64
	ConditionID     string
	TokenID         string
	TokenType       TokenSide
	Side            Side // always BUY for current strategies
	InitialShares   decimal.Decimal
	RemainingShares decimal.Decimal
	AvgEntryPrice   decimal.Decimal
	CostBasis       decimal.Decimal
	CurrentPrice    decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	RealizedPnL     decimal.Decimal
	SpreadID        *int64
	Format          string
	GameStart       time.Time
	Status          PositionStatus
	CloseReason     string
	OpenedAt        time.Time
	ClosedAt        time.Time
	UpdatedAt       time.Time
}

// PositionLeg is an immutable audit record of one fill or adjustment.
type PositionLeg struct {
	ID             int64
	PositionID     int64
	LegType        LegType
	SharesDelta    decimal.Decimal // +ve for entry/add, -ve for exits
	Price          decimal.Decimal
	CostDelta      decimal.Decimal
	RealizedPnL    decimal.Decimal
	HasRealizedPnL bool
	TriggerPrice   decimal.Decimal
	TriggerReason  string
	CreatedAt      time.Time
}

// Spread links exactly two Positions (one YES, one NO) on the same market
// for the same strategy.
type Spread struct {
	ID              int64
	StrategyName    string
	MarketID        int64
	ConditionID     string
	SpreadType      SpreadType
	YesPositionID   int64
	NoPositionID    int64
	CostBasis       decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	EntryYesMid     decimal.Decimal
	Status          PositionStatus
	OpenedAt        time.Time
	ClosedAt        time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Capital
// ————————————————————————————————————————————————————————————————————————

// StrategyCapital is one strategy's capital ledger row.
type StrategyCapital struct {
	StrategyName string
	Allocated    decimal.Decimal
	Available    decimal.Decimal
	RealizedPnL  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	TradeCount   int64
	WinCount     int64
	LossCount    int64
	HighWaterMark decimal.Decimal
	MaxDrawdown   decimal.Decimal
	Active        bool
	LastTradeAt   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Strategy market state (multi-stage strategies)
// ————————————————————————————————————————————————————————————————————————

// StrategyMarketState is an optional per-(strategy, market) record used by
// multi-stage strategies to track entry/switch/exit prices and counters
// across ticks.
type StrategyMarketState struct {
	StrategyName string
	MarketID     int64
	Stage        string
	EntryPrice   decimal.Decimal
	SwitchPrice  decimal.Decimal
	ExitPrice    decimal.Decimal
	HighWater    decimal.Decimal
	LowWater     decimal.Decimal
	Counters     map[string]int
	Payload      map[string]string
	Active       bool
	UpdatedAt    time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Signal & Action (short-lived intents)
// ————————————————————————————————————————————————————————————————————————

// Signal is a strategy's intent to open a new position, produced by OnTick.
type Signal struct {
	ID              string // uuid
	StrategyName    string
	MarketID        int64
	TokenID         string
	Side            TokenSide
	Reason          string
	Edge            decimal.Decimal
	Confidence      decimal.Decimal
	PriceAtSignal   decimal.Decimal
	SuggestedSizeUSD decimal.Decimal
	CreatedAt       time.Time
}

// Action is a strategy's intent, produced by either OnTick (always
// OPEN_LONG/OPEN_SPREAD) or OnPositionUpdate (CLOSE/PARTIAL_CLOSE/ADD/
// REBALANCE).
type Action struct {
	Type         ActionType
	StrategyName string
	MarketID     int64
	TokenID      string
	Side         TokenSide
	SizeUSD      decimal.Decimal // entry notional, for OPEN_LONG/OPEN_SPREAD's YES leg
	NoSizeUSD    decimal.Decimal // OPEN_SPREAD's NO leg; zero means mirror SizeUSD
	ClosePct     decimal.Decimal // 0 < ClosePct <= 1, for PARTIAL_CLOSE
	AddSizeUSD   decimal.Decimal
	Reason       string
	OrderType    DomainOrderType
}

// ————————————————————————————————————————————————————————————————————————
// Order & Trade (execution records)
// ————————————————————————————————————————————————————————————————————————

// Order is the executor's record of one order lifecycle.
type Order struct {
	ID             int64
	SignalID       string
	IsPaper        bool
	TokenID        string
	Side           Side
	OrderType      DomainOrderType
	LimitPrice     decimal.Decimal
	ExecutedPrice  decimal.Decimal
	SizeUSD        decimal.Decimal
	SizeShares     decimal.Decimal
	FilledShares   decimal.Decimal
	Status         DomainOrderStatus
	ExchangeOrderID string
	StatusMessage  string
	SubmittedAt    time.Time
	FilledAt       time.Time
}

// Trade is an execution record linked to one Order and one Position.
type Trade struct {
	ID              int64
	OrderID         int64
	PositionID      int64
	LegID           int64
	HasLeg          bool
	TokenID         string
	Side            Side
	Price           decimal.Decimal
	Shares          decimal.Decimal
	USD             decimal.Decimal
	FeeUSD          decimal.Decimal
	BestBid         decimal.Decimal
	BestAsk         decimal.Decimal
	BookSpread      decimal.Decimal
	Slippage        decimal.Decimal
	TriggerEventID  string
	CreatedAt       time.Time
}

// TradeDecision records a pre-trade check outcome — every
// rejected Signal/Action produces one of these with Executed=false.
type TradeDecision struct {
	ID             int64
	StrategyName   string
	MarketID       int64
	TokenID        string
	Executed       bool
	RejectedReason string
	CheckName      string
	CreatedAt      time.Time
}
