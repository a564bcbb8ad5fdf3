// Package db defines the gorm schema backing the trading engine's
// persistent store and opens/migrates the connection. Monetary columns are
// numeric(p,s), carried as decimal.Decimal via its own sql.Scanner /
// driver.Valuer implementation.
package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketRow mirrors the `markets` table.
type MarketRow struct {
	ID          int64 `gorm:"primaryKey"`
	ConditionID string `gorm:"uniqueIndex;size:80"`
	YesTokenID  string `gorm:"size:100"`
	NoTokenID   string `gorm:"size:100"`
	Question    string `gorm:"size:500"`
	Category    string `gorm:"size:100;index"`
	MarketType  string `gorm:"size:20"`
	Format      string `gorm:"size:10"`
	EndTime     time.Time
	GameStart   time.Time
	Resolved    bool `gorm:"index"`
	Liquidity   decimal.Decimal `gorm:"type:decimal(18,6)"`
	LastPrice   decimal.Decimal `gorm:"type:decimal(9,6)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MarketRow) TableName() string { return "markets" }

// SnapshotRow mirrors the `snapshots` table — flushed Tick rows (internal/store.TickBuffer).
type SnapshotRow struct {
	ID            int64  `gorm:"primaryKey"`
	MarketID      int64  `gorm:"index"`
	ConditionID   string `gorm:"size:80;index"`
	Kind          string `gorm:"size:20"`
	Side          string `gorm:"size:3"`
	BestBid       decimal.Decimal `gorm:"type:decimal(9,6)"`
	BestAsk       decimal.Decimal `gorm:"type:decimal(9,6)"`
	Mid           decimal.Decimal `gorm:"type:decimal(9,6)"`
	ActualYesMid  decimal.Decimal `gorm:"type:decimal(9,6)"`
	ActualNoMid   decimal.Decimal `gorm:"type:decimal(9,6)"`
	Velocity1m    decimal.Decimal `gorm:"type:decimal(9,6)"`
	RecordedAt    time.Time `gorm:"index"`
}

func (SnapshotRow) TableName() string { return "snapshots" }

// OrderBookSnapshotRow mirrors the `orderbook_snapshots` table — periodic
// top-of-book archival for post-hoc analysis.
type OrderBookSnapshotRow struct {
	ID         int64 `gorm:"primaryKey"`
	TokenID    string `gorm:"size:100;index"`
	BestBid    decimal.Decimal `gorm:"type:decimal(9,6)"`
	BestAsk    decimal.Decimal `gorm:"type:decimal(9,6)"`
	Imbalance  decimal.Decimal `gorm:"type:decimal(9,6)"`
	RecordedAt time.Time `gorm:"index"`
}

func (OrderBookSnapshotRow) TableName() string { return "orderbook_snapshots" }

// WhaleEventRow mirrors the `whale_events` table — large public trades
// observed on the market feed, populated when a last_trade_price tick
// crosses a notional threshold.
type WhaleEventRow struct {
	ID        int64  `gorm:"primaryKey"`
	TokenID   string `gorm:"size:100;index"`
	Side      string `gorm:"size:4"`
	Price     decimal.Decimal `gorm:"type:decimal(9,6)"`
	Size      decimal.Decimal `gorm:"type:decimal(18,6)"`
	NotionalUSD decimal.Decimal `gorm:"type:decimal(18,2)"`
	RecordedAt time.Time `gorm:"index"`
}

func (WhaleEventRow) TableName() string { return "whale_events" }

// PositionRow mirrors the `positions` table.
type PositionRow struct {
	ID              int64  `gorm:"primaryKey"`
	StrategyName    string `gorm:"size:100;index:idx_position_strategy_market_token"`
	MarketID        int64  `gorm:"index:idx_position_strategy_market_token"`
	ConditionID     string `gorm:"size:80"`
	TokenID         string `gorm:"size:100;index:idx_position_strategy_market_token"`
	TokenType       string `gorm:"size:3"`
	Side            string `gorm:"size:4"`
	InitialShares   decimal.Decimal `gorm:"type:decimal(18,6)"`
	RemainingShares decimal.Decimal `gorm:"type:decimal(18,6)"`
	AvgEntryPrice   decimal.Decimal `gorm:"type:decimal(9,6)"`
	CostBasis       decimal.Decimal `gorm:"type:decimal(18,2)"`
	CurrentPrice    decimal.Decimal `gorm:"type:decimal(9,6)"`
	UnrealizedPnL   decimal.Decimal `gorm:"type:decimal(18,2)"`
	RealizedPnL     decimal.Decimal `gorm:"type:decimal(18,2)"`
	SpreadID        *int64 `gorm:"index"`
	Format          string `gorm:"size:10"`
	GameStart       time.Time
	Status          string `gorm:"size:10;index"`
	CloseReason     string `gorm:"size:100"`
	OpenedAt        time.Time
	ClosedAt        time.Time
	UpdatedAt       time.Time

	Legs []PositionLegRow `gorm:"foreignKey:PositionID"`
}

func (PositionRow) TableName() string { return "positions" }

// PositionLegRow mirrors the `position_legs` table.
type PositionLegRow struct {
	ID             int64 `gorm:"primaryKey"`
	PositionID     int64 `gorm:"index"`
	LegType        string `gorm:"size:15"`
	SharesDelta    decimal.Decimal `gorm:"type:decimal(18,6)"`
	Price          decimal.Decimal `gorm:"type:decimal(9,6)"`
	CostDelta      decimal.Decimal `gorm:"type:decimal(18,2)"`
	RealizedPnL    decimal.Decimal `gorm:"type:decimal(18,2)"`
	HasRealizedPnL bool
	TriggerPrice   decimal.Decimal `gorm:"type:decimal(9,6)"`
	TriggerReason  string `gorm:"size:200"`
	CreatedAt      time.Time
}

func (PositionLegRow) TableName() string { return "position_legs" }

// SpreadRow mirrors the `spreads` table.
type SpreadRow struct {
	ID            int64  `gorm:"primaryKey"`
	StrategyName  string `gorm:"size:100;index"`
	MarketID      int64  `gorm:"index"`
	ConditionID   string `gorm:"size:80"`
	SpreadType    string `gorm:"size:10"`
	YesPositionID int64  `gorm:"index"`
	NoPositionID  int64  `gorm:"index"`
	CostBasis     decimal.Decimal `gorm:"type:decimal(18,2)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(18,2)"`
	UnrealizedPnL decimal.Decimal `gorm:"type:decimal(18,2)"`
	EntryYesMid   decimal.Decimal `gorm:"type:decimal(9,6)"`
	Status        string `gorm:"size:10;index"`
	OpenedAt      time.Time
	ClosedAt      time.Time
}

func (SpreadRow) TableName() string { return "spreads" }

// StrategyCapitalRow mirrors the `strategy_capital` table — one row per
// strategy, the capital ledger's durable backing (internal/capital.Ledger).
type StrategyCapitalRow struct {
	StrategyName  string `gorm:"primaryKey;size:100"`
	Allocated     decimal.Decimal `gorm:"type:decimal(18,2)"`
	Available     decimal.Decimal `gorm:"type:decimal(18,2)"`
	RealizedPnL   decimal.Decimal `gorm:"type:decimal(18,2)"`
	UnrealizedPnL decimal.Decimal `gorm:"type:decimal(18,2)"`
	TradeCount    int64
	WinCount      int64
	LossCount     int64
	HighWaterMark decimal.Decimal `gorm:"type:decimal(18,2)"`
	MaxDrawdown   decimal.Decimal `gorm:"type:decimal(18,2)"`
	Active        bool
	LastTradeAt   time.Time
}

func (StrategyCapitalRow) TableName() string { return "strategy_capital" }

// StrategyMarketStateRow mirrors the `strategy_market_state` table.
type StrategyMarketStateRow struct {
	StrategyName string `gorm:"primaryKey;size:100"`
	MarketID     int64  `gorm:"primaryKey"`
	Stage        string `gorm:"size:30"`
	EntryPrice   decimal.Decimal `gorm:"type:decimal(9,6)"`
	SwitchPrice  decimal.Decimal `gorm:"type:decimal(9,6)"`
	ExitPrice    decimal.Decimal `gorm:"type:decimal(9,6)"`
	HighWater    decimal.Decimal `gorm:"type:decimal(9,6)"`
	LowWater     decimal.Decimal `gorm:"type:decimal(9,6)"`
	CountersJSON string `gorm:"type:text"`
	PayloadJSON  string `gorm:"type:text"`
	Active       bool
	UpdatedAt    time.Time
}

func (StrategyMarketStateRow) TableName() string { return "strategy_market_state" }

// OrderRow mirrors the `orders` table.
type OrderRow struct {
	ID              int64  `gorm:"primaryKey"`
	SignalID        string `gorm:"size:40;index"`
	IsPaper         bool
	TokenID         string `gorm:"size:100;index"`
	Side            string `gorm:"size:4"`
	OrderType       string `gorm:"size:10"`
	LimitPrice      decimal.Decimal `gorm:"type:decimal(9,6)"`
	ExecutedPrice   decimal.Decimal `gorm:"type:decimal(9,6)"`
	SizeUSD         decimal.Decimal `gorm:"type:decimal(18,2)"`
	SizeShares      decimal.Decimal `gorm:"type:decimal(18,6)"`
	FilledShares    decimal.Decimal `gorm:"type:decimal(18,6)"`
	Status          string `gorm:"size:15;index"`
	ExchangeOrderID string `gorm:"size:100;index"`
	StatusMessage   string `gorm:"size:300"`
	SubmittedAt     time.Time
	FilledAt        time.Time
}

func (OrderRow) TableName() string { return "orders" }

// ExecutorTradeRow mirrors the `executor_trades` table — the engine's own
// fills, kept apart from the public `trades` prints.
type ExecutorTradeRow struct {
	ID             int64  `gorm:"primaryKey"`
	OrderID        int64  `gorm:"index"`
	PositionID     int64  `gorm:"index"`
	LegID          int64
	HasLeg         bool
	TokenID        string `gorm:"size:100;index"`
	Side           string `gorm:"size:4"`
	Price          decimal.Decimal `gorm:"type:decimal(9,6)"`
	Shares         decimal.Decimal `gorm:"type:decimal(18,6)"`
	USD            decimal.Decimal `gorm:"type:decimal(18,2)"`
	FeeUSD         decimal.Decimal `gorm:"type:decimal(18,2)"`
	BestBid        decimal.Decimal `gorm:"type:decimal(9,6)"`
	BestAsk        decimal.Decimal `gorm:"type:decimal(9,6)"`
	BookSpread     decimal.Decimal `gorm:"type:decimal(9,6)"`
	Slippage       decimal.Decimal `gorm:"type:decimal(9,6)"`
	TriggerEventID string `gorm:"size:100"`
	CreatedAt      time.Time `gorm:"index"`
}

func (ExecutorTradeRow) TableName() string { return "executor_trades" }

// SignalRow mirrors the `signals` table.
type SignalRow struct {
	ID               string `gorm:"primaryKey;size:40"`
	StrategyName     string `gorm:"size:100;index"`
	MarketID         int64  `gorm:"index"`
	TokenID          string `gorm:"size:100"`
	Side             string `gorm:"size:3"`
	Reason           string `gorm:"size:200"`
	Edge             decimal.Decimal `gorm:"type:decimal(9,6)"`
	Confidence       decimal.Decimal `gorm:"type:decimal(5,4)"`
	PriceAtSignal    decimal.Decimal `gorm:"type:decimal(9,6)"`
	SuggestedSizeUSD decimal.Decimal `gorm:"type:decimal(18,2)"`
	CreatedAt        time.Time `gorm:"index"`
}

func (SignalRow) TableName() string { return "signals" }

// TradeDecisionRow mirrors the `trade_decisions` table.
type TradeDecisionRow struct {
	ID             int64  `gorm:"primaryKey"`
	StrategyName   string `gorm:"size:100;index"`
	MarketID       int64  `gorm:"index"`
	TokenID        string `gorm:"size:100"`
	Executed       bool   `gorm:"index"`
	RejectedReason string `gorm:"size:200"`
	CheckName      string `gorm:"size:60"`
	CreatedAt      time.Time `gorm:"index"`
}

func (TradeDecisionRow) TableName() string { return "trade_decisions" }

// PaperBalanceRow mirrors the `paper_balance` table — the paper executor's
// simulated collateral balance, separate from the live wallet.
type PaperBalanceRow struct {
	ID        int64 `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:decimal(18,2)"`
	UpdatedAt time.Time
}

func (PaperBalanceRow) TableName() string { return "paper_balance" }

// AllModels lists every row type AutoMigrate must create/alter.
func AllModels() []interface{} {
	return []interface{}{
		&MarketRow{},
		&SnapshotRow{},
		&OrderBookSnapshotRow{},
		&WhaleEventRow{},
		&PositionRow{},
		&PositionLegRow{},
		&SpreadRow{},
		&StrategyCapitalRow{},
		&StrategyMarketStateRow{},
		&OrderRow{},
		&ExecutorTradeRow{},
		&SignalRow{},
		&TradeDecisionRow{},
		&PaperBalanceRow{},
	}
}
