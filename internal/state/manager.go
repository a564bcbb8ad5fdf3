// Package state implements the strategy-facing state manager: a
// read-mostly query layer over positions, spreads, strategy capital, and
// per-market strategy state, backed by an in-memory cache that strategies
// can query without touching the database directly on every tick. Cached
// entries are plain value types copied out of gorm rows, so callers never
// hold a reference into live ORM state.
package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

type positionKey struct {
	strategy  string
	marketID  int64
	tokenType types.TokenSide // "" matches either side, mirroring token_type=None
}

type marketStateKey struct {
	strategy string
	marketID int64
}

// Manager is the cache-aside query interface strategies use to read their
// own positions, spreads, capital, and per-market stage without issuing a
// fresh query on every tick.
type Manager struct {
	gdb *gorm.DB

	mu            sync.RWMutex
	positions     map[positionKey]*types.Position
	spreads       map[marketStateKey]*types.Spread
	strategyState map[string]*types.StrategyCapital
	marketState   map[marketStateKey]*types.StrategyMarketState
}

// New creates a state manager over the given database connection.
func New(gdb *gorm.DB) *Manager {
	return &Manager{
		gdb:           gdb,
		positions:     make(map[positionKey]*types.Position),
		spreads:       make(map[marketStateKey]*types.Spread),
		strategyState: make(map[string]*types.StrategyCapital),
		marketState:   make(map[marketStateKey]*types.StrategyMarketState),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Position queries
// ————————————————————————————————————————————————————————————————————————

// GetPosition returns the strategy's open (OPEN or PARTIAL) position on a
// market, optionally filtered to one token side. ok is false if none exists.
func (m *Manager) GetPosition(strategyName string, marketID int64, tokenType types.TokenSide) (types.Position, bool, error) {
	key := positionKey{strategyName, marketID, tokenType}

	m.mu.RLock()
	if cached, ok := m.positions[key]; ok {
		defer m.mu.RUnlock()
		return *cached, true, nil
	}
	m.mu.RUnlock()

	q := m.gdb.Where("strategy_name = ? AND market_id = ? AND status IN ?",
		strategyName, marketID, []string{string(types.PositionOpen), string(types.PositionPartial)})
	if tokenType != "" {
		q = q.Where("token_type = ?", string(tokenType))
	}

	var row db.PositionRow
	err := q.First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, err
	}

	pos := positionRowToDomain(row)
	m.mu.Lock()
	m.positions[key] = &pos
	m.mu.Unlock()
	return pos, true, nil
}

// GetOpenPositions returns every OPEN position for a strategy (PARTIAL
// positions are excluded; they count as deployed, not deployable).
func (m *Manager) GetOpenPositions(strategyName string) ([]types.Position, error) {
	var rows []db.PositionRow
	if err := m.gdb.Where("strategy_name = ? AND status = ?", strategyName, string(types.PositionOpen)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, len(rows))
	for i, r := range rows {
		out[i] = positionRowToDomain(r)
	}
	return out, nil
}

// GetPositionsForMarket returns every strategy's OPEN position on a market.
func (m *Manager) GetPositionsForMarket(marketID int64) ([]types.Position, error) {
	var rows []db.PositionRow
	if err := m.gdb.Where("market_id = ? AND status = ?", marketID, string(types.PositionOpen)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Position, len(rows))
	for i, r := range rows {
		out[i] = positionRowToDomain(r)
	}
	return out, nil
}

// PositionCount counts a strategy's OPEN positions, for MaxPositions checks.
func (m *Manager) PositionCount(strategyName string) (int, error) {
	var count int64
	err := m.gdb.Model(&db.PositionRow{}).
		Where("strategy_name = ? AND status = ?", strategyName, string(types.PositionOpen)).
		Count(&count).Error
	return int(count), err
}

// ————————————————————————————————————————————————————————————————————————
// Spread queries
// ————————————————————————————————————————————————————————————————————————

// GetSpread returns the strategy's OPEN spread on a market, if any.
func (m *Manager) GetSpread(strategyName string, marketID int64) (types.Spread, bool, error) {
	key := marketStateKey{strategyName, marketID}

	m.mu.RLock()
	if cached, ok := m.spreads[key]; ok {
		defer m.mu.RUnlock()
		return *cached, true, nil
	}
	m.mu.RUnlock()

	var row db.SpreadRow
	err := m.gdb.Where("strategy_name = ? AND market_id = ? AND status = ?",
		strategyName, marketID, string(types.PositionOpen)).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.Spread{}, false, nil
	}
	if err != nil {
		return types.Spread{}, false, err
	}

	spread := spreadRowToDomain(row)
	m.mu.Lock()
	m.spreads[key] = &spread
	m.mu.Unlock()
	return spread, true, nil
}

// GetOpenSpreads returns every OPEN spread for a strategy.
func (m *Manager) GetOpenSpreads(strategyName string) ([]types.Spread, error) {
	var rows []db.SpreadRow
	if err := m.gdb.Where("strategy_name = ? AND status = ?", strategyName, string(types.PositionOpen)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Spread, len(rows))
	for i, r := range rows {
		out[i] = spreadRowToDomain(r)
	}
	return out, nil
}

// ————————————————————————————————————————————————————————————————————————
// Strategy capital state
// ————————————————————————————————————————————————————————————————————————

// GetStrategyState returns a strategy's capital ledger row, creating it
// with the default $400 allocation if it doesn't exist yet.
func (m *Manager) GetStrategyState(strategyName string) (types.StrategyCapital, error) {
	m.mu.RLock()
	if cached, ok := m.strategyState[strategyName]; ok {
		defer m.mu.RUnlock()
		return *cached, nil
	}
	m.mu.RUnlock()

	var row db.StrategyCapitalRow
	err := m.gdb.Where("strategy_name = ?", strategyName).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = db.StrategyCapitalRow{
			StrategyName: strategyName,
			Allocated:    decimal.NewFromInt(400),
			Available:    decimal.NewFromInt(400),
			Active:       true,
		}
		if err := m.gdb.Create(&row).Error; err != nil {
			return types.StrategyCapital{}, err
		}
	} else if err != nil {
		return types.StrategyCapital{}, err
	}

	cap := capitalRowToDomain(row)
	m.mu.Lock()
	m.strategyState[strategyName] = &cap
	m.mu.Unlock()
	return cap, nil
}

// HasCapacity reports whether a strategy's available capital covers sizeUSD.
func (m *Manager) HasCapacity(strategyName string, sizeUSD decimal.Decimal) (bool, error) {
	state, err := m.GetStrategyState(strategyName)
	if err != nil {
		return false, err
	}
	return state.Available.GreaterThanOrEqual(sizeUSD), nil
}

// ————————————————————————————————————————————————————————————————————————
// Per-market strategy state (multi-stage strategies)
// ————————————————————————————————————————————————————————————————————————

// GetMarketState returns a strategy's per-market stage tracker, creating it
// with stage="WAITING" if it doesn't exist yet.
func (m *Manager) GetMarketState(strategyName string, marketID int64) (types.StrategyMarketState, error) {
	key := marketStateKey{strategyName, marketID}

	m.mu.RLock()
	if cached, ok := m.marketState[key]; ok {
		defer m.mu.RUnlock()
		return *cached, nil
	}
	m.mu.RUnlock()

	var row db.StrategyMarketStateRow
	err := m.gdb.Where("strategy_name = ? AND market_id = ?", strategyName, marketID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = db.StrategyMarketStateRow{
			StrategyName: strategyName,
			MarketID:     marketID,
			Stage:        "WAITING",
			Active:       true,
			UpdatedAt:    time.Now(),
		}
		if err := m.gdb.Create(&row).Error; err != nil {
			return types.StrategyMarketState{}, err
		}
	} else if err != nil {
		return types.StrategyMarketState{}, err
	}

	ms := marketStateRowToDomain(row)
	m.mu.Lock()
	m.marketState[key] = &ms
	m.mu.Unlock()
	return ms, nil
}

// SaveMarketState upserts a strategy's per-market state and refreshes the
// cache with the saved value.
func (m *Manager) SaveMarketState(ms types.StrategyMarketState) error {
	row, err := marketStateDomainToRow(ms)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now()

	err = m.gdb.Where("strategy_name = ? AND market_id = ?", ms.StrategyName, ms.MarketID).
		Assign(row).FirstOrCreate(&db.StrategyMarketStateRow{}).Error
	if err != nil {
		return err
	}

	key := marketStateKey{ms.StrategyName, ms.MarketID}
	saved := ms
	saved.UpdatedAt = row.UpdatedAt
	m.mu.Lock()
	m.marketState[key] = &saved
	m.mu.Unlock()
	return nil
}

// GetActiveMarketStates returns every active per-market state for a strategy.
func (m *Manager) GetActiveMarketStates(strategyName string) ([]types.StrategyMarketState, error) {
	var rows []db.StrategyMarketStateRow
	if err := m.gdb.Where("strategy_name = ? AND active = ?", strategyName, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.StrategyMarketState, len(rows))
	for i, r := range rows {
		out[i] = marketStateRowToDomain(r)
	}
	return out, nil
}

// DeactivateMarketState marks a per-market state inactive (match resolved)
// and drops it from the cache.
func (m *Manager) DeactivateMarketState(strategyName string, marketID int64) error {
	err := m.gdb.Model(&db.StrategyMarketStateRow{}).
		Where("strategy_name = ? AND market_id = ?", strategyName, marketID).
		Update("Active", false).Error
	if err != nil {
		return err
	}

	key := marketStateKey{strategyName, marketID}
	m.mu.Lock()
	delete(m.marketState, key)
	m.mu.Unlock()
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Cache management — the invalidate-before-commit contract
// ————————————————————————————————————————————————————————————————————————

// ClearCache drops every cached entry.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[positionKey]*types.Position)
	m.spreads = make(map[marketStateKey]*types.Spread)
	m.strategyState = make(map[string]*types.StrategyCapital)
	m.marketState = make(map[marketStateKey]*types.StrategyMarketState)
}

// InvalidatePosition drops the cached position(s) for (strategy, market) —
// all three keys (unfiltered, YES, NO), since a row change can affect any
// of them. Callers in internal/position call this before committing the
// transaction that changed the row.
func (m *Manager) InvalidatePosition(strategyName string, marketID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tt := range []types.TokenSide{"", types.TokenYes, types.TokenNo} {
		delete(m.positions, positionKey{strategyName, marketID, tt})
	}
}

// InvalidateSpread drops the cached spread for (strategy, market).
func (m *Manager) InvalidateSpread(strategyName string, marketID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spreads, marketStateKey{strategyName, marketID})
}

// InvalidateStrategyState drops the cached capital row for a strategy.
func (m *Manager) InvalidateStrategyState(strategyName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strategyState, strategyName)
}

// ————————————————————————————————————————————————————————————————————————
// Row <-> domain conversion
// ————————————————————————————————————————————————————————————————————————

func positionRowToDomain(row db.PositionRow) types.Position {
	return types.Position{
		ID:              row.ID,
		StrategyName:    row.StrategyName,
		MarketID:        row.MarketID,
		ConditionID:     row.ConditionID,
		TokenID:         row.TokenID,
		TokenType:       types.TokenSide(row.TokenType),
		Side:            types.Side(row.Side),
		InitialShares:   row.InitialShares,
		RemainingShares: row.RemainingShares,
		AvgEntryPrice:   row.AvgEntryPrice,
		CostBasis:       row.CostBasis,
		CurrentPrice:    row.CurrentPrice,
		UnrealizedPnL:   row.UnrealizedPnL,
		RealizedPnL:     row.RealizedPnL,
		SpreadID:        row.SpreadID,
		Format:          row.Format,
		GameStart:       row.GameStart,
		Status:          types.PositionStatus(row.Status),
		CloseReason:     row.CloseReason,
		OpenedAt:        row.OpenedAt,
		ClosedAt:        row.ClosedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func spreadRowToDomain(row db.SpreadRow) types.Spread {
	return types.Spread{
		ID:            row.ID,
		StrategyName:  row.StrategyName,
		MarketID:      row.MarketID,
		ConditionID:   row.ConditionID,
		SpreadType:    types.SpreadType(row.SpreadType),
		YesPositionID: row.YesPositionID,
		NoPositionID:  row.NoPositionID,
		CostBasis:     row.CostBasis,
		RealizedPnL:   row.RealizedPnL,
		UnrealizedPnL: row.UnrealizedPnL,
		EntryYesMid:   row.EntryYesMid,
		Status:        types.PositionStatus(row.Status),
		OpenedAt:      row.OpenedAt,
		ClosedAt:      row.ClosedAt,
	}
}

func capitalRowToDomain(row db.StrategyCapitalRow) types.StrategyCapital {
	return types.StrategyCapital{
		StrategyName:  row.StrategyName,
		Allocated:     row.Allocated,
		Available:     row.Available,
		RealizedPnL:   row.RealizedPnL,
		UnrealizedPnL: row.UnrealizedPnL,
		TradeCount:    row.TradeCount,
		WinCount:      row.WinCount,
		LossCount:     row.LossCount,
		HighWaterMark: row.HighWaterMark,
		MaxDrawdown:   row.MaxDrawdown,
		Active:        row.Active,
		LastTradeAt:   row.LastTradeAt,
	}
}

func marketStateRowToDomain(row db.StrategyMarketStateRow) types.StrategyMarketState {
	ms := types.StrategyMarketState{
		StrategyName: row.StrategyName,
		MarketID:     row.MarketID,
		Stage:        row.Stage,
		EntryPrice:   row.EntryPrice,
		SwitchPrice:  row.SwitchPrice,
		ExitPrice:    row.ExitPrice,
		HighWater:    row.HighWater,
		LowWater:     row.LowWater,
		Active:       row.Active,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.CountersJSON != "" {
		_ = json.Unmarshal([]byte(row.CountersJSON), &ms.Counters)
	}
	if row.PayloadJSON != "" {
		_ = json.Unmarshal([]byte(row.PayloadJSON), &ms.Payload)
	}
	return ms
}

func marketStateDomainToRow(ms types.StrategyMarketState) (db.StrategyMarketStateRow, error) {
	row := db.StrategyMarketStateRow{
		StrategyName: ms.StrategyName,
		MarketID:     ms.MarketID,
		Stage:        ms.Stage,
		EntryPrice:   ms.EntryPrice,
		SwitchPrice:  ms.SwitchPrice,
		ExitPrice:    ms.ExitPrice,
		HighWater:    ms.HighWater,
		LowWater:     ms.LowWater,
		Active:       ms.Active,
	}
	if len(ms.Counters) > 0 {
		b, err := json.Marshal(ms.Counters)
		if err != nil {
			return row, err
		}
		row.CountersJSON = string(b)
	}
	if len(ms.Payload) > 0 {
		b, err := json.Marshal(ms.Payload)
		if err != nil {
			return row, err
		}
		row.PayloadJSON = string(b)
	}
	return row, nil
}
