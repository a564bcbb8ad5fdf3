// Package capital implements the per-strategy capital ledger: a
// reserve/credit bracket around every trade. Each strategy row is guarded
// by a pessimistic in-process lock on top of the row-level `SELECT ... FOR
// UPDATE` — a lost update here breaks capital conservation.
package capital

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

// Ledger tracks each strategy's allocated/available/realized capital,
// persisted via gorm. Every mutating method takes that strategy's lock for
// its duration — the one contended resource in the system.
type Ledger struct {
	gdb *gorm.DB

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a capital ledger backed by the given database connection.
func New(gdb *gorm.DB) *Ledger {
	return &Ledger{gdb: gdb, locks: make(map[string]*sync.Mutex)}
}

func (l *Ledger) lockFor(strategyName string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[strategyName]
	if !ok {
		m = &sync.Mutex{}
		l.locks[strategyName] = m
	}
	return m
}

// defaultAllocation seeds a strategy's ledger row the first time it trades,
// the same default every other component assumes for an unseeded strategy.
var defaultAllocation = decimal.NewFromInt(400)

// EnsureStrategy seeds a ledger row with the given allocation if none
// exists yet, used by startup wiring to apply config.StrategyConfig's
// AllocatedCapital. A zero allocation falls back to defaultAllocation.
func (l *Ledger) EnsureStrategy(strategyName string, allocation decimal.Decimal) error {
	mu := l.lockFor(strategyName)
	mu.Lock()
	defer mu.Unlock()

	if allocation.IsZero() {
		allocation = defaultAllocation
	}

	var row db.StrategyCapitalRow
	err := l.gdb.First(&row, "strategy_name = ?", strategyName).Error
	if err == gorm.ErrRecordNotFound {
		row = db.StrategyCapitalRow{
			StrategyName: strategyName,
			Allocated:    allocation,
			Available:    allocation,
			Active:       true,
		}
		return l.gdb.Create(&row).Error
	}
	return err
}

// Reserve deducts amount from the strategy's available balance within tx,
// creating the row with the default allocation if it doesn't exist yet.
// Returns ErrInsufficientCapital if amount exceeds what's available.
func (l *Ledger) Reserve(tx *gorm.DB, strategyName string, amount decimal.Decimal) error {
	mu := l.lockFor(strategyName)
	mu.Lock()
	defer mu.Unlock()

	var row db.StrategyCapitalRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "strategy_name = ?", strategyName).Error
	if err == gorm.ErrRecordNotFound {
		row = db.StrategyCapitalRow{
			StrategyName: strategyName,
			Allocated:    defaultAllocation,
			Available:    defaultAllocation,
			Active:       true,
		}
	} else if err != nil {
		return err
	}

	if row.Available.LessThan(amount) {
		return fmt.Errorf("%w: strategy %s has %s available, need %s",
			ErrInsufficientCapital, strategyName, row.Available, amount)
	}

	row.Available = row.Available.Sub(amount)
	row.TradeCount++
	row.LastTradeAt = time.Now()

	return tx.Save(&row).Error
}

// Credit returns amount to the strategy's available balance and records
// realized P&L, updating win/loss counters and the high-water mark.
func (l *Ledger) Credit(tx *gorm.DB, strategyName string, amount, realizedPnL decimal.Decimal) error {
	mu := l.lockFor(strategyName)
	mu.Lock()
	defer mu.Unlock()

	var row db.StrategyCapitalRow
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "strategy_name = ?", strategyName).Error; err != nil {
		return fmt.Errorf("credit: no ledger row for strategy %s: %w", strategyName, err)
	}

	row.Available = row.Available.Add(amount)
	row.RealizedPnL = row.RealizedPnL.Add(realizedPnL)

	switch {
	case realizedPnL.IsPositive():
		row.WinCount++
	case realizedPnL.IsNegative():
		row.LossCount++
	}

	totalValue := row.Available.Add(row.UnrealizedPnL)
	if totalValue.GreaterThan(row.HighWaterMark) {
		row.HighWaterMark = totalValue
	}
	drawdown := row.HighWaterMark.Sub(totalValue)
	if drawdown.GreaterThan(row.MaxDrawdown) {
		row.MaxDrawdown = drawdown
	}

	return tx.Save(&row).Error
}

// UpdateUnrealized overwrites the strategy's cached unrealized P&L, called
// whenever a tick recomputes open-position P&L.
func (l *Ledger) UpdateUnrealized(tx *gorm.DB, strategyName string, unrealized decimal.Decimal) error {
	mu := l.lockFor(strategyName)
	mu.Lock()
	defer mu.Unlock()

	return tx.Model(&db.StrategyCapitalRow{}).
		Where("strategy_name = ?", strategyName).
		Update("UnrealizedPnL", unrealized).Error
}

// Snapshot returns the current ledger row for a strategy as a value type.
func (l *Ledger) Snapshot(strategyName string) (types.StrategyCapital, error) {
	var row db.StrategyCapitalRow
	if err := l.gdb.First(&row, "strategy_name = ?", strategyName).Error; err != nil {
		return types.StrategyCapital{}, err
	}
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
	}, nil
}

// ErrInsufficientCapital is returned by Reserve when a strategy lacks the
// available balance for the requested reservation.
var ErrInsufficientCapital = fmt.Errorf("insufficient available capital")
