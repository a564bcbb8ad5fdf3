// Package position implements the position/leg/spread ledger: opening,
// adding to, partially closing, and fully closing positions and spreads,
// each inside one database transaction alongside the matching capital
// ledger entry.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"polymarket-engine/internal/capital"
	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

// ErrInvariant marks a fatal invariant violation — e.g. a close_pct outside
// (0, 1], or a position/spread ID that doesn't exist. These are programming
// errors in the caller, not runtime conditions a strategy should retry.
var ErrInvariant = errors.New("position: invariant violation")

// ErrDuplicatePosition is returned by OpenPosition/OpenSpread when an OPEN
// or PARTIAL position already exists for the same (strategy, market, token)
// triple. Unlike ErrInvariant this is an expected race outcome — the
// validator normally filters duplicates, but two near-simultaneous ticks can
// both pass it — so callers drop the order rather than quarantine.
var ErrDuplicatePosition = errors.New("position: open position already exists")

// closeZeroThreshold is the "effectively zero" remainder below which a
// partial close is treated as a full close.
var closeZeroThreshold = decimal.NewFromFloat(0.0001)

// CacheInvalidator is the subset of internal/state.Manager the position
// store needs. Invalidation must happen before the transaction commits —
// invalidating after would leave a window where a concurrent read caches the
// pre-commit row and keeps serving it past the commit.
type CacheInvalidator interface {
	InvalidatePosition(strategyName string, marketID int64)
	InvalidateStrategyState(strategyName string)
	InvalidateSpread(strategyName string, marketID int64)
}

// Store is the position/leg/spread ledger. One Store is shared by every
// strategy and the streaming executor.
type Store struct {
	gdb    *gorm.DB
	ledger *capital.Ledger
	state  CacheInvalidator
}

// New creates a position store over the given database connection, capital
// ledger, and cache invalidator.
func New(gdb *gorm.DB, ledger *capital.Ledger, state CacheInvalidator) *Store {
	return &Store{gdb: gdb, ledger: ledger, state: state}
}

// OpenPosition creates a new OPEN position and its ENTRY leg, reserving
// cost_usd = shares*price from the strategy's capital ledger.
func (s *Store) OpenPosition(
	strategyName string,
	marketID int64,
	conditionID, tokenID string,
	tokenType types.TokenSide,
	shares, price decimal.Decimal,
	tick types.Tick,
) (*types.Position, error) {
	costUSD := shares.Mul(price)

	var result types.Position
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		if err := s.checkUnique(tx, strategyName, marketID, tokenID); err != nil {
			return err
		}

		row := db.PositionRow{
			StrategyName:    strategyName,
			MarketID:        marketID,
			ConditionID:     conditionID,
			TokenID:         tokenID,
			TokenType:       string(tokenType),
			Side:            string(types.BUY),
			InitialShares:   shares,
			RemainingShares: shares,
			AvgEntryPrice:   price,
			CostBasis:       costUSD,
			CurrentPrice:    price,
			Format:          tick.Market.Format,
			GameStart:       tick.Market.GameStart,
			Status:          string(types.PositionOpen),
			OpenedAt:        time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create position: %w", err)
		}

		triggerPrice := price
		if yp, ok := tick.YesPrice(); ok {
			triggerPrice = yp
		}
		leg := db.PositionLegRow{
			PositionID:    row.ID,
			LegType:       string(types.LegEntry),
			SharesDelta:   shares,
			Price:         price,
			CostDelta:     costUSD,
			TriggerPrice:  triggerPrice,
			TriggerReason: "initial_entry",
			CreatedAt:     time.Now(),
		}
		if err := tx.Create(&leg).Error; err != nil {
			return fmt.Errorf("create entry leg: %w", err)
		}

		if err := s.ledger.Reserve(tx, strategyName, costUSD); err != nil {
			return err
		}

		s.state.InvalidatePosition(strategyName, marketID)
		s.state.InvalidateStrategyState(strategyName)

		result = rowToPosition(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// checkUnique enforces the single-open-position-per-(strategy, market,
// token) constraint inside the caller's transaction.
func (s *Store) checkUnique(tx *gorm.DB, strategyName string, marketID int64, tokenID string) error {
	var count int64
	err := tx.Model(&db.PositionRow{}).
		Where("strategy_name = ? AND market_id = ? AND token_id = ? AND status IN ?",
			strategyName, marketID, tokenID,
			[]string{string(types.PositionOpen), string(types.PositionPartial)}).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("check open position uniqueness: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s/%d/%s", ErrDuplicatePosition, strategyName, marketID, tokenID)
	}
	return nil
}

// ClosePosition fully closes an OPEN or PARTIAL position at price, crediting
// realized P&L back to the strategy's capital ledger and, if the position
// belongs to a spread, closing the spread when both legs are now closed.
func (s *Store) ClosePosition(positionID int64, price decimal.Decimal, reason string) (*types.Position, error) {
	var result types.Position
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		var row db.PositionRow
		if err := tx.First(&row, positionID).Error; err != nil {
			return fmt.Errorf("%w: position %d not found: %v", ErrInvariant, positionID, err)
		}
		if row.Status == string(types.PositionClosed) {
			return fmt.Errorf("%w: position %d already closed", ErrInvariant, positionID)
		}

		exitValue := row.RemainingShares.Mul(price)
		costBasisRemaining := row.RemainingShares.Mul(row.AvgEntryPrice)
		realizedPnL := exitValue.Sub(costBasisRemaining)

		leg := db.PositionLegRow{
			PositionID:     positionID,
			LegType:        string(types.LegFullExit),
			SharesDelta:    row.RemainingShares.Neg(),
			Price:          price,
			CostDelta:      exitValue,
			RealizedPnL:    realizedPnL,
			HasRealizedPnL: true,
			TriggerPrice:   price,
			TriggerReason:  reason,
			CreatedAt:      time.Now(),
		}
		if err := tx.Create(&leg).Error; err != nil {
			return fmt.Errorf("create full-exit leg: %w", err)
		}

		row.RemainingShares = decimal.Zero
		row.CostBasis = decimal.Zero
		row.RealizedPnL = row.RealizedPnL.Add(realizedPnL)
		row.Status = string(types.PositionClosed)
		row.CloseReason = reason
		row.ClosedAt = time.Now()
		row.UpdatedAt = time.Now()
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save closed position: %w", err)
		}

		if err := s.ledger.Credit(tx, row.StrategyName, exitValue, realizedPnL); err != nil {
			return err
		}

		s.state.InvalidatePosition(row.StrategyName, row.MarketID)
		s.state.InvalidateStrategyState(row.StrategyName)

		if row.SpreadID != nil {
			if err := s.maybeCloseSpread(tx, *row.SpreadID); err != nil {
				return err
			}
		}

		result = rowToPosition(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PartialClose closes closePct (0,1] of a position's remaining shares,
// crediting the corresponding realized P&L. A remainder below
// closeZeroThreshold is treated as a full close.
func (s *Store) PartialClose(positionID int64, closePct, price decimal.Decimal, reason string) (*types.Position, *types.PositionLeg, error) {
	if closePct.LessThanOrEqual(decimal.Zero) || closePct.GreaterThan(decimal.NewFromInt(1)) {
		return nil, nil, fmt.Errorf("%w: close_pct must be in (0, 1], got %s", ErrInvariant, closePct)
	}

	var resultPos types.Position
	var resultLeg types.PositionLeg
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		var row db.PositionRow
		if err := tx.First(&row, positionID).Error; err != nil {
			return fmt.Errorf("%w: position %d not found: %v", ErrInvariant, positionID, err)
		}
		if row.Status == string(types.PositionClosed) {
			return fmt.Errorf("%w: position %d already closed", ErrInvariant, positionID)
		}

		sharesToClose := row.RemainingShares.Mul(closePct)
		exitValue := sharesToClose.Mul(price)
		costBasisPortion := sharesToClose.Mul(row.AvgEntryPrice)
		realizedPnL := exitValue.Sub(costBasisPortion)

		leg := db.PositionLegRow{
			PositionID:     positionID,
			LegType:        string(types.LegPartialExit),
			SharesDelta:    sharesToClose.Neg(),
			Price:          price,
			CostDelta:      exitValue,
			RealizedPnL:    realizedPnL,
			HasRealizedPnL: true,
			TriggerPrice:   price,
			TriggerReason:  reason,
			CreatedAt:      time.Now(),
		}
		if err := tx.Create(&leg).Error; err != nil {
			return fmt.Errorf("create partial-exit leg: %w", err)
		}

		newRemaining := row.RemainingShares.Sub(sharesToClose)
		row.RemainingShares = newRemaining
		row.RealizedPnL = row.RealizedPnL.Add(realizedPnL)

		if newRemaining.LessThanOrEqual(closeZeroThreshold) {
			row.Status = string(types.PositionClosed)
			row.RemainingShares = decimal.Zero
			row.CostBasis = decimal.Zero
			row.ClosedAt = time.Now()
			row.CloseReason = reason
		} else {
			row.Status = string(types.PositionPartial)
			// The remainder's cost basis scales with the shares kept.
			row.CostBasis = newRemaining.Mul(row.AvgEntryPrice)
		}
		row.UpdatedAt = time.Now()
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save partially-closed position: %w", err)
		}

		if err := s.ledger.Credit(tx, row.StrategyName, exitValue, realizedPnL); err != nil {
			return err
		}

		s.state.InvalidatePosition(row.StrategyName, row.MarketID)
		s.state.InvalidateStrategyState(row.StrategyName)
		if row.SpreadID != nil {
			s.state.InvalidateSpread(row.StrategyName, row.MarketID)
			if row.Status == string(types.PositionClosed) {
				if err := s.maybeCloseSpread(tx, *row.SpreadID); err != nil {
					return err
				}
			}
		}

		resultPos = rowToPosition(row)
		resultLeg = rowToLeg(leg)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &resultPos, &resultLeg, nil
}

// AddToPosition adds shares to an existing OPEN/PARTIAL position, averaging
// the entry price, and reserves the additional cost.
func (s *Store) AddToPosition(positionID int64, shares, price decimal.Decimal) (*types.Position, *types.PositionLeg, error) {
	var resultPos types.Position
	var resultLeg types.PositionLeg
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		var row db.PositionRow
		if err := tx.First(&row, positionID).Error; err != nil {
			return fmt.Errorf("%w: position %d not found: %v", ErrInvariant, positionID, err)
		}
		if row.Status == string(types.PositionClosed) {
			return fmt.Errorf("%w: position %d is closed", ErrInvariant, positionID)
		}

		costUSD := shares.Mul(price)
		oldShares := row.RemainingShares
		oldAvg := row.AvgEntryPrice
		newShares := oldShares.Add(shares)
		newAvg := oldShares.Mul(oldAvg).Add(shares.Mul(price)).Div(newShares)

		leg := db.PositionLegRow{
			PositionID:    positionID,
			LegType:       string(types.LegAdd),
			SharesDelta:   shares,
			Price:         price,
			CostDelta:     costUSD,
			TriggerReason: "position_add",
			CreatedAt:     time.Now(),
		}
		if err := tx.Create(&leg).Error; err != nil {
			return fmt.Errorf("create add leg: %w", err)
		}

		row.RemainingShares = newShares
		row.InitialShares = row.InitialShares.Add(shares)
		row.AvgEntryPrice = newAvg
		row.CostBasis = row.CostBasis.Add(costUSD)
		row.UpdatedAt = time.Now()
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("save added-to position: %w", err)
		}

		if err := s.ledger.Reserve(tx, row.StrategyName, costUSD); err != nil {
			return err
		}

		s.state.InvalidatePosition(row.StrategyName, row.MarketID)
		s.state.InvalidateStrategyState(row.StrategyName)

		resultPos = rowToPosition(row)
		resultLeg = rowToLeg(leg)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &resultPos, &resultLeg, nil
}

// OpenSpread opens linked YES and NO positions atomically within one
// transaction, reserving their combined cost as a single ledger entry.
func (s *Store) OpenSpread(
	strategyName string,
	marketID int64,
	conditionID, yesTokenID, noTokenID string,
	yesShares, yesPrice, noShares, noPrice decimal.Decimal,
	tick types.Tick,
	spreadType types.SpreadType,
) (*types.Spread, error) {
	totalCost := yesShares.Mul(yesPrice).Add(noShares.Mul(noPrice))

	entryMid := yesPrice
	if ym, ok := tick.YesPrice(); ok {
		entryMid = ym
	}

	var result types.Spread
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		if err := s.checkUnique(tx, strategyName, marketID, yesTokenID); err != nil {
			return err
		}
		if err := s.checkUnique(tx, strategyName, marketID, noTokenID); err != nil {
			return err
		}

		spreadRow := db.SpreadRow{
			StrategyName: strategyName,
			MarketID:     marketID,
			ConditionID:  conditionID,
			SpreadType:   string(spreadType),
			CostBasis:    totalCost,
			EntryYesMid:  entryMid,
			Status:       string(types.PositionOpen),
			OpenedAt:     time.Now(),
		}
		if err := tx.Create(&spreadRow).Error; err != nil {
			return fmt.Errorf("create spread: %w", err)
		}

		yesRow := db.PositionRow{
			StrategyName:    strategyName,
			MarketID:        marketID,
			ConditionID:     conditionID,
			TokenID:         yesTokenID,
			TokenType:       string(types.TokenYes),
			Side:            string(types.BUY),
			InitialShares:   yesShares,
			RemainingShares: yesShares,
			AvgEntryPrice:   yesPrice,
			CostBasis:       yesShares.Mul(yesPrice),
			CurrentPrice:    yesPrice,
			SpreadID:        &spreadRow.ID,
			Format:          tick.Market.Format,
			GameStart:       tick.Market.GameStart,
			Status:          string(types.PositionOpen),
			OpenedAt:        time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := tx.Create(&yesRow).Error; err != nil {
			return fmt.Errorf("create yes leg position: %w", err)
		}
		if err := tx.Create(&db.PositionLegRow{
			PositionID:    yesRow.ID,
			LegType:       string(types.LegEntry),
			SharesDelta:   yesShares,
			Price:         yesPrice,
			CostDelta:     yesRow.CostBasis,
			TriggerReason: "spread_entry",
			CreatedAt:     time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("create yes entry leg: %w", err)
		}

		noRow := db.PositionRow{
			StrategyName:    strategyName,
			MarketID:        marketID,
			ConditionID:     conditionID,
			TokenID:         noTokenID,
			TokenType:       string(types.TokenNo),
			Side:            string(types.BUY),
			InitialShares:   noShares,
			RemainingShares: noShares,
			AvgEntryPrice:   noPrice,
			CostBasis:       noShares.Mul(noPrice),
			CurrentPrice:    noPrice,
			SpreadID:        &spreadRow.ID,
			Format:          tick.Market.Format,
			GameStart:       tick.Market.GameStart,
			Status:          string(types.PositionOpen),
			OpenedAt:        time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := tx.Create(&noRow).Error; err != nil {
			return fmt.Errorf("create no leg position: %w", err)
		}
		if err := tx.Create(&db.PositionLegRow{
			PositionID:    noRow.ID,
			LegType:       string(types.LegEntry),
			SharesDelta:   noShares,
			Price:         noPrice,
			CostDelta:     noRow.CostBasis,
			TriggerReason: "spread_entry",
			CreatedAt:     time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("create no entry leg: %w", err)
		}

		spreadRow.YesPositionID = yesRow.ID
		spreadRow.NoPositionID = noRow.ID
		if err := tx.Save(&spreadRow).Error; err != nil {
			return fmt.Errorf("save spread with leg ids: %w", err)
		}

		if err := s.ledger.Reserve(tx, strategyName, totalCost); err != nil {
			return err
		}

		s.state.InvalidatePosition(strategyName, marketID)
		s.state.InvalidateSpread(strategyName, marketID)
		s.state.InvalidateStrategyState(strategyName)

		result = rowToSpread(spreadRow)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseSpread closes both legs of a spread (skipping any leg already
// closed) and marks the spread closed with the sum of both legs' realized
// P&L.
func (s *Store) CloseSpread(spreadID int64, yesPrice, noPrice decimal.Decimal, reason string) (*types.Spread, error) {
	var result types.Spread
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		var spreadRow db.SpreadRow
		if err := tx.First(&spreadRow, spreadID).Error; err != nil {
			return fmt.Errorf("%w: spread %d not found: %v", ErrInvariant, spreadID, err)
		}

		if spreadRow.YesPositionID != 0 {
			if err := s.closeLegIfOpen(tx, spreadRow.YesPositionID, yesPrice, reason); err != nil {
				return err
			}
		}
		if spreadRow.NoPositionID != 0 {
			if err := s.closeLegIfOpen(tx, spreadRow.NoPositionID, noPrice, reason); err != nil {
				return err
			}
		}

		totalPnL := decimal.Zero
		if spreadRow.YesPositionID != 0 {
			var yesPos db.PositionRow
			if err := tx.First(&yesPos, spreadRow.YesPositionID).Error; err == nil {
				totalPnL = totalPnL.Add(yesPos.RealizedPnL)
			}
		}
		if spreadRow.NoPositionID != 0 {
			var noPos db.PositionRow
			if err := tx.First(&noPos, spreadRow.NoPositionID).Error; err == nil {
				totalPnL = totalPnL.Add(noPos.RealizedPnL)
			}
		}

		spreadRow.Status = string(types.PositionClosed)
		spreadRow.RealizedPnL = totalPnL
		spreadRow.ClosedAt = time.Now()
		if err := tx.Save(&spreadRow).Error; err != nil {
			return fmt.Errorf("save closed spread: %w", err)
		}

		s.state.InvalidateSpread(spreadRow.StrategyName, spreadRow.MarketID)

		result = rowToSpread(spreadRow)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// closeLegIfOpen closes one spread leg in-place (within the caller's
// transaction) if it is still OPEN or PARTIAL, replicating close_spread's
// inline close_position calls without re-entering a fresh transaction.
func (s *Store) closeLegIfOpen(tx *gorm.DB, positionID int64, price decimal.Decimal, reason string) error {
	var row db.PositionRow
	if err := tx.First(&row, positionID).Error; err != nil {
		return nil // leg position missing; nothing to close
	}
	if row.Status != string(types.PositionOpen) && row.Status != string(types.PositionPartial) {
		return nil
	}

	exitValue := row.RemainingShares.Mul(price)
	costBasisRemaining := row.RemainingShares.Mul(row.AvgEntryPrice)
	realizedPnL := exitValue.Sub(costBasisRemaining)

	leg := db.PositionLegRow{
		PositionID:     positionID,
		LegType:        string(types.LegFullExit),
		SharesDelta:    row.RemainingShares.Neg(),
		Price:          price,
		CostDelta:      exitValue,
		RealizedPnL:    realizedPnL,
		HasRealizedPnL: true,
		TriggerPrice:   price,
		TriggerReason:  reason,
		CreatedAt:      time.Now(),
	}
	if err := tx.Create(&leg).Error; err != nil {
		return fmt.Errorf("create spread-leg full-exit leg: %w", err)
	}

	row.RemainingShares = decimal.Zero
	row.CostBasis = decimal.Zero
	row.RealizedPnL = row.RealizedPnL.Add(realizedPnL)
	row.Status = string(types.PositionClosed)
	row.CloseReason = reason
	row.ClosedAt = time.Now()
	row.UpdatedAt = time.Now()
	if err := tx.Save(&row).Error; err != nil {
		return fmt.Errorf("save closed spread leg: %w", err)
	}

	return s.ledger.Credit(tx, row.StrategyName, exitValue, realizedPnL)
}

// maybeCloseSpread closes a spread once both its legs are CLOSED.
func (s *Store) maybeCloseSpread(tx *gorm.DB, spreadID int64) error {
	var spreadRow db.SpreadRow
	if err := tx.First(&spreadRow, spreadID).Error; err != nil {
		return nil
	}
	if spreadRow.Status == string(types.PositionClosed) {
		return nil
	}

	var yesPos, noPos db.PositionRow
	yesClosed, noClosed := true, true
	if spreadRow.YesPositionID != 0 {
		if err := tx.First(&yesPos, spreadRow.YesPositionID).Error; err == nil {
			yesClosed = yesPos.Status == string(types.PositionClosed)
		}
	}
	if spreadRow.NoPositionID != 0 {
		if err := tx.First(&noPos, spreadRow.NoPositionID).Error; err == nil {
			noClosed = noPos.Status == string(types.PositionClosed)
		}
	}
	if !yesClosed || !noClosed {
		return nil
	}

	spreadRow.Status = string(types.PositionClosed)
	spreadRow.RealizedPnL = yesPos.RealizedPnL.Add(noPos.RealizedPnL)
	spreadRow.ClosedAt = time.Now()
	if err := tx.Save(&spreadRow).Error; err != nil {
		return fmt.Errorf("save auto-closed spread: %w", err)
	}
	s.state.InvalidateSpread(spreadRow.StrategyName, spreadRow.MarketID)
	return nil
}

// UpdatePrices marks current_price/unrealized_pnl on every OPEN/PARTIAL
// position on tick.Market, and recomputes each affected spread's combined
// unrealized P&L.
func (s *Store) UpdatePrices(tick types.Tick) (int, error) {
	yesPrice, hasYes := tick.YesPrice()
	noPrice, hasNo := tick.NoPrice()

	count := 0
	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		var rows []db.PositionRow
		if err := tx.Where("market_id = ? AND status IN ?", tick.Market.ID,
			[]string{string(types.PositionOpen), string(types.PositionPartial)}).Find(&rows).Error; err != nil {
			return fmt.Errorf("load open positions: %w", err)
		}

		touchedSpreads := map[int64]bool{}
		for i := range rows {
			row := &rows[i]
			var price decimal.Decimal
			var ok bool
			if row.TokenType == string(types.TokenYes) {
				price, ok = yesPrice, hasYes
			} else {
				price, ok = noPrice, hasNo
			}
			if !ok {
				continue
			}
			row.CurrentPrice = price
			currentValue := row.RemainingShares.Mul(price)
			costBasis := row.RemainingShares.Mul(row.AvgEntryPrice)
			row.UnrealizedPnL = currentValue.Sub(costBasis)
			row.UpdatedAt = time.Now()
			if err := tx.Save(row).Error; err != nil {
				return fmt.Errorf("save priced position %d: %w", row.ID, err)
			}
			count++
			if row.SpreadID != nil {
				touchedSpreads[*row.SpreadID] = true
			}
		}

		for spreadID := range touchedSpreads {
			var spreadRow db.SpreadRow
			if err := tx.First(&spreadRow, spreadID).Error; err != nil {
				continue
			}
			total := decimal.Zero
			if spreadRow.YesPositionID != 0 {
				var p db.PositionRow
				if err := tx.First(&p, spreadRow.YesPositionID).Error; err == nil {
					total = total.Add(p.UnrealizedPnL)
				}
			}
			if spreadRow.NoPositionID != 0 {
				var p db.PositionRow
				if err := tx.First(&p, spreadRow.NoPositionID).Error; err == nil {
					total = total.Add(p.UnrealizedPnL)
				}
			}
			spreadRow.UnrealizedPnL = total
			if err := tx.Save(&spreadRow).Error; err != nil {
				return fmt.Errorf("save spread unrealized pnl %d: %w", spreadID, err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// resolutionEpsilon is how close current_price must be to 0 or 1 for a
// position to be considered market-resolved.
var resolutionEpsilon = decimal.NewFromFloat(0.002)

// CleanupResolvedPositions force-closes every OPEN/PARTIAL position whose
// current_price sits within resolutionEpsilon of 0 or 1, crediting capital
// at the pinned price and labelling the close reason market_resolved:<side>.
func (s *Store) CleanupResolvedPositions() (int, error) {
	var rows []db.PositionRow
	if err := s.gdb.Where("status IN ?",
		[]string{string(types.PositionOpen), string(types.PositionPartial)}).Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("load open positions: %w", err)
	}

	closed := 0
	for _, row := range rows {
		settlePrice, winner, resolved := resolvedSettlement(row.CurrentPrice, types.TokenSide(row.TokenType))
		if !resolved {
			continue
		}
		reason := fmt.Sprintf("market_resolved:%s", winner)
		if _, err := s.ClosePosition(row.ID, settlePrice, reason); err != nil {
			return closed, fmt.Errorf("cleanup position %d: %w", row.ID, err)
		}
		closed++
	}
	return closed, nil
}

// resolvedSettlement reports whether a position's own-token price sits
// within resolutionEpsilon of 0 or 1 — i.e. the market has resolved — and if
// so returns the pinned settlement price (1 or 0) and the winning side.
func resolvedSettlement(price decimal.Decimal, tokenType types.TokenSide) (decimal.Decimal, string, bool) {
	other := "NO"
	if tokenType == types.TokenNo {
		other = "YES"
	}
	if price.GreaterThanOrEqual(decimal.NewFromInt(1).Sub(resolutionEpsilon)) {
		return decimal.NewFromInt(1), string(tokenType), true
	}
	if price.LessThanOrEqual(resolutionEpsilon) {
		return decimal.Zero, other, true
	}
	return decimal.Zero, "", false
}

func rowToPosition(row db.PositionRow) types.Position {
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

func rowToLeg(row db.PositionLegRow) types.PositionLeg {
	return types.PositionLeg{
		ID:             row.ID,
		PositionID:     row.PositionID,
		LegType:        types.LegType(row.LegType),
		SharesDelta:    row.SharesDelta,
		Price:          row.Price,
		CostDelta:      row.CostDelta,
		RealizedPnL:    row.RealizedPnL,
		HasRealizedPnL: row.HasRealizedPnL,
		TriggerPrice:   row.TriggerPrice,
		TriggerReason:  row.TriggerReason,
		CreatedAt:      row.CreatedAt,
	}
}

func rowToSpread(row db.SpreadRow) types.Spread {
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
