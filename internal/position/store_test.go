package position

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

func TestRowToPositionRoundTrip(t *testing.T) {
	t.Parallel()

	spreadID := int64(7)
	row := db.PositionRow{
		ID:              1,
		StrategyName:    "scalp",
		MarketID:        42,
		ConditionID:     "cond1",
		TokenID:         "tok1",
		TokenType:       string(types.TokenYes),
		Side:            string(types.BUY),
		InitialShares:   decimal.NewFromInt(100),
		RemainingShares: decimal.NewFromInt(50),
		AvgEntryPrice:   decimal.NewFromFloat(0.55),
		CostBasis:       decimal.NewFromFloat(55),
		CurrentPrice:    decimal.NewFromFloat(0.6),
		UnrealizedPnL:   decimal.NewFromFloat(2.5),
		RealizedPnL:     decimal.NewFromFloat(1),
		SpreadID:        &spreadID,
		Status:          string(types.PositionPartial),
	}

	pos := rowToPosition(row)
	if pos.ID != row.ID || pos.StrategyName != row.StrategyName {
		t.Fatalf("unexpected conversion: %+v", pos)
	}
	if pos.TokenType != types.TokenYes {
		t.Errorf("TokenType = %v, want YES", pos.TokenType)
	}
	if pos.Status != types.PositionPartial {
		t.Errorf("Status = %v, want partial", pos.Status)
	}
	if pos.SpreadID == nil || *pos.SpreadID != spreadID {
		t.Errorf("SpreadID = %v, want %d", pos.SpreadID, spreadID)
	}
}

func TestRowToLegRoundTrip(t *testing.T) {
	t.Parallel()

	row := db.PositionLegRow{
		ID:             3,
		PositionID:     1,
		LegType:        string(types.LegPartialExit),
		SharesDelta:    decimal.NewFromFloat(-10),
		Price:          decimal.NewFromFloat(0.6),
		CostDelta:      decimal.NewFromFloat(6),
		RealizedPnL:    decimal.NewFromFloat(0.5),
		HasRealizedPnL: true,
		CreatedAt:      time.Now(),
	}

	leg := rowToLeg(row)
	if leg.LegType != types.LegPartialExit {
		t.Errorf("LegType = %v, want partial_exit", leg.LegType)
	}
	if !leg.HasRealizedPnL || !leg.RealizedPnL.Equal(row.RealizedPnL) {
		t.Errorf("RealizedPnL not carried through: %+v", leg)
	}
}

func TestRowToSpreadRoundTrip(t *testing.T) {
	t.Parallel()

	row := db.SpreadRow{
		ID:            9,
		StrategyName:  "favorite_hedge",
		MarketID:      42,
		SpreadType:    string(types.SpreadHedge),
		YesPositionID: 1,
		NoPositionID:  2,
		Status:        string(types.PositionOpen),
	}

	spread := rowToSpread(row)
	if spread.SpreadType != types.SpreadHedge {
		t.Errorf("SpreadType = %v, want hedge", spread.SpreadType)
	}
	if spread.YesPositionID != 1 || spread.NoPositionID != 2 {
		t.Errorf("leg ids not carried through: %+v", spread)
	}
}

func TestErrInvariantWraps(t *testing.T) {
	t.Parallel()

	err := errPositionNotFound(99)
	if !errors.Is(err, ErrInvariant) {
		t.Error("position-not-found error should wrap ErrInvariant")
	}
}

func errPositionNotFound(id int64) error {
	return fmt.Errorf("%w: position %d not found", ErrInvariant, id)
}

func TestCloseZeroThresholdTreatsDustAsFullClose(t *testing.T) {
	t.Parallel()

	remaining := decimal.NewFromFloat(0.00005)
	if !remaining.LessThanOrEqual(closeZeroThreshold) {
		t.Errorf("expected %s to be treated as dust (<= %s)", remaining, closeZeroThreshold)
	}

	remaining = decimal.NewFromFloat(0.01)
	if remaining.LessThanOrEqual(closeZeroThreshold) {
		t.Errorf("expected %s to NOT be treated as dust", remaining)
	}
}
