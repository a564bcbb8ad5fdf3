package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTrackerMoveSince(t *testing.T) {
	t.Parallel()

	tr := NewTracker(10 * time.Minute)
	base := time.Now()

	tr.Record("k", decimal.NewFromFloat(0.50), base)
	tr.Record("k", decimal.NewFromFloat(0.55), base.Add(2*time.Minute))
	tr.Record("k", decimal.NewFromFloat(0.62), base.Add(4*time.Minute))

	move, ok := tr.MoveSince("k", 5*time.Minute, base.Add(4*time.Minute))
	if !ok {
		t.Fatal("expected a move with samples inside the window")
	}
	if !move.Equal(decimal.NewFromFloat(0.12)) {
		t.Fatalf("move = %s, want 0.12", move)
	}
}

func TestTrackerMoveSinceAnchorsInsideLookback(t *testing.T) {
	t.Parallel()

	tr := NewTracker(10 * time.Minute)
	base := time.Now()

	tr.Record("k", decimal.NewFromFloat(0.30), base)
	tr.Record("k", decimal.NewFromFloat(0.50), base.Add(6*time.Minute))
	tr.Record("k", decimal.NewFromFloat(0.55), base.Add(8*time.Minute))

	// A 3-minute lookback at t+8m must anchor at the t+6m sample, not t+0.
	move, ok := tr.MoveSince("k", 3*time.Minute, base.Add(8*time.Minute))
	if !ok {
		t.Fatal("expected a move")
	}
	if !move.Equal(decimal.NewFromFloat(0.05)) {
		t.Fatalf("move = %s, want 0.05", move)
	}
}

func TestTrackerMoveSinceColdStart(t *testing.T) {
	t.Parallel()

	tr := NewTracker(10 * time.Minute)
	if _, ok := tr.MoveSince("missing", time.Minute, time.Now()); ok {
		t.Fatal("no samples should mean no move")
	}
}

func TestTrackerEvictsPastMaxWindow(t *testing.T) {
	t.Parallel()

	tr := NewTracker(2 * time.Minute)
	base := time.Now()

	tr.Record("k", decimal.NewFromFloat(0.10), base)
	tr.Record("k", decimal.NewFromFloat(0.90), base.Add(5*time.Minute))

	// The t+0 sample is past the 2-minute retention; the only remaining
	// anchor is the t+5m sample itself, so the move is zero.
	move, ok := tr.MoveSince("k", 10*time.Minute, base.Add(5*time.Minute))
	if !ok {
		t.Fatal("expected the surviving sample to anchor")
	}
	if !move.IsZero() {
		t.Fatalf("move = %s, want 0 after eviction", move)
	}
}

func TestTrackerExtremesSince(t *testing.T) {
	t.Parallel()

	tr := NewTracker(10 * time.Minute)
	base := time.Now()

	tr.Record("k", decimal.NewFromFloat(0.40), base)
	tr.Record("k", decimal.NewFromFloat(0.70), base.Add(time.Minute))
	tr.Record("k", decimal.NewFromFloat(0.25), base.Add(2*time.Minute))

	high, low, ok := tr.ExtremesSince("k", 5*time.Minute, base.Add(2*time.Minute))
	if !ok {
		t.Fatal("expected extremes")
	}
	if !high.Equal(decimal.NewFromFloat(0.70)) || !low.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("extremes = (%s, %s), want (0.70, 0.25)", high, low)
	}
}

func TestTrackerClear(t *testing.T) {
	t.Parallel()

	tr := NewTracker(10 * time.Minute)
	tr.Record("k", decimal.NewFromFloat(0.5), time.Now())
	tr.Clear("k")
	if _, ok := tr.MoveSince("k", time.Minute, time.Now()); ok {
		t.Fatal("cleared key should have no history")
	}
}
