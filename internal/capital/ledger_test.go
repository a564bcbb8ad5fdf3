package capital

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLockForReturnsSameMutexPerStrategy(t *testing.T) {
	t.Parallel()
	l := New(nil)

	a1 := l.lockFor("scalp")
	a2 := l.lockFor("scalp")
	if a1 != a2 {
		t.Error("lockFor should return the same mutex for the same strategy name")
	}

	b := l.lockFor("favorite_hedge")
	if a1 == b {
		t.Error("lockFor should return distinct mutexes for distinct strategies")
	}
}

func TestDefaultAllocation(t *testing.T) {
	t.Parallel()
	want := decimal.NewFromInt(400)
	if !defaultAllocation.Equal(want) {
		t.Errorf("defaultAllocation = %v, want %v", defaultAllocation, want)
	}
}

func TestErrInsufficientCapitalWraps(t *testing.T) {
	t.Parallel()
	err := errInsufficientExample()
	if !errors.Is(err, ErrInsufficientCapital) {
		t.Error("wrapped error should satisfy errors.Is(ErrInsufficientCapital)")
	}
}

func errInsufficientExample() error {
	return &wrappedErr{ErrInsufficientCapital}
}

type wrappedErr struct{ err error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }
