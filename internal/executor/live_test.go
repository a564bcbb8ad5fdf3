package executor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseTradeTime(t *testing.T) {
	t.Parallel()

	if _, ok := parseTradeTime(""); ok {
		t.Fatal("empty timestamp should not parse")
	}

	got, ok := parseTradeTime("1700000000")
	if !ok || !got.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unix seconds parse = %v, %v", got, ok)
	}

	got, ok = parseTradeTime("2025-03-01T12:00:00Z")
	if !ok || got.Year() != 2025 || got.Month() != time.March {
		t.Fatalf("rfc3339 parse = %v, %v", got, ok)
	}

	if _, ok := parseTradeTime("not-a-time"); ok {
		t.Fatal("garbage timestamp should not parse")
	}
}

func TestContainsID(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "c"}
	if !containsID(ids, "b") {
		t.Fatal("expected b to be found")
	}
	if containsID(ids, "z") {
		t.Fatal("z should not be found")
	}
	if containsID(nil, "a") {
		t.Fatal("nil slice contains nothing")
	}
}

func TestSubmissionTrigger(t *testing.T) {
	t.Parallel()

	if got := (submission{}).trigger(); got != "" {
		t.Fatalf("default trigger = %q, want empty", got)
	}
	if got := (submission{fromWallet: true}).trigger(); got != "detected from wallet" {
		t.Fatalf("wallet trigger = %q", got)
	}
}

func TestMinNotionalBound(t *testing.T) {
	t.Parallel()

	// The $1.05 exchange minimum gates every live submission; keep the
	// constant honest since it silently rejects undersized rebalances.
	if !minNotionalUSD.Equal(decimal.NewFromFloat(1.05)) {
		t.Fatalf("minNotionalUSD = %s", minNotionalUSD)
	}
}
