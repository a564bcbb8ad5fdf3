package strategy

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// observation is one timestamped price sample in a Tracker's rolling window.
type observation struct {
	price decimal.Decimal
	at    time.Time
}

// Tracker is a rolling per-key price history used by the lookback-window
// strategies (swing_rebalance's 15-point/5-minute move, map_longshot's
// crash detection). It keeps only maxWindow of history per key and evicts
// older samples on every Record call.
//
// Samples are evicted on every Record call, so a key that stops receiving
// ticks holds at most one stale window of history.
type Tracker struct {
	mu        sync.Mutex
	maxWindow time.Duration
	obs       map[string][]observation
}

// NewTracker creates a price tracker that retains maxWindow of history per
// key (the longest lookback any caller will ever request).
func NewTracker(maxWindow time.Duration) *Tracker {
	return &Tracker{maxWindow: maxWindow, obs: make(map[string][]observation)}
}

// Record appends a price sample for key and evicts anything older than
// maxWindow.
func (t *Tracker) Record(key string, price decimal.Decimal, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	series := append(t.obs[key], observation{price: price, at: now})
	cutoff := now.Add(-t.maxWindow)
	evictIdx := 0
	for evictIdx < len(series) && series[evictIdx].at.Before(cutoff) {
		evictIdx++
	}
	t.obs[key] = series[evictIdx:]
}

// MoveSince returns current − (earliest sample at or after now−lookback),
// i.e. the signed move over the lookback window; when every retained sample
// is older than that, the oldest one is the anchor. ok is false only when the
// key has no samples (cold start); a single sample gives a zero move.
func (t *Tracker) MoveSince(key string, lookback time.Duration, now time.Time) (delta decimal.Decimal, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	series := t.obs[key]
	if len(series) == 0 {
		return decimal.Zero, false
	}

	cutoff := now.Add(-lookback)
	anchor := series[0]
	for _, o := range series {
		if o.at.Before(cutoff) {
			continue
		}
		anchor = o
		break
	}
	if anchor.at.After(now) {
		return decimal.Zero, false
	}

	current := series[len(series)-1]
	return current.price.Sub(anchor.price), true
}

// ExtremesSince returns the high and low sample within the lookback window,
// used by crash/rebound detection that cares about the peak rather than the
// window's first sample.
func (t *Tracker) ExtremesSince(key string, lookback time.Duration, now time.Time) (high, low decimal.Decimal, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-lookback)
	var found bool
	for _, o := range t.obs[key] {
		if o.at.Before(cutoff) {
			continue
		}
		if !found {
			high, low = o.price, o.price
			found = true
			continue
		}
		if o.price.GreaterThan(high) {
			high = o.price
		}
		if o.price.LessThan(low) {
			low = o.price
		}
	}
	return high, low, found
}

// Clear discards all history for a key, used when a position closes and the
// lookback state should reset.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.obs, key)
}
