package router

import (
	"testing"
	"time"
)

// TestDedupSetSuppressesReplay checks that applying the same raw
// message id repeatedly within the window produces one accepted result and
// suppresses every later sighting.
func TestDedupSetSuppressesReplay(t *testing.T) {
	d := newDedupSet(2 * time.Minute)
	now := time.Now()

	if !d.CheckAndSet("m-123", now) {
		t.Fatal("first sighting of m-123 should be accepted")
	}
	if d.CheckAndSet("m-123", now.Add(2*time.Second)) {
		t.Fatal("replay of m-123 within the dedup window should be suppressed")
	}
	if d.CheckAndSet("m-123", now.Add(30*time.Second)) {
		t.Fatal("replay of m-123 still within the dedup window should be suppressed")
	}
}

func TestDedupSetExpiresAfterWindow(t *testing.T) {
	d := newDedupSet(time.Minute)
	now := time.Now()

	if !d.CheckAndSet("m-456", now) {
		t.Fatal("first sighting should be accepted")
	}
	if !d.CheckAndSet("m-456", now.Add(2*time.Minute)) {
		t.Fatal("sighting after the dedup window elapses should be treated as new")
	}
}

func TestDedupSetDistinctKeysIndependent(t *testing.T) {
	d := newDedupSet(time.Minute)
	now := time.Now()

	if !d.CheckAndSet("book:1:hashA", now) {
		t.Fatal("first key should be accepted")
	}
	if !d.CheckAndSet("book:1:hashB", now) {
		t.Fatal("distinct key should be accepted independently")
	}
}

func TestDedupSetTrimsOldEntriesOnOverflow(t *testing.T) {
	d := newDedupSet(time.Millisecond)
	base := time.Now()

	// Seed one old entry, then let it age past the ttl before the sweep.
	d.CheckAndSet("old", base)
	stale := base.Add(time.Hour)

	for i := 0; i < dedupMaxEntries+1; i++ {
		d.CheckAndSet(string(rune(i)), stale)
	}

	d.mu.Lock()
	_, stillPresent := d.seen["old"]
	size := len(d.seen)
	d.mu.Unlock()

	if stillPresent {
		t.Fatal("stale entry should have been swept on overflow")
	}
	if size > dedupMaxEntries+1 {
		t.Fatalf("dedup set grew unbounded: %d entries", size)
	}
}
