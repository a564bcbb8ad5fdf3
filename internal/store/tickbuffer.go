// Package store buffers generated ticks in memory and flushes them to the
// `snapshots` table in batches, trading exact durability for write volume:
// the engine processes far more ticks than is worth one INSERT apiece.
package store

import (
	"fmt"
	"sync"

	"gorm.io/gorm"

	"polymarket-engine/internal/db"
	"polymarket-engine/pkg/types"
)

// TickBuffer accumulates Tick events and periodically flushes them to the
// database as SnapshotRow batches. Safe for concurrent use.
type TickBuffer struct {
	gdb *gorm.DB

	mu      sync.Mutex
	pending []types.Tick
	maxSize int
}

// NewTickBuffer creates a buffer that flushes when it reaches maxSize ticks
// (in addition to whatever timer drives the caller's periodic Flush calls).
func NewTickBuffer(gdb *gorm.DB, maxSize int) *TickBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &TickBuffer{gdb: gdb, maxSize: maxSize}
}

// Add appends a tick to the buffer. If the buffer has reached maxSize, it
// flushes immediately so memory stays bounded under load.
func (b *TickBuffer) Add(tick types.Tick) error {
	b.mu.Lock()
	b.pending = append(b.pending, tick)
	full := len(b.pending) >= b.maxSize
	b.mu.Unlock()

	if full {
		return b.Flush()
	}
	return nil
}

// Flush writes every buffered tick to the snapshots table in one batched
// insert. On failure, the pending ticks are left in the buffer so the next
// Flush retries them rather than silently dropping data.
func (b *TickBuffer) Flush() error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.mu.Unlock()

	rows := make([]db.SnapshotRow, len(batch))
	for i, t := range batch {
		rows[i] = db.SnapshotRow{
			MarketID:     t.Market.ID,
			ConditionID:  t.Market.ConditionID,
			Kind:         string(t.Kind),
			Side:         string(t.Side),
			BestBid:      t.BestBid,
			BestAsk:      t.BestAsk,
			Mid:          t.Mid,
			ActualYesMid: t.ActualYesMid,
			ActualNoMid:  t.ActualNoMid,
			Velocity1m:   t.Velocity1m,
			RecordedAt:   t.Timestamp,
		}
	}

	if err := b.gdb.CreateInBatches(rows, 100).Error; err != nil {
		return fmt.Errorf("flush snapshots: %w", err)
	}

	b.mu.Lock()
	// Only drop the ticks we just flushed; Add may have appended more
	// while the insert was in flight.
	if len(b.pending) >= len(batch) {
		b.pending = b.pending[len(batch):]
	} else {
		b.pending = nil
	}
	b.mu.Unlock()

	return nil
}

// Len reports how many ticks are currently buffered, awaiting flush.
func (b *TickBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
