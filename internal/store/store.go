// Package store persists the three pipeline layers behind a narrow
// read/write contract. Every write is idempotent at its own layer, so the
// pipeline can be re-run safely after a crash or cancellation.
package store

import (
	"context"

	"github.com/hyperengineering/strata/internal/types"
)

// Store is the contract the pipeline drives. *Postgres implements it
// against the raw/silver/gold schemas; *Memory backs orchestrator tests.
type Store interface {
	// InsertRawBatch writes raw rows with first-write-wins duplicate
	// suppression on (source, seq) and returns how many actually landed.
	InsertRawBatch(ctx context.Context, source string, recs []types.RawRecord) (int, error)

	// FetchUnprocessedRaw returns raw rows without a silver counterpart,
	// oldest first, at most limit.
	FetchUnprocessedRaw(ctx context.Context, limit int) ([]types.RawRecord, error)

	// InsertSilverBatch writes typed rows keyed by raw id; an existing
	// raw id is a no-op for that row. Returns the newly inserted count.
	InsertSilverBatch(ctx context.Context, recs []types.TypedRecord) (int, error)

	// AdvanceAggregate folds up to chunkSize silver rows above the
	// watermark into the aggregate singleton, watermark and counters
	// updated in one transaction. An empty delta means the fixed point.
	AdvanceAggregate(ctx context.Context, chunkSize int) (types.AggregateDelta, error)

	// Aggregate reads the current aggregate singleton.
	Aggregate(ctx context.Context) (types.AggregateState, error)

	// LayerCounts reports row counts per layer for check output.
	LayerCounts(ctx context.Context) (types.LayerCounts, error)

	// PendingSilver counts raw rows not yet coerced into silver.
	PendingSilver(ctx context.Context) (int64, error)

	// PendingGold counts silver rows above the watermark.
	PendingGold(ctx context.Context) (int64, error)

	// AppendAudit appends one audit log entry.
	AppendAudit(ctx context.Context, e types.AuditEntry) error

	// ListAudit returns the most recent limit entries in insertion order,
	// oldest first; limit 0 means all.
	ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error)

	// SilverPriceStats folds count/sum/min/max over silver prices,
	// skipping the given source names.
	SilverPriceStats(ctx context.Context, excludeSources []string) (types.PriceStats, error)

	// Reset clears all layer data and zeroes the aggregate singleton;
	// structure is preserved.
	Reset(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}
