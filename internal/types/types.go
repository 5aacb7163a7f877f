package types

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Layer identifies one of the three pipeline layers.
type Layer string

const (
	LayerRaw    Layer = "raw"
	LayerSilver Layer = "silver"
	LayerGold   Layer = "gold"
)

// Quality classifies whether a typed record needed any fallback value.
type Quality string

const (
	QualityOK      Quality = "OK"
	QualityCoerced Quality = "COERCED"
)

// Status classifies the outcome of a phase or source in the audit log.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusNoNewRows Status = "NO_NEW_ROWS"
	StatusEmptyFile Status = "EMPTY_FILE"
	StatusSkipped   Status = "SKIPPED_BAD_HEADER"
	StatusFailed    Status = "FAILED"
	StatusBatch     Status = "BATCH"
)

// AuditKind distinguishes the two audit entry shapes.
type AuditKind string

const (
	AuditBatch   AuditKind = "batch"
	AuditSummary AuditKind = "summary"
)

// RawRecord is one source row exactly as read, with field text preserved.
// ID and IngestedAt are assigned by the store.
type RawRecord struct {
	ID         int64     `json:"id"`
	SourceName string    `json:"source_name"`
	Seq        int64     `json:"seq"`
	Timestamp  string    `json:"timestamp"`
	Price      string    `json:"price"`
	UserID     string    `json:"user_id"`
	IngestedAt time.Time `json:"ingested_at"`
}

// TypedRecord is the coerced form of a RawRecord, keyed by the raw row it
// came from. At most one exists per raw row.
type TypedRecord struct {
	RawID      int64           `json:"raw_id"`
	SourceName string          `json:"source_name"`
	EventDate  time.Time       `json:"event_date"`
	Price      decimal.Decimal `json:"price"`
	UserID     int64           `json:"user_id"`
	Quality    Quality         `json:"quality"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// AggregateState is the singleton gold row. LastProcessedRawID is the
// watermark: every silver row at or below it is already folded in.
type AggregateState struct {
	RecordCount        int64               `json:"record_count"`
	ValueSum           decimal.Decimal     `json:"value_sum"`
	MinValue           decimal.NullDecimal `json:"min_value"`
	MaxValue           decimal.NullDecimal `json:"max_value"`
	LastProcessedRawID int64               `json:"last_processed_raw_id"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Average derives the mean value to two decimal places, half-up.
// It is never stored.
func (s AggregateState) Average() decimal.Decimal {
	if s.RecordCount == 0 {
		return decimal.Zero.Round(2)
	}
	return s.ValueSum.Div(decimal.NewFromInt(s.RecordCount)).Round(2)
}

// AggregateDelta describes the effect of one aggregation step.
// A zero Records delta means the fixed point was reached and Watermark
// equals the prior watermark.
type AggregateDelta struct {
	Records   int64           `json:"records"`
	Sum       decimal.Decimal `json:"sum"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	Watermark int64           `json:"watermark"`
}

// Empty reports whether the step folded no rows.
func (d AggregateDelta) Empty() bool {
	return d.Records == 0
}

// LogValue renders the delta as a compact slog group.
func (d AggregateDelta) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("records", d.Records),
		slog.String("sum", d.Sum.String()),
		slog.Int64("watermark", d.Watermark),
	)
}

// AuditEntry is one append-only audit log row. Kind selects the shape:
// batch entries carry a BatchIndex, summary entries leave it nil.
type AuditEntry struct {
	ID         int64               `json:"id"`
	Kind       AuditKind           `json:"kind"`
	RunID      string              `json:"run_id"`
	Layer      Layer               `json:"layer"`
	SourceName string              `json:"source_name"`
	BatchIndex *int64              `json:"batch_index,omitempty"`
	Records    int64               `json:"records"`
	MinValue   decimal.NullDecimal `json:"min_value"`
	AvgValue   decimal.NullDecimal `json:"avg_value"`
	MaxValue   decimal.NullDecimal `json:"max_value"`
	ChunkSize  int                 `json:"chunk_size"`
	Status     Status              `json:"status"`
	Details    string              `json:"details,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

// LayerCounts holds the row counts surfaced by check.
type LayerCounts struct {
	Raw    int64 `json:"raw"`
	Silver int64 `json:"silver"`
	Audit  int64 `json:"audit"`
}

// PriceStats accumulates count/sum/min/max over a sequence of prices.
// The zero value is ready to use.
type PriceStats struct {
	Count int64               `json:"count"`
	Sum   decimal.Decimal     `json:"sum"`
	Min   decimal.NullDecimal `json:"min"`
	Max   decimal.NullDecimal `json:"max"`
}

// Observe folds one price into the stats.
func (p *PriceStats) Observe(v decimal.Decimal) {
	p.Count++
	p.Sum = p.Sum.Add(v)
	if !p.Min.Valid || v.LessThan(p.Min.Decimal) {
		p.Min = decimal.NewNullDecimal(v)
	}
	if !p.Max.Valid || v.GreaterThan(p.Max.Decimal) {
		p.Max = decimal.NewNullDecimal(v)
	}
}

// Average derives the mean to two decimal places, half-up, or zero when
// nothing was observed.
func (p PriceStats) Average() decimal.Decimal {
	if p.Count == 0 {
		return decimal.Zero.Round(2)
	}
	return p.Sum.Div(decimal.NewFromInt(p.Count)).Round(2)
}
