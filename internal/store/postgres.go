package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/hyperengineering/strata/internal/types"
)

// Postgres is the production Store over the raw/silver/gold schemas.
type Postgres struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*Postgres)(nil)

// Open connects to the database, verifies the connection, and applies any
// pending migrations.
func Open(ctx context.Context, url string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "store"))

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, classify("open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("ping database", err)
	}

	version, err := RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("store ready", "schema_version", version)

	return &Postgres{db: db, logger: logger}, nil
}

// Ping verifies the connection is still usable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// InsertRawBatch writes raw rows in one multi-row insert. Conflicting
// (source, seq) pairs are left untouched; only genuinely new rows count.
func (p *Postgres) InsertRawBatch(ctx context.Context, source string, recs []types.RawRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO raw.events (source_name, seq, ts_text, price_text, user_id_text) VALUES ")
	args := make([]any, 0, len(recs)*5)
	for i, r := range recs {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, source, r.Seq, r.Timestamp, r.Price, r.UserID)
	}
	sb.WriteString(" ON CONFLICT (source_name, seq) DO NOTHING")

	res, err := p.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, classify("insert raw batch", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, classify("insert raw batch", err)
	}
	return int(inserted), nil
}

// FetchUnprocessedRaw returns raw rows that have no silver counterpart yet,
// in raw id order.
func (p *Postgres) FetchUnprocessedRaw(ctx context.Context, limit int) ([]types.RawRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.source_name, r.seq, r.ts_text, r.price_text, r.user_id_text, r.ingested_at
		FROM raw.events r
		LEFT JOIN silver.events s ON s.raw_id = r.id
		WHERE s.raw_id IS NULL
		ORDER BY r.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, classify("fetch unprocessed raw", err)
	}
	defer rows.Close()

	var out []types.RawRecord
	for rows.Next() {
		var r types.RawRecord
		if err := rows.Scan(&r.ID, &r.SourceName, &r.Seq, &r.Timestamp, &r.Price, &r.UserID, &r.IngestedAt); err != nil {
			return nil, classify("scan raw row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fetch unprocessed raw", err)
	}
	return out, nil
}

// InsertSilverBatch writes typed rows; an already-coerced raw id is a no-op.
func (p *Postgres) InsertSilverBatch(ctx context.Context, recs []types.TypedRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO silver.events (raw_id, source_name, event_date, price, user_id, quality) VALUES ")
	args := make([]any, 0, len(recs)*6)
	for i, r := range recs {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, r.RawID, r.SourceName, r.EventDate, r.Price, r.UserID, string(r.Quality))
	}
	sb.WriteString(" ON CONFLICT (raw_id) DO NOTHING")

	res, err := p.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, classify("insert silver batch", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, classify("insert silver batch", err)
	}
	return int(inserted), nil
}

// AdvanceAggregate folds the next chunk of silver rows into the aggregate
// singleton. Counter updates and the watermark move commit together, so a
// crash can never double-count or skip a window.
func (p *Postgres) AdvanceAggregate(ctx context.Context, chunkSize int) (types.AggregateDelta, error) {
	var delta types.AggregateDelta

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return delta, classify("begin aggregate tx", err)
	}
	defer tx.Rollback()

	var watermark int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_processed_raw_id FROM gold.aggregate_state WHERE id = 1 FOR UPDATE`,
	).Scan(&watermark)
	if err != nil {
		return delta, classify("read watermark", err)
	}

	var (
		count          int64
		sum            decimal.Decimal
		minVal, maxVal decimal.NullDecimal
		batchMax       int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(price), 0), MIN(price), MAX(price), COALESCE(MAX(raw_id), 0)
		FROM (
			SELECT raw_id, price FROM silver.events
			WHERE raw_id > $1
			ORDER BY raw_id
			LIMIT $2
		) batch`, watermark, chunkSize,
	).Scan(&count, &sum, &minVal, &maxVal, &batchMax)
	if err != nil {
		return delta, classify("read aggregate batch", err)
	}

	if count == 0 {
		delta.Watermark = watermark
		return delta, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE gold.aggregate_state SET
			record_count = record_count + $1,
			value_sum = value_sum + $2,
			min_value = LEAST(COALESCE(min_value, $3::numeric), $3::numeric),
			max_value = GREATEST(COALESCE(max_value, $4::numeric), $4::numeric),
			last_processed_raw_id = $5,
			updated_at = NOW()
		WHERE id = 1`,
		count, sum, minVal.Decimal, maxVal.Decimal, batchMax)
	if err != nil {
		return delta, classify("update aggregate state", err)
	}

	if err := tx.Commit(); err != nil {
		return delta, classify("commit aggregate tx", err)
	}

	return types.AggregateDelta{
		Records:   count,
		Sum:       sum,
		Min:       minVal.Decimal,
		Max:       maxVal.Decimal,
		Watermark: batchMax,
	}, nil
}

// Aggregate reads the singleton gold row.
func (p *Postgres) Aggregate(ctx context.Context) (types.AggregateState, error) {
	var s types.AggregateState
	err := p.db.QueryRowContext(ctx, `
		SELECT record_count, value_sum, min_value, max_value, last_processed_raw_id, updated_at
		FROM gold.aggregate_state WHERE id = 1`,
	).Scan(&s.RecordCount, &s.ValueSum, &s.MinValue, &s.MaxValue, &s.LastProcessedRawID, &s.UpdatedAt)
	if err != nil {
		return s, classify("read aggregate state", err)
	}
	return s, nil
}

// LayerCounts reports the row count of each layer table.
func (p *Postgres) LayerCounts(ctx context.Context) (types.LayerCounts, error) {
	var c types.LayerCounts
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM raw.events),
			(SELECT COUNT(*) FROM silver.events),
			(SELECT COUNT(*) FROM gold.audit_log)`,
	).Scan(&c.Raw, &c.Silver, &c.Audit)
	if err != nil {
		return c, classify("count layers", err)
	}
	return c, nil
}

// PendingSilver counts raw rows still awaiting coercion.
func (p *Postgres) PendingSilver(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM raw.events r
		LEFT JOIN silver.events s ON s.raw_id = r.id
		WHERE s.raw_id IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, classify("count pending silver", err)
	}
	return n, nil
}

// PendingGold counts silver rows above the watermark.
func (p *Postgres) PendingGold(ctx context.Context) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM silver.events
		WHERE raw_id > (SELECT last_processed_raw_id FROM gold.aggregate_state WHERE id = 1)`,
	).Scan(&n)
	if err != nil {
		return 0, classify("count pending gold", err)
	}
	return n, nil
}

// AppendAudit appends one entry to the audit log.
func (p *Postgres) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO gold.audit_log
			(kind, run_id, layer, source_name, batch_index, records, min_value, avg_value, max_value, chunk_size, status, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(e.Kind), e.RunID, string(e.Layer), e.SourceName, e.BatchIndex,
		e.Records, e.MinValue, e.AvgValue, e.MaxValue, e.ChunkSize, string(e.Status), e.Details)
	if err != nil {
		return classify("append audit entry", err)
	}
	return nil
}

// ListAudit returns audit entries oldest first. A positive limit keeps only
// the newest entries; 0 returns everything.
func (p *Postgres) ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	query := `
		SELECT id, kind, run_id, layer, source_name, batch_index, records,
		       min_value, avg_value, max_value, chunk_size, status, details, created_at
		FROM gold.audit_log ORDER BY id`
	args := []any{}
	if limit > 0 {
		query = `
		SELECT id, kind, run_id, layer, source_name, batch_index, records,
		       min_value, avg_value, max_value, chunk_size, status, details, created_at
		FROM (
			SELECT * FROM gold.audit_log ORDER BY id DESC LIMIT $1
		) recent ORDER BY id`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list audit entries", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.RunID, &e.Layer, &e.SourceName, &e.BatchIndex,
			&e.Records, &e.MinValue, &e.AvgValue, &e.MaxValue, &e.ChunkSize, &e.Status,
			&e.Details, &e.CreatedAt); err != nil {
			return nil, classify("scan audit entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list audit entries", err)
	}
	return out, nil
}

// SilverPriceStats folds price stats over silver rows, skipping the given
// source names.
func (p *Postgres) SilverPriceStats(ctx context.Context, excludeSources []string) (types.PriceStats, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT COUNT(*), COALESCE(SUM(price), 0), MIN(price), MAX(price) FROM silver.events`)
	for i, src := range excludeSources {
		if i == 0 {
			sb.WriteString(" WHERE source_name NOT IN (")
		} else {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "$%d", i+1)
		args = append(args, src)
	}
	if len(excludeSources) > 0 {
		sb.WriteString(")")
	}

	var stats types.PriceStats
	err := p.db.QueryRowContext(ctx, sb.String(), args...).Scan(&stats.Count, &stats.Sum, &stats.Min, &stats.Max)
	if err != nil {
		return stats, classify("silver price stats", err)
	}
	return stats, nil
}

// Reset truncates all layer data and zeroes the aggregate singleton.
// Schema structure and migration history survive.
func (p *Postgres) Reset(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin reset tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`TRUNCATE raw.events, silver.events, gold.audit_log RESTART IDENTITY CASCADE`); err != nil {
		return classify("truncate layers", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE gold.aggregate_state SET
			record_count = 0,
			value_sum = 0,
			min_value = NULL,
			max_value = NULL,
			last_processed_raw_id = 0,
			updated_at = NOW()
		WHERE id = 1`); err != nil {
		return classify("zero aggregate state", err)
	}

	if err := tx.Commit(); err != nil {
		return classify("commit reset tx", err)
	}
	p.logger.Info("store reset")
	return nil
}
