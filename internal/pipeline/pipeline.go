// Package pipeline drives the RAW→SILVER→GOLD load in bounded chunks.
// Every write it issues is idempotent at its own layer, so a run can be
// cancelled and repeated until each phase reports no new rows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/hyperengineering/strata/internal/coerce"
	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/source"
	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/types"
)

// phaseSource names the silver and gold audit entries, which cover all
// sources at once rather than a single file.
const phaseSource = "all"

// Auto chunk sizing: a tenth of the pending work, clamped.
const (
	minAutoChunk   = 50
	maxAutoChunk   = 5000
	approxRowBytes = 48
)

// Pipeline is the batch orchestrator. One Pipeline is one run: it mints a
// run ID at construction and stamps it into every audit entry it appends.
type Pipeline struct {
	store  store.Store
	chunk  config.ChunkSize
	logger *slog.Logger
	runID  string
}

// New builds a pipeline over the given store with a fresh run ID.
func New(st store.Store, chunk config.ChunkSize, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	runID := ulid.Make().String()
	return &Pipeline{
		store:  st,
		chunk:  chunk,
		logger: logger.With(slog.String("component", "pipeline"), slog.String("run_id", runID)),
		runID:  runID,
	}
}

// RunID returns the identifier stamped into this run's audit entries.
func (p *Pipeline) RunID() string { return p.runID }

// Run executes the selected stages in layer order. Per-source problems
// (bad header, unreadable file) are recorded and the run continues; a
// store failure aborts immediately with the error.
func (p *Pipeline) Run(ctx context.Context, stage Stage, dir, pattern string, exclude []string) (*RunResult, error) {
	result := &RunResult{RunID: p.runID}

	if stage.includes(types.LayerRaw) {
		files, err := source.Discover(dir, pattern, exclude)
		if err != nil {
			return nil, err
		}
		p.logger.Info("raw phase starting", "files", len(files), "pattern", pattern)
		for _, path := range files {
			res, err := p.loadRawFile(ctx, path)
			if err != nil {
				return nil, err
			}
			result.add(res)
		}
	}

	if stage.includes(types.LayerSilver) {
		res, err := p.rawToSilver(ctx)
		if err != nil {
			return nil, err
		}
		result.add(res)
	}

	if stage.includes(types.LayerGold) {
		res, err := p.silverToGold(ctx)
		if err != nil {
			return nil, err
		}
		result.add(res)
	}

	return result, nil
}

// loadRawFile drains one source file into the raw layer. The returned
// error is reserved for store failures; source-level problems come back as
// a SKIPPED or FAILED result with a summary entry already appended.
func (p *Pipeline) loadRawFile(ctx context.Context, path string) (SourceResult, error) {
	chunk := p.rawChunk(path)

	r, err := source.Open(path)
	if err != nil {
		return p.rawSourceProblem(ctx, path, chunk, err)
	}
	defer r.Close()

	name := r.Name()
	log := p.logger.With("source", name)

	var (
		totalRead     int64
		totalInserted int64
		batchIndex    int64
	)
	for {
		batch, err := r.ReadBatch(ctx, chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, source.ErrUnreadable) {
				return p.rawSourceProblem(ctx, path, chunk, err)
			}
			return SourceResult{}, err
		}

		inserted, err := p.store.InsertRawBatch(ctx, name, batch)
		if err != nil {
			return SourceResult{}, err
		}
		totalRead += int64(len(batch))
		totalInserted += int64(inserted)
		batchIndex++

		stats := rawPriceStats(batch)
		if err := p.auditBatch(ctx, types.LayerRaw, name, batchIndex, int64(inserted), stats, chunk); err != nil {
			return SourceResult{}, err
		}
		log.Debug("raw batch committed", "batch", batchIndex, "read", len(batch), "inserted", inserted)
	}

	status := types.StatusSuccess
	switch {
	case totalRead == 0 && r.Dropped() == 0:
		status = types.StatusEmptyFile
	case totalInserted == 0:
		status = types.StatusNoNewRows
	}
	details := fmt.Sprintf("read %d rows, inserted %d", totalRead, totalInserted)
	if dropped := r.Dropped(); dropped > 0 {
		details += fmt.Sprintf(", dropped %d malformed", dropped)
	}

	if err := p.auditSummary(ctx, types.LayerRaw, name, totalInserted, chunk, status, details); err != nil {
		return SourceResult{}, err
	}
	log.Info("raw source finished", "status", string(status), "inserted", totalInserted)
	return SourceResult{Layer: types.LayerRaw, Source: name, Status: status, Records: totalInserted, Details: details}, nil
}

// rawSourceProblem records a skipped or failed source and lets the run
// continue. Only the audit append itself can error here.
func (p *Pipeline) rawSourceProblem(ctx context.Context, path string, chunk int, cause error) (SourceResult, error) {
	name := source.BaseName(path)
	status := types.StatusFailed
	if errors.Is(cause, source.ErrSchemaMismatch) {
		status = types.StatusSkipped
	}
	details := cause.Error()

	if err := p.auditSummary(ctx, types.LayerRaw, name, 0, chunk, status, details); err != nil {
		return SourceResult{}, err
	}
	p.logger.Warn("raw source not ingested", "source", name, "status", string(status), "cause", details)
	return SourceResult{Layer: types.LayerRaw, Source: name, Status: status, Details: details}, nil
}

// rawToSilver coerces every unprocessed raw row in chunks until none
// remain.
func (p *Pipeline) rawToSilver(ctx context.Context) (SourceResult, error) {
	chunk, err := p.backlogChunk(ctx, p.store.PendingSilver)
	if err != nil {
		return SourceResult{}, err
	}

	var (
		totalInserted int64
		totalCoerced  int64
		batchIndex    int64
	)
	for {
		raws, err := p.store.FetchUnprocessedRaw(ctx, chunk)
		if err != nil {
			return SourceResult{}, err
		}
		if len(raws) == 0 {
			break
		}

		var stats types.PriceStats
		typed := make([]types.TypedRecord, len(raws))
		for i, raw := range raws {
			typed[i] = coerce.Record(raw)
			if typed[i].Quality == types.QualityCoerced {
				totalCoerced++
			}
			stats.Observe(typed[i].Price)
		}

		inserted, err := p.store.InsertSilverBatch(ctx, typed)
		if err != nil {
			return SourceResult{}, err
		}
		totalInserted += int64(inserted)
		batchIndex++

		if err := p.auditBatch(ctx, types.LayerSilver, phaseSource, batchIndex, int64(inserted), stats, chunk); err != nil {
			return SourceResult{}, err
		}
		p.logger.Debug("silver batch committed", "batch", batchIndex, "inserted", inserted)
	}

	status := types.StatusSuccess
	if totalInserted == 0 {
		status = types.StatusNoNewRows
	}
	details := fmt.Sprintf("rows coerced: %d", totalCoerced)

	if err := p.auditSummary(ctx, types.LayerSilver, phaseSource, totalInserted, chunk, status, details); err != nil {
		return SourceResult{}, err
	}
	p.logger.Info("silver phase finished", "status", string(status), "inserted", totalInserted, "coerced", totalCoerced)
	return SourceResult{Layer: types.LayerSilver, Source: phaseSource, Status: status, Records: totalInserted, Details: details}, nil
}

// silverToGold advances the aggregate in chunks until the fixed point.
func (p *Pipeline) silverToGold(ctx context.Context) (SourceResult, error) {
	chunk, err := p.backlogChunk(ctx, p.store.PendingGold)
	if err != nil {
		return SourceResult{}, err
	}

	var (
		totalFolded int64
		batchIndex  int64
		watermark   int64
	)
	for {
		delta, err := p.store.AdvanceAggregate(ctx, chunk)
		if err != nil {
			return SourceResult{}, err
		}
		watermark = delta.Watermark
		if delta.Empty() {
			break
		}
		totalFolded += delta.Records
		batchIndex++

		stats := types.PriceStats{
			Count: delta.Records,
			Sum:   delta.Sum,
			Min:   decimal.NewNullDecimal(delta.Min),
			Max:   decimal.NewNullDecimal(delta.Max),
		}
		if err := p.auditBatch(ctx, types.LayerGold, phaseSource, batchIndex, delta.Records, stats, chunk); err != nil {
			return SourceResult{}, err
		}
		p.logger.Debug("aggregate advanced", "batch", batchIndex, "delta", delta)
	}

	status := types.StatusSuccess
	if totalFolded == 0 {
		status = types.StatusNoNewRows
	}
	details := fmt.Sprintf("watermark: %d", watermark)

	if err := p.auditSummary(ctx, types.LayerGold, phaseSource, totalFolded, chunk, status, details); err != nil {
		return SourceResult{}, err
	}
	p.logger.Info("gold phase finished", "status", string(status), "folded", totalFolded, "watermark", watermark)
	return SourceResult{Layer: types.LayerGold, Source: phaseSource, Status: status, Records: totalFolded, Details: details}, nil
}

func (p *Pipeline) auditBatch(ctx context.Context, layer types.Layer, src string, index, records int64, stats types.PriceStats, chunk int) error {
	var avg decimal.NullDecimal
	if stats.Count > 0 {
		avg = decimal.NewNullDecimal(stats.Average())
	}
	return p.store.AppendAudit(ctx, types.AuditEntry{
		Kind:       types.AuditBatch,
		RunID:      p.runID,
		Layer:      layer,
		SourceName: src,
		BatchIndex: &index,
		Records:    records,
		MinValue:   stats.Min,
		AvgValue:   avg,
		MaxValue:   stats.Max,
		ChunkSize:  chunk,
		Status:     types.StatusBatch,
	})
}

func (p *Pipeline) auditSummary(ctx context.Context, layer types.Layer, src string, records int64, chunk int, status types.Status, details string) error {
	return p.store.AppendAudit(ctx, types.AuditEntry{
		Kind:       types.AuditSummary,
		RunID:      p.runID,
		Layer:      layer,
		SourceName: src,
		Records:    records,
		ChunkSize:  chunk,
		Status:     status,
		Details:    details,
	})
}

// rawChunk resolves the chunk size for one source file. Auto mode
// estimates the row count from the file's byte size.
func (p *Pipeline) rawChunk(path string) int {
	if !p.chunk.Auto {
		return p.chunk.N
	}
	info, err := os.Stat(path)
	if err != nil {
		return minAutoChunk
	}
	return autoChunk(info.Size() / approxRowBytes)
}

// backlogChunk resolves the chunk size for a store-driven phase from its
// pending row count.
func (p *Pipeline) backlogChunk(ctx context.Context, pending func(context.Context) (int64, error)) (int, error) {
	if !p.chunk.Auto {
		return p.chunk.N, nil
	}
	n, err := pending(ctx)
	if err != nil {
		return 0, err
	}
	return autoChunk(n), nil
}

func autoChunk(estimate int64) int {
	n := estimate / 10
	if n < minAutoChunk {
		return minAutoChunk
	}
	if n > maxAutoChunk {
		return maxAutoChunk
	}
	return int(n)
}

// rawPriceStats folds batch statistics over the prices that already parse
// cleanly; malformed text is left for the coercion stage to account for.
func rawPriceStats(batch []types.RawRecord) types.PriceStats {
	var stats types.PriceStats
	for _, r := range batch {
		if v, coerced := coerce.Price(r.Price); !coerced {
			stats.Observe(v)
		}
	}
	return stats
}
