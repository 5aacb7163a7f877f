package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hyperengineering/strata/internal/types"
)

// Memory is an in-memory Store with the same idempotence and watermark
// semantics as Postgres. It backs orchestrator and report tests; it is not
// durable and not safe for concurrent pipelines, same as the real store's
// single-process assumption.
type Memory struct {
	mu sync.Mutex

	// Err, when set, is returned by every operation. Tests use it to
	// simulate an unavailable store mid-run.
	Err error

	nextRawID int64
	raw       []types.RawRecord
	rawKeys   map[string]bool
	silver    map[int64]types.TypedRecord
	agg       types.AggregateState
	audit     []types.AuditEntry
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store with a zeroed aggregate
// singleton, as a freshly migrated database would have.
func NewMemory() *Memory {
	return &Memory{
		rawKeys: make(map[string]bool),
		silver:  make(map[int64]types.TypedRecord),
		agg:     types.AggregateState{UpdatedAt: time.Now().UTC()},
	}
}

func rawKey(source string, seq int64) string {
	return fmt.Sprintf("%s|%d", source, seq)
}

func (m *Memory) InsertRawBatch(ctx context.Context, source string, recs []types.RawRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}

	inserted := 0
	for _, r := range recs {
		key := rawKey(source, r.Seq)
		if m.rawKeys[key] {
			continue
		}
		m.rawKeys[key] = true
		m.nextRawID++
		r.ID = m.nextRawID
		r.SourceName = source
		r.IngestedAt = time.Now().UTC()
		m.raw = append(m.raw, r)
		inserted++
	}
	return inserted, nil
}

func (m *Memory) FetchUnprocessedRaw(ctx context.Context, limit int) ([]types.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var out []types.RawRecord
	for _, r := range m.raw {
		if _, done := m.silver[r.ID]; done {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) InsertSilverBatch(ctx context.Context, recs []types.TypedRecord) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}

	inserted := 0
	for _, r := range recs {
		if _, exists := m.silver[r.RawID]; exists {
			continue
		}
		r.IngestedAt = time.Now().UTC()
		m.silver[r.RawID] = r
		inserted++
	}
	return inserted, nil
}

func (m *Memory) AdvanceAggregate(ctx context.Context, chunkSize int) (types.AggregateDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return types.AggregateDelta{}, m.Err
	}

	ids := make([]int64, 0, len(m.silver))
	for id := range m.silver {
		if id > m.agg.LastProcessedRawID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > chunkSize {
		ids = ids[:chunkSize]
	}
	if len(ids) == 0 {
		return types.AggregateDelta{Watermark: m.agg.LastProcessedRawID}, nil
	}

	var batch types.PriceStats
	for _, id := range ids {
		batch.Observe(m.silver[id].Price)
	}

	m.agg.RecordCount += batch.Count
	m.agg.ValueSum = m.agg.ValueSum.Add(batch.Sum)
	if !m.agg.MinValue.Valid || batch.Min.Decimal.LessThan(m.agg.MinValue.Decimal) {
		m.agg.MinValue = batch.Min
	}
	if !m.agg.MaxValue.Valid || batch.Max.Decimal.GreaterThan(m.agg.MaxValue.Decimal) {
		m.agg.MaxValue = batch.Max
	}
	m.agg.LastProcessedRawID = ids[len(ids)-1]
	m.agg.UpdatedAt = time.Now().UTC()

	return types.AggregateDelta{
		Records:   batch.Count,
		Sum:       batch.Sum,
		Min:       batch.Min.Decimal,
		Max:       batch.Max.Decimal,
		Watermark: m.agg.LastProcessedRawID,
	}, nil
}

func (m *Memory) Aggregate(ctx context.Context) (types.AggregateState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return types.AggregateState{}, m.Err
	}
	return m.agg, nil
}

func (m *Memory) LayerCounts(ctx context.Context) (types.LayerCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return types.LayerCounts{}, m.Err
	}
	return types.LayerCounts{
		Raw:    int64(len(m.raw)),
		Silver: int64(len(m.silver)),
		Audit:  int64(len(m.audit)),
	}, nil
}

func (m *Memory) PendingSilver(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, r := range m.raw {
		if _, done := m.silver[r.ID]; !done {
			n++
		}
	}
	return n, nil
}

func (m *Memory) PendingGold(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for id := range m.silver {
		if id > m.agg.LastProcessedRawID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	e.ID = int64(len(m.audit) + 1)
	e.CreatedAt = time.Now().UTC()
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	entries := m.audit
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]types.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) SilverPriceStats(ctx context.Context, excludeSources []string) (types.PriceStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return types.PriceStats{}, m.Err
	}
	excluded := make(map[string]bool, len(excludeSources))
	for _, s := range excludeSources {
		excluded[s] = true
	}
	var stats types.PriceStats
	for _, r := range m.silver {
		if excluded[r.SourceName] {
			continue
		}
		stats.Observe(r.Price)
	}
	return stats, nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.nextRawID = 0
	m.raw = nil
	m.rawKeys = make(map[string]bool)
	m.silver = make(map[int64]types.TypedRecord)
	m.agg = types.AggregateState{UpdatedAt: time.Now().UTC()}
	m.audit = nil
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

func (m *Memory) Close() error { return nil }
