package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/types"
)

func writeCSV(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) failed: %v", name, err)
	}
}

func newTestPipeline(st store.Store, chunk int) *Pipeline {
	return New(st, config.ChunkSize{N: chunk}, nil)
}

func findResult(t *testing.T, res *RunResult, layer types.Layer, src string) SourceResult {
	t.Helper()
	for _, r := range res.Results {
		if r.Layer == layer && r.Source == src {
			return r
		}
	}
	t.Fatalf("no result for %s/%s in %+v", layer, src, res.Results)
	return SourceResult{}
}

func TestRun_FullLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "events-a.csv",
		"timestamp,price,user_id\n"+
			"2024-03-15T10:00:00Z,10.50,1\n"+
			"2024-03-15T11:00:00Z,20.00,2\n")
	writeCSV(t, dir, "events-b.csv",
		"timestamp,price,user_id\n"+
			"2024-03-16,5.25,3\n")
	writeCSV(t, dir, "validation.csv",
		"timestamp,price,user_id\n"+
			"2024-03-17,99.99,4\n")

	st := store.NewMemory()
	p := newTestPipeline(st, 10)

	res, err := p.Run(ctx, StageAll, dir, "*.csv", []string{"validation.csv"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := findResult(t, res, types.LayerRaw, "events-a.csv"); got.Status != types.StatusSuccess || got.Records != 2 {
		t.Errorf("events-a: %+v", got)
	}
	if got := findResult(t, res, types.LayerRaw, "events-b.csv"); got.Status != types.StatusSuccess || got.Records != 1 {
		t.Errorf("events-b: %+v", got)
	}
	if got := findResult(t, res, types.LayerSilver, "all"); got.Status != types.StatusSuccess || got.Records != 3 {
		t.Errorf("silver: %+v", got)
	}
	if got := findResult(t, res, types.LayerGold, "all"); got.Status != types.StatusSuccess || got.Records != 3 {
		t.Errorf("gold: %+v", got)
	}

	counts, err := st.LayerCounts(ctx)
	if err != nil {
		t.Fatalf("LayerCounts failed: %v", err)
	}
	if counts.Raw != 3 || counts.Silver != 3 {
		t.Errorf("counts: %+v, want 3 raw and 3 silver", counts)
	}

	state, err := st.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if state.RecordCount != 3 {
		t.Errorf("record count: got %d, want 3", state.RecordCount)
	}
	if got := state.ValueSum.StringFixed(2); got != "35.75" {
		t.Errorf("sum: got %s, want 35.75", got)
	}
	if !state.MinValue.Valid || state.MinValue.Decimal.StringFixed(2) != "5.25" {
		t.Errorf("min: got %v, want 5.25", state.MinValue)
	}
	if !state.MaxValue.Valid || state.MaxValue.Decimal.StringFixed(2) != "20.00" {
		t.Errorf("max: got %v, want 20.00", state.MaxValue)
	}

	// Every audit entry carries this run's ID.
	entries, err := st.ListAudit(ctx, 0)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	for _, e := range entries {
		if e.RunID != p.RunID() {
			t.Errorf("entry %d has run ID %q, want %q", e.ID, e.RunID, p.RunID())
		}
	}
}

func TestRun_SecondLoadIsNoOp(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "events.csv",
		"timestamp,price,user_id\n"+
			"2024-03-15,10.00,1\n"+
			"2024-03-16,20.00,2\n")

	st := store.NewMemory()
	if _, err := newTestPipeline(st, 10).Run(ctx, StageAll, dir, "*.csv", nil); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before, err := st.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	res, err := newTestPipeline(st, 10).Run(ctx, StageAll, dir, "*.csv", nil)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if got := findResult(t, res, types.LayerRaw, "events.csv"); got.Status != types.StatusNoNewRows || got.Records != 0 {
		t.Errorf("raw re-run: %+v, want NO_NEW_ROWS with 0 records", got)
	}
	if got := findResult(t, res, types.LayerSilver, "all"); got.Status != types.StatusNoNewRows {
		t.Errorf("silver re-run: %+v, want NO_NEW_ROWS", got)
	}
	if got := findResult(t, res, types.LayerGold, "all"); got.Status != types.StatusNoNewRows {
		t.Errorf("gold re-run: %+v, want NO_NEW_ROWS", got)
	}

	after, err := st.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if after.RecordCount != before.RecordCount || !after.ValueSum.Equal(before.ValueSum) ||
		after.LastProcessedRawID != before.LastProcessedRawID {
		t.Errorf("aggregate changed on no-op run: before %+v, after %+v", before, after)
	}
}

func TestRun_SkippedBadHeader(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "bad.csv",
		"timestamp,price\n"+
			"2024-03-15,10.00\n")
	writeCSV(t, dir, "good.csv",
		"timestamp,price,user_id\n"+
			"2024-03-15,10.00,1\n")

	st := store.NewMemory()
	res, err := newTestPipeline(st, 10).Run(ctx, StageAll, dir, "*.csv", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := findResult(t, res, types.LayerRaw, "bad.csv"); got.Status != types.StatusSkipped || got.Records != 0 {
		t.Errorf("bad.csv: %+v, want SKIPPED_BAD_HEADER with 0 records", got)
	}
	// The good source still loads: bad headers never abort the run.
	if got := findResult(t, res, types.LayerRaw, "good.csv"); got.Status != types.StatusSuccess || got.Records != 1 {
		t.Errorf("good.csv: %+v", got)
	}

	counts, err := st.LayerCounts(ctx)
	if err != nil {
		t.Fatalf("LayerCounts failed: %v", err)
	}
	if counts.Raw != 1 || counts.Silver != 1 {
		t.Errorf("counts: %+v, want exactly the good row", counts)
	}
}

func TestRun_EmptyFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "empty.csv", "timestamp,price,user_id\n")

	st := store.NewMemory()
	res, err := newTestPipeline(st, 10).Run(ctx, StageRaw, dir, "*.csv", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := findResult(t, res, types.LayerRaw, "empty.csv"); got.Status != types.StatusEmptyFile {
		t.Errorf("empty.csv: %+v, want EMPTY_FILE", got)
	}
}

func TestRun_MixedValidityCoercion(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "events.csv",
		"timestamp,price,user_id\n"+
			"2024-03-15,10.50,1\n"+
			"2024-03-15,,2\n"+
			"2024-03-15,abc,3\n"+
			"2024-03-15,-3.25,4\n")

	st := store.NewMemory()
	res, err := newTestPipeline(st, 10).Run(ctx, StageAll, dir, "*.csv", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	silver := findResult(t, res, types.LayerSilver, "all")
	if silver.Records != 4 {
		t.Errorf("silver records: got %d, want 4", silver.Records)
	}
	if !strings.Contains(silver.Details, "rows coerced: 2") {
		t.Errorf("silver details: got %q, want rows coerced: 2", silver.Details)
	}

	state, err := st.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	// 10.50 + 0.00 + 0.00 + (-3.25)
	if got := state.ValueSum.StringFixed(2); got != "7.25" {
		t.Errorf("sum: got %s, want 7.25", got)
	}
	if !state.MinValue.Valid || state.MinValue.Decimal.StringFixed(2) != "-3.25" {
		t.Errorf("min: got %v, want -3.25", state.MinValue)
	}
	if !state.MaxValue.Valid || state.MaxValue.Decimal.StringFixed(2) != "10.50" {
		t.Errorf("max: got %v, want 10.50", state.MaxValue)
	}
}

func TestRun_ChunkedGoldBatches(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	var sb strings.Builder
	sb.WriteString("timestamp,price,user_id\n")
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&sb, "2024-03-15,%d,1\n", i)
	}
	writeCSV(t, dir, "events.csv", sb.String())

	st := store.NewMemory()
	if _, err := newTestPipeline(st, 5).Run(ctx, StageAll, dir, "*.csv", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	entries, err := st.ListAudit(ctx, 0)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	var goldBatches []int64
	for _, e := range entries {
		if e.Layer == types.LayerGold && e.Kind == types.AuditBatch {
			goldBatches = append(goldBatches, e.Records)
		}
	}
	want := []int64{5, 5, 2}
	if len(goldBatches) != len(want) {
		t.Fatalf("gold batches: got %v, want %v", goldBatches, want)
	}
	for i := range want {
		if goldBatches[i] != want[i] {
			t.Errorf("gold batch %d: got %d records, want %d", i, goldBatches[i], want[i])
		}
	}

	state, err := st.Aggregate(ctx)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if state.RecordCount != 12 || state.ValueSum.StringFixed(2) != "78.00" {
		t.Errorf("final state: count %d sum %s, want 12 and 78.00", state.RecordCount, state.ValueSum.StringFixed(2))
	}
	if got := state.Average().StringFixed(2); got != "6.50" {
		t.Errorf("average: got %s, want 6.50", got)
	}
}

func TestLoadRawFile_UnreadableIsFailedNotFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	p := newTestPipeline(st, 10)

	res, err := p.loadRawFile(ctx, filepath.Join(t.TempDir(), "gone.csv"))
	if err != nil {
		t.Fatalf("loadRawFile should absorb source errors, got %v", err)
	}
	if res.Status != types.StatusFailed {
		t.Errorf("status: got %s, want FAILED", res.Status)
	}

	entries, err := st.ListAudit(ctx, 0)
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != types.StatusFailed || entries[0].Kind != types.AuditSummary {
		t.Errorf("expected one FAILED summary entry, got %+v", entries)
	}
}

func TestRun_StoreFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeCSV(t, dir, "events.csv",
		"timestamp,price,user_id\n2024-03-15,10.00,1\n")

	st := store.NewMemory()
	st.Err = errors.New("connection refused")

	if _, err := newTestPipeline(st, 10).Run(ctx, StageAll, dir, "*.csv", nil); err == nil {
		t.Fatal("expected a store failure to abort the run")
	}
}

func TestParseStage(t *testing.T) {
	for in, want := range map[string]Stage{
		"raw": StageRaw, "silver": StageSilver, "GOLD": StageGold,
		"all": StageAll, "": StageAll,
	} {
		got, err := ParseStage(in)
		if err != nil || got != want {
			t.Errorf("ParseStage(%q): got %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseStage("bronze"); err == nil {
		t.Error("ParseStage(bronze): expected error")
	}
}

func TestAutoChunk(t *testing.T) {
	if got := autoChunk(0); got != minAutoChunk {
		t.Errorf("autoChunk(0): got %d, want %d", got, minAutoChunk)
	}
	if got := autoChunk(1000); got != 100 {
		t.Errorf("autoChunk(1000): got %d, want 100", got)
	}
	if got := autoChunk(1_000_000); got != maxAutoChunk {
		t.Errorf("autoChunk(1000000): got %d, want %d", got, maxAutoChunk)
	}
}

func TestRunResult_Failed(t *testing.T) {
	r := &RunResult{}
	r.add(SourceResult{Status: types.StatusSuccess})
	if r.Failed() {
		t.Error("no FAILED entries, Failed() should be false")
	}
	r.add(SourceResult{Status: types.StatusFailed})
	if !r.Failed() {
		t.Error("Failed() should be true once a source fails")
	}
}
