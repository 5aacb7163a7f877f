// Package report renders an HTML summary of the pipeline's audit log:
// per-layer batch traces, phase summaries, the aggregate snapshot, and a
// validation section comparing silver metrics with and without the holdout
// source.
package report

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hyperengineering/strata/internal/store"
	"github.com/hyperengineering/strata/internal/types"
)

// Data is everything the template needs, assembled by Build.
type Data struct {
	GeneratedAt time.Time
	Counts      types.LayerCounts
	Aggregate   types.AggregateState
	Average     decimal.Decimal
	Layers      []LayerSection
	Summaries   []types.AuditEntry
	Validation  ValidationSection
}

// LayerSection groups the batch audit entries of one layer.
type LayerSection struct {
	Layer   types.Layer
	Batches []types.AuditEntry
}

// ValidationSection compares silver price metrics with and without the
// holdout source, mirroring the original validation report.
type ValidationSection struct {
	Holdout    string
	With       types.PriceStats
	Without    types.PriceStats
	CountDelta int64
	SumDelta   decimal.Decimal
	AvgDelta   decimal.Decimal
}

// Build assembles report data from the store. holdout names the source
// excluded from the comparison metrics, normally validation.csv.
func Build(ctx context.Context, st store.Store, holdout string) (*Data, error) {
	counts, err := st.LayerCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("layer counts: %w", err)
	}
	agg, err := st.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate state: %w", err)
	}
	entries, err := st.ListAudit(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	with, err := st.SilverPriceStats(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("silver stats: %w", err)
	}
	without, err := st.SilverPriceStats(ctx, []string{holdout})
	if err != nil {
		return nil, fmt.Errorf("silver stats without holdout: %w", err)
	}

	d := &Data{
		GeneratedAt: time.Now().UTC(),
		Counts:      counts,
		Aggregate:   agg,
		Average:     agg.Average(),
		Validation: ValidationSection{
			Holdout:    holdout,
			With:       with,
			Without:    without,
			CountDelta: with.Count - without.Count,
			SumDelta:   with.Sum.Sub(without.Sum),
			AvgDelta:   with.Average().Sub(without.Average()),
		},
	}

	byLayer := map[types.Layer]*LayerSection{}
	for _, layer := range []types.Layer{types.LayerRaw, types.LayerSilver, types.LayerGold} {
		section := &LayerSection{Layer: layer}
		byLayer[layer] = section
	}
	for _, e := range entries {
		switch e.Kind {
		case types.AuditBatch:
			if section, ok := byLayer[e.Layer]; ok {
				section.Batches = append(section.Batches, e)
			}
		case types.AuditSummary:
			d.Summaries = append(d.Summaries, e)
		}
	}
	for _, layer := range []types.Layer{types.LayerRaw, types.LayerSilver, types.LayerGold} {
		d.Layers = append(d.Layers, *byLayer[layer])
	}

	return d, nil
}

// Render writes the report as a standalone HTML page.
func Render(w io.Writer, d *Data) error {
	return reportTemplate.Execute(w, d)
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"dec": func(v decimal.NullDecimal) string {
		if !v.Valid {
			return "-"
		}
		return v.Decimal.StringFixed(2)
	},
	"idx": func(v *int64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%d", *v)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>strata load report</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #bbb; padding: 4px 10px; text-align: right; }
th { background: #eee; }
td:first-child, th:first-child { text-align: left; }
.status-SUCCESS { color: #060; }
.status-FAILED { color: #a00; }
.status-SKIPPED_BAD_HEADER, .status-NO_NEW_ROWS, .status-EMPTY_FILE { color: #960; }
</style>
</head>
<body>
<h1>strata load report</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>

<h2>Layer counts</h2>
<table>
<tr><th>Layer</th><th>Rows</th></tr>
<tr><td>raw</td><td>{{.Counts.Raw}}</td></tr>
<tr><td>silver</td><td>{{.Counts.Silver}}</td></tr>
<tr><td>audit log</td><td>{{.Counts.Audit}}</td></tr>
</table>

<h2>Aggregate state</h2>
<table>
<tr><th>Records</th><th>Sum</th><th>Min</th><th>Max</th><th>Average</th><th>Watermark</th><th>Updated</th></tr>
<tr>
<td>{{.Aggregate.RecordCount}}</td>
<td>{{.Aggregate.ValueSum.StringFixed 2}}</td>
<td>{{dec .Aggregate.MinValue}}</td>
<td>{{dec .Aggregate.MaxValue}}</td>
<td>{{.Average.StringFixed 2}}</td>
<td>{{.Aggregate.LastProcessedRawID}}</td>
<td>{{.Aggregate.UpdatedAt.Format "2006-01-02 15:04:05"}}</td>
</tr>
</table>

<h2>Phase summaries</h2>
<table>
<tr><th>Run</th><th>Layer</th><th>Source</th><th>Records</th><th>Chunk</th><th>Status</th><th>Details</th></tr>
{{range .Summaries}}
<tr>
<td>{{.RunID}}</td>
<td>{{.Layer}}</td>
<td>{{.SourceName}}</td>
<td>{{.Records}}</td>
<td>{{.ChunkSize}}</td>
<td class="status-{{.Status}}">{{.Status}}</td>
<td>{{.Details}}</td>
</tr>
{{end}}
</table>

{{range .Layers}}
{{if .Batches}}
<h2>{{.Layer}} batches</h2>
<table>
<tr><th>Source</th><th>Batch</th><th>Records</th><th>Min</th><th>Avg</th><th>Max</th><th>Chunk</th></tr>
{{range .Batches}}
<tr>
<td>{{.SourceName}}</td>
<td>{{idx .BatchIndex}}</td>
<td>{{.Records}}</td>
<td>{{dec .MinValue}}</td>
<td>{{dec .AvgValue}}</td>
<td>{{dec .MaxValue}}</td>
<td>{{.ChunkSize}}</td>
</tr>
{{end}}
</table>
{{end}}
{{end}}

<h2>Validation comparison</h2>
<p>Silver price metrics with and without <code>{{.Validation.Holdout}}</code>.</p>
<table>
<tr><th></th><th>Count</th><th>Sum</th><th>Average</th></tr>
<tr>
<td>all sources</td>
<td>{{.Validation.With.Count}}</td>
<td>{{.Validation.With.Sum.StringFixed 2}}</td>
<td>{{.Validation.With.Average.StringFixed 2}}</td>
</tr>
<tr>
<td>without holdout</td>
<td>{{.Validation.Without.Count}}</td>
<td>{{.Validation.Without.Sum.StringFixed 2}}</td>
<td>{{.Validation.Without.Average.StringFixed 2}}</td>
</tr>
<tr>
<td>delta</td>
<td>{{.Validation.CountDelta}}</td>
<td>{{.Validation.SumDelta.StringFixed 2}}</td>
<td>{{.Validation.AvgDelta.StringFixed 2}}</td>
</tr>
</table>
</body>
</html>
`))
