package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// recentAuditEntries is how much of the audit trail check shows.
const recentAuditEntries = 10

var checkJSONOutput bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Show layer counts, the aggregate snapshot, and recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSONOutput, "json", false,
		"Output in JSON format")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.LayerCounts(ctx)
	if err != nil {
		return err
	}
	agg, err := st.Aggregate(ctx)
	if err != nil {
		return err
	}
	pendingSilver, err := st.PendingSilver(ctx)
	if err != nil {
		return err
	}
	pendingGold, err := st.PendingGold(ctx)
	if err != nil {
		return err
	}
	recent, err := st.ListAudit(ctx, recentAuditEntries)
	if err != nil {
		return err
	}

	if checkJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"counts":         counts,
			"aggregate":      agg,
			"average":        agg.Average(),
			"pending_silver": pendingSilver,
			"pending_gold":   pendingGold,
			"recent_audit":   recent,
		})
	}

	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Layer counts")
	w := newTabWriter(out)
	fmt.Fprintln(w, "LAYER\tROWS\tPENDING")
	fmt.Fprintf(w, "raw\t%d\t%d awaiting coercion\n", counts.Raw, pendingSilver)
	fmt.Fprintf(w, "silver\t%d\t%d above watermark\n", counts.Silver, pendingGold)
	fmt.Fprintf(w, "audit log\t%d\t-\n", counts.Audit)
	w.Flush()

	fmt.Fprintln(out, "\nAggregate state")
	w = newTabWriter(out)
	fmt.Fprintln(w, "RECORDS\tSUM\tMIN\tMAX\tAVERAGE\tWATERMARK\tUPDATED")
	minText, maxText := "-", "-"
	if agg.MinValue.Valid {
		minText = agg.MinValue.Decimal.StringFixed(2)
	}
	if agg.MaxValue.Valid {
		maxText = agg.MaxValue.Decimal.StringFixed(2)
	}
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
		agg.RecordCount,
		agg.ValueSum.StringFixed(2),
		minText,
		maxText,
		agg.Average().StringFixed(2),
		agg.LastProcessedRawID,
		agg.UpdatedAt.Format("2006-01-02 15:04:05"),
	)
	w.Flush()

	if len(recent) > 0 {
		fmt.Fprintf(out, "\nLast %d audit entries\n", len(recent))
		w = newTabWriter(out)
		fmt.Fprintln(w, "TIME\tLAYER\tSOURCE\tRECORDS\tSTATUS\tDETAILS")
		for _, e := range recent {
			details := e.Details
			if details == "" {
				details = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				e.Layer, e.SourceName, e.Records, colorStatus(e.Status), details)
		}
		w.Flush()
	}

	return nil
}
