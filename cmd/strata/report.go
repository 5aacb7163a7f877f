package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/strata/internal/config"
	"github.com/hyperengineering/strata/internal/report"
)

var (
	reportOut     string
	reportHoldout string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the HTML run report from the audit log",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportOut, "out", "report.html",
		"Output file path")
	reportCmd.Flags().StringVar(&reportHoldout, "holdout", config.DefaultExcluded,
		"Source excluded from the validation comparison")
}

func runReport(cmd *cobra.Command, args []string) error {
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

	data, err := report.Build(ctx, st, reportHoldout)
	if err != nil {
		return err
	}

	f, err := os.Create(reportOut)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()

	if err := report.Render(f, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", reportOut)
	return nil
}
