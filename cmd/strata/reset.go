package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all layer data and zero the aggregate state",
	Long:  "Truncate the raw, silver, and audit tables, restart their identities, and zero the aggregate singleton. Schema structure is preserved; a subsequent load starts from scratch.",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false,
		"Skip the confirmation prompt")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetForce {
		fmt.Fprint(cmd.OutOrStdout(), "This deletes all ingested data and aggregate state. Type 'yes' to continue: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reset aborted: no confirmation")
		}
		if strings.TrimSpace(line) != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset aborted.")
			return nil
		}
	}

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

	if err := st.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All layer data cleared.")
	return nil
}
