package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List unresolved conflicts awaiting a decision",
	RunE:  runConflicts,
}

func runConflicts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	_, st, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	conflicts, err := st.ListUnresolvedConflicts(context.Background())
	if err != nil {
		return fmt.Errorf("list unresolved conflicts: %w", err)
	}
	if len(conflicts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no unresolved conflicts")
		return nil
	}

	return printJSON(cmd.OutOrStdout(), conflicts)
}
