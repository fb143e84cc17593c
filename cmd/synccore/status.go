package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine's current state and any incomplete checkpoints",
	RunE:  runStatus,
}

type statusReport struct {
	State                 string `json:"state"`
	IncompleteCheckpoints int    `json:"incomplete_checkpoints"`
	UnresolvedConflicts   int    `json:"unresolved_conflicts"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	engine, st, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	checkpoints, err := st.ListIncompleteCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("list incomplete checkpoints: %w", err)
	}
	conflicts, err := st.ListUnresolvedConflicts(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved conflicts: %w", err)
	}

	report := statusReport{
		State:                 string(engine.GetStatus()),
		IncompleteCheckpoints: len(checkpoints),
		UnresolvedConflicts:   len(conflicts),
	}

	return printJSON(cmd.OutOrStdout(), report)
}
