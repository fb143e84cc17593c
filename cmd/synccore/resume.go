package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the most recent incomplete sync session, if any",
	RunE:  runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
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
	if err := engine.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	result, resumed, err := engine.ResumeIfIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	if !resumed {
		fmt.Fprintln(cmd.OutOrStdout(), "no incomplete session to resume")
		return nil
	}

	return printJSON(cmd.OutOrStdout(), result)
}
