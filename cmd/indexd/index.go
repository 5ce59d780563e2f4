package main

import (
	"context"
	"fmt"
	"log"

	indexcore "github.com/semindex/indexcore"
	"github.com/semindex/indexcore/internal/engine"
	"github.com/spf13/cobra"
)

func newIndexCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "index <workspace> <files...>",
		Short: "Reload a package, index the given files, and print a summary",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, logger, args[0], args[1:])
		},
	}
}

func runIndex(cmd *cobra.Command, logger *log.Logger, workspace string, files []string) error {
	ctx := context.Background()

	toolchain, err := toolchainLookupFromFlag(cmd)(workspace)
	if err != nil {
		return err
	}
	loader := loaderFromFlag(cmd, toolchain)

	eng, err := engine.New(ctx, workspace, func(string) (string, error) { return toolchain, nil }, loader, indexcore.BuildSetupConfig{}, true, nil, logger)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	defer func() { _ = eng.Close() }()

	if err := eng.GenerateBuildGraph(ctx); err != nil {
		return fmt.Errorf("generate build graph: %w", err)
	}

	h := eng.Index.ScheduleBackgroundIndex(files)
	if err := h.Wait(ctx); err != nil {
		return fmt.Errorf("index %v: %w", files, err)
	}

	tasks := eng.InProgressIndexTasks()
	fmt.Printf("indexed %d file(s); %d still scheduled, %d still executing\n", len(files), len(tasks.Scheduled), len(tasks.Executing))
	return nil
}
