package main

import (
	"fmt"
	"log"

	indexcore "github.com/semindex/indexcore"
	"github.com/semindex/indexcore/internal/delegate"
	"github.com/semindex/indexcore/internal/engine"
	"github.com/spf13/cobra"
)

func newServeCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <workspace>",
		Short: "Load a package, watch it for changes, and log change notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, logger, args[0])
		},
	}
}

type statusLineSink struct {
	log *log.Logger
}

func (s *statusLineSink) FileBuildSettingsChanged(uris []string) {
	s.log.Printf("build settings changed: %d file(s)", len(uris))
}

func (s *statusLineSink) FileDependenciesUpdated(uris []string) {
	s.log.Printf("dependencies updated: %d file(s)", len(uris))
}

func (s *statusLineSink) FileHandlingCapabilityChanged() {
	s.log.Printf("file handling capability changed")
}

func runServe(cmd *cobra.Command, logger *log.Logger, workspace string) error {
	ctx, cancel := indexcore.InterruptibleContext()
	defer cancel()

	toolchain, err := toolchainLookupFromFlag(cmd)(workspace)
	if err != nil {
		return err
	}
	loader := loaderFromFlag(cmd, toolchain)

	eng, err := engine.New(ctx, workspace, func(string) (string, error) { return toolchain, nil }, loader, indexcore.BuildSetupConfig{}, false, nil, logger)
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}
	defer func() { _ = eng.Close() }()

	h := eng.RegisterForChangeNotifications("", &statusLineSink{log: logger})
	defer eng.UnregisterForChangeNotifications(h)

	files := eng.SourceFiles()
	logger.Printf("loaded %d source file(s), watching %s", len(files), workspace)

	eng.Index.ScheduleBackgroundIndex(eng.Resolver.AllSourceFiles())

	<-ctx.Done()
	logger.Printf("shutting down")
	return nil
}

var _ delegate.Sink = (*statusLineSink)(nil)
