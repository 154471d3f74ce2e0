package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/backend/eventlog"
	"github.com/Waridley/crumbeez/backend/orchestrator"
	"github.com/Waridley/crumbeez/backend/summarizer"
	"github.com/Waridley/crumbeez/backend/summarylog"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/fail"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/terminal"
	"github.com/Waridley/crumbeez/shared"
)

func NewSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "summarize",
		Short:   "Summarize all unsummarized events now, then exit",
		GroupID: "core",
		Long: `Closes every open task as a checkpoint and summarizes all pending work
synchronously. Useful at the end of a day, or to flush a backlog the daemon
left behind. Must not run while 'crumbeez run' holds the event log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			fs := getFileSystem(ctx)

			configPath, err := resolveConfigPath(ctx, getGlobalOptions(ctx))
			if err != nil {
				return err
			}
			settings, err := config.Load(fs, configPath)
			if err != nil {
				return fail.NewConfigError(configPath, err)
			}
			dataDir, err := resolveDataDir(ctx, settings.DataDir)
			if err != nil {
				return err
			}

			events, err := eventlog.Open(fs, filepath.Join(dataDir, "events"),
				eventlog.WithMaxSegmentSize(settings.EventLog.MaxSegmentSize),
				eventlog.WithExclusiveLock(),
			)
			if err != nil {
				if shared.IsKind(err, shared.ErrorKindIoFailure) {
					return fail.NewLogLockedError(filepath.Join(dataDir, "events"), err)
				}
				return err
			}
			defer events.Close()

			summaries, err := summarylog.Open(fs, filepath.Join(dataDir, "summaries"))
			if err != nil {
				return err
			}
			defer summaries.Close()

			backend, err := summarizer.FromSettings(settings.Backend)
			if err != nil {
				return err
			}

			core := orchestrator.New(settings, events, summaries, backend,
				orchestrator.WithProviders(buildProviders(fs, settings)...),
			)

			written, err := core.RunOnce(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if written == 0 {
				fmt.Fprintf(out, "%s nothing to summarize\n", terminal.SuccessSymbol)
				return nil
			}
			fmt.Fprintf(out, "%s wrote %d summar%s to %s\n",
				terminal.SuccessSymbol, written, plural(written, "y", "ies"), filepath.Join(dataDir, "summaries"))
			return nil
		},
	}
	return cmd
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
