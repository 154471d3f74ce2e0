package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/eventlog"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/fail"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/terminal"
)

type replayOptions struct {
	Key   string
	Since time.Duration
}

func NewReplayCmd() *cobra.Command {
	options := replayOptions{}
	cmd := &cobra.Command{
		Use:     "replay",
		Short:   "Print the recorded event stream",
		GroupID: "core",
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

			events, err := eventlog.Open(fs, filepath.Join(dataDir, "events"))
			if err != nil {
				return err
			}
			defer events.Close()

			var cutoff time.Time
			if options.Since > 0 {
				cutoff = time.Now().Add(-options.Since)
			}

			reader, err := events.Replay()
			if err != nil {
				return err
			}
			defer reader.Close()

			out := cmd.OutOrStdout()
			for {
				ev, err := reader.Next()
				if err != nil {
					if errors.Is(err, eventlog.ErrEndOfLog) {
						break
					}
					return err
				}
				if options.Key != "" && ev.Key.String() != options.Key {
					continue
				}
				if !cutoff.IsZero() && ev.Timestamp.Before(cutoff) {
					continue
				}
				fmt.Fprintf(out, "%s %s %s %s\n",
					terminal.Dim(fmt.Sprintf("#%-6d", ev.SequenceID)),
					ev.Timestamp.UTC().Format(time.RFC3339),
					terminal.Bold(ev.Key.String()),
					event.Describe(ev),
				)
			}
			if discarded := reader.Discarded(); discarded > 0 {
				fmt.Fprintf(out, "%s discarded %d partial record(s) at the log tail\n", terminal.InfoSymbol, discarded)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&options.Key, "key", "", "only show events for this session/pane key")
	cmd.Flags().DurationVar(&options.Since, "since", 0, "only show events newer than this age (e.g. 2h)")
	return cmd
}
