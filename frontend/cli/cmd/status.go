package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/eventlog"
	"github.com/Waridley/crumbeez/backend/orchestrator"
	"github.com/Waridley/crumbeez/backend/summarylog"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/fail"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/terminal"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show event and summary log state per pane",
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

			summaries, err := summarylog.Open(fs, filepath.Join(dataDir, "summaries"))
			if err != nil {
				return err
			}
			defer summaries.Close()

			written, err := summaries.Replay()
			if err != nil {
				return err
			}
			watermark := orchestrator.NewWatermark()
			var lastSummary time.Time
			for _, summary := range written {
				watermark.MarkConsumed(summary.SequenceIDs)
				if summary.CreatedAt.After(lastSummary) {
					lastSummary = summary.CreatedAt
				}
			}

			total := 0
			unconsumed := make(map[event.CorrelationKey]int)
			reader, err := events.Replay()
			if err != nil {
				return err
			}
			defer reader.Close()
			for {
				ev, err := reader.Next()
				if err != nil {
					if errors.Is(err, eventlog.ErrEndOfLog) {
						break
					}
					return err
				}
				total++
				if !watermark.IsConsumed(ev.SequenceID) {
					unconsumed[ev.Key]++
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, terminal.Header("Crumbeez status"))
			fmt.Fprintf(out, "  Data directory:  %s\n", dataDir)
			fmt.Fprintf(out, "  Events recorded: %d\n", total)
			fmt.Fprintf(out, "  Summaries:       %d", len(written))
			if !lastSummary.IsZero() {
				fmt.Fprintf(out, " %s", terminal.Dim("(last at "+lastSummary.UTC().Format(time.RFC3339)+")"))
			}
			fmt.Fprintln(out)

			if len(unconsumed) == 0 {
				fmt.Fprintf(out, "\n%s all recorded events are summarized\n", terminal.SuccessSymbol)
				return nil
			}

			keys := make([]event.CorrelationKey, 0, len(unconsumed))
			for key := range unconsumed {
				keys = append(keys, key)
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

			fmt.Fprintf(out, "\n%s events awaiting summarization:\n", terminal.PendingSymbol)
			for _, key := range keys {
				fmt.Fprintf(out, "  %s  %d events\n", terminal.Bold(key.String()), unconsumed[key])
			}
			fmt.Fprintf(out, "\n%s\n", terminal.Dim("run 'crumbeez summarize' to flush them now"))
			return nil
		},
	}
	return cmd
}
