package cmd

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Waridley/crumbeez/backend/config"
	"github.com/Waridley/crumbeez/backend/enrich"
	"github.com/Waridley/crumbeez/backend/event"
	"github.com/Waridley/crumbeez/backend/eventlog"
	"github.com/Waridley/crumbeez/backend/orchestrator"
	"github.com/Waridley/crumbeez/backend/summarizer"
	"github.com/Waridley/crumbeez/backend/summarylog"
	"github.com/Waridley/crumbeez/frontend/cli/pkg/fail"
	"github.com/Waridley/crumbeez/shared"
)

type runOptions struct {
	MetricsAddress string
}

func NewRunCmd() *cobra.Command {
	options := runOptions{}
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the journal daemon, reading host events from stdin",
		GroupID: "core",
		Long: `Reads newline-delimited JSON host events from stdin, appends the semantic
ones to the durable event log, and summarizes each finished task into the
Markdown journal. The process is safe to kill at any point: on the next run
it recovers from its logs and finishes whatever was pending.`,
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

			registry := prometheus.NewRegistry()
			if options.MetricsAddress != "" {
				serveMetrics(options.MetricsAddress, registry)
			}

			core := orchestrator.New(settings, events, summaries, backend,
				orchestrator.WithProviders(buildProviders(fs, settings)...),
				orchestrator.WithMetricsRegistry(registry),
			)

			runErr := make(chan error, 1)
			go func() {
				runErr <- core.Run(ctx)
			}()

			slog.Info("crumbeez daemon started",
				"data_dir", dataDir, "backend", backend.Name(), "config", configPath)

			go ingestStdin(cmd, core)

			err = <-runErr
			slog.Info("crumbeez daemon stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&options.MetricsAddress, "metrics-address", "", "serve Prometheus metrics on this address (disabled when empty)")
	return cmd
}

func buildProviders(fs *afero.Afero, settings *config.Settings) []enrich.Provider {
	var providers []enrich.Provider
	if settings.Providers.Git {
		gitProvider, err := enrich.NewGitProvider()
		if err != nil {
			slog.Warn("git context provider disabled", "error", err)
		} else {
			providers = append(providers, gitProvider)
		}
	}
	if settings.Providers.Workspace {
		providers = append(providers, enrich.NewWorkspaceProvider(fs))
	}
	return providers
}

// ingestStdin feeds host events to the control loop until stdin closes.
// Individually unparseable lines are counted and skipped; they must not take
// the daemon down.
func ingestStdin(cmd *cobra.Command, core *orchestrator.Orchestrator) {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var unparseable int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw event.HostEvent
		if err := json.Unmarshal(line, &raw); err != nil {
			unparseable++
			slog.Warn("skipping unparseable host event line", "error", err, "total_skipped", unparseable)
			continue
		}
		if err := core.Ingest(ctx, raw); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("host event stream failed", "error", err)
	} else {
		slog.Info("host event stream closed")
	}
}

func serveMetrics(address string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "address", address, "error", err)
		}
	}()
}
