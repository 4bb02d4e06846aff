package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/checkpoint"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/config"
	oserrors "github.com/randalmurphal/outlinesync/pkg/outlinesync/errors"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/observability"
)

type runOptions struct {
	Resume       bool
	ManifestPath string
	ReportPath   string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [--resume] [--manifest path]",
		Short: "Run every job of the manifest in order, with checkpointing",
		Long: "Runs the manifest's jobs one at a time. Failed jobs are recorded and the run continues. " +
			"An interrupt lets the current job finish, saves the checkpoint and exits 130; " +
			"--resume skips jobs that already completed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, cfg, err := config.Load(root.ConfigPath)
			if err != nil {
				return commandError("load settings", err)
			}

			manifestPath := opts.ManifestPath
			if manifestPath == "" {
				manifestPath = cfg.String("manifest", root.ConfigPath)
			}
			if manifestPath == "" {
				return commandError("no jobs", errors.New("pass --manifest or a --config file with a jobs list"))
			}
			jobs, err := loadJobs(manifestPath)
			if err != nil {
				return commandError("load manifest", err)
			}

			cpStore, err := openCheckpointStore(settings)
			if err != nil {
				return failure("open checkpoint", err)
			}
			defer cpStore.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			orch := outlinesync.New(cpStore,
				&outlinesync.ProcessRunner{Output: cmd.ErrOrStderr(), WaitDelay: outlinesync.DefaultWaitDelay},
				outlinesync.WithLogger(root.logger),
				outlinesync.WithMetrics(observability.NewMetricsRecorder()),
				outlinesync.WithSpans(observability.NewSpanManager()),
			)

			summary, runErr := orch.Run(ctx, jobs, opts.Resume)
			if summary != nil {
				if err := writeSummary(cmd, summary, firstNonEmpty(opts.ReportPath, settings.ReportPath)); err != nil {
					runErr = errors.Join(runErr, err)
				}
			}

			switch {
			case runErr == nil:
				return nil
			case oserrors.IsInterrupt(runErr):
				return &ExitError{Code: ExitInterrupted, Message: "interrupted, resume with --resume", Err: runErr}
			default:
				return failure("run", runErr)
			}
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "skip jobs completed by an earlier run")
	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "", "job manifest (default: manifest key, else the config file)")
	cmd.Flags().StringVar(&opts.ReportPath, "report", "", "write the JSON summary here (default: report key)")
	return cmd
}

func loadJobs(path string) ([]outlinesync.Job, error) {
	m, err := config.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	specs, err := m.Expand(self)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%s declares no jobs", path)
	}

	jobs := make([]outlinesync.Job, len(specs))
	for i, s := range specs {
		jobs[i] = outlinesync.Job{ID: s.ID, Args: s.Args, Env: s.Env, Dir: s.Dir}
	}
	return jobs, nil
}

func openCheckpointStore(s config.Settings) (checkpoint.Store, error) {
	switch s.CheckpointBackend {
	case "sqlite":
		st, err := checkpoint.NewSQLiteStore(s.CheckpointPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return checkpoint.NewFileStore(s.CheckpointPath), nil
	}
}

func writeSummary(cmd *cobra.Command, summary *outlinesync.Summary, reportPath string) error {
	if reportPath != "" {
		if err := summary.WriteFile(reportPath); err != nil {
			return err
		}
	}
	return summary.WriteText(cmd.OutOrStdout())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
