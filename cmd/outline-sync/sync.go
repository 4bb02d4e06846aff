package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/config"
	oserrors "github.com/randalmurphal/outlinesync/pkg/outlinesync/errors"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/observability"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/store"
	"github.com/randalmurphal/outlinesync/pkg/outlinesync/treesync"
)

type syncOptions struct {
	Code          string
	Qualification string
	Board         string
	Name          string
	Prefix        string
	LevelCap      int
}

func newSyncCmd(root *rootOptions) *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync --code <code> --qualification <type> --board <board> <outline-file|->",
		Short: "Replace one subject's topic tree with a parsed outline",
		Long: "Parses the outline, upserts the subject and replaces its topic tree in the configured store. " +
			"Prints COUNT lines that a run collects into its report.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var missing []error
			for _, f := range []struct{ flag, value string }{
				{"code", opts.Code},
				{"qualification", opts.Qualification},
				{"board", opts.Board},
			} {
				if f.value == "" {
					missing = append(missing, fmt.Errorf("--%s is required", f.flag))
				}
			}
			if err := errors.Join(missing...); err != nil {
				return commandError("invalid flags", err)
			}

			// A terminal interrupt reaches the whole process group; the
			// parent run decides whether this job is abandoned.
			if root.ignoreSignals != nil {
				root.ignoreSignals(os.Interrupt)
			}

			settings, _, err := config.Load(root.ConfigPath)
			if err != nil {
				return commandError("load settings", err)
			}
			levelCap := settings.LevelCap
			if cmd.Flags().Changed("level-cap") {
				levelCap = opts.LevelCap
			}
			prefix := opts.Prefix
			if prefix == "" {
				prefix = opts.Code
			}
			name := opts.Name
			if name == "" {
				name = opts.Code
			}

			nodes, stats, err := parseOutline(cmd.InOrStdin(), args[0], prefix, levelCap)
			if err != nil {
				return failure("parse outline", err)
			}
			logStats(root.logger, args[0], stats)

			ctx := cmd.Context()
			st, err := store.Open(ctx, settings.StoreDriver, settings.StoreDSN, store.Config{
				CallTimeout:      settings.CallTimeout,
				StatementTimeout: settings.StatementTimeout,
				ApplySchema:      settings.ApplySchema,
			})
			if err != nil {
				return failure("open store", err)
			}
			defer st.Close()

			syncer := treesync.New(st,
				treesync.WithBatchSize(settings.BatchSize),
				treesync.WithDeletePageSize(settings.DeletePageSize),
				treesync.WithTransactions(settings.Transactional),
				treesync.WithLogger(root.logger),
				treesync.WithMetrics(observability.NewMetricsRecorder()),
				treesync.WithSpans(observability.NewSpanManager()),
			)

			key := store.SubjectKey{Code: opts.Code, QualificationType: opts.Qualification, Board: opts.Board}
			_, res, err := syncer.Sync(ctx, key, store.SubjectFields{Name: name}, nodes)
			if err != nil {
				root.logger.Error("sync failed",
					slog.String("subject", key.String()),
					slog.String("category", oserrors.Categorize(err).String()),
					slog.String("error", err.Error()),
				)
				return failure("sync "+key.String(), err)
			}

			return writeCounts(cmd.OutOrStdout(), []count{
				{"nodes", len(nodes)},
				{"dropped", stats.Dropped + stats.Capped + stats.Duplicates},
				{"deleted", res.Deleted},
				{"inserted", res.Inserted},
				{"linked", res.Linked},
				{"splits", res.Splits},
			})
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "subject code")
	cmd.Flags().StringVar(&opts.Qualification, "qualification", "", "qualification type, e.g. GCSE")
	cmd.Flags().StringVar(&opts.Board, "board", "", "exam board")
	cmd.Flags().StringVar(&opts.Name, "name", "", "subject name (default: the code)")
	cmd.Flags().StringVarP(&opts.Prefix, "prefix", "p", "", "topic code prefix (default: the code)")
	cmd.Flags().IntVar(&opts.LevelCap, "level-cap", 0, "deepest level kept (default: sync.level_cap)")
	return cmd
}

type count struct {
	name  string
	value int
}

// writeCounts prints one `COUNT name=value` line per count.
func writeCounts(w io.Writer, counts []count) error {
	for _, c := range counts {
		if _, err := fmt.Fprintf(w, "COUNT %s=%d\n", c.name, c.value); err != nil {
			return failure("write counts", err)
		}
	}
	return nil
}
