package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
	LogFormat  string // "text" | "json"

	logger *slog.Logger
	// ignoreSignals is signal.Ignore in the binary. A nil func leaves the
	// process's signal handling alone.
	ignoreSignals func(...os.Signal)
}

var logFormats = []string{"text", "json"}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "outline-sync",
		Short:         "Sync numbered outlines into topic trees",
		Long:          "Parses numbered outlines into topic trees, replaces them in a staging store, and runs batches of syncs as resumable jobs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.LogFormat, opts.Verbose)
			if err != nil {
				return commandError("invalid flags", err)
			}
			opts.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("OUTLINE_CONFIG"), "settings file (YAML or JSON)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return commandError("invalid flags", err)
	})

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newParseCmd(opts))
	return cmd
}

func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	default:
		return nil, fmt.Errorf("log format %q: must be one of %v", format, logFormats)
	}
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, ignore func(...os.Signal)) int {
	opts := &rootOptions{ignoreSignals: ignore}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}
