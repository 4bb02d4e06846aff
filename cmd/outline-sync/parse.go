package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/outlinesync/pkg/outlinesync/hierarchy"
)

type parseOptions struct {
	Prefix   string
	LevelCap int
}

func newParseCmd(root *rootOptions) *cobra.Command {
	var opts parseOptions

	cmd := &cobra.Command{
		Use:   "parse --prefix <code> <outline-file|->",
		Short: "Print the nodes parsed from an outline as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Prefix == "" {
				return commandError("invalid flags", fmt.Errorf("--prefix is required"))
			}

			nodes, stats, err := parseOutline(cmd.InOrStdin(), args[0], opts.Prefix, opts.LevelCap)
			if err != nil {
				return failure("parse outline", err)
			}
			logStats(root.logger, args[0], stats)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if nodes == nil {
				nodes = []hierarchy.Node{}
			}
			if err := enc.Encode(nodes); err != nil {
				return failure("write nodes", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Prefix, "prefix", "p", "", "code prefix, usually the subject code")
	cmd.Flags().IntVar(&opts.LevelCap, "level-cap", hierarchy.DefaultLevelCap, "deepest level kept (-1 for no cap)")
	return cmd
}

// parseOutline parses the outline at path, or stdin when path is "-".
func parseOutline(stdin io.Reader, path, prefix string, levelCap int) ([]hierarchy.Node, hierarchy.Stats, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, hierarchy.Stats{}, err
		}
		defer f.Close()
		r = f
	}

	p := hierarchy.NewParser(hierarchy.WithLevelCap(levelCap))
	nodes, err := p.Parse(r, prefix)
	if err != nil {
		return nil, hierarchy.Stats{}, err
	}
	return nodes, p.Stats(), nil
}

func logStats(logger *slog.Logger, source string, stats hierarchy.Stats) {
	logger.Debug("outline parsed",
		slog.String("source", source),
		slog.Int("lines", stats.Lines),
		slog.Int("nodes", stats.Nodes),
		slog.Int("dropped", stats.Dropped),
		slog.Int("capped", stats.Capped),
		slog.Int("duplicates", stats.Duplicates),
	)
}
