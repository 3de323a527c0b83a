package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/shimmer/internal/journal"
)

func newJournalCmd(a *app) *cobra.Command {
	var (
		limit int
		prune time.Duration
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent measurement episodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			j, err := journal.Open(a.cfg.Journal.Path, a.cfg.JournalOptions(a.logger)...)
			if err != nil {
				return err
			}
			defer j.Close()

			if prune > 0 {
				n, err := j.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				a.logger.Info("journal: pruned", "rows", n, "older_than", prune)
			}

			entries, err := j.Recent(ctx, limit)
			if err != nil {
				return err
			}
			stats, err := j.Stats(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			t := table.NewWriter()
			t.SetOutputMirror(w)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "When", "Via", "Width", "Leaves", "Passes", "Exhausted", "Elapsed", "Error"})
			for _, e := range entries {
				t.AppendRow(table.Row{
					e.ID, e.CreatedAt.Local().Format(time.DateTime), e.Transport, e.Width,
					e.Leaves, e.Passes, e.Exhausted, e.Elapsed.Round(time.Millisecond), e.Error,
				})
			}
			t.Render()
			fmt.Fprintf(w, "%d episodes, %d exhausted, %.1f passes and %.0fms on average\n",
				stats.Count, stats.Exhausted, stats.MeanPasses, stats.MeanElapsed)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "entries to list")
	cmd.Flags().DurationVar(&prune, "prune", 0, "first delete entries older than this")
	cmd.Flags().String("journal", "", "journal database path")
	return cmd
}
