package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/gauntlet/bugs"
	"github.com/zero-day-ai/gauntlet/finding"
	"github.com/zero-day-ai/gauntlet/memory"
)

func newBugsCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bugs",
		Short: "Inspect recorded bugs",
	}
	cmd.AddCommand(newBugsListCommand(rootOpts))
	cmd.AddCommand(newBugsExportCommand(rootOpts))
	return cmd
}

// withStore opens the configured store, calls fn and closes the store.
func withStore(rootOpts *rootOptions, fn func(memory.Store) error) error {
	store, err := openStore(rootOpts.cfg, rootOpts.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newBugsListCommand(rootOpts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded bugs, most recent first, with a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(rootOpts, func(store memory.Store) error {
				all, err := store.LongTerm().Bugs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printBugs(cmd.OutOrStdout(), all)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum number of bugs")
	return cmd
}

func printBugs(w io.Writer, all []memory.BugRecord) error {
	if len(all) == 0 {
		_, err := fmt.Fprintln(w, "no bugs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUG ID\tSEVERITY\tPATTERN\tRUN\tDESCRIPTION")
	for _, b := range all {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.BugID, b.Severity, b.BugPattern, shortID(b.RunID), b.BugDescription)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := bugs.Summarize(all)
	fmt.Fprintf(w, "\n%d bug(s), highest severity %s\n", s.Total, s.Highest())
	patterns := make([]finding.Pattern, 0, len(s.ByPattern))
	for p := range s.ByPattern {
		patterns = append(patterns, p)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i] < patterns[j] })
	for _, p := range patterns {
		fmt.Fprintf(w, "  %-24s %d\n", p, s.ByPattern[p])
	}
	return nil
}

func newBugsExportCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		format string
		output string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded bugs as json, csv or markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := bugs.ParseFormat(format)
			if err != nil {
				return err
			}
			return withStore(rootOpts, func(store memory.Store) error {
				all, err := store.LongTerm().Bugs(cmd.Context(), limit)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					file, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("create %s: %w", output, err)
					}
					defer file.Close()
					w = file
				}
				return bugs.Export(w, f, all)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format (json|csv|markdown)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "maximum number of bugs")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
