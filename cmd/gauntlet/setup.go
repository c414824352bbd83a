package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSetupCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Index the demo toolset into long-term memory",
		Long: `Index every demo tool (name, kind, description and implementation notes)
into long-term memory so the oracle can reason about the tools before any
bug exists. Re-running replaces the stored descriptors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, rootOpts.cfg, rootOpts.logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if err := rt.gauntlet.Init(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d tools into %s memory\n",
				rt.gauntlet.Tools().Len(), backendName(rootOpts.cfg.Store.Backend))
			return nil
		},
	}
}

func backendName(b string) string {
	if b == "" {
		return "memory"
	}
	return b
}
