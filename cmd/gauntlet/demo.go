package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/gauntlet/bugs"
	"github.com/zero-day-ai/gauntlet/demo"
	"github.com/zero-day-ai/gauntlet/session"
)

type demoOptions struct {
	*rootOptions
	Hypothesis string
	Task       string
	Generate   bool
}

func newDemoCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &demoOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the personal-assistant demo agent under interception",
		Long: `Run one test of the demo personal-assistant agent.

By default the run uses the prompt-injection hypothesis and the inbox task.
With --generate the oracle drafts and selects a hypothesis and writes the
task itself.

Example:
  gauntlet demo
  gauntlet demo --generate --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.cfg, opts.logger, nil)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))
			return runDemo(ctx, rt, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Hypothesis, "hypothesis", demo.Hypothesis, "hypothesis for the run")
	cmd.Flags().StringVar(&opts.Task, "task", demo.Task, "task given to the agent")
	cmd.Flags().BoolVar(&opts.Generate, "generate", false, "let the oracle generate the hypothesis and task")

	return cmd
}

// runDemo indexes the tools and performs one run of the demo agent.
func runDemo(ctx context.Context, rt *runtime, opts *demoOptions, out io.Writer) error {
	g := rt.gauntlet
	if err := g.Init(ctx); err != nil {
		return err
	}

	return g.Run(ctx, func(ctx context.Context, sess *session.Session) error {
		hypothesis, task := opts.Hypothesis, opts.Task
		if opts.Generate {
			var err error
			if hypothesis, err = g.Hypothesize(ctx, sess); err != nil {
				return err
			}
			if task, err = g.Input(ctx, sess); err != nil {
				return err
			}
		} else if err := g.SetHypothesis(ctx, sess, hypothesis); err != nil {
			return err
		}

		fmt.Fprintf(out, "run:        %s\nhypothesis: %s\ntask:       %s\n\n", sess.RunID(), hypothesis, task)

		output, err := demo.NewAgent(g.Wrapped(), rt.logger).Run(ctx, task)
		if err != nil {
			return fmt.Errorf("demo agent: %w", err)
		}
		fmt.Fprintf(out, "agent output:\n%s\n\n", output)

		ev, err := g.Evaluate(ctx, sess, output)
		if err != nil {
			return err
		}
		printEvaluation(out, ev)
		return nil
	})
}

func printEvaluation(w io.Writer, ev bugs.Evaluation) {
	fmt.Fprintf(w, "evaluation:\n%s\n\n", ev.Summary)
	if len(ev.Bugs) == 0 {
		fmt.Fprintln(w, "no bugs recorded")
	}
	for _, b := range ev.Bugs {
		fmt.Fprintf(w, "recorded %s [%s] %s\n", b.BugID, b.Severity, b.Summary())
	}
	if ev.Rejected > 0 {
		fmt.Fprintf(w, "%d store-bug invocation(s) rejected\n", ev.Rejected)
	}
}
