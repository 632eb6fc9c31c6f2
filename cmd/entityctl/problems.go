package main

import (
	"context"
	"fmt"

	"github.com/goliatone/go-entity-engine/engine"
	"github.com/goliatone/go-entity-engine/problems"
	"github.com/spf13/cobra"
)

func newProblemsCmd(app *cli) *cobra.Command {
	var fix, simulate bool

	cmd := &cobra.Command{
		Use:   "problems",
		Short: "Report consistency problems, optionally fixing them",
		Example: `  entityctl problems
  entityctl problems --fix --simulate
  entityctl problems --fix`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if simulate && !fix {
				return fmt.Errorf("--simulate requires --fix")
			}
			reporter := app.container.Problems()
			return app.run(cmd, func(ctx context.Context, _ *engine.Engine) error {
				var (
					found []problems.EntityProblem
					err   error
				)
				if fix {
					found, err = reporter.AutoFixProblems(ctx, simulate)
				} else {
					found, err = reporter.GetProblems(ctx)
				}
				if err != nil {
					return fmt.Errorf("problems: %w", err)
				}
				if found == nil {
					found = []problems.EntityProblem{}
				}
				return printJSON(cmd, found)
			})
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "apply automatic fixes")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "with --fix, list what would be fixed without writing")
	return cmd
}
