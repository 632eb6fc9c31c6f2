package main

import (
	"context"
	"fmt"

	"github.com/goliatone/go-entity-engine/engine"
	"github.com/spf13/cobra"
)

func newTouchCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <entity> <id> [field]",
		Short: "Bump the update stamps of a row without changing values",
		Long: `Touch records a change of field, or of the entity key when no field is
given, with its current value and refreshes the matching UpdatedOn/UpdatedBy
stamps.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := app.entity(args[0])
			if err != nil {
				return err
			}
			var field string
			if len(args) == 3 {
				field = args[2]
			}
			return app.run(cmd, func(ctx context.Context, eng *engine.Engine) error {
				row, err := eng.TouchEntity(ctx, name, args[1], field)
				if err != nil {
					return fmt.Errorf("touch %s: %w", name, err)
				}
				return printJSON(cmd, row)
			})
		},
	}
}

func newDeleteCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <id>",
		Short: "Delete one row of an entity that enables deletes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := app.entity(args[0])
			if err != nil {
				return err
			}
			return app.run(cmd, func(ctx context.Context, eng *engine.Engine) error {
				if err := eng.DeleteEntity(ctx, name, args[1]); err != nil {
					return fmt.Errorf("delete %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", name, args[1])
				return nil
			})
		},
	}
}
