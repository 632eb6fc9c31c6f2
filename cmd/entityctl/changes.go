package main

import (
	"context"
	"fmt"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/engine"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/spf13/cobra"
)

func newChangesCmd(app *cli) *cobra.Command {
	var (
		limit    int
		entities []string
	)

	cmd := &cobra.Command{
		Use:   "changes [<entity> <id>]",
		Short: "Show recorded changes",
		Long: `Without arguments changes lists the newest change records, optionally
restricted with --entity. With an entity and id it shows the history of that
row.`,
		Example: `  entityctl changes --limit 20
  entityctl changes --entity file --entity mailing
  entityctl changes mailing 7`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <entity> <id>, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 2 {
				name, err := app.entity(args[0])
				if err != nil {
					return err
				}
				return app.run(cmd, func(ctx context.Context, eng *engine.Engine) error {
					records, err := eng.EntityChanges(ctx, name, args[1])
					if err != nil {
						return fmt.Errorf("changes of %s %s: %w", name, args[1], err)
					}
					return printJSON(cmd, nonNil(records))
				})
			}

			owned := make([]entity.Name, 0, len(entities))
			for _, e := range entities {
				name, err := app.entity(e)
				if err != nil {
					return err
				}
				owned = append(owned, name)
			}
			return app.run(cmd, func(ctx context.Context, eng *engine.Engine) error {
				records, err := eng.RecentChanges(ctx, limit, owned...)
				if err != nil {
					return fmt.Errorf("recent changes: %w", err)
				}
				return printJSON(cmd, nonNil(records))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", audit.DefaultChangesLimit, "maximum number of records")
	cmd.Flags().StringSliceVar(&entities, "entity", nil, "only show changes of these entities")
	return cmd
}

func nonNil(records []audit.ChangeRecord) []audit.ChangeRecord {
	if records == nil {
		return []audit.ChangeRecord{}
	}
	return records
}
