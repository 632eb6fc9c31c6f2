package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-entity-engine/engine"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/spf13/cobra"
)

func newGetCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Show one row",
		Example: `  entityctl get file 12
  entityctl get mailing 7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := app.entity(args[0])
			if err != nil {
				return err
			}
			return app.run(cmd, func(ctx context.Context, eng *engine.Engine) error {
				row, err := eng.GetObject(ctx, name, args[1])
				if err != nil {
					if entity.IsNotFound(err) {
						return fmt.Errorf("%s %q not found", name, args[1])
					}
					return fmt.Errorf("get %s: %w", name, err)
				}
				return printJSON(cmd, row)
			})
		},
	}
}

func newListCmd(app *cli) *cobra.Command {
	var (
		order  []string
		fields []string
		limit  int
		offset int
		or     bool
	)

	cmd := &cobra.Command{
		Use:   "list <entity> [field=value...]",
		Short: "List rows with optional filters",
		Long: `List rows of an entity. Filters are field=value pairs and are ANDed
unless --or is given. A JSON value is decoded, so field=null matches NULL and
field=[1,2] matches any listed value.`,
		Example: `  entityctl list file
  entityctl list file mimeType=image/png --order -size --limit 10
  entityctl list mailing status='["draft","queued"]'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := app.entity(args[0])
			if err != nil {
				return err
			}
			query, err := parseFilters(args[1:])
			if err != nil {
				return err
			}
			opts := entity.QueryOptions{Fields: fields, Order: order, Limit: limit, Offset: offset}
			if or {
				opts.Combine = entity.CombineOr
			}

			return app.run(cmd, func(ctx context.Context, eng *engine.Engine) error {
				rs, err := eng.GetObjects(ctx, name, query, opts)
				if err != nil {
					return fmt.Errorf("list %s: %w", name, err)
				}
				return printJSON(cmd, rs.Rows)
			})
		},
	}
	cmd.Flags().StringSliceVar(&order, "order", nil, "order by fields, prefix with - for descending")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to select, the key is always included")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&or, "or", false, "match any filter instead of all")
	return cmd
}

func parseFilters(args []string) (entity.Query, error) {
	query := entity.Query{}
	for _, arg := range args {
		field, value, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q (expected field=value)", arg)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		query[field] = parsed
	}
	return query, nil
}
