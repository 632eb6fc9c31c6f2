package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type entitySummary struct {
	Name          string   `json:"name"`
	Table         string   `json:"table"`
	Key           string   `json:"key"`
	Fields        []string `json:"fields"`
	Required      []string `json:"required,omitempty"`
	DependsOn     []string `json:"depends_on,omitempty"`
	ReportChanges bool     `json:"report_changes"`
	Delete        bool     `json:"delete"`
	ReadOnly      bool     `json:"read_only"`
}

func newEntitiesCmd(app *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List configured entities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := app.container.Registry()
			out := make([]entitySummary, 0, registry.Len())
			for _, name := range registry.Names() {
				spec, err := registry.Specification(name)
				if err != nil {
					return fmt.Errorf("entity %s: %w", name, err)
				}
				summary := entitySummary{
					Name:          name.String(),
					Table:         spec.Table(),
					Key:           spec.EntityKeyField(),
					Required:      spec.RequiredForCreation(),
					ReportChanges: spec.ReportChanges(),
					Delete:        spec.DeleteEnabled(),
					ReadOnly:      !spec.Writable(),
				}
				for _, field := range spec.Fields() {
					summary.Fields = append(summary.Fields, field.Name+":"+string(field.Kind))
				}
				for _, dep := range spec.DependsOn() {
					summary.DependsOn = append(summary.DependsOn, dep.String())
				}
				out = append(out, summary)
			}
			return printJSON(cmd, out)
		},
	}
}
