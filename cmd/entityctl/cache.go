package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent entity cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Remove every entry from the persistent cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.container.CacheService().Flush(cmd.Context()) {
				return fmt.Errorf("cache flush failed, see log")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cache flushed")
			return nil
		},
	})
	return cmd
}
