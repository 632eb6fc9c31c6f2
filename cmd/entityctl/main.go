// Command entityctl inspects and maintains entities managed by the entity
// engine: it reads rows, touches fields, lists change history, reports and
// fixes consistency problems and flushes the persistent cache.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/config"
	"github.com/goliatone/go-entity-engine/engine"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/pkg/di"
	"github.com/spf13/cobra"
)

func main() {
	app := &cli{}
	err := newRootCmd(app).ExecuteContext(context.Background())
	// post-run hooks are skipped when a command fails
	if closeErr := app.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds the state shared by every command of one invocation.
type cli struct {
	configFile string
	user       string
	container  *di.Container
}

func newRootCmd(app *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "entityctl",
		Short: "Inspect and maintain configured entities",
		Long: `entityctl works on the entities defined in the engine configuration.

Configuration is read from --config and ENTITY_ prefixed environment
variables, for example ENTITY_DATABASE_DSN.`,
		SilenceUsage:      true,
		PersistentPreRunE: app.open,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.close()
		},
	}
	root.PersistentFlags().StringVar(&app.configFile, "config", "", "engine config file (YAML)")
	root.PersistentFlags().StringVar(&app.user, "user", "", "user recorded as the author of changes")

	root.AddCommand(
		newEntitiesCmd(app),
		newGetCmd(app),
		newListCmd(app),
		newTouchCmd(app),
		newDeleteCmd(app),
		newChangesCmd(app),
		newProblemsCmd(app),
		newCacheCmd(app),
	)
	return root
}

func (a *cli) open(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, err := di.NewContainer(cmd.Context(), cfg, di.WithLogger(cfg.Log.Logger(os.Stderr)))
	if err != nil {
		return fmt.Errorf("load engine: %w", err)
	}
	a.container = c
	return nil
}

func (a *cli) close() error {
	if a.container == nil {
		return nil
	}
	err := a.container.Close()
	a.container = nil
	return err
}

// run executes fn as one request: in its own cache scope, with the --user
// actor attached.
func (a *cli) run(cmd *cobra.Command, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.user != "" {
		ctx = engine.WithActor(ctx, audit.Actor{UserID: a.user})
	}
	return a.container.CacheService().Run(ctx, func(ctx context.Context) error {
		return fn(ctx, a.container.Engine())
	})
}

func (a *cli) entity(name string) (entity.Name, error) {
	n, ok := a.container.Registry().Lookup(name)
	if !ok {
		return entity.Name{}, fmt.Errorf("unknown entity %q", name)
	}
	return n, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}
