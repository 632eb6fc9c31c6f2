package di

import (
	"context"
	"database/sql"
	"io"
	"log/slog"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/config"
	"github.com/goliatone/go-entity-engine/engine"
	"github.com/goliatone/go-entity-engine/entity"
	"github.com/goliatone/go-entity-engine/internal/auditinfra"
	"github.com/goliatone/go-entity-engine/problems"
	goerrors "github.com/goliatone/go-errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Container wires the database, entity registry, cache, change log, engine
// and problem reporter from one configuration. Every component is built once
// in NewContainer and shared.
type Container struct {
	config       config.Config
	db           *bun.DB
	ownsDB       bool
	registry     *entity.Registry
	store        cache.Store
	cacheService *cache.Service
	auditLog     *audit.Log
	engine       *engine.Engine
	problems     *problems.Reporter
	logger       *slog.Logger
}

type options struct {
	db         *bun.DB
	hooks      *entity.Hooks
	logger     *slog.Logger
	registerer prometheus.Registerer
	providers  []problems.Provider
	defaults   []problems.MissingRequiredOption
}

type Option func(*options)

// WithDB uses db instead of opening one from the database configuration.
// The container does not close it.
func WithDB(db *bun.DB) Option {
	return func(o *options) { o.db = db }
}

// WithHooks resolves the hook names used by entity definitions.
func WithHooks(hooks *entity.Hooks) Option {
	return func(o *options) { o.hooks = hooks }
}

// WithLogger overrides the logger built from the log configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer publishes cache metrics, usually prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithProblemProviders adds providers next to the built-in missing required
// field provider.
func WithProblemProviders(providers ...problems.Provider) Option {
	return func(o *options) { o.providers = append(o.providers, providers...) }
}

// WithRequiredDefault sets the value the missing required field provider
// writes when fixing field of entityName.
func WithRequiredDefault(entityName, field string, value any) Option {
	return func(o *options) {
		o.defaults = append(o.defaults, problems.WithDefault(entityName, field, value))
	}
}

// NewContainer builds every component described by cfg. On error anything
// already opened is closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c = &Container{config: cfg, logger: o.logger}
	if c.logger == nil {
		c.logger = cfg.Log.Logger(io.Discard)
	}
	defer func() {
		if err != nil {
			_ = c.Close()
			c = nil
		}
	}()

	c.registry, err = entity.Register(cfg.Entities, o.hooks)
	if err != nil {
		return c, err
	}

	if o.db != nil {
		c.db = o.db
	} else {
		if c.db, err = OpenDB(cfg.Database); err != nil {
			return c, err
		}
		c.ownsDB = true
	}

	if c.store, err = cache.NewStore(ctx, cfg.Cache); err != nil {
		return c, err
	}
	cacheOpts := []cache.Option{cache.WithLogger(c.logger)}
	if o.registerer != nil {
		cacheOpts = append(cacheOpts, cache.WithRegisterer(o.registerer))
	}
	if c.cacheService, err = cache.NewService(c.store, cfg.Cache, cacheOpts...); err != nil {
		return c, err
	}

	auditStore := auditinfra.NewBunStore(c.db, cfg.Audit.Table)
	if cfg.Audit.CreateSchema {
		if err = auditStore.CreateSchema(ctx); err != nil {
			return c, err
		}
	}
	c.auditLog = audit.NewLog(auditStore, audit.WithLogger(c.logger))

	c.engine = engine.New(c.db, c.registry, c.cacheService, c.auditLog, engine.WithLogger(c.logger))

	providerOpts := append([]problems.MissingRequiredOption{problems.WithProviderLogger(c.logger)}, o.defaults...)
	providers := append([]problems.Provider{problems.NewMissingRequiredProvider(c.engine, providerOpts...)}, o.providers...)
	c.problems = problems.NewReporter(providers,
		problems.WithCache(c.cacheService),
		problems.WithLogger(c.logger),
	)

	c.logger.InfoContext(ctx, "entity engine ready",
		slog.String("driver", cfg.Database.Driver),
		slog.Int("entities", c.registry.Len()),
		slog.String("cache_backend", string(cfg.Cache.Backend)),
	)
	return c, nil
}

// NewContainerFromFile loads the configuration at path and builds a container.
func NewContainerFromFile(ctx context.Context, path string, opts ...Option) (*Container, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewContainer(ctx, cfg, opts...)
}

// OpenDB opens the configured database with the matching bun dialect.
func OpenDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, openError(cfg, err)
		}
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		sqldb.SetMaxOpenConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case config.DriverPostgres:
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, openError(cfg, err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}
	return nil, entity.NewConfigurationError("unsupported database driver "+cfg.Driver,
		map[string]any{"driver": cfg.Driver})
}

func openError(cfg config.DatabaseConfig, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "open database").
		WithMetadata(map[string]any{"driver": cfg.Driver})
}

func (c *Container) Config() config.Config { return c.config }

func (c *Container) DB() *bun.DB { return c.db }

func (c *Container) Registry() *entity.Registry { return c.registry }

func (c *Container) CacheService() *cache.Service { return c.cacheService }

func (c *Container) AuditLog() *audit.Log { return c.auditLog }

func (c *Container) Engine() *engine.Engine { return c.engine }

func (c *Container) Problems() *problems.Reporter { return c.problems }

func (c *Container) Logger() *slog.Logger { return c.logger }

// Close releases the persistent cache connection and, when the container
// opened it, the database.
func (c *Container) Close() error {
	var errs []error
	if closer, ok := c.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.db != nil && c.ownsDB {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return goerrors.Join(errs...)
}
