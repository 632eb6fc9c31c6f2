// Package engine performs create, read, update, delete and touch operations
// on any entity described by an entity.Registry.
//
// Every write maps abstract fields to columns through the mapper package,
// records what changed in the audit log and invalidates the cache keys that
// depend on the written entity type before it returns, so reads later in the
// same request observe the write.
//
// Operations share the cache scope carried by ctx (see cache.WithScope).
// Without one, each call runs in a scope of its own.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/goliatone/go-entity-engine/audit"
	"github.com/goliatone/go-entity-engine/cache"
	"github.com/goliatone/go-entity-engine/entity"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for stamps and change records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithKeySerializer changes how query dependent cache keys are built.
func WithKeySerializer(serializer cache.KeySerializer) Option {
	return func(e *Engine) {
		if serializer != nil {
			e.keys = serializer
		}
	}
}

// Engine is safe for concurrent use; per request state lives in the cache
// scope and the context.
type Engine struct {
	db       bun.IDB
	registry *entity.Registry
	cache    *cache.Service
	audit    *audit.Log
	keys     cache.KeySerializer
	logger   *slog.Logger
	now      func() time.Time
}

// New builds an engine. cacheService and auditLog may be nil, which disables
// caching and change recording respectively.
func New(db bun.IDB, registry *entity.Registry, cacheService *cache.Service, auditLog *audit.Log, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		registry: registry,
		cache:    cacheService,
		audit:    auditLog,
		keys:     cache.NewDefaultKeySerializer(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *entity.Registry { return e.registry }

// scope returns the cache scope of ctx, or opens one that the returned func
// closes. With no cache service both are nil safe no-ops.
func (e *Engine) scope(ctx context.Context) (*cache.Scope, func()) {
	if scope, ok := cache.ScopeFromContext(ctx); ok {
		return scope, func() {}
	}
	if e.cache == nil {
		return nil, func() {}
	}
	scope := e.cache.Begin(ctx)
	return scope, func() { scope.Close(ctx) }
}

func (e *Engine) specification(name entity.Name) (*entity.Specification, error) {
	return e.registry.Specification(name)
}

func (e *Engine) writableSpecification(name entity.Name) (*entity.Specification, error) {
	spec, err := e.specification(name)
	if err != nil {
		return nil, err
	}
	if !spec.Writable() {
		return nil, entity.NewInvalidArgumentError(
			"entity "+name.String()+" is read only",
			map[string]any{"entity": name.String()},
		)
	}
	return spec, nil
}

// invalidate drops every cache key depending on name. Cache failures are
// logged by the cache itself and never fail the write.
func (e *Engine) invalidate(ctx context.Context, scope *cache.Scope, name entity.Name) {
	if scope == nil {
		return
	}
	removed := scope.Invalidate(ctx, name)
	e.logger.DebugContext(ctx, "entity caches invalidated",
		slog.String("entity", name.String()),
		slog.Int("keys", len(removed)),
	)
}

// report appends the diff to the change log. Failures are logged and the
// caller carries on.
func (e *Engine) report(ctx context.Context, spec *entity.Specification, diff audit.Diff) {
	if e.audit == nil || !spec.ReportChanges() || diff.Len() == 0 {
		return
	}
	if _, err := e.audit.Report(ctx, diff.Records()); err != nil {
		attrs := []any{slog.String("entity", spec.Name().String()), slog.String("error", err.Error())}
		for _, attr := range goerrors.ToSlogAttributes(err) {
			attrs = append(attrs, attr)
		}
		e.logger.WarnContext(ctx, "change records not written", attrs...)
	}
}

func dbError(err error, op string, spec *entity.Specification) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, op+" "+spec.Name().String()).
		WithMetadata(map[string]any{"entity": spec.Name().String(), "table": spec.Table()})
}
