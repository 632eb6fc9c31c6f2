package problems

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goliatone/go-entity-engine/cache"
	goerrors "github.com/goliatone/go-errors"
)

type Option func(*Reporter)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCache caches GetProblems results in the problems aggregate.
func WithCache(svc *cache.Service) Option {
	return func(r *Reporter) {
		r.cache = svc
	}
}

// Reporter combines the reports of several providers.
type Reporter struct {
	providers []Provider
	cache     *cache.Service
	keys      cache.KeySerializer
	logger    *slog.Logger
}

func NewReporter(providers []Provider, opts ...Option) *Reporter {
	r := &Reporter{
		providers: providers,
		keys:      cache.NewDefaultKeySerializer(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers lists the provider names in registration order.
func (r *Reporter) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// GetProblems returns the problems of every provider. A failing provider
// fails the whole report so a partial result is never cached.
func (r *Reporter) GetProblems(ctx context.Context) ([]EntityProblem, error) {
	scope, done := r.scope(ctx)
	defer done()
	if scope == nil {
		return r.collect(ctx)
	}
	return cache.GetOrFetch(ctx, scope, r.keys.SerializeKey(cache.AggregateProblems, "report"), r.collect)
}

// AutoFixProblems runs every provider's fixer. Unless simulate is set the
// cached report is dropped afterwards.
func (r *Reporter) AutoFixProblems(ctx context.Context, simulate bool) ([]EntityProblem, error) {
	scope, done := r.scope(ctx)
	defer done()
	if scope != nil {
		ctx = cache.WithScope(ctx, scope)
	}

	var out []EntityProblem
	for _, p := range r.providers {
		fixed, err := p.AutoFixProblems(ctx, simulate)
		if err != nil {
			return nil, providerError(p, "auto fix", err)
		}
		out = append(out, fixed...)
	}
	sortProblems(out)

	r.logger.InfoContext(ctx, "problem auto fix finished",
		slog.Bool("simulate", simulate),
		slog.Int("problems", len(out)),
	)
	if !simulate && scope != nil {
		scope.Invalidate(ctx)
	}
	return out, nil
}

func (r *Reporter) collect(ctx context.Context) ([]EntityProblem, error) {
	out := []EntityProblem{}
	for _, p := range r.providers {
		found, err := p.GetProblems(ctx)
		if err != nil {
			return nil, providerError(p, "get problems", err)
		}
		for i := range found {
			if found[i].Provider == "" {
				found[i].Provider = p.Name()
			}
		}
		out = append(out, found...)
	}
	sortProblems(out)

	r.logger.DebugContext(ctx, "problem report collected",
		slog.Int("providers", len(r.providers)),
		slog.Int("problems", len(out)),
	)
	return out, nil
}

func (r *Reporter) scope(ctx context.Context) (*cache.Scope, func()) {
	if scope, ok := cache.ScopeFromContext(ctx); ok {
		return scope, func() {}
	}
	if r.cache == nil {
		return nil, func() {}
	}
	scope := r.cache.Begin(ctx)
	return scope, func() { scope.Close(ctx) }
}

func providerError(p Provider, op string, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("problem provider %s: %s", p.Name(), op)).
		WithMetadata(map[string]any{"provider": p.Name()})
}
