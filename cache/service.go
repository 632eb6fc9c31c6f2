package cache

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DependencyIndexKey is the reserved persistent key holding the dependency index.
const DependencyIndexKey = "__cache_dependencies"

// Aggregate keys summarize many entity types and are dropped on every invalidation.
const (
	AggregateChanges  = "changes"
	AggregateProblems = "problems"
)

// Store is the persistent tier. Implementations only need atomic single key
// operations; no cross-key consistency is assumed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// NopStore is a persistent tier that stores nothing.
type NopStore struct{}

func (NopStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopStore) Set(context.Context, string, []byte) error         { return nil }
func (NopStore) Remove(context.Context, string) error              { return nil }
func (NopStore) Flush(context.Context) error                       { return nil }

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegisterer publishes cache metrics on reg. Without it metrics go to a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.registerer = reg
	}
}

// Service owns the persistent tier and hands out request scoped Scopes that
// hold the memory tier.
type Service struct {
	store      Store
	maxItems   int
	aggregates []string
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics
}

// NewService validates cfg and wraps store. A nil store behaves like NopStore.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		store = NopStore{}
	}

	s := &Service{
		store:      store,
		maxItems:   cfg.MaxItemsToCache,
		aggregates: append([]string(nil), cfg.AggregateKeys...),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registerer == nil {
		s.registerer = prometheus.NewRegistry()
	}
	s.metrics = newMetrics(s.registerer)
	return s, nil
}

// Begin opens a scope. The caller must Close it, normally with defer.
func (s *Service) Begin(ctx context.Context) *Scope {
	scope := &Scope{
		id:      uuid.NewString(),
		service: s,
		memory:  make(map[string]any),
		index:   make(dependencyIndex),
	}
	s.logger.DebugContext(ctx, "cache scope opened", slog.String("scope", scope.id))
	return scope
}

// Run executes fn inside a new scope carried by ctx and writes the scope back
// when fn returns, whether or not it fails or panics.
func (s *Service) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	scope := s.Begin(ctx)
	defer scope.Close(ctx)
	return fn(WithScope(ctx, scope))
}

// Flush clears the whole persistent tier.
func (s *Service) Flush(ctx context.Context) bool {
	if err := s.store.Flush(ctx); err != nil {
		s.logger.WarnContext(ctx, "cache flush failed", slog.String("error", err.Error()))
		return false
	}
	s.logger.InfoContext(ctx, "cache flushed")
	return true
}

// MaxItemsToCache is the write-back bound per scope.
func (s *Service) MaxItemsToCache() int { return s.maxItems }

func (s *Service) isAggregate(key string) bool {
	for _, agg := range s.aggregates {
		if key == agg || strings.HasPrefix(key, agg+KeySeparator) {
			return true
		}
	}
	return false
}
