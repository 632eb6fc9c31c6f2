package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/goliatone/go-entity-engine/entity"
	"github.com/vmihailenco/msgpack/v5"
)

// Scope is the request lifetime of the cache. It holds the memory tier and
// the entries waiting to be written back to the persistent tier.
type Scope struct {
	id      string
	service *Service

	mu          sync.Mutex
	memory      map[string]any
	pending     []string
	index       dependencyIndex
	indexLoaded bool
	closed      bool
	closeOnce   sync.Once
}

// ID identifies the scope in logs.
func (s *Scope) ID() string { return s.id }

// Lookup returns the value under key, checking the memory tier first. A
// persistent hit is promoted to memory. Persistent failures count as misses.
func Lookup[T any](ctx context.Context, scope *Scope, key string) (T, bool) {
	var zero T
	if scope == nil {
		return zero, false
	}
	svc := scope.service

	scope.mu.Lock()
	if value, ok := scope.memory[key]; ok {
		scope.mu.Unlock()
		typed, ok := value.(T)
		if !ok {
			svc.metrics.lookups.WithLabelValues("memory", "type_mismatch").Inc()
			return zero, false
		}
		svc.metrics.lookups.WithLabelValues("memory", "hit").Inc()
		return typed, true
	}
	scope.mu.Unlock()

	data, ok, err := svc.store.Get(ctx, key)
	if err != nil {
		svc.logger.WarnContext(ctx, "cache read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		svc.metrics.lookups.WithLabelValues("persistent", "error").Inc()
		return zero, false
	}
	if !ok {
		svc.metrics.lookups.WithLabelValues("persistent", "miss").Inc()
		return zero, false
	}

	var value T
	if err := msgpack.Unmarshal(data, &value); err != nil {
		svc.logger.WarnContext(ctx, "cache entry undecodable",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		svc.metrics.lookups.WithLabelValues("persistent", "error").Inc()
		return zero, false
	}

	scope.mu.Lock()
	if _, exists := scope.memory[key]; !exists {
		scope.memory[key] = value
	}
	scope.mu.Unlock()

	svc.metrics.lookups.WithLabelValues("persistent", "hit").Inc()
	return value, true
}

// GetOrFetch returns the cached value under key or computes it with fetch and
// stores it as a pending entry that depends on deps.
func GetOrFetch[T any](ctx context.Context, scope *Scope, key string, fetch func(context.Context) (T, error), deps ...entity.Name) (T, error) {
	if value, ok := Lookup[T](ctx, scope, key); ok {
		return value, nil
	}
	value, err := fetch(ctx)
	if err != nil {
		return value, err
	}
	scope.Put(ctx, key, value, deps...)
	return value, nil
}

// Put stores value in the memory tier and queues it for write-back. The
// dependency set of key only ever grows.
func (s *Scope) Put(ctx context.Context, key string, value any, deps ...entity.Name) {
	if s == nil || key == "" || key == DependencyIndexKey {
		return
	}

	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		if !dep.IsZero() {
			names = append(names, dep.String())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory[key] = value
	if !slices.Contains(s.pending, key) {
		s.pending = append(s.pending, key)
	}
	s.index.merge(key, names)
	s.service.logger.DebugContext(ctx, "cache entry stored",
		slog.String("scope", s.id),
		slog.String("key", key),
		slog.Any("depends_on", names),
	)
}

// Invalidate drops every entry that depends on one of changed plus every
// aggregate entry, from both tiers, and returns the removed keys sorted.
func (s *Scope) Invalidate(ctx context.Context, changed ...entity.Name) []string {
	if s == nil {
		return nil
	}
	svc := s.service

	types := make(map[string]struct{}, len(changed))
	for _, name := range changed {
		if !name.IsZero() {
			types[name.String()] = struct{}{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rehydrateLocked(ctx)
	persisted, persistedOK := s.readIndexLocked(ctx)
	if persistedOK {
		s.index.union(persisted)
	}

	candidates := make(map[string]struct{}, len(s.index)+len(s.memory))
	for key := range s.index {
		candidates[key] = struct{}{}
	}
	for key := range s.memory {
		candidates[key] = struct{}{}
	}

	var removed []string
	for key := range candidates {
		if svc.isAggregate(key) || s.index.dependsOnAny(key, types) {
			removed = append(removed, key)
		}
	}
	slices.Sort(removed)

	for _, key := range removed {
		delete(s.memory, key)
		delete(s.index, key)
		delete(persisted, key)
		s.pending = slices.DeleteFunc(s.pending, func(p string) bool { return p == key })
		if err := svc.store.Remove(ctx, key); err != nil {
			svc.logger.WarnContext(ctx, "cache remove failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	if persistedOK && len(removed) > 0 {
		s.writeIndexLocked(ctx, persisted)
	}

	svc.metrics.invalidations.Add(float64(len(removed)))
	svc.logger.DebugContext(ctx, "cache invalidated",
		slog.String("scope", s.id),
		slog.Any("changed", mapKeys(types)),
		slog.Any("removed", removed),
	)
	return removed
}

// WriteBack persists at most MaxItemsToCache pending entries in the order they
// were stored and reports how many were written. The rest stay in memory only.
// The dependency index is written before the entries it describes; when the
// index cannot be read or written nothing is persisted.
func (s *Scope) WriteBack(ctx context.Context) int {
	if s == nil {
		return 0
	}
	svc := s.service

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return 0
	}

	limit := min(svc.maxItems, len(s.pending))
	if dropped := len(s.pending) - limit; dropped > 0 {
		svc.metrics.writeBacks.WithLabelValues("dropped").Add(float64(dropped))
	}
	candidates := s.pending[:limit]
	s.pending = nil

	encoded := make(map[string][]byte, len(candidates))
	var keys []string
	for _, key := range candidates {
		data, err := msgpack.Marshal(s.memory[key])
		if err != nil {
			svc.logger.WarnContext(ctx, "cache entry not encodable",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			svc.metrics.writeBacks.WithLabelValues("error").Inc()
			continue
		}
		encoded[key] = data
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return 0
	}

	persisted, ok := s.readIndexLocked(ctx)
	if ok {
		for _, key := range keys {
			persisted.merge(key, s.index[key])
		}
		ok = s.writeIndexLocked(ctx, persisted)
	}
	if !ok {
		svc.metrics.writeBacks.WithLabelValues("error").Add(float64(len(keys)))
		svc.logger.WarnContext(ctx, "cache write back skipped",
			slog.String("scope", s.id),
			slog.Int("entries", len(keys)),
		)
		return 0
	}

	written := 0
	for _, key := range keys {
		if err := svc.store.Set(ctx, key, encoded[key]); err != nil {
			svc.logger.WarnContext(ctx, "cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			svc.metrics.writeBacks.WithLabelValues("error").Inc()
			continue
		}
		written++
		svc.metrics.writeBacks.WithLabelValues("written").Inc()
	}
	return written
}

// Close writes the scope back once. Later calls do nothing.
func (s *Scope) Close(ctx context.Context) {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		written := s.WriteBack(ctx)
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.service.logger.DebugContext(ctx, "cache scope closed",
			slog.String("scope", s.id),
			slog.Int("written", written),
		)
	})
}

// Closed reports whether Close already ran.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// rehydrateLocked loads the persisted index into the scope on first use.
func (s *Scope) rehydrateLocked(ctx context.Context) {
	if s.indexLoaded {
		return
	}
	if persisted, ok := s.readIndexLocked(ctx); ok {
		s.index.union(persisted)
	}
	s.indexLoaded = true
}

// readIndexLocked returns the persisted index. ok is false when the store
// could not be read, in which case the persisted copy must not be rewritten.
func (s *Scope) readIndexLocked(ctx context.Context) (dependencyIndex, bool) {
	svc := s.service
	data, found, err := svc.store.Get(ctx, DependencyIndexKey)
	if err != nil {
		svc.logger.WarnContext(ctx, "dependency index read failed", slog.String("error", err.Error()))
		return nil, false
	}
	if !found {
		return make(dependencyIndex), true
	}
	persisted, err := decodeDependencyIndex(data)
	if err != nil {
		svc.logger.WarnContext(ctx, "dependency index undecodable", slog.String("error", err.Error()))
		return make(dependencyIndex), true
	}
	return persisted, true
}

func (s *Scope) writeIndexLocked(ctx context.Context, index dependencyIndex) bool {
	svc := s.service
	data, err := index.encode()
	if err != nil {
		svc.logger.WarnContext(ctx, "dependency index not encodable", slog.String("error", err.Error()))
		return false
	}
	if err := svc.store.Set(ctx, DependencyIndexKey, data); err != nil {
		svc.logger.WarnContext(ctx, "dependency index write failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

func mapKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
